package complete

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeywordTokens_StripsCategoryPrefix(t *testing.T) {
	tokens := keywordTokens("investigation-cache-miss", "investigation")
	if len(tokens) != 2 || tokens[0] != "cache" || tokens[1] != "miss" {
		t.Fatalf("tokens = %v", tokens)
	}
}

func TestKeywordTokens_DropsNoise(t *testing.T) {
	tokens := keywordTokens("fix-42-db-flaky-retry", "investigation")
	// "42" is numeric and "db" too short; "fix" is not the category here.
	want := []string{"fix", "flaky", "retry"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", tokens, want)
		}
	}
}

func TestSearchRecentFiles_TwoTokenMatch(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "docs", "cache-miss-findings.md")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok := searchRecentFiles(root, []string{"cache", "miss"}, time.Now().Add(-time.Hour))
	if !ok {
		t.Fatal("expected a match")
	}
	if got != filepath.Join("docs", "cache-miss-findings.md") {
		t.Fatalf("got %q", got)
	}
}

func TestSearchRecentFiles_SingleTokenIsNotEnough(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "cache-notes.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := searchRecentFiles(root, []string{"cache", "miss"}, time.Now().Add(-time.Hour)); ok {
		t.Fatal("one token out of two must not match")
	}
}

func TestSearchRecentFiles_IgnoresOldFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "cache-miss.md")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	if _, ok := searchRecentFiles(root, []string{"cache", "miss"}, time.Now().Add(-time.Hour)); ok {
		t.Fatal("files older than the marker must be ignored")
	}
}

func TestSearchRecentFiles_NoTokens(t *testing.T) {
	if _, ok := searchRecentFiles(t.TempDir(), nil, time.Time{}); ok {
		t.Fatal("no tokens can never match")
	}
}
