package complete

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// keywordTokens derives search tokens from an agent identifier. Leading
// tokens that duplicate the profile's category label are stripped so a
// "investigation" profile spawning "investigation-cache-miss" does not
// trivially match every file the category name appears in. Short and
// purely numeric fragments carry no signal and are dropped.
func keywordTokens(agentID, category string) []string {
	parts := strings.FieldsFunc(strings.ToLower(agentID), func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	cat := strings.ToLower(strings.TrimSpace(category))
	var out []string
	for i, p := range parts {
		if i == 0 && p == cat {
			continue
		}
		if len(p) < 3 || isNumeric(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// searchRecentFiles looks for a file modified after since whose relative
// path matches at least two tokens (or all of them, when fewer than two
// remain). Returns the first matching path. Unreadable entries are
// skipped, not fatal.
func searchRecentFiles(root string, tokens []string, since time.Time) (string, bool) {
	need := 2
	if len(tokens) < need {
		need = len(tokens)
	}
	if need == 0 {
		return "", false
	}
	var found string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().After(since) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		lower := strings.ToLower(filepath.ToSlash(rel))
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				hits++
			}
		}
		if hits >= need {
			found = rel
			return fs.SkipAll
		}
		return nil
	})
	return found, found != ""
}
