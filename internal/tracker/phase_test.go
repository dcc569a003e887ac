package tracker

import (
	"encoding/json"
	"testing"
)

func TestExtractPhase_PrimaryField(t *testing.T) {
	issue := &Issue{NotesJSON: json.RawMessage(`{"phase":"Implementing"}`)}
	phase, ok := ExtractPhase(issue)
	if !ok || phase != PhaseImplementing {
		t.Fatalf("got (%q, %v)", phase, ok)
	}
}

func TestExtractPhase_LegacyStageVocabulary(t *testing.T) {
	cases := map[string]string{
		"done":        PhaseComplete,
		"wip":         PhaseImplementing,
		"research":    PhaseInvestigating,
		"review":      PhaseReview,
		"in_progress": PhaseImplementing,
	}
	for raw, want := range cases {
		issue := &Issue{NotesJSON: json.RawMessage(`{"stage":"` + raw + `"}`)}
		phase, ok := ExtractPhase(issue)
		if !ok || phase != want {
			t.Fatalf("stage %q: got (%q, %v), want %q", raw, phase, ok, want)
		}
	}
}

func TestExtractPhase_PrimaryBeatsLegacy(t *testing.T) {
	issue := &Issue{NotesJSON: json.RawMessage(`{"phase":"Complete","stage":"wip"}`)}
	phase, ok := ExtractPhase(issue)
	if !ok || phase != PhaseComplete {
		t.Fatalf("got (%q, %v)", phase, ok)
	}
}

func TestExtractPhase_CommentFallbackNewestWins(t *testing.T) {
	issue := &Issue{PhaseComments: []string{
		"Phase: Investigating",
		"some unrelated note",
		"Phase: Complete",
	}}
	phase, ok := ExtractPhase(issue)
	if !ok || phase != PhaseComplete {
		t.Fatalf("got (%q, %v)", phase, ok)
	}
}

func TestExtractPhase_LegacyCommentMapped(t *testing.T) {
	issue := &Issue{PhaseComments: []string{"Stage: done"}}
	phase, ok := ExtractPhase(issue)
	if !ok || phase != PhaseComplete {
		t.Fatalf("got (%q, %v)", phase, ok)
	}
}

func TestExtractPhase_NotesBeatComments(t *testing.T) {
	issue := &Issue{
		NotesJSON:     json.RawMessage(`{"phase":"Implementing"}`),
		PhaseComments: []string{"Phase: Complete"},
	}
	phase, ok := ExtractPhase(issue)
	if !ok || phase != PhaseImplementing {
		t.Fatalf("got (%q, %v)", phase, ok)
	}
}

func TestExtractPhase_NothingMatches(t *testing.T) {
	issue := &Issue{
		NotesJSON:     json.RawMessage(`{"priority":"high"}`),
		PhaseComments: []string{"looked into it, no update yet"},
	}
	if phase, ok := ExtractPhase(issue); ok {
		t.Fatalf("expected no signal, got %q", phase)
	}
}

func TestIsComplete(t *testing.T) {
	if !IsComplete("Complete") || !IsComplete("complete") {
		t.Fatal("Complete should match case-insensitively")
	}
	if IsComplete("Implementing") || IsComplete("") {
		t.Fatal("non-complete phases must not pass")
	}
}
