package tracker

import (
	"encoding/json"
	"strings"
)

// Canonical phase values. Artifacts written under old profile versions use
// a legacy field and vocabulary; extraction maps everything onto these.
const (
	PhaseComplete      = "Complete"
	PhaseImplementing  = "Implementing"
	PhaseInvestigating = "Investigating"
	PhaseReview        = "Review"
)

// phaseExtractor is one naming convention for the phase signal: the field
// it reads and the vocabulary mapping it applies. Extractors are tried in
// declaration order; the first one that yields a value wins.
type phaseExtractor struct {
	field string
	vocab map[string]string // raw (lowercased) -> canonical; nil = pass through
}

// phaseExtractors is the ordered convention list. "phase" is the current
// field and carries canonical values already; "stage" is the legacy alias
// whose vocabulary must be mapped.
var phaseExtractors = []phaseExtractor{
	{field: "phase"},
	{field: "stage", vocab: map[string]string{
		"done":        PhaseComplete,
		"complete":    PhaseComplete,
		"completed":   PhaseComplete,
		"wip":         PhaseImplementing,
		"in_progress": PhaseImplementing,
		"research":    PhaseInvestigating,
		"review":      PhaseReview,
	}},
}

// ExtractPhase pulls the phase signal from an issue, preferring the
// structured notes over phase comments, and newer comments over older.
// Returns ("", false) when no convention matches.
func ExtractPhase(issue *Issue) (string, bool) {
	if issue == nil {
		return "", false
	}
	if phase, ok := extractFromNotes(issue.NotesJSON); ok {
		return phase, true
	}
	// Newest comment wins: agents append phase markers as they progress.
	for i := len(issue.PhaseComments) - 1; i >= 0; i-- {
		if phase, ok := extractFromComment(issue.PhaseComments[i]); ok {
			return phase, true
		}
	}
	return "", false
}

// IsComplete reports whether the extracted phase indicates completion.
func IsComplete(phase string) bool {
	return strings.EqualFold(phase, PhaseComplete)
}

func extractFromNotes(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var notes map[string]any
	if err := json.Unmarshal(raw, &notes); err != nil {
		return "", false
	}
	for _, ex := range phaseExtractors {
		v, ok := notes[ex.field]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		return ex.apply(s), true
	}
	return "", false
}

// extractFromComment matches "<Field>: <value>" comment lines against the
// extractor conventions, e.g. "Phase: Complete" or "Stage: done".
func extractFromComment(comment string) (string, bool) {
	for _, line := range strings.Split(comment, "\n") {
		line = strings.TrimSpace(line)
		for _, ex := range phaseExtractors {
			prefix := ex.field + ":"
			if len(line) <= len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
				continue
			}
			value := strings.TrimSpace(line[len(prefix):])
			if value == "" {
				continue
			}
			return ex.apply(value), true
		}
	}
	return "", false
}

func (ex phaseExtractor) apply(raw string) string {
	if ex.vocab == nil {
		return raw
	}
	if mapped, ok := ex.vocab[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return raw
}
