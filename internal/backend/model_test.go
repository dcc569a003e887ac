package backend

import "testing"

func TestResolveModel(t *testing.T) {
	aliases := map[string]string{
		"sonnet": "claude-sonnet-4-5",
		"haiku":  "claude-haiku-4-5",
	}
	cases := []struct {
		name      string
		requested string
		def       string
		want      string
	}{
		{"alias resolves", "sonnet", "sonnet", "claude-sonnet-4-5"},
		{"empty uses default alias", "", "haiku", "claude-haiku-4-5"},
		{"empty with concrete default", "", "claude-opus-4-1", "claude-opus-4-1"},
		{"concrete passes through", "claude-opus-4-1", "sonnet", "claude-opus-4-1"},
		{"whitespace trimmed", "  sonnet ", "sonnet", "claude-sonnet-4-5"},
		{"unknown passes through", "local-llama", "sonnet", "local-llama"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveModel(tc.requested, aliases, tc.def); got != tc.want {
				t.Fatalf("ResolveModel(%q) = %q, want %q", tc.requested, got, tc.want)
			}
		})
	}
}

func TestResolveModel_NilAliases(t *testing.T) {
	if got := ResolveModel("anything", nil, "x"); got != "anything" {
		t.Fatalf("got %q", got)
	}
}
