package main

import (
	"fmt"
	"testing"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/complete"
	"github.com/basket/wrangler/internal/registry"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"not found", registry.ErrAgentNotFound, exitNotFound},
		{"not found wrapped", fmt.Errorf("complete: %w", registry.ErrAgentNotFound), exitNotFound},
		{"not found stage-tagged", &complete.StageError{Stage: complete.StageResolvingAgent, Err: registry.ErrAgentNotFound}, exitNotFound},
		{"transport", backend.ErrTransportUnavailable, exitTransport},
		{"transport stage-tagged", &complete.StageError{Stage: complete.StageReleasingTransport, Err: backend.ErrTransportUnavailable}, exitTransport},
		{"verification", complete.ErrVcsDirty, exitVerification},
		{"anything else", fmt.Errorf("boom"), exitVerification},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Fatalf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
