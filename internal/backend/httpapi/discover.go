package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/run"
)

// probeTimeout bounds a single port probe.
const probeTimeout = 2 * time.Second

// discover locates a running session server by probing the configured
// loopback ports in order; the first responder wins and is cached by the
// driver. When nothing answers and a server command is configured, the
// server is started and the ports probed once more.
func (d *Driver) discover(ctx context.Context) (string, error) {
	d.mu.Lock()
	cached := d.baseURL
	d.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	if base := d.probeAll(ctx); base != "" {
		d.cacheBase(base)
		return base, nil
	}

	if len(d.serverCmd) == 0 {
		return "", fmt.Errorf("%w: no session server on ports %v", backend.ErrTransportUnavailable, d.ports)
	}

	d.logger.Info("starting session server", "command", d.serverCmd[0])
	if _, err := d.runner.Run(ctx, d.serverCmd[0], d.serverCmd[1:], run.Opts{}); err != nil {
		return "", fmt.Errorf("%w: start session server: %v", backend.ErrTransportUnavailable, err)
	}

	deadline := time.Now().Add(d.readyTimeout)
	for time.Now().Before(deadline) {
		if base := d.probeAll(ctx); base != "" {
			d.cacheBase(base)
			return base, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("%w: session server did not come up on ports %v", backend.ErrTransportUnavailable, d.ports)
}

func (d *Driver) probeAll(ctx context.Context) string {
	for _, port := range d.ports {
		base := fmt.Sprintf("http://127.0.0.1:%d", port)
		if d.probe(ctx, base) {
			return base
		}
	}
	return ""
}

func (d *Driver) probe(ctx context.Context, base string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *Driver) cacheBase(base string) {
	d.mu.Lock()
	d.baseURL = base
	d.mu.Unlock()
}
