// Package doctor runs environment diagnostics: are the external tools
// present, is the registry lockable, does anything answer on the HTTP
// session ports.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/wrangler/internal/config"
	"github.com/basket/wrangler/internal/registry"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Healthy reports whether no check failed. WARN does not count as a
// failure.
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return false
		}
	}
	return true
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, config.Config) CheckResult{
		checkHomeDir,
		checkTmux,
		checkTracker,
		checkRegistryLock,
		checkHTTPSession,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkHomeDir(_ context.Context, cfg config.Config) CheckResult {
	if cfg.HomeDir == "" {
		return CheckResult{Name: "Home", Status: "FAIL", Message: "home directory not configured"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Home", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Home", Status: "PASS", Message: fmt.Sprintf("%s writable", cfg.HomeDir)}
}

func checkTmux(ctx context.Context, _ config.Config) CheckResult {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return CheckResult{
			Name:    "Tmux",
			Status:  "FAIL",
			Message: "tmux not found in PATH",
			Detail:  "terminal transport is unavailable without tmux",
		}
	}
	out, err := exec.CommandContext(ctx, "tmux", "-V").Output()
	if err != nil {
		return CheckResult{Name: "Tmux", Status: "WARN", Message: fmt.Sprintf("tmux -V failed: %v", err)}
	}
	return CheckResult{Name: "Tmux", Status: "PASS", Message: strings.TrimSpace(string(out)), Detail: path}
}

func checkTracker(ctx context.Context, cfg config.Config) CheckResult {
	cmd := cfg.Tracker.Command
	if cmd == "" {
		return CheckResult{Name: "Tracker", Status: "SKIP", Message: "no tracker command configured"}
	}
	if _, err := exec.LookPath(cmd); err != nil {
		return CheckResult{
			Name:    "Tracker",
			Status:  "FAIL",
			Message: fmt.Sprintf("%q not found in PATH", cmd),
			Detail:  "phase verification and issue closing will fail",
		}
	}
	return CheckResult{Name: "Tracker", Status: "PASS", Message: fmt.Sprintf("%q found", cmd)}
}

func checkRegistryLock(ctx context.Context, cfg config.Config) CheckResult {
	if cfg.RegistryPath == "" {
		return CheckResult{Name: "Registry", Status: "SKIP", Message: "no registry path configured"}
	}
	store := registry.NewStore(registry.Config{
		Path:        cfg.RegistryPath,
		LockTimeout: 2 * time.Second,
	})
	records, err := store.List(ctx)
	if err != nil {
		return CheckResult{
			Name:    "Registry",
			Status:  "FAIL",
			Message: fmt.Sprintf("lock not acquirable: %v", err),
			Detail:  cfg.RegistryPath,
		}
	}
	return CheckResult{
		Name:    "Registry",
		Status:  "PASS",
		Message: fmt.Sprintf("lock acquired, %d records", len(records)),
		Detail:  cfg.RegistryPath,
	}
}

func checkHTTPSession(ctx context.Context, cfg config.Config) CheckResult {
	if len(cfg.HTTP.ProbePorts) == 0 {
		return CheckResult{Name: "HTTP Session", Status: "SKIP", Message: "no probe ports configured"}
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for _, port := range cfg.HTTP.ProbePorts {
		url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return CheckResult{
				Name:    "HTTP Session",
				Status:  "PASS",
				Message: fmt.Sprintf("server answering on port %d", port),
			}
		}
	}
	// The server is started on demand, so nothing listening is normal.
	return CheckResult{
		Name:    "HTTP Session",
		Status:  "WARN",
		Message: fmt.Sprintf("no server on ports %v", cfg.HTTP.ProbePorts),
		Detail:  "the driver will start one on first spawn if server_command is set",
	}
}
