package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/basket/wrangler/internal/config"
)

func findResult(t *testing.T, d Diagnosis, name string) CheckResult {
	t.Helper()
	for _, r := range d.Results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no %q check in %+v", name, d.Results)
	return CheckResult{}
}

func TestRun_AllChecksPresent(t *testing.T) {
	home := t.TempDir()
	cfg := config.Config{
		HomeDir:      home,
		RegistryPath: filepath.Join(home, "registry.json"),
	}

	d := Run(context.Background(), cfg, "test")
	for _, name := range []string{"Home", "Tmux", "Tracker", "Registry", "HTTP Session"} {
		findResult(t, d, name)
	}
	if d.System.OS == "" || d.System.Go == "" {
		t.Fatalf("system info incomplete: %+v", d.System)
	}
}

func TestRun_RegistryLockAcquirable(t *testing.T) {
	home := t.TempDir()
	cfg := config.Config{
		HomeDir:      home,
		RegistryPath: filepath.Join(home, "registry.json"),
	}

	r := findResult(t, Run(context.Background(), cfg, "test"), "Registry")
	if r.Status != "PASS" {
		t.Fatalf("registry check = %+v", r)
	}
}

func TestRun_TrackerSkippedWhenUnconfigured(t *testing.T) {
	cfg := config.Config{HomeDir: t.TempDir()}

	r := findResult(t, Run(context.Background(), cfg, "test"), "Tracker")
	if r.Status != "SKIP" {
		t.Fatalf("tracker check = %+v", r)
	}
}

func TestCheckHTTPSession_FindsServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{HTTP: config.HTTPSessionConfig{ProbePorts: []int{port}}}
	r := checkHTTPSession(context.Background(), cfg)
	if r.Status != "PASS" {
		t.Fatalf("http check = %+v", r)
	}
}

func TestCheckHTTPSession_WarnsWhenNothingListens(t *testing.T) {
	cfg := config.Config{HTTP: config.HTTPSessionConfig{ProbePorts: []int{1}}}
	r := checkHTTPSession(context.Background(), cfg)
	if r.Status != "WARN" {
		t.Fatalf("http check = %+v", r)
	}
}

func TestHealthy(t *testing.T) {
	d := Diagnosis{Results: []CheckResult{{Status: "PASS"}, {Status: "WARN"}}}
	if !d.Healthy() {
		t.Fatal("warns must not fail the diagnosis")
	}
	d.Results = append(d.Results, CheckResult{Status: "FAIL"})
	if d.Healthy() {
		t.Fatal("a failed check must fail the diagnosis")
	}
}
