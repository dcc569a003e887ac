// Package config loads wrangler configuration from $WRANGLER_HOME/config.yaml
// with environment overrides and sane defaults for every timeout.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TmuxConfig holds terminal-transport tuning knobs.
type TmuxConfig struct {
	// WorkerCommand is the argv started inside a new pane.
	WorkerCommand []string `yaml:"worker_command"`

	// PromptMarker is the string whose presence in a captured pane
	// indicates the agent is at an idle input state.
	PromptMarker string `yaml:"prompt_marker"`

	// SendDelayMs is the pause between injecting message keystrokes and
	// the activating Enter key. Terminal buffers drop the Enter if it
	// arrives in the same write as a large paste.
	SendDelayMs int `yaml:"send_delay_ms"`

	// ReadyTimeoutSeconds bounds WaitReady polling.
	ReadyTimeoutSeconds int `yaml:"ready_timeout_seconds"`

	// PollIntervalMs is the WaitReady capture interval.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// HTTPSessionConfig holds HTTP+SSE transport tuning knobs.
type HTTPSessionConfig struct {
	// ProbePorts is the ordered list of loopback ports probed for a
	// running session server; first responder wins.
	ProbePorts []int `yaml:"probe_ports"`

	// SettleDelayMs is the pause after session creation before the first
	// Send. New sessions are not immediately visible to attached views.
	SettleDelayMs int `yaml:"settle_delay_ms"`

	// ReadyTimeoutSeconds bounds the poll-until-visible loop.
	ReadyTimeoutSeconds int `yaml:"ready_timeout_seconds"`

	// ServerCommand starts a session server when no probe port answers.
	// Empty disables autostart.
	ServerCommand []string `yaml:"server_command"`
}

// TrackerConfig locates the external issue tracker CLI.
type TrackerConfig struct {
	// Command is the tracker binary name (resolved via PATH).
	Command string `yaml:"command"`

	// KnowledgeLog is the append-only JSONL knowledge file read during
	// completion. Relative paths resolve against the project directory.
	KnowledgeLog string `yaml:"knowledge_log"`

	// LedgerFile is the tracker's own data file inside a project
	// directory, excluded from VCS cleanliness validation.
	LedgerFile string `yaml:"ledger_file"`
}

// ModelConfig holds logical-model alias resolution inputs.
type ModelConfig struct {
	Default string            `yaml:"default"`
	Aliases map[string]string `yaml:"aliases"`
}

// OtelConfig mirrors internal/otel.Config so config stays dependency-free.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Config is the root wrangler configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	// RegistryPath is the shared agent registry file. Default:
	// $WRANGLER_HOME/agents.json.
	RegistryPath string `yaml:"registry_path"`

	// LockTimeoutSeconds bounds registry flock acquisition.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`

	// DefaultBackend selects the transport when spawn does not name one:
	// "terminal" or "http_session".
	DefaultBackend string `yaml:"default_backend"`

	// ProfileDirs lists directories searched for profile manifests.
	ProfileDirs []string `yaml:"profile_dirs"`

	// SweepSchedule is the cron expression for reconcile sweeps in watch
	// mode (5-field, e.g. "*/5 * * * *").
	SweepSchedule string `yaml:"sweep_schedule"`

	// GracefulShutdownSeconds bounds the graceful phase of transport
	// teardown before a forced kill.
	GracefulShutdownSeconds int `yaml:"graceful_shutdown_seconds"`

	Tmux    TmuxConfig        `yaml:"tmux"`
	HTTP    HTTPSessionConfig `yaml:"http_session"`
	Tracker TrackerConfig     `yaml:"tracker"`
	Models  ModelConfig       `yaml:"models"`
	Otel    OtelConfig        `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:                "info",
		LockTimeoutSeconds:      10,
		DefaultBackend:          "terminal",
		SweepSchedule:           "*/5 * * * *",
		GracefulShutdownSeconds: 15,
		Tmux: TmuxConfig{
			WorkerCommand:       []string{"claude"},
			PromptMarker:        ">",
			SendDelayMs:         500,
			ReadyTimeoutSeconds: 60,
			PollIntervalMs:      1000,
		},
		HTTP: HTTPSessionConfig{
			ProbePorts:          []int{18789, 18790, 18791},
			SettleDelayMs:       1500,
			ReadyTimeoutSeconds: 30,
		},
		Tracker: TrackerConfig{
			Command:      "bd",
			KnowledgeLog: ".knowledge/log.jsonl",
			LedgerFile:   ".tracker/issues.json",
		},
		Models: ModelConfig{
			Default: "sonnet",
			Aliases: map[string]string{
				"sonnet": "claude-sonnet-4-5",
				"haiku":  "claude-haiku-4-5",
				"opus":   "claude-opus-4-1",
			},
		},
	}
}

// HomeDir resolves the wrangler data directory. WRANGLER_HOME overrides
// the default ~/.wrangler.
func HomeDir() string {
	if override := os.Getenv("WRANGLER_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".wrangler")
}

// ConfigPath returns the config.yaml path under homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the wrangler home, applies env overrides,
// and normalizes zero values. A missing file yields pure defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create wrangler home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WRANGLER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WRANGLER_REGISTRY"); v != "" {
		cfg.RegistryPath = v
	}
	if v := os.Getenv("WRANGLER_BACKEND"); v != "" {
		cfg.DefaultBackend = v
	}
	if v := os.Getenv("WRANGLER_TRACKER_CMD"); v != "" {
		cfg.Tracker.Command = v
	}
	if v := os.Getenv("WRANGLER_LOCK_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LockTimeoutSeconds = n
		}
	}
}

func normalize(cfg *Config) {
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = filepath.Join(cfg.HomeDir, "agents.json")
	}
	if cfg.LockTimeoutSeconds <= 0 {
		cfg.LockTimeoutSeconds = 10
	}
	if cfg.GracefulShutdownSeconds <= 0 {
		cfg.GracefulShutdownSeconds = 15
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch strings.ToLower(cfg.DefaultBackend) {
	case "terminal", "http_session":
		cfg.DefaultBackend = strings.ToLower(cfg.DefaultBackend)
	default:
		cfg.DefaultBackend = "terminal"
	}
	if len(cfg.HTTP.ProbePorts) == 0 {
		cfg.HTTP.ProbePorts = []int{18789, 18790, 18791}
	}
	if len(cfg.Tmux.WorkerCommand) == 0 {
		cfg.Tmux.WorkerCommand = []string{"claude"}
	}
	if cfg.Tmux.SendDelayMs <= 0 {
		cfg.Tmux.SendDelayMs = 500
	}
	if cfg.Tmux.ReadyTimeoutSeconds <= 0 {
		cfg.Tmux.ReadyTimeoutSeconds = 60
	}
	if cfg.Tmux.PollIntervalMs <= 0 {
		cfg.Tmux.PollIntervalMs = 1000
	}
	if cfg.HTTP.SettleDelayMs <= 0 {
		cfg.HTTP.SettleDelayMs = 1500
	}
	if cfg.HTTP.ReadyTimeoutSeconds <= 0 {
		cfg.HTTP.ReadyTimeoutSeconds = 30
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "*/5 * * * *"
	}
	if cfg.Models.Default == "" {
		cfg.Models.Default = "sonnet"
	}
}

// LockTimeout returns the registry lock timeout as a duration.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// GracefulShutdown returns the graceful teardown bound as a duration.
func (c Config) GracefulShutdown() time.Duration {
	return time.Duration(c.GracefulShutdownSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active config, logged on reload
// so operators can tell which settings a long-running watch is using.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "registry=%s|backend=%s|lock=%d|sweep=%s|ports=%v",
		c.RegistryPath, c.DefaultBackend, c.LockTimeoutSeconds, c.SweepSchedule, c.HTTP.ProbePorts)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
