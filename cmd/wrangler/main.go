package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/wrangler/internal/audit"
	"github.com/basket/wrangler/internal/backend"
	"github.com/basket/wrangler/internal/backend/httpapi"
	"github.com/basket/wrangler/internal/backend/tmux"
	"github.com/basket/wrangler/internal/bus"
	"github.com/basket/wrangler/internal/complete"
	"github.com/basket/wrangler/internal/config"
	otelPkg "github.com/basket/wrangler/internal/otel"
	"github.com/basket/wrangler/internal/profile"
	"github.com/basket/wrangler/internal/registry"
	"github.com/basket/wrangler/internal/run"
	"github.com/basket/wrangler/internal/shared"
	"github.com/basket/wrangler/internal/telemetry"
	"github.com/basket/wrangler/internal/tracker"
	"github.com/basket/wrangler/internal/vcs"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

// Exit codes, stable for scripting.
const (
	exitOK           = 0
	exitVerification = 1
	exitNotFound     = 2
	exitTransport    = 3
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SUBCOMMANDS:
  %s spawn -profile <name> -task <text> [options]
                              Start a new agent
                              Options: -backend terminal|http_session,
                              -model <name>, -issue <id>, -db <path>,
                              -dir <project dir>, -instructions <text>
  %s complete <key> [-reason <text>] [-ack-review]
                              Verify and complete an agent (key = agent id
                              or issue id)
  %s status <key>             Show one agent record
  %s ls [-status <filter>]    List registry records
  %s abandon <key>            Abandon an agent and release its session
  %s peek <key> [-lines N]    Show the tail of a terminal agent's pane
  %s reconcile                Sweep exited terminal sessions to completed
  %s watch                    Run scheduled sweeps with config hot reload
  %s doctor [-json]           Run diagnostic checks

EXIT CODES:
  0 success, 1 verification failure, 2 agent not found, 3 transport error

ENVIRONMENT VARIABLES:
  WRANGLER_HOME           Data directory (default: ~/.wrangler)
  WRANGLER_REGISTRY       Registry file override
  WRANGLER_BACKEND        Default transport override
  WRANGLER_TRACKER_CMD    Issue tracker CLI override
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(exitVerification)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(exitOK)
	case "spawn":
		os.Exit(runSpawnCommand(ctx, args[1:]))
	case "complete":
		os.Exit(runCompleteCommand(ctx, args[1:]))
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "ls":
		os.Exit(runLsCommand(ctx, args[1:]))
	case "abandon":
		os.Exit(runAbandonCommand(ctx, args[1:]))
	case "peek":
		os.Exit(runPeekCommand(ctx, args[1:]))
	case "reconcile":
		os.Exit(runReconcileCommand(ctx, args[1:]))
	case "watch":
		os.Exit(runWatchCommand(ctx, args[1:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		printUsage()
		os.Exit(exitVerification)
	}
}

// app holds everything a subcommand needs, wired from config.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []io.Closer

	registry *registry.Store
	backends backend.Set
	tracker  *tracker.Client
	profiles *profile.Loader
	vcs      *vcs.Checker
	bus      *bus.Bus
	trail    *audit.Trail
	otel     *otelPkg.Provider
	metrics  *otelPkg.Metrics
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, true)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With("trace_id", shared.TraceID(ctx))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}, bus: bus.New()}

	a.registry = registry.NewStore(registry.Config{
		Path:        cfg.RegistryPath,
		LockTimeout: cfg.LockTimeout(),
		Logger:      logger,
	})

	runner := run.OSRunner{}
	tmuxDriver := tmux.New(tmux.Config{
		Runner:        runner,
		Logger:        logger,
		WorkerCommand: cfg.Tmux.WorkerCommand,
		PromptMarker:  cfg.Tmux.PromptMarker,
		SendDelay:     time.Duration(cfg.Tmux.SendDelayMs) * time.Millisecond,
		PollInterval:  time.Duration(cfg.Tmux.PollIntervalMs) * time.Millisecond,
		GracefulWait:  cfg.GracefulShutdown(),
	})
	httpDriver := httpapi.New(httpapi.Config{
		Logger:        logger,
		Runner:        runner,
		Ports:         cfg.HTTP.ProbePorts,
		ServerCommand: cfg.HTTP.ServerCommand,
		SettleDelay:   time.Duration(cfg.HTTP.SettleDelayMs) * time.Millisecond,
		ReadyTimeout:  time.Duration(cfg.HTTP.ReadyTimeoutSeconds) * time.Second,
		GracefulWait:  cfg.GracefulShutdown(),
	})
	a.backends = backend.Set{
		tmuxDriver.Kind(): tmuxDriver,
		httpDriver.Kind(): httpDriver,
	}

	a.tracker = tracker.NewClient(tracker.Config{
		Runner:  runner,
		Logger:  logger,
		Command: cfg.Tracker.Command,
	})

	a.profiles, err = profile.NewLoader(cfg.ProfileDirs)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init profile loader: %w", err)
	}

	a.vcs = vcs.NewChecker(runner, []string{cfg.Tracker.LedgerFile, cfg.Tracker.KnowledgeLog})

	a.trail, err = audit.Open(cfg.HomeDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	a.closers = append(a.closers, a.trail)
	a.trail.AttachBus(ctx, a.bus)

	a.otel, err = otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init otel: %w", err)
	}
	a.metrics, err = otelPkg.NewMetrics(a.otel.Meter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	if a.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otel.Shutdown(shutdownCtx)
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// trackerFor binds the tracker to a non-default database when the record
// carries one.
func (a *app) trackerFor(dbPath string) complete.IssueTracker {
	if dbPath == "" {
		return a.tracker
	}
	return a.tracker.WithDB(dbPath)
}

// exitCodeFor maps an error to the documented exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, registry.ErrAgentNotFound):
		return exitNotFound
	case errors.Is(err, backend.ErrTransportUnavailable):
		return exitTransport
	default:
		return exitVerification
	}
}

func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
