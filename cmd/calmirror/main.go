// Calmirror is a one-way calendar reconciliation service. It periodically
// pulls calendar items from source mailboxes (on-premise Exchange via EWS or
// Exchange Online via Microsoft Graph) and mirrors them into destination
// Exchange Online mailboxes, keeping each destination an attachment-free,
// attendee-free copy of its source within a sliding time window.
//
// Usage:
//
//	calmirror daemon [--config <path>] [--verbose]     # scheduled loop + HTTP API
//	calmirror sync-once [--config <path>] [--force]    # single batch then exit
//	calmirror status [--config <path>]                 # show config & state info
//	calmirror version                                  # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/calmirror/calmirror/internal/config"
	"github.com/calmirror/calmirror/internal/ews"
	"github.com/calmirror/calmirror/internal/graph"
	"github.com/calmirror/calmirror/internal/history"
	"github.com/calmirror/calmirror/internal/httpapi"
	"github.com/calmirror/calmirror/internal/model"
	"github.com/calmirror/calmirror/internal/state"
	"github.com/calmirror/calmirror/internal/status"
	syncp "github.com/calmirror/calmirror/internal/sync"
	"github.com/calmirror/calmirror/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	// Secrets referenced as ${ENV_VAR} in the config may live in a .env
	// file next to the binary; missing files are fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("calmirror", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'calmirror' for usage", cmd)
	}
}

func printUsage() error {
	fmt.Fprintln(os.Stderr, "calmirror — one-way Exchange calendar mirroring")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  calmirror daemon [--config ...] [--verbose]   Run the scheduled service")
	fmt.Fprintln(os.Stderr, "  calmirror sync-once [--config ...] [--force]  Single batch then exit")
	fmt.Fprintln(os.Stderr, "  calmirror status [--config ...]               Show config & state info")
	fmt.Fprintln(os.Stderr, "  calmirror version                             Print version")
	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	force := fs.Bool("force", false, "rewrite every item regardless of change detection (sync-once only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon, *force)
}

// runStatus prints the current configuration and state-file information.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("Calmirror Status")
	fmt.Println("────────────────")

	if _, err := os.Stat(*cfgPath); err != nil {
		fmt.Printf("  Config:    not found (%s)\n", *cfgPath)
		return nil
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (invalid: %v)\n", *cfgPath, err)
		return nil
	}
	mappings := cfg.MailboxMappings()
	fmt.Printf("  Config:    %s ✓\n", *cfgPath)
	fmt.Printf("  Mappings:  %d\n", len(mappings))
	for _, m := range mappings {
		fmt.Printf("             %s (%s)\n", m.Label(), m.SourceType)
	}
	fmt.Printf("  Interval:  %s\n", cfg.SyncInterval)
	fmt.Printf("  Window:    -%dd .. +%dd\n", cfg.LookbackDays, cfg.LookforwardDays)

	statePath := cfg.StatePath
	if statePath == "" {
		statePath, _ = config.DefaultStatePath()
	}
	if info, err := os.Stat(statePath); err == nil {
		fmt.Printf("  State:     %s (%d bytes)\n", statePath, info.Size())
	} else {
		fmt.Printf("  State:     not found (%s)\n", statePath)
	}

	if cfg.HTTPListen != "" {
		fmt.Printf("  HTTP API:  %s\n", cfg.HTTPListen)
	} else {
		fmt.Printf("  HTTP API:  disabled\n")
	}
	return nil
}

// --- Sync core -----------------------------------------------------------------

func startSync(cfgPath string, verbose, daemon, force bool) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	mappings := cfg.MailboxMappings()
	logger.Info("config loaded",
		"mappings", len(mappings),
		"sync_interval", cfg.SyncInterval,
		"lookback_days", cfg.LookbackDays,
		"lookforward_days", cfg.LookforwardDays,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(context.Background(), telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Adapters --------------------------------------------------------------

	graphClient, err := graph.NewClient(cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret, logger)
	if err != nil {
		return fmt.Errorf("initialising Graph client: %w", err)
	}

	sources := map[model.SourceType]syncp.Source{
		model.SourceOnline: graph.NewSource(graphClient, logger),
	}
	if cfg.EWS != nil {
		var adapter *ews.Adapter
		switch cfg.EWS.Auth {
		case "oauth":
			adapter = ews.NewOAuthAdapter(ctx, cfg.EWS.URL,
				cfg.EWS.TenantID, cfg.EWS.ClientID, cfg.EWS.ClientSecret, logger)
		default:
			adapter = ews.NewBasicAuthAdapter(cfg.EWS.URL,
				cfg.EWS.Username, cfg.EWS.Password, logger)
		}
		sources[model.SourceOnPremise] = adapter
	}

	destination := graph.NewDestination(graphClient, logger)

	// --- State, history, tracker ----------------------------------------------

	statePath := cfg.StatePath
	if statePath == "" {
		if statePath, err = config.DefaultStatePath(); err != nil {
			return fmt.Errorf("resolving state path: %w", err)
		}
	}
	store := state.NewStore(statePath, cfg.DisablePersistence, logger)

	var recorder syncp.RunRecorder
	var runs httpapi.HistoryReader
	if !cfg.DisableHistory {
		historyPath := cfg.HistoryPath
		if historyPath == "" {
			if historyPath, err = config.DefaultHistoryPath(); err != nil {
				return fmt.Errorf("resolving history path: %w", err)
			}
		}
		historyStore, err := history.Open(historyPath)
		if err != nil {
			return fmt.Errorf("opening history DB at %q: %w", historyPath, err)
		}
		defer func() {
			if closeErr := historyStore.Close(); closeErr != nil {
				logger.Error("closing history DB", "error", closeErr)
			}
		}()
		logger.Info("history DB opened", "path", historyPath)
		recorder = historyStore
		runs = historyStore
	}

	tracker := status.NewTracker()

	// --- Engine ------------------------------------------------------------------

	reconciler := syncp.NewReconciler(sources, destination, store, tracker,
		cfg.LookbackDays, cfg.LookforwardDays, cfg.ThrottleDelay, logger)
	engine := syncp.NewEngine(reconciler, tracker, recorder, mappings, cfg.SyncInterval, logger)

	if !daemon {
		logger.Info("running single batch", "force", force)
		stats, err := engine.RunOnce(ctx, force)
		logger.Info("batch finished",
			"evaluated", stats.Evaluated,
			"created", stats.Created,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
			"unchanged", stats.Unchanged,
			"errors", stats.Errors,
		)
		return err
	}

	// daemon mode: scheduled loop plus optional control surface.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	if cfg.HTTPListen != "" {
		server := httpapi.NewServer(cfg.HTTPListen, tracker, engine, runs, logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
