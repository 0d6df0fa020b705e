// careiq-calsync keeps CareIQ calendar events in sync with users' Google,
// Outlook and iCloud calendars.
//
// Usage:
//
//	careiq-calsync serve [--config <path>] [--verbose]
//	careiq-calsync sync-once --integration <uuid> [--direction bidirectional] [--calendar <id>]
//	careiq-calsync status --integration <uuid>
//	careiq-calsync version
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
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jaayshwaah/careiq-sub001/internal/config"
	"github.com/jaayshwaah/careiq-sub001/internal/httpapi"
	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/scheduler"
	"github.com/jaayshwaah/careiq-sub001/internal/state"
	syncp "github.com/jaayshwaah/careiq-sub001/internal/sync"
	"github.com/jaayshwaah/careiq-sub001/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		return runServe(os.Args[2:])
	case "sync-once":
		return runSyncOnce(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("careiq-calsync", version)
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'careiq-calsync help' for usage", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "careiq-calsync: sync CareIQ calendar events with external calendars")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  careiq-calsync serve [--config ...]                 HTTP API + scheduled sync")
	fmt.Fprintln(os.Stderr, "  careiq-calsync sync-once --integration <uuid> ...  Single sync run then exit")
	fmt.Fprintln(os.Stderr, "  careiq-calsync status --integration <uuid>          Show sync status and recent runs")
	fmt.Fprintln(os.Stderr, "  careiq-calsync version                              Print version")
}

// --- Shared bootstrap --------------------------------------------------------

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *state.Store
	orch   *syncp.Orchestrator
	closer func()
}

func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// bootstrap loads config, sets up logging and telemetry, opens the store and
// builds the orchestrator. ctx scopes provider HTTP clients.
func bootstrap(ctx context.Context, cfgPath string, verbose bool) (*app, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(base)
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	var cleanups []func()
	closer := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			Headers:      cfg.Telemetry.Headers,

			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Environment:    cfg.Telemetry.Environment,
			InstanceID:     cfg.Telemetry.InstanceID,
			SampleRatio:    cfg.Telemetry.SampleRatio,
			MetricInterval: cfg.Telemetry.MetricInterval,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger = slog.New(telemetry.NewLogHandler(base, "careiq-calsync"))
			slog.SetDefault(logger)
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			cleanups = append(cleanups, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	store, err := state.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		closer()
		return nil, fmt.Errorf("opening %s database: %w", cfg.Database.Driver, err)
	}
	cleanups = append(cleanups, func() {
		if err := store.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	})
	logger.Info("database opened", "driver", cfg.Database.Driver)

	orch := syncp.NewOrchestrator(store, newFactory(ctx, cfg.Providers), syncp.Options{
		RunTimeout:         cfg.Sync.RunTimeout,
		DefaultCalendarID:  cfg.Sync.DefaultCalendarID,
		ImportCalendarType: cfg.Sync.ImportCalendarType,
		MaxAttempts:        cfg.Sync.MaxAttempts,
	}, logger)

	return &app{cfg: cfg, log: logger, store: store, orch: orch, closer: closer}, nil
}

// --- Subcommands -------------------------------------------------------------

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := bootstrap(ctx, *cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.closer()

	srv := httpapi.New(httpapi.Deps{
		Syncer:      a.orch,
		Store:       a.store,
		OAuth:       oauthConfigs(a.cfg.Providers),
		ProbeCalDAV: caldavProbe(a.cfg.Providers.CalDAV.ServerURL),
		Secret:      []byte(a.cfg.Auth.JWTSecret),
		Ping:        a.store.Ping,
		Logger:      a.log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, a.cfg.ListenAddr) })
	if a.cfg.Sync.ScheduleEnabled() {
		sched := scheduler.New(a.orch, a.store, a.cfg.Sync.Schedule, a.cfg.Sync.StaleAfter, a.cfg.Sync.Concurrency, a.log)
		g.Go(func() error {
			if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("scheduler: %w", err)
			}
			return nil
		})
	} else {
		a.log.Info("scheduled sync disabled")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}

func runSyncOnce(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	integration := fs.String("integration", "", "integration id to sync (required)")
	direction := fs.String("direction", string(model.DirectionBidirectional), "push, pull or bidirectional")
	calendarID := fs.String("calendar", "", "target calendar id (defaults to sync.default_calendar_id)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*integration)
	if err != nil {
		return fmt.Errorf("--integration must be a uuid: %w", err)
	}
	dir, err := model.ParseDirection(*direction)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := bootstrap(ctx, *cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.closer()

	res, err := a.orch.Sync(ctx, syncp.Request{
		IntegrationID: id,
		RunType:       model.RunManual,
		Direction:     dir,
		CalendarID:    *calendarID,
	})
	if res.LogID != uuid.Nil {
		a.log.Info("sync complete",
			"status", res.Status,
			"processed", res.Processed,
			"created", res.Created,
			"updated", res.Updated,
			"deleted", res.Deleted,
			"failed", res.Failed,
			"duration_ms", res.DurationMs,
		)
	}
	return err
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	integration := fs.String("integration", "", "integration id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*integration)
	if err != nil {
		return fmt.Errorf("--integration must be a uuid: %w", err)
	}

	ctx := context.Background()
	a, err := bootstrap(ctx, *cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.closer()

	st, err := a.orch.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("loading status: %w", err)
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(out io.Writer, st model.SyncStatus) {
	fmt.Fprintf(out, "Integration %s (%s)\n", st.IntegrationID, st.Provider)
	fmt.Fprintf(out, "  Active:        %v\n", st.IsActive)
	fmt.Fprintf(out, "  Sync enabled:  %v\n", st.SyncEnabled)
	if st.LastSyncAt != nil {
		fmt.Fprintf(out, "  Last sync:     %s (%s)\n", st.LastSyncAt.Format(time.RFC3339), st.LastSyncStatus)
	} else {
		fmt.Fprintf(out, "  Last sync:     never\n")
	}
	if st.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:         %s\n", st.ErrorMessage)
	}
	if len(st.RecentRuns) == 0 {
		return
	}

	fmt.Fprintln(out, "")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTYPE\tDIRECTION\tSTATUS\tPROC\tNEW\tUPD\tDEL\tFAIL\tMS")
	for _, r := range st.RecentRuns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.StartedAt.Format(time.RFC3339), r.RunType, r.Direction, r.Status,
			r.Processed, r.Created, r.Updated, r.Deleted, r.Failed, r.DurationMs)
	}
	_ = tw.Flush()
}
