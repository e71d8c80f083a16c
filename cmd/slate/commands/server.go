package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/slatehq/slate/capability"
	"github.com/slatehq/slate/config"
	"github.com/slatehq/slate/db"
	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/internal/httpclient"
	"github.com/slatehq/slate/logger"
	"github.com/slatehq/slate/server"
	"github.com/slatehq/slate/studio/calendar"
	"github.com/slatehq/slate/studio/executor"
	"github.com/slatehq/slate/studio/jobs"
	"github.com/slatehq/slate/studio/recurring"
	"github.com/slatehq/slate/studio/scheduler"
)

// ServerCmd starts the API server with the scheduler and recurring ticker.
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the Slate API server and scheduler",
	Long: `Start the HTTP/WebSocket API server together with the job scheduler,
the recurring schedule ticker, and the calendar manager. Runs until
interrupted; a second interrupt forces immediate exit.`,
	RunE: runServer,
}

var serverStorePath string

func init() {
	ServerCmd.Flags().StringVar(&serverStorePath, "store", "", "Store path override (default from config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	log := logger.Logger

	cfg, err := config.Load()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to load configuration"), ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return errors.Mark(err, ErrConfig)
	}

	storeURL := cfg.Store.URL
	if serverStorePath != "" {
		storeURL = serverStorePath
	}
	storePath, err := db.ResolveStoreURL(storeURL)
	if err != nil {
		return errors.Mark(err, ErrStore)
	}
	database, err := db.OpenWithMigrations(storePath, log)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to open store"), ErrStore)
	}
	defer database.Close()

	printStartupBanner(cfg, storePath)

	loc := cfg.Location()

	queue := jobs.NewQueue(jobs.NewStore(database))

	cal := calendar.NewManager(calendar.Config{
		MinGap:         time.Duration(cfg.Calendar.MinGapHours) * time.Hour,
		MaxPerDay:      cfg.Calendar.MaxPerDay,
		SlotBuffer:     time.Duration(cfg.Calendar.SlotBufferMinutes) * time.Minute,
		PreferredHours: cfg.Calendar.PreferredHours,
		BlackoutDates:  cfg.Calendar.BlackoutDates,
		Location:       loc,
	}, calendar.NewStore(database), log)
	if err := cal.Load(); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to load calendar slots"), ErrStore)
	}

	strategy, err := executor.ParseStrategy(cfg.Executor.RetryStrategy)
	if err != nil {
		return errors.Mark(err, ErrConfig)
	}
	exec := executor.New(executor.Config{
		MaxConcurrent: cfg.Executor.MaxConcurrentJobs,
		CancelGrace:   time.Duration(cfg.Executor.CancelGraceSeconds) * time.Second,
	}, log)

	caps, err := buildCapabilities(cfg, log)
	if err != nil {
		return errors.Mark(err, ErrConfig)
	}

	sched := scheduler.New(queue, cal, exec, caps, scheduler.Config{
		CheckInterval: cfg.CheckInterval(),
		Policy: executor.Policy{
			MaxRetries:        cfg.Executor.MaxRetries,
			Strategy:          strategy,
			BaseDelay:         time.Duration(cfg.Executor.RetryBaseDelaySeconds) * time.Second,
			MaxDelay:          time.Duration(cfg.Executor.RetryMaxDelaySeconds) * time.Second,
			TimeoutPerAttempt: time.Duration(cfg.Executor.AttemptTimeoutSeconds) * time.Second,
		},
		Retention: time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour,
		Location:  loc,
	}, log)

	ticker := recurring.NewTicker(recurring.NewStore(database), sched,
		recurring.TickerConfig{Location: loc}, log)

	srv := server.New(sched, ticker, cal, queue, server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.ServerPort(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start scheduler")
	}
	ticker.Start()

	// Hot reload: only the dispatcher cadence is safe to change at runtime;
	// everything else requires a restart.
	watcher, err := config.NewConfigWatcher(config.ActiveConfigPath(), log)
	if err != nil {
		log.Warnw("Config hot reload unavailable", "error", err)
	} else {
		watcher.OnReload(func(cfg *config.Config) error {
			sched.SetCheckInterval(cfg.CheckInterval())
			return nil
		})
		if err := watcher.Start(ctx); err != nil {
			log.Warnw("Config watcher failed to start", "error", err)
		}
		defer watcher.Close()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped unexpectedly")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (interrupt again to force)...")

		shutdownDone := make(chan struct{})
		go func() {
			srv.Stop()
			ticker.Stop()
			sched.Stop()
			cancel()
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// buildCapabilities loads the manifest-backed capability set, falling back
// to the simulated set when no manifest is configured.
func buildCapabilities(cfg *config.Config, log *zap.SugaredLogger) (*capability.Set, error) {
	if cfg.Capabilities.ManifestPath == "" {
		log.Infow("No capability manifest configured, using simulated capabilities")
		return capability.NewSimulatedSet(), nil
	}

	manifest, err := capability.LoadManifest(cfg.Capabilities.ManifestPath)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Capabilities.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	blockPrivate := !cfg.Capabilities.AllowPrivateEndpoints
	client := httpclient.NewSaferClientWithOptions(timeout, httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivate,
	})

	return capability.NewSet(manifest, capability.Deps{Client: client, Logger: logger.Logger})
}
