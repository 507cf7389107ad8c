package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/streamvault/streamvault/internal/api"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/database"
	"github.com/streamvault/streamvault/internal/downloader"
	"github.com/streamvault/streamvault/internal/history"
	"github.com/streamvault/streamvault/internal/logger"
	"github.com/streamvault/streamvault/internal/platform"
	"github.com/streamvault/streamvault/internal/profile"
	"github.com/streamvault/streamvault/internal/scheduler"
	"github.com/streamvault/streamvault/internal/scheduler/tasks"
	"github.com/streamvault/streamvault/internal/websocket"
)

const (
	shutdownTimeout = 10 * time.Second
	defaultProfile  = "default"
)

var openBrowser bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download service, HTTP API and websocket push channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	for _, c := range []*cobra.Command{serveCmd, rootCmd} {
		c.Flags().BoolVar(&openBrowser, "open", false, "open the UI in a browser once the server is up")
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().Str("version", config.Version).Str("logLevel", cfg.Logging.Level).Msg("starting StreamVault")

	firstRun := platform.IsFirstRun(cfg.Database.Path)
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	profiles := profile.NewStore(cfg.Data.Dir, log.Logger)
	if firstRun {
		if err := profiles.MigrateLegacy(defaultProfile); err != nil {
			log.Warn().Err(err).Msg("failed to migrate legacy data")
		}
	}

	hist := history.NewService(db.Conn(), log.Logger)
	hist.SetRetention(history.RetentionSettings{Enabled: cfg.History.Retention > 0, Retention: cfg.History.Retention})

	hub := websocket.NewHub(log.Logger)
	log.SetBroadcastHub(hub)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address := cfg.Server.Address()
	serverURL := "http://" + address
	app := platform.NewApp(platform.AppConfig{
		ServerURL: serverURL,
		DataPath:  cfg.Data.Dir,
		Port:      cfg.Server.Port,
		OnQuit:    stop,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	session := newSession(cfg, log.Logger)
	eng := newEngine(cfg, nil, session, profiles, app, downloader.HubEmitter{Hub: hub}, reg, log.Logger)
	eng.queue.SetRecorder(hist)

	queueBroadcaster := downloader.NewQueueBroadcaster(eng.queue, hub, log.Logger)
	eng.queue.SetTrigger(queueBroadcaster)
	hub.SetCommands(eng.queue)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}
	if err := tasks.RegisterHistoryCleanupTask(sched, hist, cfg.History.CleanupCron); err != nil {
		return fmt.Errorf("failed to register history cleanup: %w", err)
	}

	server := api.NewServer(api.Deps{
		Queue:     eng.queue,
		Hub:       hub,
		History:   hist,
		Scheduler: sched,
		Logs:      log,
		Gatherer:  reg,
	}, log.Logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(hubCtx)
		return nil
	})

	g.Go(func() error {
		if err := server.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer stop()
		return app.Run()
	})

	queueBroadcaster.Start()
	sched.Start()

	if openBrowser {
		go func() {
			if err := app.OpenBrowser(serverURL); err != nil {
				log.Warn().Err(err).Msg("failed to open browser")
			}
		}()
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		app.Stop()
		if err := eng.queue.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("download queue did not stop cleanly")
		}
		queueBroadcaster.Stop()
		if err := sched.Stop(); err != nil {
			log.Warn().Err(err).Msg("scheduler did not stop cleanly")
		}
		session.Close()

		err := server.Shutdown(shutdownCtx)
		stopHub()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("StreamVault stopped with error")
		return err
	}
	log.Info().Msg("StreamVault stopped")
	return nil
}
