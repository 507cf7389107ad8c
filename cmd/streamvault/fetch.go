package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/downloader"
	"github.com/streamvault/streamvault/internal/logger"
)

var (
	fetchName     string
	fetchOutDir   string
	fetchStrategy string
)

var errFetchFailed = errors.New("download did not complete")

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download one URL in the foreground and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return fetch(cmd.Context(), cfg, args[0])
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchName, "name", "n", "", "display name used for the output file (default: derived from the URL)")
	fetchCmd.Flags().StringVarP(&fetchOutDir, "out", "o", ".", "output directory")
	fetchCmd.Flags().StringVarP(&fetchStrategy, "strategy", "s", "", "use only this transport: remux, stream, direct or native")
}

// alwaysReady is the surface for headless one-shot runs.
type alwaysReady struct{}

func (alwaysReady) Ready() bool { return true }

func fetch(parent context.Context, cfg *config.Config, rawURL string) error {
	if parent == nil {
		parent = context.Background()
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer log.Close()

	outDir, err := filepath.Abs(fetchOutDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fetchName
	if name == "" {
		name = nameFromURL(rawURL)
	}

	session := newSession(cfg, log.Logger)
	defer session.Close()

	var strategies []downloader.Strategy
	if fetchStrategy != "" {
		s, err := downloader.NewStrategy(downloader.StrategyName(fetchStrategy), strategyConfig(cfg), session)
		if err != nil {
			return err
		}
		strategies = []downloader.Strategy{s}
	}

	task := downloader.Task{ID: uuid.NewString(), URL: rawURL, Name: name, ProfileID: "cli"}
	terminal := make(chan downloader.Event, 1)

	emitter := downloader.EmitterFunc(func(ev downloader.Event) {
		if ev.ID != task.ID {
			return
		}
		if ev.Status.IsTerminal() {
			select {
			case terminal <- ev:
			default:
			}
			return
		}
		log.Info().Float64("progress", ev.Progress).Str("speed", ev.Speed).Msg(name)
	})

	dirs := downloader.DirResolverFunc(func(string) (string, error) { return outDir, nil })
	eng := newEngine(cfg, strategies, session, dirs, alwaysReady{}, emitter, nil, log.Logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	eng.queue.Enqueue(task)

	var ev downloader.Event
	select {
	case ev = <-terminal:
	case <-ctx.Done():
		log.Warn().Msg("interrupted, cancelling download")
		eng.queue.Cancel(task.ID)
		ev = <-terminal
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = eng.queue.Close(closeCtx)

	switch ev.Status {
	case downloader.StatusCompleted:
		path := downloader.DestinationPath(outDir, task.Name, task.URL)
		size := "unknown size"
		if info, err := os.Stat(path); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Printf("Saved %s (%s) in %s\n", path, size, time.Since(start).Round(time.Second))
		return nil
	case downloader.StatusCancelled:
		return fmt.Errorf("%w: cancelled", errFetchFailed)
	default:
		return fmt.Errorf("%w: %s", errFetchFailed, ev.Error)
	}
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	base := path.Base(u.Path)
	base = base[:len(base)-len(path.Ext(base))]
	if base == "" || base == "." || base == "/" {
		return "download"
	}
	return base
}
