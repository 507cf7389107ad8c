package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/downloader"
	"github.com/streamvault/streamvault/internal/platform"
)

// engine is the download stack shared by serve and fetch.
type engine struct {
	session *platform.DownloadSession
	runner  *downloader.Runner
	queue   *downloader.Queue
	metrics *downloader.Metrics
}

func strategyConfig(cfg *config.Config) downloader.StrategyConfig {
	return downloader.StrategyConfig{
		FFmpegPath:         cfg.Downloads.FFmpegPath,
		UserAgent:          cfg.Downloads.UserAgent,
		RequestTimeout:     cfg.Downloads.RequestTimeout,
		NativeStartTimeout: cfg.Downloads.NativeStartTimeout,
	}
}

func newSession(cfg *config.Config, log zerolog.Logger) *platform.DownloadSession {
	return platform.NewDownloadSession(platform.SessionConfig{
		Client:    downloader.NewHTTPClient(cfg.Downloads.RequestTimeout),
		UserAgent: cfg.Downloads.UserAgent,
		Retry:     platform.DefaultRetryConfig(),
	}, log)
}

// newEngine wires strategies, runner and queue. strategies may be nil to
// use the full fallback list.
func newEngine(
	cfg *config.Config,
	strategies []downloader.Strategy,
	session *platform.DownloadSession,
	dirs downloader.DirResolver,
	surface downloader.Surface,
	emitter downloader.Emitter,
	reg prometheus.Registerer,
	log zerolog.Logger,
) *engine {
	if strategies == nil {
		strategies = downloader.NewStrategies(strategyConfig(cfg), session)
	}

	metrics := downloader.NewMetrics(reg)

	runner := downloader.NewRunner(strategies, dirs, log)
	runner.SetSurface(surface)
	runner.SetMetrics(metrics)

	queue := downloader.NewQueue(runner, emitter, downloader.QueueConfig{
		ForceCancelDelay: cfg.Downloads.ForceCancelDelay,
		ProgressInterval: cfg.Downloads.ProgressInterval,
	}, log)
	queue.SetMetrics(metrics)

	return &engine{
		session: session,
		runner:  runner,
		queue:   queue,
		metrics: metrics,
	}
}
