package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/streamvault/streamvault/internal/api/handlers"
	apimw "github.com/streamvault/streamvault/internal/api/middleware"
	"github.com/streamvault/streamvault/internal/api/ratelimit"
	"github.com/streamvault/streamvault/internal/downloader"
	"github.com/streamvault/streamvault/internal/history"
	"github.com/streamvault/streamvault/internal/scheduler"
	"github.com/streamvault/streamvault/internal/websocket"
)

// DownloadQueue is the queue surface served over HTTP.
type DownloadQueue interface {
	Enqueue(task downloader.Task) downloader.Ack
	Cancel(id string) downloader.Ack
	Snapshot() downloader.QueueState
}

// Deps are the services behind the HTTP surface. Only Queue is required.
type Deps struct {
	Queue     DownloadQueue
	Hub       *websocket.Hub
	History   *history.Service
	Scheduler *scheduler.Scheduler
	Logs      LogsProvider
	Gatherer  prometheus.Gatherer
}

// Server handles HTTP requests for the StreamVault API.
type Server struct {
	echo      *echo.Echo
	deps      Deps
	logger    zerolog.Logger
	limiter   *ratelimit.Limiter
	startedAt time.Time
}

// NewServer creates a new API server instance.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		deps:      deps,
		logger:    logger.With().Str("component", "api").Logger(),
		limiter:   ratelimit.New(ratelimit.DefaultRate, ratelimit.DefaultBurst),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimw.SecurityHeaders())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/health" || p == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil {
				ev = s.logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.deps.Hub != nil {
		s.echo.GET("/ws", s.deps.Hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	downloads := api.Group("/downloads")
	downloads.GET("", s.getQueue)
	downloads.POST("", s.enqueueDownload, s.limiter.Middleware())
	if s.deps.History != nil {
		history.NewHandlers(s.deps.History).RegisterRoutes(downloads.Group("/history"))
	}
	downloads.DELETE("/:id", s.cancelDownload)

	if s.deps.Scheduler != nil {
		h := handlers.NewSchedulerHandler(s.deps.Scheduler)
		tasks := api.Group("/scheduler/tasks")
		tasks.GET("", h.ListTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.POST("/:id/run", h.RunTask)
	}

	if s.deps.Logs != nil {
		NewLogsHandlers(s.deps.Logs).RegisterRoutes(api.Group("/logs"))
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
