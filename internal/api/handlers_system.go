package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/streamvault/streamvault/internal/config"
)

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Version     string `json:"version"`
	StartTime   string `json:"startTime"`
	Uptime      string `json:"uptime"`
	Downloading bool   `json:"downloading"`
	QueueLength int    `json:"queueLength"`
	Clients     int    `json:"clients"`
}

func (s *Server) getStatus(c echo.Context) error {
	state := s.deps.Queue.Snapshot()

	clients := 0
	if s.deps.Hub != nil {
		clients = s.deps.Hub.ClientCount()
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Version:     config.Version,
		StartTime:   s.startedAt.Format(time.RFC3339),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		Downloading: state.Current != nil,
		QueueLength: len(state.Pending),
		Clients:     clients,
	})
}
