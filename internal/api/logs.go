package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/streamvault/streamvault/internal/logger"
)

// LogsProvider provides access to log data.
type LogsProvider interface {
	GetRecentLogs() []logger.LogEntry
}

// LogsHandlers handles log-related HTTP endpoints.
type LogsHandlers struct {
	provider LogsProvider
}

// NewLogsHandlers creates a new logs handlers instance.
func NewLogsHandlers(provider LogsProvider) *LogsHandlers {
	return &LogsHandlers{provider: provider}
}

// RegisterRoutes registers log routes on the given group.
func (h *LogsHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecentLogs)
}

// GetRecentLogs returns buffered log entries, optionally filtered by component.
// GET /api/v1/logs?component=download-queue&tail=100
func (h *LogsHandlers) GetRecentLogs(c echo.Context) error {
	logs := h.provider.GetRecentLogs()

	if component := c.QueryParam("component"); component != "" {
		filtered := logs[:0:0]
		for _, e := range logs {
			if e.Component == component {
				filtered = append(filtered, e)
			}
		}
		logs = filtered
	}
	if tail, err := strconv.Atoi(c.QueryParam("tail")); err == nil && tail > 0 && tail < len(logs) {
		logs = logs[len(logs)-tail:]
	}
	if logs == nil {
		logs = []logger.LogEntry{}
	}
	return c.JSON(http.StatusOK, logs)
}
