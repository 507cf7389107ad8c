package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/streamvault/streamvault/internal/downloader"
)

// EnqueueRequest is the body of POST /api/v1/downloads.
type EnqueueRequest struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	ProfileID string `json:"profileId"`
}

// EnqueueResponse echoes the task id with the queue acknowledgement.
type EnqueueResponse struct {
	ID string `json:"id"`
	downloader.Ack
}

func (s *Server) getQueue(c echo.Context) error {
	state := s.deps.Queue.Snapshot()
	if state.Pending == nil {
		state.Pending = []downloader.Task{}
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) enqueueDownload(c echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}
	if u, err := url.Parse(req.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url must be absolute"})
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ack := s.deps.Queue.Enqueue(downloader.Task{
		ID:        req.ID,
		URL:       req.URL,
		Name:      req.Name,
		ProfileID: req.ProfileID,
	})
	if !ack.Success {
		return c.JSON(http.StatusServiceUnavailable, EnqueueResponse{ID: req.ID, Ack: ack})
	}

	status := http.StatusAccepted
	if !ack.Queued {
		status = http.StatusOK
	}
	return c.JSON(status, EnqueueResponse{ID: req.ID, Ack: ack})
}

func (s *Server) cancelDownload(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "id is required"})
	}
	return c.JSON(http.StatusOK, s.deps.Queue.Cancel(id))
}
