package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/downloader"
	"github.com/streamvault/streamvault/internal/history"
	"github.com/streamvault/streamvault/internal/logger"
	"github.com/streamvault/streamvault/internal/scheduler"
	"github.com/streamvault/streamvault/internal/testutil"
)

type fakeQueue struct {
	mu        sync.Mutex
	tasks     []downloader.Task
	cancelled []string
	closed    bool
}

func (q *fakeQueue) Enqueue(task downloader.Task) downloader.Ack {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return downloader.Ack{}
	}
	for _, t := range q.tasks {
		if t.ID == task.ID {
			return downloader.Ack{Success: true}
		}
	}
	q.tasks = append(q.tasks, task)
	return downloader.Ack{Success: true, Queued: true}
}

func (q *fakeQueue) Cancel(id string) downloader.Ack {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
	return downloader.Ack{Success: true}
}

func (q *fakeQueue) Snapshot() downloader.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	var st downloader.QueueState
	if len(q.tasks) > 0 {
		cur := q.tasks[0]
		st.Current = &cur
		st.Pending = append([]downloader.Task(nil), q.tasks[1:]...)
	}
	return st
}

type staticLogs []logger.LogEntry

func (s staticLogs) GetRecentLogs() []logger.LogEntry { return s }

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := NewServer(Deps{Queue: &fakeQueue{}}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestServer_EnqueueAndQueue(t *testing.T) {
	q := &fakeQueue{}
	s := NewServer(Deps{Queue: q}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodPost, "/api/v1/downloads",
		`{"id":"a","url":"http://h/video.mp4","name":"My Movie","profileId":"p1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"id":"a","success":true,"queued":true}`, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/api/v1/downloads", `{"url":"http://h/b.mp4","profileId":"p1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID, "id generated when omitted")

	rec = doRequest(t, s, http.MethodPost, "/api/v1/downloads", `{"id":"a","url":"http://h/video.mp4"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "duplicate id is acknowledged without queueing")

	rec = doRequest(t, s, http.MethodGet, "/api/v1/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state downloader.QueueState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.NotNil(t, state.Current)
	assert.Equal(t, "a", state.Current.ID)
	assert.Len(t, state.Pending, 1)
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rec.Header().Get("Cache-Control"))
}

func TestServer_EnqueueValidation(t *testing.T) {
	s := NewServer(Deps{Queue: &fakeQueue{}}, zerolog.Nop())

	tests := []struct {
		name string
		body string
	}{
		{"empty url", `{"id":"a","url":"  "}`},
		{"relative url", `{"url":"video.mp4"}`},
		{"malformed json", `{"url":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/api/v1/downloads", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestServer_EnqueueClosedQueue(t *testing.T) {
	s := NewServer(Deps{Queue: &fakeQueue{closed: true}}, zerolog.Nop())
	rec := doRequest(t, s, http.MethodPost, "/api/v1/downloads", `{"url":"http://h/a.mp4"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Cancel(t *testing.T) {
	q := &fakeQueue{}
	s := NewServer(Deps{Queue: q}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodDelete, "/api/v1/downloads/unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, []string{"unknown"}, q.cancelled)
}

func TestServer_Status(t *testing.T) {
	q := &fakeQueue{}
	q.Enqueue(downloader.Task{ID: "a", URL: "http://h/a"})
	q.Enqueue(downloader.Task{ID: "b", URL: "http://h/b"})
	s := NewServer(Deps{Queue: q}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Downloading)
	assert.Equal(t, 1, st.QueueLength)
	assert.NotEmpty(t, st.Version)
}

func TestServer_History(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	hist := history.NewService(tdb.Conn, tdb.Logger)
	require.NoError(t, hist.RecordOutcome(context.Background(), downloader.Outcome{
		Task:       downloader.Task{ID: "a", URL: "http://h/a.mp4"},
		Status:     downloader.StatusCompleted,
		FinishedAt: time.Now(),
	}))

	s := NewServer(Deps{Queue: &fakeQueue{}, History: hist}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodGet, "/api/v1/downloads/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp history.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "a", resp.Items[0].TaskID)
}

func TestServer_MetricsLogsAndScheduler(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = downloader.NewMetrics(reg)

	sched, err := scheduler.New(zerolog.Nop())
	require.NoError(t, err)
	sched.Start()
	t.Cleanup(func() { _ = sched.Stop() })
	require.NoError(t, sched.RegisterTask(scheduler.TaskConfig{
		ID: "noop", Name: "Noop", Cron: "0 3 * * *",
		Func: func(context.Context) error { return nil },
	}))

	logs := staticLogs{
		{Level: "info", Component: "download-queue", Message: "Added to queue"},
		{Level: "info", Component: "api", Message: "request"},
	}

	s := NewServer(Deps{Queue: &fakeQueue{}, Gatherer: reg, Logs: logs, Scheduler: sched}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "streamvault_download_queue_length")

	rec = doRequest(t, s, http.MethodGet, "/api/v1/logs?component=download-queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []logger.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Added to queue", entries[0].Message)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/scheduler/tasks/noop/run", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, s, http.MethodPost, "/api/v1/scheduler/tasks/missing/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, s, http.MethodGet, "/api/v1/scheduler/tasks", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"noop"`)
}
