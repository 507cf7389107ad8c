package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/config"
)

func TestNameFromURL(t *testing.T) {
	tests := map[string]string{
		"http://h/movies/My.Movie.mp4": "My.Movie",
		"http://h/live/123.ts":         "123",
		"http://h/":                    "download",
		"http://h":                     "download",
		"::bad":                        "download",
	}
	for in, want := range tests {
		assert.Equal(t, want, nameFromURL(in), in)
	}
}

func TestFetch_DirectDownload(t *testing.T) {
	body := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	out := t.TempDir()
	fetchName, fetchOutDir, fetchStrategy = "My Movie", out, "direct"
	t.Cleanup(func() { fetchName, fetchOutDir, fetchStrategy = "", ".", "" })

	cfg := config.Default()
	cfg.Downloads.ProgressInterval = 0

	require.NoError(t, fetch(context.Background(), cfg, srv.URL+"/video.mp4"))

	data, err := os.ReadFile(filepath.Join(out, "My Movie.mp4"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestFetch_FailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fetchName, fetchOutDir, fetchStrategy = "missing", t.TempDir(), "direct"
	t.Cleanup(func() { fetchName, fetchOutDir, fetchStrategy = "", ".", "" })

	err := fetch(context.Background(), config.Default(), srv.URL+"/missing.mp4")
	require.ErrorIs(t, err, errFetchFailed)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestFetch_UnknownStrategy(t *testing.T) {
	fetchOutDir, fetchStrategy = t.TempDir(), "carrier-pigeon"
	t.Cleanup(func() { fetchOutDir, fetchStrategy = ".", "" })

	assert.Error(t, fetch(context.Background(), config.Default(), "http://h/a.mp4"))
}
