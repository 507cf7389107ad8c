package downloader

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0 B/s"},
		{512, "512 B/s"},
		{1023, "1023 B/s"},
		{1024, "1.0 KB/s"},
		{1536, "1.5 KB/s"},
		{1024 * 1024, "1.0 MB/s"},
		{2.5 * 1024 * 1024, "2.5 MB/s"},
		{-10, "0 B/s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSpeed(tt.in), "FormatSpeed(%v)", tt.in)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Movie", "My Movie"},
		{"Show: S01/E02", "Show_ S01_E02"},
		{"weird*?<>|\"name", "weird______name"},
		{"Film (2020) - Part_1.final", "Film (2020) - Part_1.final"},
		{"Café", "Caf_"},
		{"", "download"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "SanitizeFilename(%q)", tt.in)
	}
}

func TestSanitizeFilename_IdempotentAndTotal(t *testing.T) {
	allowed := regexp.MustCompile(`^[A-Za-z0-9 ._()\-]+$`)
	inputs := []string{"a/b\\c", "日本語", "tab\there", "x:y*z", "..", "normal name", "\x00\x01"}
	for _, in := range inputs {
		once := SanitizeFilename(in)
		assert.Equal(t, once, SanitizeFilename(once), "not idempotent for %q", in)
		assert.Regexp(t, allowed, once, "disallowed characters for %q", in)
	}
}

func TestFileExtension(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://h/video.mp4", ".mp4"},
		{"http://h/movie/1234.mkv?token=abc", ".mkv"},
		{"http://h/live/stream.ts", ".ts"},
		{"http://h/playlist.m3u8", ".mp4"},
		{"http://h/PLAYLIST.M3U8?x=1", ".mp4"},
		{"http://h/noext", ".mp4"},
		{"http://h/file.toolongext", ".mp4"},
		{"http://h/file.a-b", ".mp4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileExtension(tt.url), "FileExtension(%q)", tt.url)
	}
}

func TestDestinationPath(t *testing.T) {
	got := DestinationPath("/data/downloads", "My Movie", "http://h/video.mkv")
	assert.Equal(t, filepath.Join("/data/downloads", "My Movie.mkv"), got)
}
