package downloader

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024

	defaultExtension = ".mp4"
	defaultFileName  = "download"
)

// FormatSpeed renders a byte rate as B/s, KB/s or MB/s.
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	switch {
	case bytesPerSecond < kilobyte:
		return fmt.Sprintf("%.0f B/s", bytesPerSecond)
	case bytesPerSecond < megabyte:
		return fmt.Sprintf("%.1f KB/s", bytesPerSecond/kilobyte)
	default:
		return fmt.Sprintf("%.1f MB/s", bytesPerSecond/megabyte)
	}
}

// SanitizeFilename replaces every character outside [A-Za-z0-9 ._()-] with
// an underscore. The result is stable under repeated application.
func SanitizeFilename(name string) string {
	if name == "" {
		return defaultFileName
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if allowedFilenameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func allowedFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '-', r == '_', r == '.', r == '(', r == ')':
		return true
	}
	return false
}

// urlPath returns the lowercased path of rawURL, or the lowercased input
// with any query stripped when it does not parse.
func urlPath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return strings.ToLower(u.Path)
	}
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// FileExtension picks the container extension for a download. Playlist
// manifests are remuxed, so they always get the default container.
func FileExtension(rawURL string) string {
	if IsPlaylistURL(rawURL) {
		return defaultExtension
	}
	ext := path.Ext(urlPath(rawURL))
	if len(ext) < 2 || len(ext) > 6 {
		return defaultExtension
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return defaultExtension
		}
	}
	return ext
}

// DestinationPath is <dir>/<sanitized name><extension>.
func DestinationPath(dir, name, rawURL string) string {
	return filepath.Join(dir, SanitizeFilename(name)+FileExtension(rawURL))
}
