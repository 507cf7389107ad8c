package downloader

import "strings"

// StrategyName identifies one transport mechanism.
type StrategyName string

const (
	StrategyRemux  StrategyName = "remux"
	StrategyStream StrategyName = "stream"
	StrategyDirect StrategyName = "direct"
	StrategyNative StrategyName = "native"
)

// DisplayName is the label used in logs.
func (n StrategyName) DisplayName() string {
	switch n {
	case StrategyRemux:
		return "HLS (ffmpeg)"
	case StrategyStream:
		return "Stream Recording"
	case StrategyDirect:
		return "Direct Download"
	case StrategyNative:
		return "Native Download"
	default:
		return string(n)
	}
}

const (
	playlistSuffix = ".m3u8"
	liveMarker     = "/live/"
)

// IsPlaylistURL reports whether the URL path names a segmented playlist manifest.
func IsPlaylistURL(rawURL string) bool {
	return strings.HasSuffix(urlPath(rawURL), playlistSuffix)
}

// IsLiveURL reports whether the URL path carries the live-stream marker.
func IsLiveURL(rawURL string) bool {
	return strings.Contains(urlPath(rawURL), liveMarker)
}

// SelectStrategies returns the ordered strategies to try for rawURL. The
// native strategy always comes last.
func SelectStrategies(rawURL string) []StrategyName {
	switch {
	case IsPlaylistURL(rawURL):
		return []StrategyName{StrategyRemux, StrategyStream, StrategyNative}
	case IsLiveURL(rawURL):
		return []StrategyName{StrategyStream, StrategyDirect, StrategyNative}
	default:
		return []StrategyName{StrategyDirect, StrategyStream, StrategyNative}
	}
}
