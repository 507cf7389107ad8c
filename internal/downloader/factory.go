package downloader

import (
	"fmt"
	"time"
)

// StrategyConfig carries the settings shared by the transport strategies.
type StrategyConfig struct {
	FFmpegPath         string
	UserAgent          string
	RequestTimeout     time.Duration
	NativeStartTimeout time.Duration
}

// NewStrategies builds all four strategies. The native strategy is always
// present; with a nil manager it fails as a precondition error.
func NewStrategies(cfg StrategyConfig, native NativeManager) []Strategy {
	return []Strategy{
		NewRemuxStrategy(cfg.FFmpegPath),
		NewStreamStrategy(cfg.UserAgent, cfg.RequestTimeout),
		NewDirectStrategy(NewHTTPClient(cfg.RequestTimeout), cfg.UserAgent),
		NewNativeStrategy(native, cfg.NativeStartTimeout),
	}
}

// NewStrategy creates a single strategy by name.
func NewStrategy(name StrategyName, cfg StrategyConfig, native NativeManager) (Strategy, error) {
	switch name {
	case StrategyRemux:
		return NewRemuxStrategy(cfg.FFmpegPath), nil
	case StrategyStream:
		return NewStreamStrategy(cfg.UserAgent, cfg.RequestTimeout), nil
	case StrategyDirect:
		return NewDirectStrategy(NewHTTPClient(cfg.RequestTimeout), cfg.UserAgent), nil
	case StrategyNative:
		return NewNativeStrategy(native, cfg.NativeStartTimeout), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
