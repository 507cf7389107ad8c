package history

import (
	"context"
	"time"
)

// DefaultRetention keeps thirty days of history.
const DefaultRetention = 30 * 24 * time.Hour

// RetentionSettings contains history retention configuration.
type RetentionSettings struct {
	Enabled   bool          `json:"enabled"`
	Retention time.Duration `json:"retention"`
}

// DefaultRetentionSettings returns default retention settings.
func DefaultRetentionSettings() RetentionSettings {
	return RetentionSettings{
		Enabled:   true,
		Retention: DefaultRetention,
	}
}

// SetRetention replaces the retention settings used by CleanupOldEntries.
func (s *Service) SetRetention(settings RetentionSettings) {
	s.retentionMu.Lock()
	s.retention = settings
	s.retentionMu.Unlock()
}

// Retention returns the current retention settings.
func (s *Service) Retention() RetentionSettings {
	s.retentionMu.Lock()
	defer s.retentionMu.Unlock()
	return s.retention
}

// CleanupOldEntries deletes history entries older than the configured retention period.
func (s *Service) CleanupOldEntries(ctx context.Context) error {
	settings := s.Retention()
	if !settings.Enabled || settings.Retention <= 0 {
		return nil
	}

	n, err := s.Prune(ctx, time.Now().Add(-settings.Retention))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Dur("retention", settings.Retention).Msg("Pruned download history")
	}
	return nil
}
