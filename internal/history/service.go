package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamvault/streamvault/internal/downloader"
)

var ErrInvalidStatus = errors.New("invalid history status")

// Service provides history management functionality.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger

	retentionMu sync.Mutex
	retention   RetentionSettings
}

// NewService creates a new history service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		logger:    logger.With().Str("component", "history").Logger(),
		retention: DefaultRetentionSettings(),
	}
}

// Create creates a new history entry.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Entry, error) {
	switch input.Status {
	case StatusCompleted, StatusError, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, input.Status)
	}

	finished := input.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	finished = finished.UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO download_history (task_id, name, url, profile_id, status, error, strategy, path, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		input.TaskID, input.Name, input.URL, input.ProfileID, string(input.Status),
		input.Error, input.Strategy, input.Path, finished,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Entry{
		ID:         id,
		TaskID:     input.TaskID,
		Name:       input.Name,
		URL:        input.URL,
		ProfileID:  input.ProfileID,
		Status:     input.Status,
		Error:      input.Error,
		Strategy:   input.Strategy,
		Path:       input.Path,
		FinishedAt: finished,
	}, nil
}

// RecordOutcome stores the terminal outcome of a download task.
func (s *Service) RecordOutcome(ctx context.Context, o downloader.Outcome) error {
	entry, err := s.Create(ctx, CreateInput{
		TaskID:     o.Task.ID,
		Name:       o.Task.Name,
		URL:        o.Task.URL,
		ProfileID:  o.Task.ProfileID,
		Status:     Status(o.Status),
		Error:      o.Error,
		Strategy:   string(o.Strategy),
		Path:       o.Path,
		FinishedAt: o.FinishedAt,
	})
	if err != nil {
		return err
	}
	s.logger.Debug().
		Int64("entryId", entry.ID).
		Str("taskId", entry.TaskID).
		Str("status", string(entry.Status)).
		Msg("Recorded download outcome")
	return nil
}

// List lists history entries, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.ProfileID != "" {
		where = append(where, "profile_id = ?")
		args = append(args, opts.ProfileID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_history"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}

	limit := opts.limit()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, name, url, profile_id, status, error, strategy, path, finished_at
		FROM download_history`+clause+`
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0, limit)
	for rows.Next() {
		var (
			e      Entry
			status string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Name, &e.URL, &e.ProfileID, &status,
			&e.Error, &e.Strategy, &e.Path, &e.FinishedAt); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListResponse{
		Items:      entries,
		Limit:      limit,
		TotalCount: total,
	}, nil
}

// Prune deletes entries that finished before the cutoff and returns how many were removed.
func (s *Service) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM download_history WHERE finished_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll deletes all history entries.
func (s *Service) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM download_history")
	return err
}
