package downloader

import (
	"errors"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Surface is the UI surface some strategies attach to.
type Surface interface {
	Ready() bool
}

// DirResolver returns the downloads directory for a profile.
type DirResolver interface {
	DownloadsDir(profileID string) (string, error)
}

// DirResolverFunc adapts a function to DirResolver.
type DirResolverFunc func(profileID string) (string, error)

func (f DirResolverFunc) DownloadsDir(profileID string) (string, error) { return f(profileID) }

// Outcome is the terminal result of one task.
type Outcome struct {
	Task       Task
	Status     Status
	Error      string
	Strategy   StrategyName
	Path       string
	FinishedAt time.Time
}

// Runner executes one task by trying its strategies in order.
type Runner struct {
	strategies map[StrategyName]Strategy
	dirs       DirResolver
	surface    Surface
	metrics    *Metrics
	logger     zerolog.Logger
}

// NewRunner creates a runner over the given strategies.
func NewRunner(strategies []Strategy, dirs DirResolver, logger zerolog.Logger) *Runner {
	byName := make(map[StrategyName]Strategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	return &Runner{
		strategies: byName,
		dirs:       dirs,
		logger:     logger.With().Str("component", "download-runner").Logger(),
	}
}

// SetSurface sets the UI surface checked before any strategy runs.
func (r *Runner) SetSurface(s Surface) {
	r.surface = s
}

// SetMetrics sets the metrics sink for strategy attempts.
func (r *Runner) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Run executes task to a terminal outcome. It never fails; every error ends
// up in the returned outcome and in the terminal event sent through rep.
func (r *Runner) Run(task Task, st *State, rep *Reporter) Outcome {
	out := r.run(task, st, rep)
	out.Task = task
	out.FinishedAt = time.Now().UTC()

	rep.Finish(out.Status, out.Error)
	return out
}

func (r *Runner) run(task Task, st *State, rep *Reporter) Outcome {
	log := r.logger.With().Str("id", task.ID).Logger()
	rep.Start()

	if st.Cancelled() {
		return Outcome{Status: StatusCancelled}
	}

	dest, err := r.destination(task)
	if err != nil {
		log.Error().Err(err).Msg("Download precondition failed")
		return Outcome{Status: StatusError, Error: err.Error()}
	}

	var (
		lastErr  error
		lastName StrategyName
	)
	for _, name := range SelectStrategies(task.URL) {
		strategy, ok := r.strategies[name]
		if !ok {
			continue
		}
		if st.Cancelled() {
			log.Info().Msg("Download cancelled before next strategy")
			return Outcome{Status: StatusCancelled, Strategy: lastName, Path: dest}
		}

		log.Info().Str("strategy", name.DisplayName()).Str("path", dest).Msg("Trying download strategy")
		st.ResetRate()

		err := strategy.Execute(st.Context(), Job{
			ID:     task.ID,
			URL:    task.URL,
			Path:   dest,
			State:  st,
			Report: rep,
		})
		lastName = name

		switch {
		case err == nil:
			r.metrics.attempt(name, "success")
			ev := log.Info().Str("strategy", name.DisplayName())
			if fi, statErr := os.Stat(dest); statErr == nil {
				ev = ev.Str("size", humanize.Bytes(uint64(fi.Size())))
			}
			ev.Msg("Download completed")
			return Outcome{Status: StatusCompleted, Strategy: name, Path: dest}

		case IsCancelled(err) || st.Cancelled():
			r.metrics.attempt(name, "cancelled")
			log.Info().Str("strategy", name.DisplayName()).Msg("Download cancelled")
			return Outcome{Status: StatusCancelled, Strategy: name, Path: dest}

		case isPrecondition(err):
			r.metrics.attempt(name, "error")
			log.Error().Err(err).Str("strategy", name.DisplayName()).Msg("Download precondition failed")
			return Outcome{Status: StatusError, Error: err.Error(), Strategy: name, Path: dest}
		}

		r.metrics.attempt(name, "error")
		log.Warn().Err(err).Str("strategy", name.DisplayName()).Msg("Download strategy failed, trying next")
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrNoStrategies
	}
	log.Error().Err(lastErr).Msg("All download strategies failed")
	return Outcome{Status: StatusError, Error: lastErr.Error(), Strategy: lastName, Path: dest}
}

func (r *Runner) destination(task Task) (string, error) {
	if task.ProfileID == "" {
		return "", &PreconditionError{Err: ErrProfileMissing}
	}
	if r.surface != nil && !r.surface.Ready() {
		return "", &PreconditionError{Err: ErrSurfaceUnavailable}
	}
	if r.dirs == nil {
		return "", precondition("no downloads directory configured")
	}
	dir, err := r.dirs.DownloadsDir(task.ProfileID)
	if err != nil {
		return "", &PreconditionError{Err: err}
	}
	return DestinationPath(dir, task.Name, task.URL), nil
}

func isPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
