package history

import "time"

// Status is the terminal status of a recorded download.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Entry represents a history entry.
type Entry struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"taskId"`
	Name       string    `json:"name,omitempty"`
	URL        string    `json:"url"`
	ProfileID  string    `json:"profileId,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Path       string    `json:"path,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// CreateInput contains fields for creating a history entry.
type CreateInput struct {
	TaskID     string
	Name       string
	URL        string
	ProfileID  string
	Status     Status
	Error      string
	Strategy   string
	Path       string
	FinishedAt time.Time
}

// ListOptions contains options for listing history.
type ListOptions struct {
	Status    string
	ProfileID string
	Limit     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (o ListOptions) limit() int {
	switch {
	case o.Limit < 1:
		return defaultListLimit
	case o.Limit > maxListLimit:
		return maxListLimit
	default:
		return o.Limit
	}
}

// ListResponse contains history results, newest first.
type ListResponse struct {
	Items      []*Entry `json:"items"`
	Limit      int      `json:"limit"`
	TotalCount int64    `json:"totalCount"`
}
