// Package tasks registers the maintenance jobs run by the scheduler.
package tasks

import (
	"time"

	"github.com/streamvault/streamvault/internal/history"
	"github.com/streamvault/streamvault/internal/scheduler"
)

const HistoryCleanupTaskID = "history-cleanup"

// DefaultHistoryCleanupCron runs the cleanup at 3 AM daily.
const DefaultHistoryCleanupCron = "0 3 * * *"

// RegisterHistoryCleanupTask registers the download history retention job.
func RegisterHistoryCleanupTask(sched *scheduler.Scheduler, historyService *history.Service, cron string) error {
	if cron == "" {
		cron = DefaultHistoryCleanupCron
	}
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          HistoryCleanupTaskID,
		Name:        "History Cleanup",
		Description: "Deletes download history older than the retention period",
		Cron:        cron,
		Timeout:     time.Minute,
		RunOnStart:  true,
		Func:        historyService.CleanupOldEntries,
	})
}
