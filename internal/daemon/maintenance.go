package daemon

import (
	"context"
	"time"

	"github.com/quantcore/trademonitor/internal/store"
)

// FireLogRetentionJob implements scheduler.Job: it purges monitor_logs rows
// older than Retention on whatever cron schedule the caller registers it
// with. Kept separate from the dispatcher's own tasks since it runs on a
// calendar schedule (daily) rather than the fixed short intervals the
// spec's poller/ticker use.
type FireLogRetentionJob struct {
	store     *store.Store
	Retention time.Duration
}

// NewFireLogRetentionJob builds the retention job for d's store, purging
// fire-log rows older than retention each time it runs.
func (d *Daemon) NewFireLogRetentionJob(retention time.Duration) *FireLogRetentionJob {
	return &FireLogRetentionJob{store: d.store, Retention: retention}
}

// Name identifies the job for scheduler logging.
func (j *FireLogRetentionJob) Name() string { return "fire_log_retention" }

// Run purges fire-log rows older than j.Retention.
func (j *FireLogRetentionJob) Run() error {
	cutoff := time.Now().UTC().Add(-j.Retention)
	_, err := j.store.PurgeFireLogsBefore(context.Background(), cutoff)
	return err
}
