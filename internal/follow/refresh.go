package follow

import (
	"context"
	"time"

	"regwatch/internal/broker"
	"regwatch/internal/jobs"
	"regwatch/pkg/logx"
)

// RefreshOutdatedJob walks followed packages whose data has gone stale
// and refreshes each through the broker, which queues them FIFO behind
// any live search traffic.
//
// Per-package failures are logged and skipped, not returned: one broken
// package must not stop the sweep, and the job itself always continues.
type RefreshOutdatedJob struct {
	store     *Store
	broker    broker.Broker
	olderThan time.Duration
	log       logx.Logger
}

func NewRefreshOutdatedJob(store *Store, b broker.Broker, olderThan time.Duration, log logx.Logger) *RefreshOutdatedJob {
	return &RefreshOutdatedJob{store: store, broker: b, olderThan: olderThan, log: log}
}

func (j *RefreshOutdatedJob) Run(ctx context.Context) (jobs.Action, error) {
	outdated := j.store.Outdated(j.olderThan)
	if len(outdated) == 0 {
		j.log.Debug("refresh sweep: nothing outdated")
		return jobs.Continue, nil
	}
	j.log.Info("refresh sweep started", logx.Int("outdated", len(outdated)))

	for _, f := range outdated {
		if ctx.Err() != nil {
			return jobs.Continue, ctx.Err()
		}
		pkg, err := j.broker.Refresh(ctx, f.ID)
		if err != nil {
			j.log.Warn("refresh failed", logx.String("id", f.ID), logx.Err(err))
			continue
		}
		j.store.Update(pkg)
	}
	return jobs.Continue, nil
}
