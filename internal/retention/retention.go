// Package retention runs a scheduled bulk-delete job against the Reading
// Store, keyed off retention.days (an append-only store with no
// retention policy grows without bound). Grounded on the teacher's
// robfig/cron Scheduler (internal/engine/scheduler.go), generalised from
// flow execution to a single fixed job.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Store is the subset of internal/reading.Store the job needs.
type Store interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job runs Store.DeleteOlderThan(now - RetentionDays) on a daily cron
// schedule.
type Job struct {
	cron    *cron.Cron
	store   Store
	days    int
	log     *zap.Logger
	entryID cron.EntryID
}

// New builds a Job; it does not start running until Start is called.
// schedule is a standard 5-field cron expression (e.g. "0 3 * * *" for
// 3am daily); days is how many days of history to keep.
func New(schedule string, days int, store Store, log *zap.Logger) (*Job, error) {
	j := &Job{cron: cron.New(), store: store, days: days, log: log}

	id, err := j.cron.AddFunc(schedule, j.runOnce)
	if err != nil {
		return nil, fmt.Errorf("retention: add cron schedule %q: %w", schedule, err)
	}
	j.entryID = id
	return j, nil
}

func (j *Job) runOnce() {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.days)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.log.Error("retention: delete older than cutoff failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return
	}
	j.log.Info("retention: pruned old readings", zap.Int64("rows_deleted", n), zap.Time("cutoff", cutoff))
}

// Start begins the cron scheduler.
func (j *Job) Start() { j.cron.Start() }

// Stop stops the cron scheduler and waits for any in-flight run to
// finish.
func (j *Job) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// RunNow triggers an out-of-schedule run. No API route calls it; the
// tests use it to run the job without waiting for the cron schedule.
func (j *Job) RunNow() { j.runOnce() }
