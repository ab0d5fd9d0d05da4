package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultReapSchedule runs the reaper once an hour
const DefaultReapSchedule = "@every 1h"

// Reaper periodically deletes durable refresh sessions that expired
type Reaper struct {
	store   *Store
	logger  *observability.Logger
	cron    *cron.Cron
	timeout time.Duration
}

// NewReaper schedules the reaper. An empty schedule uses DefaultReapSchedule.
func NewReaper(store *Store, schedule string, logger *observability.Logger) (*Reaper, error) {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}

	r := &Reaper{
		store:   store,
		logger:  logger.WithField("component", "session_reaper"),
		cron:    cron.New(),
		timeout: time.Minute,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background
func (r *Reaper) Start() {
	r.cron.Start()
	r.logger.Info("Session reaper started")
}

// Stop stops scheduling and waits for a running pass to finish
func (r *Reaper) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce deletes every session that has expired by now
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	return r.store.DeleteExpired(ctx, r.store.now())
}

func (r *Reaper) run() {
	defer observability.RecoverPanic(r.logger, "session reaper")

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to reap expired refresh sessions")
		return
	}
	if n > 0 {
		r.logger.WithField("deleted", n).Info("Reaped expired refresh sessions")
	}
}
