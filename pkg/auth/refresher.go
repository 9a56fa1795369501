package auth

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"saxotrader/pkg/task"
)

// DefaultRefreshInterval is how often the background refresher wakes.
const DefaultRefreshInterval = 5 * time.Minute

// Refresher keeps the session's access token fresh in the background.
// Each tick refreshes if the token would go stale before the next tick.
type Refresher struct {
	session  *Session
	interval time.Duration
	logger   log.FieldLogger
	task     *task.Task
}

// NewRefresher creates a stopped refresher. A non-positive interval uses DefaultRefreshInterval.
func NewRefresher(s *Session, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	r := &Refresher{
		session:  s,
		interval: interval,
		logger:   s.logger.WithField("component", "refresher"),
	}
	r.task = task.New("token-refresh", task.Every(interval, r.tick), s.logger)
	return r
}

// Start launches the loop. It reports false if it was already running.
func (r *Refresher) Start(ctx context.Context) bool {
	return r.task.Start(ctx)
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (r *Refresher) Stop() {
	r.task.Stop()
}

// Running reports whether the loop is alive.
func (r *Refresher) Running() bool {
	return r.task.Running()
}

func (r *Refresher) tick(ctx context.Context) {
	err := r.session.EnsureFreshFor(ctx, r.interval)
	switch {
	case err == nil:
	case errors.Is(err, ErrAuthRequired):
		r.logger.Debug("no session to refresh, waiting for authorization")
	case errors.Is(err, context.Canceled):
	default:
		r.logger.WithError(err).Warn("scheduled refresh failed")
	}
}
