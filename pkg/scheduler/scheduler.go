// Package scheduler fires configured orders on cron schedules once the
// session is authenticated.
package scheduler

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"saxotrader/pkg/gateway"
	"saxotrader/pkg/metrics"
	"saxotrader/pkg/task"
)

const (
	DefaultPollCeiling  = 60 * time.Second
	DefaultMisfireGrace = 5 * time.Minute
)

// Order is one recurring order definition.
type Order struct {
	Name    string
	Cron    string
	Payload map[string]any
}

// Gate reports whether orders may be fired.
type Gate interface {
	Authenticated() bool
}

// Submitter places an order payload with the broker.
type Submitter interface {
	PlaceOrder(ctx context.Context, payload map[string]any) (*gateway.PlacedOrder, error)
}

type entry struct {
	order    Order
	schedule cron.Schedule
	invalid  string

	next      time.Time
	due       bool
	lastFired time.Time
	lastError string
	fires     int
}

// Scheduler evaluates every order once per wake and fires due ones in
// configuration order.
type Scheduler struct {
	gate         Gate
	submitter    Submitter
	now          func() time.Time
	logger       log.FieldLogger
	pollCeiling  time.Duration
	misfireGrace time.Duration

	tickMu  sync.Mutex
	mu      sync.Mutex
	entries []*entry

	wake chan struct{}
	task *task.Task
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNowFunc overrides the clock (testing).
func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollCeiling bounds how long the loop sleeps between evaluations.
func WithPollCeiling(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollCeiling = d
		}
	}
}

// WithMisfireGrace sets how late an unobserved slot may still fire.
func WithMisfireGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.misfireGrace = d
		}
	}
}

// New builds a scheduler for orders, kept in the given order. Names must be
// unique. An order whose cron expression does not parse is kept but never fires.
func New(orders []Order, gate Gate, submitter Submitter, opts ...Option) (*Scheduler, error) {
	if gate == nil || submitter == nil {
		return nil, fmt.Errorf("scheduler needs a gate and a submitter")
	}

	s := &Scheduler{
		gate:         gate,
		submitter:    submitter,
		now:          time.Now,
		logger:       log.StandardLogger(),
		pollCeiling:  DefaultPollCeiling,
		misfireGrace: DefaultMisfireGrace,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		if o.Name == "" {
			return nil, fmt.Errorf("order without a name")
		}
		if seen[o.Name] {
			return nil, fmt.Errorf("duplicate order name %q", o.Name)
		}
		seen[o.Name] = true

		e := &entry{order: o}
		sched, err := cron.ParseStandard(o.Cron)
		if err != nil {
			e.invalid = err.Error()
			s.logger.WithError(err).WithFields(log.Fields{"order": o.Name, "cron": o.Cron}).
				Error("invalid cron expression, order will not fire")
		} else {
			e.schedule = sched
		}
		s.entries = append(s.entries, e)
	}

	s.task = task.New("order-scheduler", s.loop, s.logger)
	return s, nil
}

// Start launches the scheduler loop. It reports false if it was already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	return s.task.Start(ctx)
}

// Stop halts the loop and waits for an in-progress cycle to finish.
func (s *Scheduler) Stop() {
	s.task.Stop()
}

// Running reports whether the loop is alive.
func (s *Scheduler) Running() bool {
	return s.task.Running()
}

// Wake makes a sleeping loop evaluate immediately.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		d := s.Tick(ctx)
		if !s.sleep(ctx, d) {
			return
		}
	}
}

// sleep waits for d, a Wake, or cancellation. A negative d waits without a timer.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	var timeout <-chan time.Time
	if d >= 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
		return true
	case <-timeout:
		return true
	}
}

// Tick runs one evaluation cycle and returns how long to sleep before the
// next one; negative means no order can ever fire.
func (s *Scheduler) Tick(ctx context.Context) time.Duration {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		s.advanceLocked(e, now)
		if e.due {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	if len(due) > 0 {
		if !s.gate.Authenticated() {
			for _, e := range due {
				metrics.RecordOrderSkipped("unauthenticated")
				s.logger.WithField("order", e.order.Name).Warn("order due but session is not authenticated, holding")
			}
		} else {
			for _, e := range due {
				if ctx.Err() != nil {
					break
				}
				s.fire(ctx, e)
			}
		}
	}

	return s.sleepDuration()
}

// advanceLocked brings e.next up to date relative to now and latches e.due.
func (s *Scheduler) advanceLocked(e *entry, now time.Time) {
	if e.schedule == nil || e.due {
		return
	}

	if e.next.IsZero() {
		e.next = e.schedule.Next(now)
		if e.next.IsZero() {
			return
		}
		s.logger.WithFields(log.Fields{"order": e.order.Name, "next_fire_time": e.next.Format(time.RFC3339)}).
			Info("order scheduled")
	}

	if late := now.Sub(e.next); late > s.misfireGrace {
		missed := e.next
		e.next = e.schedule.Next(now)
		metrics.RecordOrderSkipped("missed")
		s.logger.WithFields(log.Fields{
			"order":          e.order.Name,
			"missed":         missed.Format(time.RFC3339),
			"late":           late.Round(time.Second).String(),
			"next_fire_time": e.next.Format(time.RFC3339),
		}).Warn("missed order window, rescheduling")
		return
	}

	if !e.next.After(now) {
		e.due = true
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	s.mu.Lock()
	payload := maps.Clone(e.order.Payload)
	name := e.order.Name
	slot := e.next
	s.mu.Unlock()

	firedAt := s.now()
	logger := s.logger.WithFields(log.Fields{"order": name, "slot": slot.Format(time.RFC3339)})
	logger.Info("firing order")

	placed, err := s.submitter.PlaceOrder(ctx, payload)
	metrics.RecordOrderFired(name, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.due = false
	e.lastFired = firedAt
	e.fires++
	e.next = s.nextAfter(e.schedule, firedAt, s.now())

	if err != nil {
		e.lastError = err.Error()
		logger.WithError(err).Error("order submission failed")
		return
	}
	e.lastError = ""
	var orderID string
	if placed != nil {
		orderID = placed.OrderID
	}
	logger.WithFields(log.Fields{
		"order_id":       orderID,
		"next_fire_time": e.next.Format(time.RFC3339),
	}).Info("order submitted")
}

// nextAfter returns the first slot after base that is also after now.
func (s *Scheduler) nextAfter(sched cron.Schedule, base, now time.Time) time.Time {
	next := sched.Next(base)
	for !next.IsZero() && !next.After(now) {
		next = sched.Next(next)
	}
	return next
}

func (s *Scheduler) sleepDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var earliest time.Time
	for _, e := range s.entries {
		if e.due {
			// Held back: re-check at the ceiling or on Wake.
			return s.pollCeiling
		}
		if e.next.IsZero() {
			continue
		}
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}

	if earliest.IsZero() {
		return -1
	}
	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	if d > s.pollCeiling {
		d = s.pollCeiling
	}
	return d
}
