package scheduler

import "time"

// OrderStatus describes one order for the status surface.
type OrderStatus struct {
	Name         string     `json:"name"`
	Cron         string     `json:"cron"`
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
	Due          bool       `json:"due"`
	LastFired    *time.Time `json:"last_fired,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Fires        int        `json:"fires"`
	Invalid      string     `json:"invalid,omitempty"`
}

// Status is a read-only snapshot of the scheduler.
type Status struct {
	Running      bool          `json:"scheduler_running"`
	NextFireTime *time.Time    `json:"next_fire_time,omitempty"`
	Orders       []OrderStatus `json:"orders"`
}

// NextFireTime returns the earliest known fire time across all orders.
func (s *Scheduler) NextFireTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, e := range s.entries {
		if e.next.IsZero() {
			continue
		}
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}
	return earliest, !earliest.IsZero()
}

// Orders returns per-order status in configuration order.
func (s *Scheduler) Orders() []OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]OrderStatus, 0, len(s.entries))
	for _, e := range s.entries {
		st := OrderStatus{
			Name:         e.order.Name,
			Cron:         e.order.Cron,
			NextFireTime: timePtr(e.next),
			Due:          e.due,
			LastFired:    timePtr(e.lastFired),
			LastError:    e.lastError,
			Fires:        e.fires,
			Invalid:      e.invalid,
		}
		out = append(out, st)
	}
	return out
}

// Status returns a snapshot for the control surface.
func (s *Scheduler) Status() Status {
	st := Status{
		Running: s.Running(),
		Orders:  s.Orders(),
	}
	if next, ok := s.NextFireTime(); ok {
		st.NextFireTime = &next
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
