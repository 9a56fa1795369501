package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/gateway"
	"saxotrader/pkg/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGate struct{ ok atomic.Bool }

func (g *fakeGate) Authenticated() bool { return g.ok.Load() }

func openGate() *fakeGate {
	g := &fakeGate{}
	g.ok.Store(true)
	return g
}

type fakeSubmitter struct {
	mu       sync.Mutex
	names    []string
	fail     map[string]error
	onSubmit func()
}

func (f *fakeSubmitter) PlaceOrder(_ context.Context, payload map[string]any) (*gateway.PlacedOrder, error) {
	name, _ := payload["ref"].(string)
	if f.onSubmit != nil {
		f.onSubmit()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return &gateway.PlacedOrder{OrderID: "id-" + name}, nil
}

func (f *fakeSubmitter) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func order(name, cron string) Order {
	return Order{Name: name, Cron: cron, Payload: map[string]any{"ref": name}}
}

func newTestScheduler(t *testing.T, orders []Order, gate Gate, sub Submitter, clock *fakeClock, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithNowFunc(clock.Now), WithLogger(quietLogger())}, opts...)
	s, err := New(orders, gate, sub, opts...)
	require.NoError(t, err)
	return s
}

func TestEveryMinuteNextFireAfterFiring(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	s := newTestScheduler(t, []Order{order("dca", "* * * * *")}, openGate(), sub, clock)
	ctx := context.Background()

	sleep := s.Tick(ctx)
	assert.Empty(t, sub.submitted())
	assert.Equal(t, time.Minute, sleep)

	next, ok := s.NextFireTime()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Minute), next)

	clock.Advance(time.Minute)
	s.Tick(ctx)
	require.Equal(t, []string{"dca"}, sub.submitted())

	st := s.Orders()[0]
	require.NotNil(t, st.LastFired)
	require.NotNil(t, st.NextFireTime)
	assert.True(t, st.NextFireTime.After(*st.LastFired))
	assert.Equal(t, time.Minute, st.NextFireTime.Sub(*st.LastFired))
	assert.False(t, st.Due)
	assert.Equal(t, 1, st.Fires)

	// Same instant again: nothing left to fire.
	s.Tick(ctx)
	assert.Len(t, sub.submitted(), 1)
}

func TestSlowSubmissionAdvancesPastNow(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{onSubmit: func() { clock.Advance(90 * time.Second) }}
	s := newTestScheduler(t, []Order{order("slow", "* * * * *")}, openGate(), sub, clock)
	ctx := context.Background()

	s.Tick(ctx)
	clock.Advance(time.Minute)
	s.Tick(ctx)

	st := s.Orders()[0]
	require.NotNil(t, st.NextFireTime)
	assert.True(t, st.NextFireTime.After(clock.Now()), "next fire time %v must be after now %v", st.NextFireTime, clock.Now())

	s.Tick(ctx)
	assert.Len(t, sub.submitted(), 1)
}

func TestDueOrdersFireInConfigOrderAndFailuresAreIsolated(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{fail: map[string]error{"second": errors.New("rejected")}}
	orders := []Order{
		order("third", "* * * * *"),
		order("second", "* * * * *"),
		order("first", "* * * * *"),
	}
	s := newTestScheduler(t, orders, openGate(), sub, clock)
	ctx := context.Background()

	s.Tick(ctx)
	clock.Advance(time.Minute)
	s.Tick(ctx)

	assert.Equal(t, []string{"third", "second", "first"}, sub.submitted())

	statuses := s.Orders()
	require.Len(t, statuses, 3)
	assert.Empty(t, statuses[0].LastError)
	assert.Equal(t, "rejected", statuses[1].LastError)
	assert.Empty(t, statuses[2].LastError)
	for _, st := range statuses {
		assert.Equal(t, 1, st.Fires, st.Name)
		assert.False(t, st.Due, st.Name)
	}
}

func TestUnauthenticatedHoldsDueOrders(t *testing.T) {
	clock := newFakeClock()
	gate := &fakeGate{}
	sub := &fakeSubmitter{}
	s := newTestScheduler(t, []Order{order("held", "* * * * *")}, gate, sub, clock, WithPollCeiling(30*time.Second))
	ctx := context.Background()

	s.Tick(ctx)
	clock.Advance(time.Minute)
	sleep := s.Tick(ctx)

	assert.Empty(t, sub.submitted())
	assert.True(t, s.Orders()[0].Due)
	assert.Equal(t, 30*time.Second, sleep)

	// Still held well past the misfire grace: a due order is never dropped.
	clock.Advance(10 * time.Minute)
	s.Tick(ctx)
	assert.Empty(t, sub.submitted())
	assert.True(t, s.Orders()[0].Due)

	gate.ok.Store(true)
	s.Tick(ctx)
	assert.Equal(t, []string{"held"}, sub.submitted())
	assert.False(t, s.Orders()[0].Due)
	assert.True(t, s.Orders()[0].NextFireTime.After(clock.Now()))
}

func TestExpiredSessionHoldsDueOrders(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	store := token.NewStorage(filepath.Join(t.TempDir(), "tokens.json"), token.WithLogger(quietLogger()))
	require.NoError(t, store.Save(ctx, &token.TokenSet{
		AccessToken:          "a",
		AccessTokenExpiresAt: clock.Now().Add(90 * time.Second).Unix(),
	}))
	session, err := auth.NewSession(ctx, auth.Config{
		ClientID:      "client",
		RedirectURI:   "http://127.0.0.1:8085/callback",
		AuthEndpoint:  "https://auth.invalid/authorize",
		TokenEndpoint: "https://auth.invalid/token",
	}, store, auth.WithNowFunc(clock.Now), auth.WithLogger(quietLogger()))
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	s := newTestScheduler(t, []Order{order("dca", "* * * * *")}, session, sub, clock)

	s.Tick(ctx)
	clock.Advance(time.Minute)
	s.Tick(ctx)
	require.Equal(t, []string{"dca"}, sub.submitted())

	// The access token has expired and there is no refresh token.
	clock.Advance(time.Minute)
	s.Tick(ctx)
	assert.Len(t, sub.submitted(), 1)
	assert.True(t, s.Orders()[0].Due)
	assert.Equal(t, auth.StateNotAuthenticated, session.State())
	assert.Nil(t, store.Load(ctx))
}

func TestMissedWindowIsRescheduled(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	s := newTestScheduler(t, []Order{order("daily", "0 * * * *")}, openGate(), sub, clock, WithMisfireGrace(5*time.Minute))
	ctx := context.Background()

	s.Tick(ctx)
	next, _ := s.NextFireTime()
	assert.Equal(t, time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC), next)

	// The loop did not run for the slot and is now far past it.
	clock.Advance(70 * time.Minute)
	s.Tick(ctx)

	assert.Empty(t, sub.submitted())
	next, _ = s.NextFireTime()
	assert.Equal(t, time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC), next)
}

func TestLateWithinGraceStillFires(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	s := newTestScheduler(t, []Order{order("late", "* * * * *")}, openGate(), sub, clock, WithMisfireGrace(5*time.Minute))
	ctx := context.Background()

	s.Tick(ctx)
	clock.Advance(3 * time.Minute)
	s.Tick(ctx)

	assert.Equal(t, []string{"late"}, sub.submitted())
}

func TestSleepDuration(t *testing.T) {
	tests := []struct {
		name   string
		orders []Order
		want   time.Duration
	}{
		{"no orders", nil, -1},
		{"only invalid", []Order{order("bad", "not a cron")}, -1},
		{"far away is capped", []Order{order("daily", "0 9 * * *")}, 60 * time.Second},
		{"earliest wins", []Order{order("daily", "0 9 * * *"), order("half", "@every 30s")}, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			s := newTestScheduler(t, tt.orders, openGate(), &fakeSubmitter{}, clock)
			if got := s.Tick(context.Background()); got != tt.want {
				t.Errorf("Tick() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvalidCronIsReported(t *testing.T) {
	s := newTestScheduler(t, []Order{order("bad", "61 * * * *"), order("ok", "* * * * *")}, openGate(), &fakeSubmitter{}, newFakeClock())
	s.Tick(context.Background())

	statuses := s.Orders()
	assert.NotEmpty(t, statuses[0].Invalid)
	assert.Nil(t, statuses[0].NextFireTime)
	assert.Empty(t, statuses[1].Invalid)
	assert.NotNil(t, statuses[1].NextFireTime)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		orders []Order
		gate   Gate
		sub    Submitter
	}{
		{"duplicate names", []Order{order("a", "* * * * *"), order("a", "@daily")}, openGate(), &fakeSubmitter{}},
		{"empty name", []Order{order("", "* * * * *")}, openGate(), &fakeSubmitter{}},
		{"nil gate", nil, nil, &fakeSubmitter{}},
		{"nil submitter", nil, openGate(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.orders, tt.gate, tt.sub); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestPayloadIsNotShared(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{onSubmit: nil}
	o := order("p", "* * * * *")
	mutating := &mutatingSubmitter{inner: sub}
	s := newTestScheduler(t, []Order{o}, openGate(), mutating, clock)

	s.Tick(context.Background())
	clock.Advance(time.Minute)
	s.Tick(context.Background())

	assert.Equal(t, map[string]any{"ref": "p"}, o.Payload)
}

type mutatingSubmitter struct{ inner *fakeSubmitter }

func (m *mutatingSubmitter) PlaceOrder(ctx context.Context, payload map[string]any) (*gateway.PlacedOrder, error) {
	placed, err := m.inner.PlaceOrder(ctx, payload)
	payload["mutated"] = true
	return placed, err
}

func TestLoopFiresAfterWake(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	s := newTestScheduler(t, []Order{order("loop", "* * * * *")}, openGate(), sub, clock)

	require.True(t, s.Start(context.Background()))
	defer s.Stop()
	assert.False(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	require.Eventually(t, func() bool {
		_, ok := s.NextFireTime()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)
	s.Wake()

	require.Eventually(t, func() bool { return len(sub.submitted()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestScheduler(t, nil, openGate(), &fakeSubmitter{}, newFakeClock())
	s.Stop()
	s.Start(context.Background())
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())

	s.Wake()
	s.Wake()
}

func TestStatusJSON(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(t, []Order{order("dca", "* * * * *")}, openGate(), &fakeSubmitter{}, clock)
	s.Tick(context.Background())

	data, err := json.Marshal(s.Status())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["scheduler_running"])
	assert.Equal(t, "2025-01-06T10:01:00Z", decoded["next_fire_time"])
	orders, ok := decoded["orders"].([]any)
	require.True(t, ok)
	require.Len(t, orders, 1)
	assert.Equal(t, "dca", orders[0].(map[string]any)["name"])
}
