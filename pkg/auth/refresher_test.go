package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saxotrader/pkg/token"
)

func TestRefresherRefreshesOnStart(t *testing.T) {
	clock := newFakeClock()
	srv := newTokenServer(t)
	store := &memStore{ts: &token.TokenSet{
		AccessToken:          "old",
		RefreshToken:         "r",
		AccessTokenExpiresAt: clock.Now().Unix() - 1,
	}}
	s := newTestSession(t, srv, store, clock)

	r := NewRefresher(s, time.Hour)
	require.True(t, r.Start(context.Background()))
	defer r.Stop()
	assert.False(t, r.Start(context.Background()), "second Start should be a no-op")

	require.Eventually(t, func() bool { return len(srv.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateAuthenticated }, 2*time.Second, 5*time.Millisecond)
}

func TestRefresherUsesIntervalAsHorizon(t *testing.T) {
	clock := newFakeClock()
	srv := newTokenServer(t)
	// Valid for ten minutes: not stale under the 60s skew, but stale before the next hourly tick.
	store := &memStore{ts: &token.TokenSet{
		AccessToken:          "old",
		RefreshToken:         "r",
		AccessTokenExpiresAt: clock.Now().Unix() + 600,
	}}
	s := newTestSession(t, srv, store, clock)

	r := NewRefresher(s, time.Hour)
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool { return len(srv.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRefresherStop(t *testing.T) {
	srv := newTokenServer(t)
	s := newTestSession(t, srv, &memStore{}, newFakeClock())

	r := NewRefresher(s, 0)
	assert.Equal(t, DefaultRefreshInterval, r.interval)

	r.Stop()
	r.Start(context.Background())
	assert.True(t, r.Running())
	r.Stop()
	assert.False(t, r.Running())
	r.Stop()
}
