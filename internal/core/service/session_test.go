package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(gw *fakeGateway, ttl time.Duration) *Sessions {
	return NewSessions(gw, newFakeSnapshots(), newFakeAttempts(), &fakePublisher{}, SessionConfig{IdleTTL: ttl}, quietLogger())
}

func TestSessions_GetReusesSession(t *testing.T) {
	s := newTestSessions(newFakeGateway(), time.Minute)

	a := s.Get("s1")
	b := s.Get("s1")
	c := s.Get("s2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Same(t, a.Ledger, a.Cart.Ledger())
	assert.Same(t, a.Catalog, a.Cart.Catalog())
	assert.Equal(t, 2, s.Len())
}

func TestSessions_EvictIdleReleases(t *testing.T) {
	gw := newFakeGateway(product("A", "Taza", "mugs", 5000, 5))
	s := newTestSessions(gw, time.Minute)

	now := time.Now()
	s.now = func() time.Time { return now }

	idle := s.Get("idle")
	require.NoError(t, idle.Catalog.Refresh(context.Background()))
	_, err := idle.Cart.Reserve(context.Background(), "A", 2)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	s.Get("active")

	now = now.Add(20 * time.Second)
	evicted := s.EvictIdle(context.Background())

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.Len())
	assert.Zero(t, gw.heldUnits("A"))
	assert.Zero(t, idle.Ledger.Total())
}

func TestSessions_RunStopsOnCancel(t *testing.T) {
	s := newTestSessions(newFakeGateway(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSessions_DefaultPolicy(t *testing.T) {
	s := newTestSessions(newFakeGateway(), 0)

	assert.Equal(t, ReleaseOnFailure, s.cfg.FailurePolicy)
	s.Run(context.Background())
}

func TestSessions_ForTokenFindsOpeningSession(t *testing.T) {
	s := newTestSessions(newFakeGateway(), time.Minute)

	payer := s.Get("payer")
	s.BindToken("tok-1", "payer")

	assert.Same(t, payer, s.ForToken("tok-1", "cookieless"))
	assert.NotSame(t, payer, s.ForToken("tok-unknown", "cookieless"))
	assert.Same(t, payer, s.ForToken("", "payer"))
}

func TestSessions_EvictionDropsTokens(t *testing.T) {
	s := newTestSessions(newFakeGateway(), time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Get("payer")
	s.BindToken("tok-1", "payer")

	now = now.Add(2 * time.Minute)
	require.Equal(t, 1, s.EvictIdle(context.Background()))
	assert.Empty(t, s.tokens)
}

func TestSessions_ForTokenWithoutIdentity(t *testing.T) {
	s := newTestSessions(newFakeGateway(), time.Minute)

	assert.Nil(t, s.ForToken("tok-unknown", ""))
	assert.Zero(t, s.Len())
}
