package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/repository"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store      *repository.MemoryStore
	clock      *fakeClock
	allocator  *Allocator
	reconciler *Reconciler
	marks      *MarkManager
	sink       *memorySink
}

type memorySink struct {
	writes [][]byte
}

func (s *memorySink) Write(_ context.Context, data []byte) (string, error) {
	s.writes = append(s.writes, data)
	return "memory://marked_phones.txt", nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	sink := &memorySink{}
	return &fixture{
		store:      store,
		clock:      clock,
		allocator:  NewAllocator(store, DefaultLimits, logger).WithClock(clock.Now),
		reconciler: NewReconciler(store, logger).WithClock(clock.Now),
		marks:      NewMarkManager(store, sink, time.UTC, logger).WithClock(clock.Now),
		sink:       sink,
	}
}

func (f *fixture) whitelist(t *testing.T, ids ...string) {
	t.Helper()
	require.NoError(t, f.store.ReplaceWhitelist(context.Background(), ids))
}

func (f *fixture) pool(t *testing.T, batches ...[]string) {
	t.Helper()
	require.NoError(t, f.store.ReplaceBatches(context.Background(), batches))
}

func requireDenial(t *testing.T, err error, reason Reason) *DenialError {
	t.Helper()
	d, ok := AsDenial(err)
	require.True(t, ok, "expected denial %s, got %v", reason, err)
	require.Equal(t, reason, d.Reason)
	return d
}
