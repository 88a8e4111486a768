package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/actor"
)

type noopHandler struct{ started chan struct{} }

func (h *noopHandler) PreStart(context.Context) error {
	if h.started != nil {
		close(h.started)
	}
	return nil
}
func (*noopHandler) Handle(context.Context, any) error { return nil }
func (*noopHandler) HandleSupervision(context.Context, actor.SupervisionEvent) error {
	return nil
}

func spawnCounting(calls *int) SpawnFunc {
	return func(context.Context, string, any) (actor.Handler, error) {
		*calls++
		return &noopHandler{}, nil
	}
}

func TestGetOrCreateSpawnsOnMiss(t *testing.T) {
	reg := actor.NewRegistry()
	var calls int
	sup := New("researcher", reg, spawnCounting(&calls))
	_, err := sup.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	defer sup.self.Stop()

	ref, err := sup.GetOrCreate(context.Background(), "run-1", nil)
	require.NoError(t, err)
	require.Equal(t, "researcher:run-1", ref.Ident().String())
	require.Equal(t, 1, calls)
}

func TestGetOrCreateReturnsCachedChild(t *testing.T) {
	reg := actor.NewRegistry()
	var calls int
	sup := New("researcher", reg, spawnCounting(&calls))
	_, err := sup.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	defer sup.self.Stop()

	first, err := sup.GetOrCreate(context.Background(), "run-1", nil)
	require.NoError(t, err)
	second, err := sup.GetOrCreate(context.Background(), "run-1", nil)
	require.NoError(t, err)
	require.Equal(t, first.Ident(), second.Ident())
	require.Equal(t, 1, calls)
}

func TestGetOrCreateAdoptsFromRegistry(t *testing.T) {
	reg := actor.NewRegistry()
	canonical := actor.Ident{Kind: "researcher", ID: "adopted"}
	existing, err := actor.Spawn(context.Background(), canonical, &noopHandler{}, actor.SpawnOptions{})
	require.NoError(t, err)
	require.NoError(t, reg.Register(existing))

	var calls int
	sup := New("researcher", reg, spawnCounting(&calls))
	_, err = sup.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	defer sup.self.Stop()

	ref, err := sup.GetOrCreate(context.Background(), "adopted", nil)
	require.NoError(t, err)
	require.Equal(t, existing.Ident(), ref.Ident())
	require.Equal(t, 0, calls, "adopted actor must not be spawned again")
}

func TestFailedChildRespawnsOnNextGetOrCreate(t *testing.T) {
	reg := actor.NewRegistry()
	var calls int
	sup := New("terminal", reg, spawnCounting(&calls))
	_, err := sup.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	defer sup.self.Stop()

	first, err := sup.GetOrCreate(context.Background(), "run-9", nil)
	require.NoError(t, err)
	first.Stop()
	require.Eventually(t, first.IsStopped, time.Second, time.Millisecond)

	// HandleSupervision must run (removing the stale entry) before the next
	// GetOrCreate observes a clean map.
	require.Eventually(t, func() bool {
		ids, err := sup.IDs(context.Background())
		return err == nil && len(ids) == 0
	}, time.Second, time.Millisecond)

	second, err := sup.GetOrCreate(context.Background(), "run-9", nil)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, 2, calls)
}

func TestGetReturnsFalseWithoutCreating(t *testing.T) {
	reg := actor.NewRegistry()
	var calls int
	sup := New("writer", reg, spawnCounting(&calls))
	_, err := sup.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	defer sup.self.Stop()

	_, ok, err := sup.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, calls)
}

func TestSpawnErrorPropagates(t *testing.T) {
	reg := actor.NewRegistry()
	boom := errors.New("boom")
	sup := New("terminal", reg, func(context.Context, string, any) (actor.Handler, error) {
		return nil, boom
	})
	_, err := sup.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	defer sup.self.Stop()

	_, err = sup.GetOrCreate(context.Background(), "run-x", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}
