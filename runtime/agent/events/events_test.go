package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

func TestWakePolicyForKnownTypes(t *testing.T) {
	require.Equal(t, eventstore.Wake, WakePolicyFor(ConductorTaskStarted))
	require.Equal(t, eventstore.DisplayOnly, WakePolicyFor(ConductorTaskProgress))
	require.Equal(t, eventstore.Wake, WakePolicyFor(ConductorTaskCompleted))
	require.Equal(t, eventstore.Wake, WakePolicyFor(ConductorTaskFailed))
	require.Equal(t, eventstore.DisplayOnly, WakePolicyFor(ConductorWorkerCall))
	require.Equal(t, eventstore.Wake, WakePolicyFor(ConductorWorkerResult))
	require.Equal(t, eventstore.Wake, WakePolicyFor(WorkerTaskCompleted))
	require.Equal(t, eventstore.Wake, WakePolicyFor(WorkerTaskFailed))
	require.Equal(t, eventstore.DisplayOnly, WakePolicyFor(WorkerTaskProgress))
	require.Equal(t, eventstore.DisplayOnly, WakePolicyFor(DocumentUpdate))
	require.Equal(t, eventstore.Wake, WakePolicyFor(ChatUserMsg))
	require.Equal(t, eventstore.DisplayOnly, WakePolicyFor(UserThemePreference))
}

func TestWakePolicyForUnknownTypeDefaultsDisplayOnly(t *testing.T) {
	require.Equal(t, eventstore.DisplayOnly, WakePolicyFor(Type("some.future.event")))
	require.False(t, IsWake(Type("some.future.event")))
}

func TestIsWake(t *testing.T) {
	require.True(t, IsWake(ConductorTaskStarted))
	require.False(t, IsWake(ConductorTaskProgress))
}
