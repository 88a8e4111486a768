package capability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/policy"
	"github.com/sandboxrun/core/runtime/agent/supervisor"
)

func spawnCapabilitySupervisor(t *testing.T, kind actor.Kind, spawnFunc supervisor.SpawnFunc) *supervisor.Supervisor {
	t.Helper()
	reg := actor.NewRegistry()
	sup := supervisor.New(kind, reg, spawnFunc)
	_, err := sup.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	return sup
}

func TestDispatcherExecuteRoutesByCapability(t *testing.T) {
	spawnFunc := func(_ context.Context, id string, args any) (actor.Handler, error) {
		call := args.(conductor.WorkerCall)
		loop := &Loop{
			Capability: "researcher",
			Policy:     &stubPolicy{summary: "researched: " + call.Objective},
			Tools:      &stubTools{},
		}
		return NewActor(loop, Input{Objective: call.Objective}), nil
	}
	sup := spawnCapabilitySupervisor(t, "researcher", spawnFunc)
	d := NewDispatcher(map[string]*supervisor.Supervisor{"researcher": sup}, time.Second)

	out, err := d.Execute(context.Background(), conductor.WorkerCall{
		RunID: "run-1", CallID: "call-1", Capability: "researcher", Objective: "find x",
	})
	require.NoError(t, err)
	require.Equal(t, conductor.WorkerOutcomeSuccess, out.Kind)
	require.Equal(t, "researched: find x", out.Summary)
}

func TestDispatcherExecuteUnknownCapability(t *testing.T) {
	d := NewDispatcher(map[string]*supervisor.Supervisor{}, time.Second)
	_, err := d.Execute(context.Background(), conductor.WorkerCall{Capability: "unknown"})
	require.Error(t, err)
}

func TestDispatcherExecutePropagatesBlocked(t *testing.T) {
	spawnFunc := func(_ context.Context, id string, args any) (actor.Handler, error) {
		loop := &Loop{
			Capability: "terminal",
			Policy: &stubPolicy{plans: []policy.StepPlan{
				{Done: false, Tool: "give_up"},
			}},
			Tools: &stubTools{errs: map[string]error{"give_up": NewBlocked("not allowed")}},
		}
		return NewActor(loop, Input{Objective: "rm -rf /"}), nil
	}
	sup := spawnCapabilitySupervisor(t, "terminal", spawnFunc)
	d := NewDispatcher(map[string]*supervisor.Supervisor{"terminal": sup}, time.Second)

	out, err := d.Execute(context.Background(), conductor.WorkerCall{Capability: "terminal", CallID: "call-2"})
	require.NoError(t, err)
	require.Equal(t, conductor.WorkerOutcomeBlocked, out.Kind)
	require.Equal(t, "not allowed", out.Reason)
}
