package terminal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/conductor"
)

func TestToolExecutorRunCommandCapturesOutput(t *testing.T) {
	tools := &toolExecutor{shell: "/bin/sh"}
	obs, err := tools.Execute(context.Background(), "run_command", map[string]any{"command": "echo hi"})
	require.NoError(t, err)
	require.Contains(t, obs.Text, "hi")
	require.Contains(t, obs.Text, "exited 0")
}

func TestToolExecutorRunCommandCapturesNonZeroExit(t *testing.T) {
	tools := &toolExecutor{shell: "/bin/sh"}
	obs, err := tools.Execute(context.Background(), "run_command", map[string]any{"command": "exit 3"})
	require.NoError(t, err)
	require.Contains(t, obs.Text, "exited 3")
}

func TestToolExecutorRunCommandRejectsDisallowed(t *testing.T) {
	tools := &toolExecutor{shell: "/bin/sh", allowed: map[string]bool{"echo": true}}
	_, err := tools.Execute(context.Background(), "run_command", map[string]any{"command": "rm -rf /"})
	require.Error(t, err)
}

func TestToolExecutorRunCommandRequiresCommand(t *testing.T) {
	tools := &toolExecutor{shell: "/bin/sh"}
	_, err := tools.Execute(context.Background(), "run_command", map[string]any{})
	require.Error(t, err)
}

func TestSpawnFuncBuildsActor(t *testing.T) {
	spawn := SpawnFunc(Config{})
	h, err := spawn(context.Background(), "call-1", conductor.WorkerCall{
		RunID: "run-1", CallID: "call-1", Capability: "terminal", Objective: "run a command",
	})
	require.NoError(t, err)
	require.NotNil(t, h)
}
