// Package terminal implements the "terminal" capability: a worker that
// executes shell commands and observes their output. It is grounded on the
// original TerminalActor's role (spawn a shell, run a command, stream
// output) with the PTY session model collapsed to one bounded
// run-and-capture call per turn step, since the sandbox's tool contract
// (spec §4.E's RunCommand action) is request/response rather than an
// attached interactive session.
//
// The example pack carries no PTY/terminal-emulation library, so command
// execution uses os/exec directly rather than reaching for a third-party
// dependency that would have nothing grounding it; see DESIGN.md.
package terminal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/capability"
	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
	"github.com/sandboxrun/core/runtime/agent/policy"
	"github.com/sandboxrun/core/runtime/agent/runwriter"
)

// Config wires a terminal worker's dependencies.
type Config struct {
	Shell      string // e.g. "/bin/bash"; defaults to "/bin/sh"
	WorkingDir string
	Policy     policy.WorkerPolicy
	Store      eventstore.Store

	// Writer is a fallback used only when Registry is nil or has no
	// run-scoped writer registered. Supervisors are long-lived and shared
	// across every run dispatched through them, so a Writer bound once at
	// construction time would have every run's workers report progress to
	// whichever run happened to be configured first — wrong for all but
	// one concurrent run. Prefer Registry.
	Writer *runwriter.Client
	// Registry resolves this call's own run-scoped writer actor
	// (actor.Ident{Kind: runwriter.Kind, ID: call.RunID}) at spawn time, the
	// same registry httpapi.Server.registerRun spawns that writer into.
	Registry *actor.Registry
	// WriterTimeout bounds calls made to the resolved writer. Zero uses
	// actor.DefaultCallTimeout.
	WriterTimeout time.Duration

	// AllowedCommands, if non-empty, restricts RunCommand to command lines
	// whose first word is in this set; anything else is Blocked rather
	// than Failed.
	AllowedCommands map[string]bool
}

func (cfg Config) resolveWriter(runID string) *runwriter.Client {
	if cfg.Registry != nil {
		if ref, ok := cfg.Registry.WhereIs(actor.Ident{Kind: runwriter.Kind, ID: runID}); ok {
			return runwriter.NewClient(ref, cfg.WriterTimeout)
		}
	}
	return cfg.Writer
}

// SpawnFunc adapts Config into a supervisor.SpawnFunc: args must be a
// conductor.WorkerCall naming this capability's objective and identifiers.
func SpawnFunc(cfg Config) func(ctx context.Context, id string, args any) (actor.Handler, error) {
	return func(_ context.Context, id string, args any) (actor.Handler, error) {
		call, ok := args.(conductor.WorkerCall)
		if !ok {
			return nil, fmt.Errorf("terminal: spawn requires a conductor.WorkerCall, got %T", args)
		}
		shell := cfg.Shell
		if shell == "" {
			shell = "/bin/sh"
		}
		tools := &toolExecutor{shell: shell, workingDir: cfg.WorkingDir, allowed: cfg.AllowedCommands}
		loop := &capability.Loop{
			Capability: "terminal",
			Policy:     cfg.Policy,
			Tools:      tools,
			Store:      cfg.Store,
			WorkerID:   id,
		}
		in := capability.Input{
			Objective: call.Objective,
			Writer:    cfg.resolveWriter(call.RunID),
			RunID:     call.RunID,
			CallID:    call.CallID,
		}
		return capability.NewActor(loop, in), nil
	}
}

// toolExecutor implements capability.ToolExecutor for the terminal's one
// tool, "run_command".
type toolExecutor struct {
	shell      string
	workingDir string
	allowed    map[string]bool
}

func (t *toolExecutor) Execute(ctx context.Context, tool string, input map[string]any) (capability.Observation, error) {
	switch tool {
	case "run_command":
		return t.runCommand(ctx, input)
	case "give_up":
		return capability.Observation{}, capability.NewBlocked(stringArg(input, "reason", "terminal worker gave up"))
	default:
		return capability.Observation{}, fmt.Errorf("terminal: unknown tool %q", tool)
	}
}

func (t *toolExecutor) runCommand(ctx context.Context, input map[string]any) (capability.Observation, error) {
	command := stringArg(input, "command", "")
	if command == "" {
		return capability.Observation{}, fmt.Errorf("terminal: run_command requires a command")
	}
	if len(t.allowed) > 0 {
		first := strings.Fields(command)
		if len(first) == 0 || !t.allowed[first[0]] {
			return capability.Observation{}, capability.NewBlocked(fmt.Sprintf("command %q is not on the allowed list", command))
		}
	}

	timeout := 30 * time.Second
	if v, ok := input["timeout_ms"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.shell, "-c", command)
	if t.workingDir != "" {
		cmd.Dir = t.workingDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	if err != nil {
		return capability.Observation{}, fmt.Errorf("terminal: run %q: %w", command, err)
	}

	text := fmt.Sprintf("command %q exited %d\nstdout:\n%s\nstderr:\n%s", command, exitCode, stdout.String(), stderr.String())
	return capability.Observation{Text: text}, nil
}

func stringArg(input map[string]any, key, def string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return def
}
