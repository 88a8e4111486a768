package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/supervisor"
)

// Dispatcher routes a conductor.WorkerCall to the supervisor registered for
// its Capability, satisfying conductor.Dispatcher. Each call spawns a
// fresh, one-shot capability Actor under the call's CallID and waits for
// its single reply.
type Dispatcher struct {
	supervisors map[string]*supervisor.Supervisor
	timeout     time.Duration
}

// NewDispatcher builds a Dispatcher from a capability name -> supervisor
// mapping (for example {"researcher": researcherSup, "terminal": terminalSup}).
// A zero timeout uses actor.DefaultCallTimeout.
func NewDispatcher(supervisors map[string]*supervisor.Supervisor, timeout time.Duration) *Dispatcher {
	return &Dispatcher{supervisors: supervisors, timeout: timeout}
}

// Execute implements conductor.Dispatcher.
func (d *Dispatcher) Execute(ctx context.Context, call conductor.WorkerCall) (conductor.WorkerOutcome, error) {
	sup, ok := d.supervisors[call.Capability]
	if !ok {
		return conductor.WorkerOutcome{}, fmt.Errorf("capability: no supervisor registered for %q", call.Capability)
	}

	ref, err := sup.GetOrCreate(ctx, call.CallID, call)
	if err != nil {
		return conductor.WorkerOutcome{}, fmt.Errorf("capability: spawn %s worker: %w", call.Capability, err)
	}
	defer ref.Stop()

	out, err := ref.Call(ctx, func(reply actor.ReplyPort) any {
		return runMsg{call: call, reply: reply}
	}, d.timeout)
	if err != nil {
		return conductor.WorkerOutcome{}, err
	}
	outcome, _ := out.(conductor.WorkerOutcome)
	return outcome, nil
}
