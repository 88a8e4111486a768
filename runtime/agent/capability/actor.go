package capability

import (
	"context"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/conductor"
)

// Actor is a one-shot actor.Handler: it runs a single capability turn in
// response to one runMsg, replies with the resulting conductor.WorkerOutcome,
// and is discarded afterward. The supervisor fabric spawns a fresh Actor per
// call_id, mirroring the teacher stack's per-task actor lifecycle rather
// than keeping a long-lived worker around between turns.
type Actor struct {
	loop *Loop
	in   Input
}

type runMsg struct {
	call  conductor.WorkerCall
	reply actor.ReplyPort
}

// NewActor builds an Actor that runs loop against in when it receives its
// one runMsg. in.CallID is expected to already match the id under which the
// actor will be spawned.
func NewActor(loop *Loop, in Input) *Actor {
	return &Actor{loop: loop, in: in}
}

// PreStart implements actor.Handler.
func (a *Actor) PreStart(context.Context) error { return nil }

// HandleSupervision implements actor.Handler; capability actors have no
// children.
func (a *Actor) HandleSupervision(context.Context, actor.SupervisionEvent) error { return nil }

// Handle implements actor.Handler.
func (a *Actor) Handle(ctx context.Context, msg any) error {
	m, ok := msg.(runMsg)
	if !ok {
		return nil
	}
	report, err := a.loop.Run(ctx, a.in)
	if err != nil {
		m.reply.Reply(nil, err)
		return nil
	}
	m.reply.Reply(report.toOutcome(m.call.CallID), nil)
	return nil
}
