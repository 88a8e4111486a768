package actor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SpawnOptions configures a new actor's mailbox and supervision link.
type SpawnOptions struct {
	// MailboxSize is the buffered inbox capacity. Zero uses
	// DefaultMailboxSize.
	MailboxSize int

	// Supervisor, if set, receives a SupervisionEvent on this actor's
	// mailbox when it terminates or fails. Supervisors package this into
	// its GetOrCreate bookkeeping to respawn on-demand.
	Supervisor Ref
}

// ref is the concrete Ref implementation: one goroutine owns mailbox,
// draining it until Stop closes the channel or Handle panics.
type ref struct {
	id      Ident
	mailbox chan any
	stopped chan struct{}
	once    sync.Once
}

// Spawn runs Handler.PreStart and, on success, starts the actor's mailbox
// loop in a new goroutine. PreStart failures are returned as *PreStartError
// and the actor is never started.
func Spawn(ctx context.Context, id Ident, handler Handler, opts SpawnOptions) (Ref, error) {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultMailboxSize
	}
	if err := handler.PreStart(ctx); err != nil {
		return nil, &PreStartError{Ident: id, Cause: err}
	}
	r := &ref{
		id:      id,
		mailbox: make(chan any, opts.MailboxSize),
		stopped: make(chan struct{}),
	}
	go r.loop(handler, opts.Supervisor)
	return r, nil
}

func (r *ref) Ident() Ident { return r.id }

func (r *ref) Send(ctx context.Context, msg any) (err error) {
	// Stop closes the mailbox, so a send that races or follows it panics;
	// that is reported as ErrActorStopped.
	defer func() {
		if recover() != nil {
			err = &SendError{Ident: r.id, Cause: ErrActorStopped}
		}
	}()
	select {
	case r.mailbox <- msg:
		return nil
	case <-r.stopped:
		return &SendError{Ident: r.id, Cause: ErrActorStopped}
	case <-ctx.Done():
		return &SendError{Ident: r.id, Cause: ctx.Err()}
	}
}

func (r *ref) Call(ctx context.Context, build func(ReplyPort) any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	replyCh := make(chan CallResult, 1)
	msg := build(ReplyPort(replyCh))
	if err := r.Send(ctx, msg); err != nil {
		return nil, &CallError{Ident: r.id, Cause: err}
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case res := <-replyCh:
		return res.Value, res.Err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return nil, &CallError{Ident: r.id, Cause: ctx.Err()}
		}
		return nil, &CallError{Ident: r.id, Cause: ErrCallTimeout}
	}
}

func (r *ref) Stop() {
	r.once.Do(func() {
		close(r.mailbox)
	})
}

func (r *ref) IsStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

// loop drains the mailbox one message at a time until it is closed (normal
// stop) or Handle panics (failure). Either way the supervisor, if any, is
// notified with a best-effort Send so a slow or dead supervisor never wedges
// shutdown.
func (r *ref) loop(handler Handler, supervisor Ref) {
	reason := Terminated
	var failErr error
	defer func() {
		if rec := recover(); rec != nil {
			reason = Failed
			failErr = fmt.Errorf("actor %s panicked: %v", r.id, rec)
		}
		close(r.stopped)
		if supervisor != nil {
			notifyCtx, cancel := context.WithTimeout(context.Background(), DefaultCallTimeout)
			defer cancel()
			_ = supervisor.Send(notifyCtx, SupervisionEvent{Child: r.id, Reason: reason, Err: failErr})
		}
	}()
	for msg := range r.mailbox {
		ctx := context.Background()
		if sv, ok := msg.(SupervisionEvent); ok {
			_ = handler.HandleSupervision(ctx, sv)
			continue
		}
		_ = handler.Handle(ctx, msg)
	}
}
