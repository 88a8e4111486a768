package actor

import "errors"

// ErrActorStopped is returned by Send/Call when the target actor's mailbox
// has already been closed.
var ErrActorStopped = errors.New("actor: stopped")

// ErrCallTimeout is wrapped by CallError when a Call's timeout elapses
// before the actor replies.
var ErrCallTimeout = errors.New("actor: call timed out")

// ErrNotRegistered is returned by Registry.WhereIs-adjacent lookups that
// require an existing entry (e.g. Unregister bookkeeping).
var ErrNotRegistered = errors.New("actor: not registered")

// ErrAlreadyRegistered is returned by Registry.Register when a healthy
// actor is already registered under the requested name.
var ErrAlreadyRegistered = errors.New("actor: already registered")

// PreStartError wraps a failure from Handler.PreStart. The actor named
// Ident never started processing messages.
type PreStartError struct {
	Ident Ident
	Cause error
}

func (e *PreStartError) Error() string {
	return "actor: " + e.Ident.String() + ": pre_start failed: " + e.Cause.Error()
}

func (e *PreStartError) Unwrap() error { return e.Cause }

// SendError wraps a failure delivering a message to an actor's mailbox.
type SendError struct {
	Ident Ident
	Cause error
}

func (e *SendError) Error() string {
	return "actor: " + e.Ident.String() + ": send failed: " + e.Cause.Error()
}

func (e *SendError) Unwrap() error { return e.Cause }

// CallError wraps a failure completing a Call: either the send itself
// failed, or the call timed out waiting for a reply.
type CallError struct {
	Ident Ident
	Cause error
}

func (e *CallError) Error() string {
	return "actor: " + e.Ident.String() + ": call failed: " + e.Cause.Error()
}

func (e *CallError) Unwrap() error { return e.Cause }
