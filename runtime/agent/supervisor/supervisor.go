// Package supervisor implements the generic (kind, id)-keyed supervision
// fabric described by spec §4.C: at most one running actor per (kind, id),
// created lazily, adopted from the shared registry when already running
// elsewhere, and respawned on-demand after termination or failure — never
// automatically restarted absent a new request.
//
// The generic GetOrCreate shape is grounded on the double-checked-locking
// lookup-or-create idiom used elsewhere in the stack for lazily materialized
// per-key resources (fast path under a read lock, create-and-store under a
// write lock with a second check); here the "lock" is the supervisor's own
// actor mailbox, so concurrent GetOrCreate calls serialize through Handle
// instead of an explicit mutex.
package supervisor

import (
	"context"
	"fmt"

	"github.com/sandboxrun/core/runtime/agent/actor"
)

// SpawnFunc constructs the Handler for a new child actor given its id and
// caller-supplied arguments. It runs only on a full miss (no local entry, no
// healthy registry entry).
type SpawnFunc func(ctx context.Context, id string, args any) (actor.Handler, error)

// Supervisor owns one map {id → actor.Ref} for a single actor Kind. It is
// itself an actor.Handler: GetOrCreate calls and child SupervisionEvents both
// serialize through its own mailbox, so the children map needs no mutex.
type Supervisor struct {
	kind      actor.Kind
	registry  *actor.Registry
	spawnFunc SpawnFunc

	self     actor.Ref
	children map[string]actor.Ref
}

type getOrCreateMsg struct {
	id    string
	args  any
	reply actor.ReplyPort
}

type getMsg struct {
	id    string
	reply actor.ReplyPort
}

type idsMsg struct {
	reply actor.ReplyPort
}

// New returns a Supervisor for actors of the given kind. Call Start to turn
// it into a running actor before using GetOrCreate.
func New(kind actor.Kind, registry *actor.Registry, spawnFunc SpawnFunc) *Supervisor {
	return &Supervisor{
		kind:      kind,
		registry:  registry,
		spawnFunc: spawnFunc,
		children:  make(map[string]actor.Ref),
	}
}

// Start spawns the supervisor itself as an actor named "supervisor:<kind>"
// and records its own ref so GetOrCreate can route through its mailbox.
func (s *Supervisor) Start(ctx context.Context, opts actor.SpawnOptions) (actor.Ref, error) {
	ref, err := actor.Spawn(ctx, actor.Ident{Kind: "supervisor", ID: string(s.kind)}, s, opts)
	if err != nil {
		return nil, err
	}
	s.self = ref
	return ref, nil
}

// GetOrCreate resolves the healthy child named id: a local map hit returns
// immediately; a registry hit adopts the actor spawned elsewhere; a full
// miss spawns-linked, registers under the canonical name, and stores it.
func (s *Supervisor) GetOrCreate(ctx context.Context, id string, args any) (actor.Ref, error) {
	out, err := s.self.Call(ctx, func(reply actor.ReplyPort) any {
		return getOrCreateMsg{id: id, args: args, reply: reply}
	}, 0)
	if err != nil {
		return nil, err
	}
	ref, _ := out.(actor.Ref)
	return ref, nil
}

// Get returns the healthy child named id without creating one. The second
// return value is false if no healthy child exists.
func (s *Supervisor) Get(ctx context.Context, id string) (actor.Ref, bool, error) {
	out, err := s.self.Call(ctx, func(reply actor.ReplyPort) any {
		return getMsg{id: id, reply: reply}
	}, 0)
	if err != nil {
		return nil, false, err
	}
	ref, ok := out.(actor.Ref)
	return ref, ok, nil
}

// IDs returns the ids of currently healthy children, used by the Conductor
// to derive available_capabilities from the set of currently-healthy
// capability worker supervisors.
func (s *Supervisor) IDs(ctx context.Context) ([]string, error) {
	out, err := s.self.Call(ctx, func(reply actor.ReplyPort) any {
		return idsMsg{reply: reply}
	}, 0)
	if err != nil {
		return nil, err
	}
	ids, _ := out.([]string)
	return ids, nil
}

// PreStart implements actor.Handler.
func (s *Supervisor) PreStart(context.Context) error { return nil }

// Handle implements actor.Handler.
func (s *Supervisor) Handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case getOrCreateMsg:
		ref, err := s.getOrCreate(ctx, m.id, m.args)
		if err != nil {
			m.reply.Reply(nil, err)
			return nil
		}
		m.reply.Reply(ref, nil)
	case getMsg:
		ref, ok := s.healthyChild(m.id)
		if !ok {
			m.reply.Reply(nil, nil)
			return nil
		}
		m.reply.Reply(ref, nil)
	case idsMsg:
		ids := make([]string, 0, len(s.children))
		for id, ref := range s.children {
			if !ref.IsStopped() {
				ids = append(ids, id)
			}
		}
		m.reply.Reply(ids, nil)
	default:
		return fmt.Errorf("supervisor %s: unexpected message %T", s.kind, msg)
	}
	return nil
}

// HandleSupervision implements actor.Handler: a child's termination or
// failure removes it from the local map so the next GetOrCreate respawns
// it. There is no automatic restart absent a new request.
func (s *Supervisor) HandleSupervision(_ context.Context, event actor.SupervisionEvent) error {
	delete(s.children, event.Child.ID)
	s.registry.Unregister(event.Child)
	return nil
}

func (s *Supervisor) healthyChild(id string) (actor.Ref, bool) {
	ref, ok := s.children[id]
	if !ok {
		return nil, false
	}
	if ref.IsStopped() {
		delete(s.children, id)
		return nil, false
	}
	return ref, true
}

// getOrCreate implements the spec's three-step resolution. Only ever called
// from Handle, so it runs serialized on the supervisor's own mailbox
// goroutine and needs no locking of its own.
func (s *Supervisor) getOrCreate(ctx context.Context, id string, args any) (actor.Ref, error) {
	if ref, ok := s.healthyChild(id); ok {
		return ref, nil
	}

	canonical := actor.Ident{Kind: s.kind, ID: id}
	if ref, ok := s.registry.WhereIs(canonical); ok {
		s.children[id] = ref
		return ref, nil
	}

	handler, err := s.spawnFunc(ctx, id, args)
	if err != nil {
		return nil, fmt.Errorf("supervisor %s: spawn %s: %w", s.kind, id, err)
	}
	ref, err := actor.Spawn(ctx, canonical, handler, actor.SpawnOptions{Supervisor: s.self})
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(ref); err != nil {
		ref.Stop()
		return nil, err
	}
	s.children[id] = ref
	return ref, nil
}
