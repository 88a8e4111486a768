package httpapi

import (
	"sync"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/conductor"
)

// runEntry is one registered run's actor handles.
type runEntry struct {
	client    *conductor.Client
	writerRef actor.Ref
	condRef   actor.Ref
}

// runRegistry maps run_id to its live Conductor client, so repeated status
// and state lookups reuse the same spawned actor instead of re-resolving it
// through an external registry lookup.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*runEntry)}
}

func (r *runRegistry) put(runID string, client *conductor.Client, writerRef, condRef actor.Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = &runEntry{client: client, writerRef: writerRef, condRef: condRef}
}

func (r *runRegistry) get(runID string) (*conductor.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

func (r *runRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.runs {
		e.condRef.Stop()
		e.writerRef.Stop()
	}
}
