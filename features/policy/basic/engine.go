// Package basic provides a deterministic policy.ConductorPolicy and
// policy.WorkerPolicy implementation with no model dependency. It exists so
// the Conductor and capability workers can be exercised in tests (and in
// degraded environments with no configured model) without a live Anthropic
// client, trading cognition for predictable, rule-based behavior.
package basic

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/sandboxrun/core/runtime/agent/policy"
)

// Options configures the basic engine.
type Options struct {
	// DefaultCapability names the capability worker used when the
	// objective does not name one explicitly (see parseCapability).
	// Defaults to "researcher".
	DefaultCapability string
	// MaxConcurrentDispatch caps how many pending agenda items
	// DecideNextAction dispatches in a single decision. Defaults to 1.
	MaxConcurrentDispatch int
}

// Engine implements policy.ConductorPolicy and policy.WorkerPolicy with
// fixed rules: a single agenda item per objective, sequential dispatch, and
// a synthesis step that concatenates whatever evidence was gathered.
type Engine struct {
	defaultCapability string
	maxDispatch       int
}

// New builds a new Engine using the supplied options.
func New(opts Options) (*Engine, error) {
	cap := strings.TrimSpace(opts.DefaultCapability)
	if cap == "" {
		cap = "researcher"
	}
	maxDispatch := opts.MaxConcurrentDispatch
	if maxDispatch <= 0 {
		maxDispatch = 1
	}
	return &Engine{defaultCapability: cap, maxDispatch: maxDispatch}, nil
}

// BootstrapAgenda builds a single-item agenda from the objective, dispatched
// to DefaultCapability (or the capability named with a "capability:" prefix
// on the objective, stripped before use).
func (e *Engine) BootstrapAgenda(_ context.Context, _ string, objective string) ([]policy.AgendaItem, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return nil, policy.NewError("bootstrap_agenda", policy.ErrEmptyObjective)
	}
	capability, rest := parseCapability(objective, e.defaultCapability)
	return []policy.AgendaItem{
		{
			ID:         ulid.Make().String(),
			Capability: capability,
			Objective:  rest,
			Status:     policy.AgendaItemPending,
		},
	}, nil
}

// DecideNextAction dispatches up to MaxConcurrentDispatch pending items, in
// order. A run completes once every item is Completed, and blocks as soon
// as any item is Failed.
func (e *Engine) DecideNextAction(_ context.Context, view policy.RunView) (policy.Decision, error) {
	var (
		toDispatch []policy.AgendaItem
		pending    int
		dispatched int
	)
	for _, item := range view.Agenda {
		switch item.Status {
		case policy.AgendaItemFailed:
			return policy.Decision{Kind: policy.DecisionBlock, BlockReason: fmt.Sprintf("agenda item %s failed", item.ID)}, nil
		case policy.AgendaItemDispatched:
			dispatched++
		case policy.AgendaItemPending:
			pending++
			if len(toDispatch) < e.maxDispatch {
				toDispatch = append(toDispatch, item)
			}
		}
	}
	if len(toDispatch) > 0 {
		return policy.Decision{Kind: policy.DecisionDispatch, Dispatch: toDispatch}, nil
	}
	if dispatched > 0 {
		return policy.Decision{Kind: policy.DecisionContinue}, nil
	}
	return policy.Decision{Kind: policy.DecisionComplete, Output: joinFindings(view)}, nil
}

// RefineObjectiveForCapability returns the objective unchanged, prefixed
// with the capability name for traceability in logs.
func (e *Engine) RefineObjectiveForCapability(_ context.Context, objective, capability string) (string, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return "", policy.NewError("refine_objective_for_capability", policy.ErrEmptyObjective)
	}
	return fmt.Sprintf("[%s] %s", capability, objective), nil
}

// PlanStep always signals Done: the basic engine never drives a worker's
// own tool loop, it only answers Conductor-level questions. Capability
// workers configured with this engine must synthesize immediately.
func (e *Engine) PlanStep(_ context.Context, _ string, _ []string) (policy.StepPlan, error) {
	return policy.StepPlan{Done: true}, nil
}

// SummarizeEvidence concatenates the gathered evidence with blank-line
// separators; it performs no real synthesis.
func (e *Engine) SummarizeEvidence(_ context.Context, _ string, evidence []string) (string, error) {
	return strings.Join(evidence, "\n\n"), nil
}

func parseCapability(objective, fallback string) (capability, rest string) {
	const prefix = "capability:"
	if !strings.HasPrefix(objective, prefix) {
		return fallback, objective
	}
	remainder := strings.TrimPrefix(objective, prefix)
	parts := strings.SplitN(remainder, " ", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return fallback, objective
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func joinFindings(view policy.RunView) string {
	parts := make([]string, 0, len(view.CompletedFindings))
	for _, item := range view.Agenda {
		if finding, ok := view.CompletedFindings[item.ID]; ok {
			parts = append(parts, finding)
		}
	}
	return strings.Join(parts, "\n\n")
}
