// Package anthropic provides a policy.ConductorPolicy and policy.WorkerPolicy
// implementation backed by the Anthropic Claude Messages API, using
// github.com/anthropics/anthropic-sdk-go. Every decision is obtained by
// forcing a single structured tool call (the "emit_result" tool) and
// decoding its JSON arguments, rather than parsing free-form text.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oklog/ulid/v2"

	"github.com/sandboxrun/core/runtime/agent/policy"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// engine. It is satisfied by *sdk.MessageService so callers can pass either
// a real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the Anthropic-backed policy engine.
type Options struct {
	// Model is the Claude model identifier used for every call (for
	// example string(sdk.ModelClaudeSonnet4_5_20250929)). Required.
	Model string
	// MaxTokens bounds the completion length. Defaults to 2048.
	MaxTokens int
}

// Engine implements policy.ConductorPolicy and policy.WorkerPolicy on top of
// Anthropic Claude.
type Engine struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds an Engine from the given Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Engine, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Engine{msg: msg, model: opts.Model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs an Engine using the default Anthropic HTTP
// client, reading connection defaults from the environment the way
// sdk.NewClient does.
func NewFromAPIKey(apiKey, model string) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

// BootstrapAgenda asks the model to decompose an objective into an ordered
// agenda of capability-scoped items.
func (e *Engine) BootstrapAgenda(ctx context.Context, runID, objective string) ([]policy.AgendaItem, error) {
	if objective == "" {
		return nil, policy.NewError("bootstrap_agenda", policy.ErrEmptyObjective)
	}
	var out struct {
		Items []struct {
			Capability string `json:"capability"`
			Objective  string `json:"objective"`
		} `json:"items"`
	}
	prompt := fmt.Sprintf(
		"Run %s: decompose this objective into an ordered agenda of capability-scoped work items. "+
			"Each item names a capability (\"researcher\" for information gathering, \"terminal\" for "+
			"command execution) and a concrete, self-contained objective for that capability.\n\nObjective: %s",
		runID, objective,
	)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"capability": map[string]any{"type": "string"},
						"objective":  map[string]any{"type": "string"},
					},
					"required": []string{"capability", "objective"},
				},
			},
		},
		"required": []string{"items"},
	}
	if err := e.emitResult(ctx, prompt, schema, &out); err != nil {
		return nil, policy.NewError("bootstrap_agenda", err)
	}
	items := make([]policy.AgendaItem, 0, len(out.Items))
	for _, item := range out.Items {
		if item.Capability == "" || item.Objective == "" {
			continue
		}
		items = append(items, policy.AgendaItem{
			ID:         ulid.Make().String(),
			Capability: item.Capability,
			Objective:  item.Objective,
			Status:     policy.AgendaItemPending,
		})
	}
	if len(items) == 0 {
		return nil, policy.NewError("bootstrap_agenda", errors.New("model returned no agenda items"))
	}
	return items, nil
}

// DecideNextAction asks the model what the Conductor should do next given
// the current run state.
func (e *Engine) DecideNextAction(ctx context.Context, view policy.RunView) (policy.Decision, error) {
	var out struct {
		Decision    string `json:"decision"`
		BlockReason string `json:"block_reason"`
		Output      string `json:"output"`
		InsertItems []struct {
			Capability string `json:"capability"`
			Objective  string `json:"objective"`
		} `json:"insert_items"`
	}
	stateJSON, err := json.Marshal(view)
	if err != nil {
		return policy.Decision{}, policy.NewError("decide_next_action", err)
	}
	prompt := fmt.Sprintf(
		"Given this run state, decide the next action. Respond with one of: "+
			"\"continue\" (agenda items are in flight, wait), \"dispatch\" (handled automatically by the "+
			"caller from Pending items, do not choose this explicitly), \"insert_agenda_items\" (new work "+
			"was discovered, populate insert_items), \"complete\" (populate output with the final answer), "+
			"or \"block\" (populate block_reason).\n\nRun state: %s",
		string(stateJSON),
	)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"decision":     map[string]any{"type": "string", "enum": []string{"continue", "insert_agenda_items", "complete", "block"}},
			"block_reason": map[string]any{"type": "string"},
			"output":       map[string]any{"type": "string"},
			"insert_items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"capability": map[string]any{"type": "string"},
						"objective":  map[string]any{"type": "string"},
					},
					"required": []string{"capability", "objective"},
				},
			},
		},
		"required": []string{"decision"},
	}
	if err := e.emitResult(ctx, prompt, schema, &out); err != nil {
		return policy.Decision{}, policy.NewError("decide_next_action", err)
	}
	switch policy.DecisionKind(out.Decision) {
	case policy.DecisionComplete:
		return policy.Decision{Kind: policy.DecisionComplete, Output: out.Output}, nil
	case policy.DecisionBlock:
		reason := out.BlockReason
		if reason == "" {
			reason = "policy declined to continue"
		}
		return policy.Decision{Kind: policy.DecisionBlock, BlockReason: reason}, nil
	case policy.DecisionInsertAgendaItems:
		items := make([]policy.AgendaItem, 0, len(out.InsertItems))
		for _, item := range out.InsertItems {
			if item.Capability == "" || item.Objective == "" {
				continue
			}
			items = append(items, policy.AgendaItem{
				ID:         ulid.Make().String(),
				Capability: item.Capability,
				Objective:  item.Objective,
				Status:     policy.AgendaItemPending,
			})
		}
		return policy.Decision{Kind: policy.DecisionInsertAgendaItems, InsertItems: items}, nil
	default:
		return policy.Decision{Kind: policy.DecisionContinue}, nil
	}
}

// RefineObjectiveForCapability rewrites the objective into a concrete task
// description scoped to the given capability.
func (e *Engine) RefineObjectiveForCapability(ctx context.Context, objective, capability string) (string, error) {
	if objective == "" {
		return "", policy.NewError("refine_objective_for_capability", policy.ErrEmptyObjective)
	}
	var out struct {
		Refined string `json:"refined_objective"`
	}
	prompt := fmt.Sprintf(
		"Rewrite this objective into a concrete, self-contained task description for the %q capability. "+
			"Preserve intent; add any context the capability needs to act without further clarification.\n\nObjective: %s",
		capability, objective,
	)
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"refined_objective": map[string]any{"type": "string"}},
		"required":   []string{"refined_objective"},
	}
	if err := e.emitResult(ctx, prompt, schema, &out); err != nil {
		return "", policy.NewError("refine_objective_for_capability", err)
	}
	if out.Refined == "" {
		return "", policy.NewError("refine_objective_for_capability", errors.New("model returned an empty objective"))
	}
	return out.Refined, nil
}

// PlanStep asks the model for the capability worker's next tool call, or to
// signal it has enough evidence to synthesize.
func (e *Engine) PlanStep(ctx context.Context, objective string, evidence []string) (policy.StepPlan, error) {
	var out struct {
		Done  bool           `json:"done"`
		Tool  string         `json:"tool"`
		Input map[string]any `json:"input"`
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return policy.StepPlan{}, policy.NewError("plan_step", err)
	}
	prompt := fmt.Sprintf(
		"Objective: %s\n\nEvidence gathered so far: %s\n\nDecide the next tool call, or set done=true if "+
			"there is enough evidence to synthesize a final answer.",
		objective, string(evidenceJSON),
	)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"done":  map[string]any{"type": "boolean"},
			"tool":  map[string]any{"type": "string"},
			"input": map[string]any{"type": "object"},
		},
		"required": []string{"done"},
	}
	if err := e.emitResult(ctx, prompt, schema, &out); err != nil {
		return policy.StepPlan{}, policy.NewError("plan_step", err)
	}
	return policy.StepPlan{Done: out.Done, Tool: out.Tool, Input: out.Input}, nil
}

// SummarizeEvidence asks the model to synthesize gathered evidence into a
// final report for the objective.
func (e *Engine) SummarizeEvidence(ctx context.Context, objective string, evidence []string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return "", policy.NewError("summarize_evidence", err)
	}
	prompt := fmt.Sprintf(
		"Objective: %s\n\nEvidence: %s\n\nSynthesize a final answer grounded only in the evidence provided.",
		objective, string(evidenceJSON),
	)
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"summary": map[string]any{"type": "string"}},
		"required":   []string{"summary"},
	}
	if err := e.emitResult(ctx, prompt, schema, &out); err != nil {
		return "", policy.NewError("summarize_evidence", err)
	}
	return out.Summary, nil
}

const resultToolName = "emit_result"

// emitResult sends a single user message, forces the model to call
// resultToolName with arguments matching schema, and decodes those
// arguments into out.
func (e *Engine) emitResult(ctx context.Context, prompt string, schema map[string]any, out any) error {
	params := sdk.MessageNewParams{
		MaxTokens: int64(e.maxTokens),
		Model:     sdk.Model(e.model),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Tools: []sdk.ToolUnionParam{
			sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, resultToolName),
		},
		ToolChoice: sdk.ToolChoiceParamOfTool(resultToolName),
	}
	msg, err := e.msg.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("anthropic messages.new: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != resultToolName {
			continue
		}
		raw, err := json.Marshal(block.Input)
		if err != nil {
			return fmt.Errorf("marshal tool_use input: %w", err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s arguments: %w", resultToolName, err)
		}
		return nil
	}
	return fmt.Errorf("model did not call %s", resultToolName)
}
