package anthropic_test

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	policyanthropic "github.com/sandboxrun/core/features/policy/anthropic"
	"github.com/sandboxrun/core/runtime/agent/policy"
)

type fakeMessagesClient struct {
	toolName string
	input    map[string]any
}

func (f *fakeMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	raw, err := json.Marshal(f.input)
	if err != nil {
		return nil, err
	}
	var rawInput any
	if err := json.Unmarshal(raw, &rawInput); err != nil {
		return nil, err
	}
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", Name: f.toolName, Input: rawInput},
		},
	}, nil
}

func TestBootstrapAgendaDecodesItems(t *testing.T) {
	client := &fakeMessagesClient{
		toolName: "emit_result",
		input: map[string]any{
			"items": []map[string]any{
				{"capability": "researcher", "objective": "find the release notes"},
			},
		},
	}
	engine, err := policyanthropic.New(client, policyanthropic.Options{Model: "claude-test"})
	require.NoError(t, err)

	items, err := engine.BootstrapAgenda(context.Background(), "run-1", "research the latest release")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "researcher", items[0].Capability)
	require.Equal(t, "find the release notes", items[0].Objective)
	require.Equal(t, policy.AgendaItemPending, items[0].Status)
}

func TestBootstrapAgendaRejectsEmptyObjective(t *testing.T) {
	engine, err := policyanthropic.New(&fakeMessagesClient{}, policyanthropic.Options{Model: "claude-test"})
	require.NoError(t, err)

	_, err = engine.BootstrapAgenda(context.Background(), "run-1", "")
	require.Error(t, err)
}

func TestDecideNextActionComplete(t *testing.T) {
	client := &fakeMessagesClient{
		toolName: "emit_result",
		input: map[string]any{
			"decision": "complete",
			"output":   "final answer",
		},
	}
	engine, err := policyanthropic.New(client, policyanthropic.Options{Model: "claude-test"})
	require.NoError(t, err)

	decision, err := engine.DecideNextAction(context.Background(), policy.RunView{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, policy.DecisionComplete, decision.Kind)
	require.Equal(t, "final answer", decision.Output)
}

func TestDecideNextActionBlock(t *testing.T) {
	client := &fakeMessagesClient{
		toolName: "emit_result",
		input: map[string]any{
			"decision":     "block",
			"block_reason": "missing credentials",
		},
	}
	engine, err := policyanthropic.New(client, policyanthropic.Options{Model: "claude-test"})
	require.NoError(t, err)

	decision, err := engine.DecideNextAction(context.Background(), policy.RunView{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, policy.DecisionBlock, decision.Kind)
	require.Equal(t, "missing credentials", decision.BlockReason)
}

func TestPlanStepDecodesToolCall(t *testing.T) {
	client := &fakeMessagesClient{
		toolName: "emit_result",
		input: map[string]any{
			"done": false,
			"tool": "web_search",
			"input": map[string]any{
				"query": "release notes",
			},
		},
	}
	engine, err := policyanthropic.New(client, policyanthropic.Options{Model: "claude-test"})
	require.NoError(t, err)

	plan, err := engine.PlanStep(context.Background(), "objective", []string{"evidence"})
	require.NoError(t, err)
	require.False(t, plan.Done)
	require.Equal(t, "web_search", plan.Tool)
	require.Equal(t, "release notes", plan.Input["query"])
}

func TestEmitResultErrorsWhenToolNotCalled(t *testing.T) {
	client := &fakeMessagesClient{toolName: "some_other_tool", input: map[string]any{}}
	engine, err := policyanthropic.New(client, policyanthropic.Options{Model: "claude-test"})
	require.NoError(t, err)

	_, err = engine.RefineObjectiveForCapability(context.Background(), "objective", "researcher")
	require.Error(t, err)
}

func TestNewRequiresClientAndModel(t *testing.T) {
	_, err := policyanthropic.New(nil, policyanthropic.Options{Model: "claude-test"})
	require.Error(t, err)

	_, err = policyanthropic.New(&fakeMessagesClient{}, policyanthropic.Options{})
	require.Error(t, err)
}
