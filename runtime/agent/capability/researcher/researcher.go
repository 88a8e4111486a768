// Package researcher implements the "researcher" capability: a worker that
// gathers evidence via web search and page fetches and synthesizes it into
// a grounded summary. It supplies a capability.ToolExecutor in place of the
// research_loop's provider calls in the original implementation; the turn
// loop itself is shared (runtime/agent/capability).
package researcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/capability"
	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
	"github.com/sandboxrun/core/runtime/agent/policy"
	"github.com/sandboxrun/core/runtime/agent/runwriter"
)

// Provider performs a single search query, grounded on the
// provider_calls/citations shape used by the original research loop's
// plan_step/summarize exchange. The sandbox ships no third-party search SDK,
// so Provider is implemented directly against a provider's HTTP API by
// callers; this package ships no concrete Provider.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// SearchResult is one hit from a Provider.Search call.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Config wires a researcher worker's dependencies.
type Config struct {
	Provider   Provider
	HTTPClient *http.Client
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
			return nil, fmt.Errorf("researcher: spawn requires a conductor.WorkerCall, got %T", args)
		}
		client := cfg.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 15 * time.Second}
		}
		tools := &toolExecutor{provider: cfg.Provider, http: client}
		loop := &capability.Loop{
			Capability: "researcher",
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

// toolExecutor implements capability.ToolExecutor for the researcher's two
// tools: "search" (delegates to Provider) and "fetch_url" (a direct HTTP
// GET with the response body excerpted).
type toolExecutor struct {
	provider Provider
	http     *http.Client
}

func (t *toolExecutor) Execute(ctx context.Context, tool string, input map[string]any) (capability.Observation, error) {
	switch tool {
	case "search":
		return t.search(ctx, input)
	case "fetch_url":
		return t.fetchURL(ctx, input)
	case "give_up":
		return capability.Observation{}, capability.NewBlocked(stringArg(input, "reason", "researcher gave up"))
	default:
		return capability.Observation{}, fmt.Errorf("researcher: unknown tool %q", tool)
	}
}

func (t *toolExecutor) search(ctx context.Context, input map[string]any) (capability.Observation, error) {
	if t.provider == nil {
		return capability.Observation{}, fmt.Errorf("researcher: no search provider configured")
	}
	query := stringArg(input, "query", "")
	if query == "" {
		return capability.Observation{}, fmt.Errorf("researcher: search requires a query")
	}
	maxResults := 5
	if v, ok := input["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}
	results, err := t.provider.Search(ctx, query, maxResults)
	if err != nil {
		return capability.Observation{}, fmt.Errorf("researcher: search %q: %w", query, err)
	}
	if len(results) == 0 {
		return capability.Observation{Text: fmt.Sprintf("search %q returned no results", query)}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "search %q returned %d result(s):\n", query, len(results))
	for _, r := range results {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
	}
	return capability.Observation{Text: b.String(), Citation: results[0].URL}, nil
}

func (t *toolExecutor) fetchURL(ctx context.Context, input map[string]any) (capability.Observation, error) {
	url := stringArg(input, "url", "")
	if url == "" {
		return capability.Observation{}, fmt.Errorf("researcher: fetch_url requires a url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return capability.Observation{}, fmt.Errorf("researcher: build request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return capability.Observation{}, fmt.Errorf("researcher: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return capability.Observation{}, fmt.Errorf("researcher: read %s: %w", url, err)
	}
	excerpt := string(body)
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}
	return capability.Observation{
		Text:     fmt.Sprintf("fetched %s (status %d):\n%s", url, resp.StatusCode, excerpt),
		Citation: url,
	}, nil
}

func stringArg(input map[string]any, key, def string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return def
}
