package researcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/conductor"
)

type stubProvider struct {
	results []SearchResult
	err     error
}

func (p *stubProvider) Search(context.Context, string, int) ([]SearchResult, error) {
	return p.results, p.err
}

func TestToolExecutorSearchReturnsFirstCitation(t *testing.T) {
	tools := &toolExecutor{provider: &stubProvider{results: []SearchResult{
		{Title: "A", URL: "https://a.example", Snippet: "about a"},
		{Title: "B", URL: "https://b.example", Snippet: "about b"},
	}}}
	obs, err := tools.Execute(context.Background(), "search", map[string]any{"query": "topic"})
	require.NoError(t, err)
	require.Equal(t, "https://a.example", obs.Citation)
	require.Contains(t, obs.Text, "2 result(s)")
}

func TestToolExecutorSearchRequiresQuery(t *testing.T) {
	tools := &toolExecutor{provider: &stubProvider{}}
	_, err := tools.Execute(context.Background(), "search", map[string]any{})
	require.Error(t, err)
}

func TestToolExecutorFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	tools := &toolExecutor{http: srv.Client()}
	obs, err := tools.Execute(context.Background(), "fetch_url", map[string]any{"url": srv.URL})
	require.NoError(t, err)
	require.Contains(t, obs.Text, "hello world")
	require.Equal(t, srv.URL, obs.Citation)
}

func TestToolExecutorGiveUpIsBlocked(t *testing.T) {
	tools := &toolExecutor{}
	_, err := tools.Execute(context.Background(), "give_up", map[string]any{"reason": "no sources found"})
	require.Error(t, err)
}

func TestSpawnFuncRejectsWrongArgsType(t *testing.T) {
	spawn := SpawnFunc(Config{})
	_, err := spawn(context.Background(), "call-1", "not a worker call")
	require.Error(t, err)
}

func TestSpawnFuncBuildsActor(t *testing.T) {
	spawn := SpawnFunc(Config{})
	h, err := spawn(context.Background(), "call-1", conductor.WorkerCall{
		RunID: "run-1", CallID: "call-1", Capability: "researcher", Objective: "find x",
	})
	require.NoError(t, err)
	require.NotNil(t, h)
}
