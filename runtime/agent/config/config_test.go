package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.LivePort)
	require.Equal(t, 8081, cfg.DevPort)
	require.Equal(t, "sandbox", cfg.EventstoreMongoDatabase)
	require.Equal(t, "claude-sonnet-4-5-20250929", cfg.PolicyAnthropicModel)
	require.Empty(t, cfg.EventstoreMongoURI)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SANDBOX_LIVE_PORT", "9090")
	t.Setenv("SANDBOX_IDLE_TIMEOUT_SECS", "60")
	t.Setenv("EVENTSTORE_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("POLICY_ANTHROPIC_API_KEY", "sk-test")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.LivePort)
	require.Equal(t, 60, int(cfg.IdleTimeout.Seconds()))
	require.Equal(t, "mongodb://localhost:27017", cfg.EventstoreMongoURI)
	require.Equal(t, "sk-test", cfg.PolicyAnthropicAPIKey)
}

func TestLoadIgnoresMissingEnvFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/to/.env")
	require.NoError(t, err)
}
