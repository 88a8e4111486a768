// Package config loads the sandbox's environment-driven configuration.
// Nothing in this package affects core run semantics (per spec, env vars
// are peripheral: ports, timeouts, and backing-store addresses only) — it
// exists purely to keep that wiring out of runtime/agent/conductor and the
// other core packages, confined to the composition root.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config collects every environment-driven setting read at process start.
type Config struct {
	// LivePort is the HTTP/WS port serving the production (user-facing)
	// surface. SANDBOX_LIVE_PORT, default 8080.
	LivePort int
	// DevPort is the HTTP/WS port serving the development surface (for
	// example hot-reloaded tooling). SANDBOX_DEV_PORT, default 8081.
	DevPort int
	// IdleTimeout bounds how long a sandbox may sit with no activity
	// before it is eligible for reclamation. SANDBOX_IDLE_TIMEOUT_SECS,
	// default 1800s.
	IdleTimeout time.Duration

	// EventstoreMongoURI, when non-empty, selects the durable
	// Mongo-backed event store over the in-memory one.
	// EVENTSTORE_MONGO_URI, no default.
	EventstoreMongoURI string
	// EventstoreMongoDatabase names the database the event log lives in.
	// EVENTSTORE_MONGO_DATABASE, default "sandbox".
	EventstoreMongoDatabase string
	// EventstoreRedisAddr, when non-empty, enables the Pulse-backed
	// cross-process distribution tier for Subscribe. EVENTSTORE_REDIS_ADDR,
	// no default.
	EventstoreRedisAddr string

	// SessionMongoURI, when non-empty, selects the durable Mongo-backed
	// session/run-metadata store over the in-memory one.
	// SESSION_MONGO_URI, no default.
	SessionMongoURI string
	// SessionMongoDatabase names the database session/run metadata lives
	// in. SESSION_MONGO_DATABASE, default "sandbox".
	SessionMongoDatabase string

	// PolicyAnthropicAPIKey, when non-empty, selects the Anthropic-backed
	// policy engine over the deterministic basic one.
	// POLICY_ANTHROPIC_API_KEY, no default.
	PolicyAnthropicAPIKey string
	// PolicyAnthropicModel names the Claude model used by the
	// Anthropic-backed policy engine. POLICY_ANTHROPIC_MODEL, default
	// "claude-sonnet-4-5-20250929".
	PolicyAnthropicModel string
}

// getEnv returns the named environment variable, or defaultValue if unset
// or empty.
func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// Load reads an optional .env file at envPath (missing file is not an
// error — it just means the process relies on whatever environment it was
// launched with) and then builds a Config from the process environment,
// applying the documented defaults for anything unset.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		// A missing .env file is expected in most deployments (env vars
		// supplied directly by the orchestrator); only a malformed file
		// that exists is worth surfacing.
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	return Config{
		LivePort:    getEnvInt("SANDBOX_LIVE_PORT", 8080),
		DevPort:     getEnvInt("SANDBOX_DEV_PORT", 8081),
		IdleTimeout: time.Duration(getEnvInt("SANDBOX_IDLE_TIMEOUT_SECS", 1800)) * time.Second,

		EventstoreMongoURI:      getEnv("EVENTSTORE_MONGO_URI", ""),
		EventstoreMongoDatabase: getEnv("EVENTSTORE_MONGO_DATABASE", "sandbox"),
		EventstoreRedisAddr:     getEnv("EVENTSTORE_REDIS_ADDR", ""),

		SessionMongoURI:      getEnv("SESSION_MONGO_URI", ""),
		SessionMongoDatabase: getEnv("SESSION_MONGO_DATABASE", "sandbox"),

		PolicyAnthropicAPIKey: getEnv("POLICY_ANTHROPIC_API_KEY", ""),
		PolicyAnthropicModel:  getEnv("POLICY_ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
	}, nil
}
