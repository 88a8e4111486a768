// Command sandboxd is the sandbox's composition root: it loads
// configuration, wires the event store, session store, and policy engine to
// whichever backing implementation the environment selects, builds the
// capability supervisors and the Conductor dispatcher, and serves the
// HTTP/WS API until signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	eventstoredistributed "github.com/sandboxrun/core/features/eventstore/distributed"
	eventstoremongo "github.com/sandboxrun/core/features/eventstore/mongo"
	eventstoremongoclient "github.com/sandboxrun/core/features/eventstore/mongo/clients/mongo"
	eventstorepulse "github.com/sandboxrun/core/features/eventstore/pulse"
	eventstorepulseclient "github.com/sandboxrun/core/features/eventstore/pulse/clients/pulse"
	policyanthropic "github.com/sandboxrun/core/features/policy/anthropic"
	policybasic "github.com/sandboxrun/core/features/policy/basic"
	sessionmongo "github.com/sandboxrun/core/features/session/mongo"
	sessionmongoclient "github.com/sandboxrun/core/features/session/mongo/clients/mongo"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/capability"
	"github.com/sandboxrun/core/runtime/agent/capability/researcher"
	"github.com/sandboxrun/core/runtime/agent/capability/terminal"
	"github.com/sandboxrun/core/runtime/agent/config"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
	eventstoreinmem "github.com/sandboxrun/core/runtime/agent/eventstore/inmem"
	"github.com/sandboxrun/core/runtime/agent/httpapi"
	"github.com/sandboxrun/core/runtime/agent/policy"
	"github.com/sandboxrun/core/runtime/agent/session"
	sessioninmem "github.com/sandboxrun/core/runtime/agent/session/inmem"
	"github.com/sandboxrun/core/runtime/agent/supervisor"
	"github.com/sandboxrun/core/runtime/agent/telemetry"
)

const (
	researcherKind actor.Kind = "researcher"
	terminalKind   actor.Kind = "terminal"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(context.Background(), err)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()

	store, storeCleanup, err := buildEventStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build event store: %w", err)
	}
	defer storeCleanup()

	sessions, sessionsCleanup, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}
	defer sessionsCleanup()

	pol, err := buildPolicy(cfg)
	if err != nil {
		return fmt.Errorf("build policy engine: %w", err)
	}

	registry := actor.NewRegistry()

	researcherSup := supervisor.New(researcherKind, registry, researcher.SpawnFunc(researcher.Config{
		Policy:   pol,
		Store:    store,
		Registry: registry,
	}))
	terminalSup := supervisor.New(terminalKind, registry, terminal.SpawnFunc(terminal.Config{
		Policy:   pol,
		Store:    store,
		Registry: registry,
	}))
	if _, err := researcherSup.Start(ctx, actor.SpawnOptions{}); err != nil {
		return fmt.Errorf("start researcher supervisor: %w", err)
	}
	if _, err := terminalSup.Start(ctx, actor.SpawnOptions{}); err != nil {
		return fmt.Errorf("start terminal supervisor: %w", err)
	}

	dispatcher := capability.NewDispatcher(map[string]*supervisor.Supervisor{
		"researcher": researcherSup,
		"terminal":   terminalSup,
	}, 0)

	liveServer := httpapi.NewServer(httpapi.Config{
		Store:      store,
		Policy:     pol,
		Dispatcher: dispatcher,
		Logger:     logger,
		Registry:   registry,
		Sessions:   sessions,
		Host:       "0.0.0.0",
		Port:       cfg.LivePort,
	})

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "sandboxd listening on :%d", cfg.LivePort)
		if err := liveServer.Start(); err != nil {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := liveServer.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "shutdown error: %v", err)
	}

	wg.Wait()
	log.Printf(ctx, "exited")
	return nil
}

// buildEventStore selects the durable Mongo-backed store (optionally
// layered with the Pulse cross-process fan-out tier) when configured, and
// falls back to the in-memory reference store otherwise.
func buildEventStore(ctx context.Context, cfg config.Config) (eventstore.Store, func(), error) {
	if cfg.EventstoreMongoURI == "" {
		return eventstoreinmem.New(), func() {}, nil
	}

	mongoClient, err := mongodriver.Connect(options.Client().ApplyURI(cfg.EventstoreMongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	cleanup := func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Printf(ctx, "disconnect mongo: %v", err)
		}
	}

	lowClient, err := eventstoremongoclient.New(eventstoremongoclient.Options{
		Client:   mongoClient,
		Database: cfg.EventstoreMongoDatabase,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build mongo event client: %w", err)
	}
	durable, err := eventstoremongo.NewStore(lowClient)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build mongo event store: %w", err)
	}

	if cfg.EventstoreRedisAddr == "" {
		return durable, cleanup, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.EventstoreRedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	fullCleanup := func() {
		if err := rdb.Close(); err != nil {
			log.Printf(ctx, "close redis: %v", err)
		}
		cleanup()
	}

	pulseClient, err := eventstorepulseclient.New(eventstorepulseclient.Options{Redis: rdb})
	if err != nil {
		fullCleanup()
		return nil, nil, fmt.Errorf("build pulse client: %w", err)
	}
	distribution, err := eventstorepulse.NewDistribution(eventstorepulse.DistributionOptions{Client: pulseClient})
	if err != nil {
		fullCleanup()
		return nil, nil, fmt.Errorf("build pulse distribution: %w", err)
	}

	combined, err := eventstoredistributed.New(durable, distribution)
	if err != nil {
		fullCleanup()
		return nil, nil, fmt.Errorf("build distributed event store: %w", err)
	}
	return combined, fullCleanup, nil
}

// buildSessionStore selects the durable Mongo-backed session/run-metadata
// store when configured, falling back to the in-memory reference store.
func buildSessionStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.SessionMongoURI == "" {
		return sessioninmem.New(), func() {}, nil
	}

	mongoClient, err := mongodriver.Connect(options.Client().ApplyURI(cfg.SessionMongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	cleanup := func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Printf(ctx, "disconnect mongo: %v", err)
		}
	}

	lowClient, err := sessionmongoclient.New(sessionmongoclient.Options{
		Client:   mongoClient,
		Database: cfg.SessionMongoDatabase,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build mongo session client: %w", err)
	}
	store, err := sessionmongo.NewStore(lowClient)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build mongo session store: %w", err)
	}
	return store, cleanup, nil
}

// buildPolicy selects the Anthropic-backed cognition engine when an API key
// is configured, falling back to the deterministic basic engine otherwise
// (matching dev/test environments with no live model access).
func buildPolicy(cfg config.Config) (interface {
	policy.ConductorPolicy
	policy.WorkerPolicy
}, error) {
	if cfg.PolicyAnthropicAPIKey != "" {
		return policyanthropic.NewFromAPIKey(cfg.PolicyAnthropicAPIKey, cfg.PolicyAnthropicModel)
	}
	return policybasic.New(policybasic.Options{})
}

