// Package daemon wires the platform together: guardrail stores, the action
// registry and engine, the run and action queues, the orchestrator, agent
// profiles, the recommendation engine and the admin/metrics endpoint.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/outrigger-ai/outrigger/internal/config"
	"github.com/outrigger-ai/outrigger/internal/logger"
	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/internal/tracing"
	"github.com/outrigger-ai/outrigger/pkg/action"
	"github.com/outrigger-ai/outrigger/pkg/agent"
	"github.com/outrigger-ai/outrigger/pkg/events"
	"github.com/outrigger-ai/outrigger/pkg/guardrail"
	"github.com/outrigger-ai/outrigger/pkg/maintenance"
	"github.com/outrigger-ai/outrigger/pkg/orchestrator"
	"github.com/outrigger-ai/outrigger/pkg/profile"
	"github.com/outrigger-ai/outrigger/pkg/queue"
	"github.com/outrigger-ai/outrigger/pkg/recommend"
	"github.com/outrigger-ai/outrigger/pkg/recommend/sqlitestore"
)

// Daemon is the long-running service process
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	idempotencyStore guardrail.IdempotencyStore
	rateLimitStore   guardrail.RateLimitStore

	registry *action.Registry
	engine   *action.Engine

	runsQueue    *queue.Queue
	actionsQueue *queue.Queue

	profiles    *profile.Manager
	provider    agent.Provider
	broadcaster *events.Broadcaster
	eventServer *events.Server
	orch        *orchestrator.Orchestrator

	recommender *recommend.Engine
	stateStore  recommend.Store
	stateCloser func() error

	maintenance *maintenance.Scheduler
	admin       *adminServer

	tracingEnabled bool
	startedAt      time.Time
}

// New creates a daemon from configuration. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	tracingEnabled := true
	if err := tracing.InitOpenTelemetry("outrigger"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		tracingEnabled = false
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: tracingEnabled,
	}

	if err := d.initialize(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
		}
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Guardrail stores: in-process by default, Redis when deployments share
	// counters across processes
	if cfg.Guardrails.UseSharedStores {
		store := guardrail.NewRedisStore(
			cfg.Guardrails.RedisAddr,
			cfg.Guardrails.RedisPassword,
			cfg.Guardrails.RedisDB,
			cfg.Guardrails.RedisKeyPrefix,
		)
		d.idempotencyStore = store
		d.rateLimitStore = store
		d.logger.Info().Str("addr", cfg.Guardrails.RedisAddr).Msg("Shared guardrail stores initialized")
	} else {
		d.idempotencyStore = guardrail.NewMemoryIdempotencyStore(100_000)
		d.rateLimitStore = guardrail.NewMemoryRateLimitStore()
		d.logger.Info().Msg("In-process guardrail stores initialized")
	}

	// Action registry and engine
	d.registry = action.NewRegistry()
	d.engine = action.NewEngine(d.registry)
	if err := d.registerBuiltinActions(); err != nil {
		return err
	}
	d.logger.Info().Msg("Action engine initialized")

	// Queues
	d.runsQueue = queue.New("runs", queue.Options{
		Attempts: cfg.Queues.Runs.Attempts,
		Backoff: queue.BackoffPolicy{
			Base: cfg.Queues.Runs.BackoffBase,
			Cap:  cfg.Queues.Runs.BackoffCap,
		},
	})
	d.actionsQueue = queue.New("actions", queue.Options{
		Attempts: cfg.Queues.Actions.Attempts,
		Backoff: queue.BackoffPolicy{
			Base: cfg.Queues.Actions.BackoffBase,
			Cap:  cfg.Queues.Actions.BackoffCap,
		},
	})
	d.logger.Info().Msg("Queues initialized")

	// Agent profiles
	if err := os.MkdirAll(cfg.Profiles.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}
	profiles, err := profile.NewManager(profile.Config{
		Dir:    cfg.Profiles.Dir,
		Watch:  cfg.Profiles.Watch,
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create profile manager: %w", err)
	}
	d.profiles = profiles

	// Model provider; fall back to the deterministic fake when the
	// configured provider has no credentials
	provider, err := agent.NewProvider(cfg.Providers.Default, agent.Credentials{
		AnthropicKey: cfg.Providers.AnthropicKey,
		OpenAIKey:    cfg.Providers.OpenAIKey,
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Provider unavailable, using fake provider")
		provider = agent.NewFakeProvider(nil)
	}
	d.provider = provider
	d.logger.Info().Str("provider", provider.Name()).Msg("Model provider initialized")

	// Event broadcasting
	d.broadcaster = events.NewBroadcaster(d.logger.GetZerolog())
	if cfg.Events.Enabled {
		server, err := events.NewServer(events.ServerConfig{
			Host:        cfg.Events.Host,
			Port:        cfg.Events.Port,
			Broadcaster: d.broadcaster,
			Logger:      d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create event server: %w", err)
		}
		d.eventServer = server
	}

	// Orchestrator: unbound steps go to the model, bound steps through the
	// action queue
	directAct, err := agent.NewDirectAct(agent.ActConfig{
		Provider: d.provider,
		Profiles: d.profiles,
	})
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Planner: orchestrator.NewDefaultPlanner(),
		Act:     d.guardAct(orchestrator.NewQueueAct(d.actionsQueue, directAct)),
		Events:  d.broadcaster,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orch = orch
	d.logger.Info().Msg("Orchestrator initialized")

	// Recommendation engine and its durable state store
	d.recommender = recommend.NewEngine(recommend.Options{
		MaxRecommendations: cfg.Recommend.MaxRecommendations,
		ExplorationPct:     cfg.Recommend.ExplorationPct,
	})
	if err := os.MkdirAll(filepath.Dir(cfg.Recommend.StatePath), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	stateStore, err := sqlitestore.New(sqlitestore.Config{
		Path:   cfg.Recommend.StatePath,
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to open recommendation state store: %w", err)
	}
	d.stateStore = stateStore
	d.stateCloser = stateStore.Close
	d.logger.Info().Msg("Recommendation engine initialized")

	// Maintenance
	d.maintenance = maintenance.New(maintenance.Config{Logger: d.logger.GetZerolog()})
	if sweeper, ok := d.idempotencyStore.(guardrail.Sweeper); ok {
		if err := d.maintenance.RegisterSweeper("idempotency", sweeper); err != nil {
			return err
		}
	}
	if sweeper, ok := d.rateLimitStore.(guardrail.WindowSweeper); ok {
		if err := d.maintenance.RegisterWindowSweeper("ratelimit", sweeper); err != nil {
			return err
		}
	}
	if err := d.maintenance.RegisterQueue(d.runsQueue); err != nil {
		return err
	}
	if err := d.maintenance.RegisterQueue(d.actionsQueue); err != nil {
		return err
	}

	// Admin and metrics endpoint
	if cfg.Metrics.Enabled {
		d.admin = newAdminServer(d, cfg.Metrics.Host, cfg.Metrics.Port)
	}

	return nil
}

// registerBuiltinActions installs the actions every deployment ships with,
// guarded by the configured idempotency and rate-limit defaults.
func (d *Daemon) registerBuiltinActions() error {
	cfg := d.config.Guardrails

	echo := action.EchoDefinition()
	echo.Guardrails = []guardrail.Guardrail{
		guardrail.NewIdempotency(d.idempotencyStore, nil, cfg.IdempotencyTTL),
		guardrail.NewRateLimit(d.rateLimitStore, cfg.RateLimit.Limit, cfg.RateLimit.Window),
	}
	if err := d.registry.Register(echo); err != nil {
		return fmt.Errorf("failed to register echo action: %w", err)
	}
	return nil
}

// RegisterAction installs an action definition, attaching the default
// guardrails when the definition carries none.
func (d *Daemon) RegisterAction(def *action.Definition) error {
	cfg := d.config.Guardrails
	if len(def.Guardrails) == 0 {
		def.Guardrails = []guardrail.Guardrail{
			guardrail.NewIdempotency(d.idempotencyStore, nil, cfg.IdempotencyTTL),
			guardrail.NewRateLimit(d.rateLimitStore, cfg.RateLimit.Limit, cfg.RateLimit.Window),
		}
	}
	return d.registry.Register(def)
}

// Start brings up consumers, watchers and servers
func (d *Daemon) Start() error {
	d.startedAt = time.Now()

	if err := d.profiles.Start(); err != nil {
		return fmt.Errorf("failed to start profile manager: %w", err)
	}

	if err := d.actionsQueue.Consume(
		orchestrator.NewActionConsumer(d.engine),
		queue.ConsumeOptions{Concurrency: d.config.Queues.Actions.Concurrency},
	); err != nil {
		return fmt.Errorf("failed to start action consumer: %w", err)
	}

	if err := d.runsQueue.Consume(
		d.runConsumer(),
		queue.ConsumeOptions{Concurrency: d.config.Queues.Runs.Concurrency},
	); err != nil {
		return fmt.Errorf("failed to start run consumer: %w", err)
	}

	if d.eventServer != nil {
		if err := d.eventServer.Start(); err != nil {
			return fmt.Errorf("failed to start event server: %w", err)
		}
	}
	if d.admin != nil {
		if err := d.admin.Start(); err != nil {
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	d.maintenance.Start()
	d.logger.Info().Msg("Daemon started")
	return nil
}

// Stop shuts everything down in reverse order of Start
func (d *Daemon) Stop() error {
	d.logger.Info().Msg("Daemon stopping")

	d.maintenance.Stop()

	if d.admin != nil {
		if err := d.admin.Stop(context.Background()); err != nil {
			d.logger.Warn().Err(err).Msg("Admin server shutdown failed")
		}
	}
	if d.eventServer != nil {
		if err := d.eventServer.Stop(context.Background()); err != nil {
			d.logger.Warn().Err(err).Msg("Event server shutdown failed")
		}
	}

	if err := d.runsQueue.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Runs queue close failed")
	}
	if err := d.actionsQueue.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Actions queue close failed")
	}

	if err := d.profiles.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Profile manager stop failed")
	}
	if d.stateCloser != nil {
		if err := d.stateCloser(); err != nil {
			d.logger.Warn().Err(err).Msg("State store close failed")
		}
	}

	d.cancel()
	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(context.Background()); err != nil {
			d.logger.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}

	d.logger.Info().Dur("uptime", time.Since(d.startedAt)).Msg("Daemon stopped")
	return nil
}

// Uptime reports how long the daemon has been running
func (d *Daemon) Uptime() time.Duration {
	if d.startedAt.IsZero() {
		return 0
	}
	return time.Since(d.startedAt)
}

func (d *Daemon) queues() []*queue.Queue {
	return []*queue.Queue{d.runsQueue, d.actionsQueue}
}

func (d *Daemon) queueByName(name string) *queue.Queue {
	for _, q := range d.queues() {
		if q.Name() == name {
			return q
		}
	}
	return nil
}
