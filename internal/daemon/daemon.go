package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/forgechat/forgechat/internal/config"
	"github.com/forgechat/forgechat/internal/logger"
	"github.com/forgechat/forgechat/internal/maintenance"
	"github.com/forgechat/forgechat/internal/metrics"
	"github.com/forgechat/forgechat/pkg/audit"
	"github.com/forgechat/forgechat/pkg/chat"
	"github.com/forgechat/forgechat/pkg/engine"
	"github.com/forgechat/forgechat/pkg/gateway"
	"github.com/forgechat/forgechat/pkg/health"
	"github.com/forgechat/forgechat/pkg/permission"
	"github.com/forgechat/forgechat/pkg/reasoning"
	"github.com/forgechat/forgechat/pkg/session"
	"github.com/forgechat/forgechat/pkg/token"
	"github.com/forgechat/forgechat/pkg/tools"
)

// Daemon represents the forgechat daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	metrics     *metrics.Metrics
	codec       *token.Codec
	resolver    *permission.CachedResolver
	store       session.Store
	memStore    *session.MemoryStore
	toolBackend *tools.HTTPBackend
	registry    *tools.Registry
	toolGateway *tools.Gateway
	reasoner    reasoning.Client
	degrade     *health.Controller
	engine      *engine.Engine
	auditSink   audit.Sink

	// Services
	chatService   *chat.Service
	gatewayServer *gateway.Server
	maintenance   *maintenance.Runner

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

// initializeCoreModules initializes all core modules
func (d *Daemon) initializeCoreModules() error {
	d.metrics = metrics.NewMetrics()
	d.logger.Info().Msg("Metrics registry initialized")

	codec, err := token.New(token.Config{
		Secret: d.config.Session.TokenSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}
	d.codec = codec
	d.logger.Info().Msg("Token codec initialized")

	backendResolver, err := permission.NewBackendResolver(permission.BackendConfig{
		Endpoint: d.config.Permission.Endpoint,
		Token:    d.config.Permission.Token,
		Timeout:  d.config.Permission.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create permission resolver: %w", err)
	}
	d.resolver = permission.NewCachedResolver(backendResolver, d.config.Permission.CacheTTL)
	d.logger.Info().
		Dur("cache_ttl", d.config.Permission.CacheTTL).
		Msg("Permission resolver initialized")

	if err := d.initializeStore(); err != nil {
		return err
	}

	toolBackend, err := tools.NewHTTPBackend(tools.BackendConfig{
		Endpoint: d.config.Tools.Endpoint,
		Token:    d.config.Tools.Token,
		Timeout:  d.config.Tools.InvokeTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create tool backend: %w", err)
	}
	d.toolBackend = toolBackend

	registry, err := tools.NewRegistry(toolBackend, d.config.Tools.RefreshInterval)
	if err != nil {
		return fmt.Errorf("failed to create tool registry: %w", err)
	}
	d.registry = registry

	toolGateway, err := tools.NewGateway(registry, toolBackend, d.config.Tools.InvokeTimeout)
	if err != nil {
		return fmt.Errorf("failed to create tool gateway: %w", err)
	}
	d.toolGateway = toolGateway
	d.logger.Info().Msg("Tool gateway initialized")

	var client reasoning.Client
	switch d.config.Reasoning.Provider {
	case "openai":
		client = reasoning.NewOpenAIClient(d.config.Reasoning.APIKey, d.config.Reasoning.Model)
	default:
		client = reasoning.NewAnthropicClient(d.config.Reasoning.APIKey, d.config.Reasoning.Model)
	}
	d.reasoner = newMeteredReasoner(client, d.config.Reasoning.Timeout, d.metrics.ReasoningCallsTotal)
	d.logger.Info().
		Str("provider", client.Provider()).
		Msg("Reasoning client initialized")

	// No reasoning probe: providers expose no cheap health check, so
	// the controller relies on outcome reports from the engine.
	d.degrade = health.NewController(0, health.Probes{
		Tools: d.toolBackend.Ping,
		Store: func(ctx context.Context) error {
			_, err := d.store.Len(ctx)
			return err
		},
	})
	d.logger.Info().Msg("Degradation controller initialized")

	eng, err := engine.New(engine.Config{
		MaxIterations: d.config.Reasoning.MaxIterations,
	}, d.store, d.registry, d.toolGateway, d.reasoner, d.degrade)
	if err != nil {
		return fmt.Errorf("failed to create orchestration engine: %w", err)
	}
	d.engine = eng
	d.logger.Info().
		Int("max_iterations", d.config.Reasoning.MaxIterations).
		Msg("Orchestration engine initialized")

	if d.config.Audit.Enabled {
		sink, err := audit.NewSQLiteSink(audit.SQLiteConfig{
			DBPath:    d.config.Audit.Path,
			QueueSize: d.config.Audit.QueueSize,
			OnDrop:    d.metrics.AuditDropsTotal.Inc,
		})
		if err != nil {
			return fmt.Errorf("failed to create audit sink: %w", err)
		}
		d.auditSink = sink
		d.logger.Info().Str("path", d.config.Audit.Path).Msg("Audit sink initialized")
	} else {
		d.auditSink = audit.NopSink{}
		d.logger.Info().Msg("Audit disabled")
	}

	return nil
}

// initializeStore creates the session store for the configured backend.
func (d *Daemon) initializeStore() error {
	scfg := session.Config{
		Timeout:          d.config.Session.Timeout,
		RenewalThreshold: d.config.Session.RenewalThreshold,
		MaxHistory:       d.config.Session.MaxHistory,
		SensitiveMaxAge:  d.config.Permission.SensitiveMaxAge,
	}

	switch d.config.Session.Backend {
	case "redis":
		store, err := session.NewRedisStore(scfg, session.RedisConfig{
			Addr:      d.config.Session.Redis.Addr,
			Password:  d.config.Session.Redis.Password,
			DB:        d.config.Session.Redis.DB,
			KeyPrefix: d.config.Session.Redis.KeyPrefix,
		}, d.resolver, d.codec)
		if err != nil {
			return fmt.Errorf("failed to create redis session store: %w", err)
		}
		d.store = store
	case "memory":
		store, err := session.NewMemoryStore(scfg, d.resolver, d.codec)
		if err != nil {
			return fmt.Errorf("failed to create session store: %w", err)
		}
		d.store = store
		d.memStore = store
	default:
		return fmt.Errorf("unsupported session backend: %q", d.config.Session.Backend)
	}

	d.logger.Info().
		Str("backend", d.config.Session.Backend).
		Dur("timeout", d.config.Session.Timeout).
		Msg("Session store initialized")

	return nil
}

// initializeServices initializes all services
func (d *Daemon) initializeServices() error {
	svc, err := chat.New(chat.Config{
		RenewalThreshold: d.config.Session.RenewalThreshold,
	}, d.store, d.codec, d.engine, d.degrade, d.auditSink, d.metrics)
	if err != nil {
		return fmt.Errorf("failed to create chat service: %w", err)
	}
	d.chatService = svc
	d.logger.Info().Msg("Chat service initialized")

	gw, err := gateway.NewServer(gateway.Config{
		Host:         d.config.Server.Host,
		Port:         d.config.Server.Port,
		SharedSecret: d.config.Server.SharedSecret,
		TickInterval: d.config.Server.TickInterval,
		Service:      svc,
		Metrics:      d.metrics,
		Logger:       d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gw
	d.logger.Info().
		Str("host", d.config.Server.Host).
		Int("port", d.config.Server.Port).
		Msg("Gateway server initialized")

	// Refresh at half the descriptor TTL so the registry cache never
	// expires between passes. The sweep job only exists for the memory
	// backend, Redis expires session keys natively.
	jobs := maintenance.Jobs{
		Refresh: d.registry.RefreshNow,
		Probe:   d.probeHealth,
	}
	if d.memStore != nil {
		jobs.Sweep = d.sweepSessions
	}

	runner, err := maintenance.New(maintenance.Config{
		SweepInterval:   d.config.Session.SweepInterval,
		RefreshInterval: d.config.Tools.RefreshInterval / 2,
	}, jobs)
	if err != nil {
		return fmt.Errorf("failed to create maintenance runner: %w", err)
	}
	d.maintenance = runner
	d.logger.Info().Msg("Maintenance runner initialized")

	return nil
}

// sweepSessions evicts expired sessions and feeds the eviction counter.
func (d *Daemon) sweepSessions() int {
	evicted := d.memStore.EvictExpired()
	if evicted > 0 {
		d.metrics.SessionsEvicted.Add(float64(evicted))
		d.logger.Info().Int("evicted", evicted).Msg("Swept expired sessions")
	}
	return evicted
}

// probeHealth runs the active dependency probes and publishes the
// resulting degradation level.
func (d *Daemon) probeHealth(ctx context.Context) {
	d.degrade.Probe(ctx)
	d.metrics.DegradationLevel.Set(d.degrade.Level().Value())
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().Msg("Starting forgechat daemon")

	// Start maintenance scheduler; the boot catch-up runs kick off tool
	// discovery and the first dependency probe.
	d.maintenance.Start()
	d.logger.Info().Msg("Maintenance runner started")

	// Start gateway server
	if err := d.gatewayServer.Start(); err != nil {
		d.maintenance.Stop()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	d.logger.Info().Msg("Gateway server started")

	d.logger.Info().Msg("Daemon started successfully - session gateway active")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping forgechat daemon")

	// Stop gateway server first so no new turns arrive
	if err := d.gatewayServer.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	// Stop maintenance scheduler
	d.maintenance.Stop()

	// Close session store
	if err := d.store.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close session store")
	}

	// Close audit sink, draining queued entries
	if err := d.auditSink.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close audit sink")
	}

	d.logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Status holds daemon runtime information
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// Wait waits for the daemon to stop
func (d *Daemon) Wait() {
	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	// Stop daemon
	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetChatService returns the chat service
func (d *Daemon) GetChatService() *chat.Service {
	return d.chatService
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetMetrics returns the metrics registry
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}

// GetStore returns the session store
func (d *Daemon) GetStore() session.Store {
	return d.store
}

// GetRegistry returns the tool registry
func (d *Daemon) GetRegistry() *tools.Registry {
	return d.registry
}
