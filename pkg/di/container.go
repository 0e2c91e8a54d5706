package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"persona-ritual/backend/ai"
	"persona-ritual/backend/api"
	"persona-ritual/backend/internal/repository"
	"persona-ritual/backend/internal/service"
	"persona-ritual/backend/internal/ws"
	"persona-ritual/backend/pkg/cache"
	"persona-ritual/backend/pkg/config"
	"persona-ritual/backend/pkg/health"
	"persona-ritual/backend/pkg/jwt"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/pkg/resilience"
	"persona-ritual/backend/pkg/secrets"
	"persona-ritual/backend/pkg/validator"
	"persona-ritual/backend/shared/observability"
	sharedredis "persona-ritual/backend/shared/redis"

	grpchealth "google.golang.org/grpc/health"
	"gorm.io/gorm"
)

// Generative is everything the engines need from the model
type Generative interface {
	service.PersonaGenerator
	service.ReplyGenerator
	service.Moderator
}

// Container holds all the dependencies for the application
type Container struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *gorm.DB // nil unless a SQL driver is configured
	Store      repository.Store
	JWTService *jwt.Service
	AI         Generative
	Breaker    *resilience.CircuitBreaker // nil when the model is disabled

	Metrics        *observability.Metrics
	MetricsHandler http.Handler // nil when metrics are disabled

	SurveyService    *service.SurveyEngine
	SynthesisService *service.SynthesisEngine
	ChatService      *service.ChatEngine

	Presence ws.PresenceStore
	Hub      *ws.Hub
	Relay    *ws.Relay

	Health     *health.Checker
	GRPCHealth *grpchealth.Server
	Validator  *validator.OpenAPIValidator

	tokens  *cache.Cache[string]
	closers []func(context.Context) error
}

// Options overrides parts of the wiring, mostly for tests
type Options struct {
	// Store replaces the configured database
	Store repository.Store
	// AI replaces the configured model
	AI Generative
	// Secrets replaces the Vault/environment secrets manager
	Secrets secrets.Manager
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	c := &Container{Config: cfg, Logger: log}

	if err := c.resolveSecrets(ctx, opts.Secrets); err != nil {
		return nil, err
	}

	if err := c.initObservability(); err != nil {
		c.Close(ctx)
		return nil, err
	}

	if err := c.initStore(opts.Store); err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.JWTService = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)
	if cfg.JWT.Secret == "" {
		if cfg.IsProduction() {
			c.Close(ctx)
			return nil, errors.New("JWT_SECRET is required in production")
		}
		log.Warn("JWT_SECRET not set, using the development secret")
	}

	if err := c.initAI(ctx, opts.AI); err != nil {
		c.Close(ctx)
		return nil, err
	}

	if err := c.initServices(); err != nil {
		c.Close(ctx)
		return nil, err
	}

	if err := c.initRealtime(); err != nil {
		c.Close(ctx)
		return nil, err
	}

	if err := c.initValidator(); err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.initHealth()
	return c, nil
}

func (c *Container) resolveSecrets(ctx context.Context, manager secrets.Manager) error {
	if manager == nil {
		vault, err := secrets.NewVaultManager(secrets.VaultConfigFromConfig(c.Config), c.Logger)
		if err != nil {
			return fmt.Errorf("failed to create secrets manager: %w", err)
		}
		manager = vault
	}
	if err := secrets.Resolve(ctx, manager, c.Config, c.Logger); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return nil
}

func (c *Container) initObservability() error {
	cfg := c.Config.Observability

	if cfg.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.ServiceName, nil)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, shutdown)
	}

	if !cfg.MetricsEnabled {
		c.Metrics = observability.NewNopMetrics()
		return nil
	}

	provider, handler, err := observability.SetupPrometheusMetrics()
	if err != nil {
		return err
	}
	c.closers = append(c.closers, provider.Shutdown)

	metrics, err := observability.NewMetrics(provider.Meter(cfg.ServiceName))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	c.Metrics = metrics
	c.MetricsHandler = handler
	return nil
}

func (c *Container) initStore(store repository.Store) error {
	if store != nil {
		c.Store = store
		return nil
	}

	var (
		db  *gorm.DB
		err error
	)
	switch c.Config.Database.Driver {
	case "memory":
		c.Logger.Warn("Using the in-memory store, data is lost on restart")
		c.Store = repository.NewMemoryStore()
		return nil
	case "sqlite":
		db, err = config.NewSQLiteDB(c.Config)
	case "postgres", "":
		db, err = config.NewDB(c.Config, c.Logger)
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Config.Database.Driver)
	}
	if err != nil {
		return err
	}

	c.closers = append(c.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := repository.Migrate(db); err != nil {
		return err
	}

	c.DB = db
	c.Store = repository.NewGormStore(db)
	return nil
}

func (c *Container) initAI(ctx context.Context, override Generative) error {
	if override != nil {
		c.AI = override
		return nil
	}

	if !ai.Configured(c.Config) {
		c.Logger.Warn("Generative model not configured, failure policies answer every call")
		c.AI = ai.Disabled{}
		return nil
	}

	chatModel, err := ai.NewChatModel(ctx, c.Config)
	if err != nil {
		return err
	}

	c.Breaker = resilience.NewCircuitBreaker(resilience.Config{
		Name:             "ark",
		FailureThreshold: uint(max(c.Config.AI.CircuitFailures, 1)),
		SuccessThreshold: 1,
		RetryTimeout:     c.Config.AI.CircuitRetry,
	}, c.Logger)

	client, err := ai.NewClient(ctx, chatModel, ai.Options{
		Logger:      c.Logger,
		Breaker:     c.Breaker,
		Temperature: c.Config.AI.Temperature,
		MaxTokens:   c.Config.AI.MaxTokens,
	})
	if err != nil {
		return err
	}
	c.AI = client
	return nil
}

func (c *Container) initServices() error {
	cfg := c.Config

	onGenFail, err := service.GenerationPolicy(cfg.AI.GenerationFailurePolicy)
	if err != nil {
		return err
	}
	onModFail, err := service.ModerationPolicy(cfg.AI.ModerationFailurePolicy)
	if err != nil {
		return err
	}

	// Token to id resolutions never change, entries only leave when the cache is full.
	if cfg.Cache.Enabled {
		c.tokens = cache.New[string](cache.Options{
			MaxItems:    cfg.Cache.MaxSize,
			PurgeWindow: cfg.Cache.PurgeWindow,
		})
		c.closers = append(c.closers, func(context.Context) error {
			c.tokens.Close()
			return nil
		})
	}

	c.SurveyService = service.NewSurveyEngine(c.Store, service.SurveyConfig{
		DefaultMinResponses:  cfg.Survey.DefaultMinResponses,
		TTL:                  cfg.Survey.TTL,
		FrontendURL:          cfg.Server.FrontendURL,
		FingerprintMinLength: cfg.Security.FingerprintMinLength,
	}, c.tokens, c.Metrics, c.Logger)

	c.SynthesisService = service.NewSynthesisEngine(
		c.Store, c.Store, c.AI, onGenFail, cfg.AI.RequestTimeout, c.Metrics, c.Logger,
	)

	c.ChatService = service.NewChatEngine(c.Store, c.Store, c.AI, c.AI, onGenFail, onModFail, service.ChatConfig{
		HistoryLimit:      cfg.Chat.HistoryLimit,
		ContextWindow:     cfg.Chat.ContextWindow,
		MaxContentLength:  cfg.Chat.MaxContentLen,
		GenerationTimeout: cfg.AI.RequestTimeout,
		ModerationTimeout: cfg.AI.ModerationTimeout,
	}, c.Metrics, c.Logger)

	return nil
}

func (c *Container) initRealtime() error {
	cfg := c.Config.Realtime

	switch cfg.PresenceBackend {
	case "redis":
		client := sharedredis.NewClient(sharedredis.OptionsFromConfig(c.Config))
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		c.Presence = ws.NewRedisPresence(client)
	case "memory", "":
		c.Presence = ws.NewMemoryPresence()
	default:
		return fmt.Errorf("unknown PRESENCE_BACKEND %q", cfg.PresenceBackend)
	}

	// One event may moderate, generate and write, so it gets the sum of those budgets.
	eventTimeout := c.Config.AI.RequestTimeout + c.Config.AI.ModerationTimeout + c.Config.Database.Timeout

	c.Hub = ws.NewHub(c.Metrics, c.Logger)
	c.Relay = ws.NewRelay(c.ChatService, c.Presence, c.Hub, ws.NewJWTAuthenticator(c.JWTService), eventTimeout, c.Logger)
	return nil
}

func (c *Container) initValidator() error {
	var err error
	if path := c.Config.Security.OpenAPISchemaPath; path != "" {
		c.Validator, err = validator.LoadOpenAPIValidator(path)
	} else {
		c.Validator, err = validator.NewOpenAPIValidator(api.OpenAPI)
	}
	return err
}

func (c *Container) initHealth() {
	c.Health = health.NewChecker(c.Logger, 30*time.Second, c.Config.Server.Version)
	c.Health.RegisterDatabaseCheck(c.Store.Ping)
	c.Health.RegisterPresenceCheck(c.Presence.Ping)
	if c.Breaker != nil {
		c.Health.RegisterCircuitCheck("ai", c.Breaker)
	}

	c.GRPCHealth = grpchealth.NewServer()
	c.Health.AttachGRPC(c.GRPCHealth)
}

// Start launches the background workers. They stop when ctx is cancelled.
func (c *Container) Start(ctx context.Context) {
	go c.Hub.Run(ctx)
	c.Health.Start(ctx)
}

// Close releases everything New opened, newest first
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
