// Package app wires the POS daemon together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Kellyhimself/POS-sub002/internal/auth"
	"github.com/Kellyhimself/POS-sub002/internal/config"
	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/event"
	handler "github.com/Kellyhimself/POS-sub002/internal/handler/http"
	"github.com/Kellyhimself/POS-sub002/internal/identity"
	"github.com/Kellyhimself/POS-sub002/internal/mode"
	"github.com/Kellyhimself/POS-sub002/internal/ratelimit"
	"github.com/Kellyhimself/POS-sub002/internal/remote"
	"github.com/Kellyhimself/POS-sub002/internal/remote/memory"
	"github.com/Kellyhimself/POS-sub002/internal/remote/postgres"
	"github.com/Kellyhimself/POS-sub002/internal/service"
	"github.com/Kellyhimself/POS-sub002/internal/store"
	"github.com/Kellyhimself/POS-sub002/internal/syncer"
	"github.com/Kellyhimself/POS-sub002/internal/taxgateway"
	"github.com/Kellyhimself/POS-sub002/pkg/database"
	"github.com/Kellyhimself/POS-sub002/pkg/health"
	pkgkafka "github.com/Kellyhimself/POS-sub002/pkg/kafka"
	"github.com/Kellyhimself/POS-sub002/pkg/logger"
	"github.com/Kellyhimself/POS-sub002/pkg/tracing"
)

// Version is reported to tracing and by the CLI. Set via ldflags.
var Version = "dev"

const (
	serviceName     = "posd"
	remoteGateKey   = "remote"
	identityTimeout = 10 * time.Second
)

// App wires together all dependencies and runs the POS daemon.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	deviceID string

	store    *store.Store
	mode     *mode.Manager
	prober   *mode.Prober
	auth     *auth.Manager
	engine   *syncer.Engine
	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *pkgkafka.Producer

	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Only the local store is mandatory: every remote dependency may be
// unreachable at boot, since the till must start offline.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// Durable local store.
	sqliteCfg := database.DefaultSQLiteConfig(cfg.DBPath)
	sqliteCfg.BusyTimeout = cfg.DBBusyTimeout
	a.store, err = store.Open(ctx, sqliteCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, "local", database.SQLDBStats(a.store.DB())); err != nil {
		return nil, fmt.Errorf("register local store metrics: %w", err)
	}
	if cfg.SlowQueryThresh > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThresh, logger)
	}

	a.deviceID, err = a.store.DeviceID(ctx, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("resolve device id: %w", err)
	}
	logger.Info("local store ready",
		slog.String("path", cfg.DBPath),
		slog.String("device_id", a.deviceID),
	)

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		DeviceID:       a.deviceID,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Mode manager. With a probe configured the device starts offline and
	// the first probe decides; without one it assumes connectivity.
	a.mode = mode.NewManager(mode.Config{
		Preference: domain.Preference(cfg.ModePreference),
		Threshold:  cfg.OfflineSwitchDelay,
		Connected:  cfg.ConnectivityProbeURL == "",
	}, logger)
	if cfg.ConnectivityProbeURL != "" {
		a.prober = mode.NewProber(cfg.ConnectivityProbeURL, cfg.ConnectivityProbeTick, a.mode, logger)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("local_store", a.store.Ping)

	// Rate limiting.
	windows := a.windowStore(ctx, healthHandler)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequests: cfg.RateLimitMaxRequests,
		Window:      cfg.RateLimitWindow,
	}, windows, logger)
	retry := ratelimit.RetryPolicy{
		MaxRetries:     cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		JitterFraction: 0.1,
	}
	remoteGate := ratelimit.NewGate(nil, retry, cfg.MaxConcurrentRequests, logger)
	taxGate := ratelimit.NewGate(limiter, retry, cfg.MaxConcurrentRequests, logger)

	// Remote system of record.
	rem, err := a.remote(ctx)
	if err != nil {
		return nil, err
	}
	healthHandler.RegisterOptional("remote", rem.Ping)

	taxClient := taxgateway.New(taxgateway.Config{
		BaseURL: cfg.TaxGatewayURL,
		Token:   cfg.TaxGatewayToken,
		Timeout: cfg.TaxGatewayTimeout,
	}, logger)
	if cfg.TaxGatewayURL == "" {
		logger.Warn("ETIMS_BASE_URL not set, invoices stay queued until it is configured")
	}

	// Sync outcome events.
	var eventProducer event.Producer
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		eventProducer = a.producer
		healthHandler.RegisterOptional("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	publisher := event.NewPublisher(eventProducer, cfg.KafkaTopic, cfg.StoreID, a.deviceID, logger)

	// Sync engine.
	a.engine = syncer.NewEngine(syncer.Config{
		StoreID:  cfg.StoreID,
		Interval: cfg.SyncInterval,
	}, a.store, a.mode, []syncer.Handler{
		syncer.NewSalesHandler(rem, remoteGate, remoteGateKey),
		syncer.NewStockHandler(rem, remoteGate, remoteGateKey, cfg.StockBatchSize),
		syncer.NewProductsHandler(rem, remoteGate, remoteGateKey, 0, a.store, logger),
		syncer.NewTaxHandler(taxClient, taxGate, "etims:"+cfg.StoreID),
	}, logger, syncer.WithEvents(publisher))

	// Auth manager.
	if cfg.IdentityURL == "" {
		logger.Warn("IDENTITY_BASE_URL not set, only offline sign-in is possible")
	}
	a.auth = auth.NewManager(a.store, identity.New(cfg.IdentityURL, identityTimeout, logger), a.mode, auth.Config{
		SessionTTL: cfg.OfflineSessionTTL,
		StoreID:    cfg.StoreID,
	}, logger)
	if sess, err := a.auth.Restore(ctx); err != nil {
		logger.Warn("stored session not restored", slog.String("error", err.Error()))
	} else if sess != nil {
		logger.Info("session restored",
			slog.String("user_id", sess.UserID),
			slog.String("mode", string(sess.Mode)),
		)
	}

	a.mode.Subscribe(a.auth.OnModeChanged)
	a.mode.Subscribe(a.engine.OnModeChanged)

	posService := service.NewPOSService(a.store, a.engine, a.mode, cfg.StoreID, logger)

	// HTTP router.
	router := handler.NewRouter(handler.Dependencies{
		Auth:        a.auth,
		Mode:        a.mode,
		Sync:        a.engine,
		POS:         posService,
		Health:      healthHandler,
		CORSOrigins: cfg.AllowedOrigins,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// windowStore returns the shared Redis window store when configured and
// reachable, else the in-process one.
func (a *App) windowStore(ctx context.Context, healthHandler *health.Handler) ratelimit.WindowStore {
	if a.cfg.RedisAddr == "" {
		return ratelimit.NewMemoryStore()
	}
	redisCfg := database.DefaultRedisConfig(a.cfg.RedisAddr)
	redisCfg.Password = a.cfg.RedisPassword
	redisCfg.DB = a.cfg.RedisDB

	client, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		a.logger.Warn("redis unavailable, rate-limit windows stay in process",
			slog.String("addr", a.cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		return ratelimit.NewMemoryStore()
	}
	a.redis = client
	healthHandler.RegisterOptional("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	a.logger.Info("rate-limit windows shared via redis", slog.String("addr", a.cfg.RedisAddr))
	return ratelimit.NewRedisStore(client, "pos:ratelimit:")
}

// remote returns the Postgres system of record, or an in-process one when
// no URL is configured.
func (a *App) remote(ctx context.Context) (remote.SystemOfRecord, error) {
	if a.cfg.RemoteDatabaseURL == "" {
		a.logger.Warn("REMOTE_DATABASE_URL not set, syncing against an in-process remote")
		return memory.New(), nil
	}

	pgCfg := database.DefaultPostgresConfig(a.cfg.RemoteDatabaseURL)
	pgCfg.MaxConns = a.cfg.RemoteMaxConns
	pool, err := database.NewPostgresPool(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("create remote pool: %w", err)
	}
	a.pool = pool
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, "remote", database.PgxPoolStats(pool)); err != nil {
		return nil, fmt.Errorf("register remote pool metrics: %w", err)
	}
	return postgres.New(pool, a.logger), nil
}

// Run starts the sync engine, the connectivity prober and the HTTP server,
// then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	// Background sync work logs and traces with the till's identity.
	ctx = logger.WithDeviceID(logger.WithStoreID(ctx, a.cfg.StoreID), a.deviceID)

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start sync engine: %w", err)
	}

	if a.prober != nil {
		go a.prober.Run(ctx)
	}

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Drain whatever was queued while the daemon was down.
	if a.mode.IsOnline() {
		a.engine.TriggerAll()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Sync engine (finish or cancel running cycles)
// 3. Mode manager timers and listeners
// 4. Tracer (flush pending spans)
// 5. Kafka producer, Redis client, remote pool
// 6. Local store
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Stop sync workers before the store goes away.
	a.engine.Stop()

	// 3. No mode transitions after this point.
	a.mode.Close()

	// 4. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5 and 6.
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases connections and the local store. It tolerates a
// partially built App.
func (a *App) closeResources() error {
	var errs []error
	if a.mode != nil {
		a.mode.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("local store close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
