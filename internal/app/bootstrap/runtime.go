package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/media-download-proxy/internal/adapters/cache"
	eventadapter "github.com/viralforge/media-download-proxy/internal/adapters/events"
	"github.com/viralforge/media-download-proxy/internal/adapters/extractor"
	httpadapter "github.com/viralforge/media-download-proxy/internal/adapters/http"
	"github.com/viralforge/media-download-proxy/internal/adapters/metrics"
	"github.com/viralforge/media-download-proxy/internal/adapters/postgres"
	"github.com/viralforge/media-download-proxy/internal/adapters/security"
	"github.com/viralforge/media-download-proxy/internal/application"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	health     *health.Server
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

// NewRuntime wires every adapter around the protection pipeline. Redis and
// Postgres are optional: without them sessions live in memory and security
// events only reach the log.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.Development() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)
	logger.Info("bootstrapping media download proxy",
		"environment", cfg.Environment,
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"store_backend", cfg.StoreBackend,
	)

	var closers []func() error
	cleanup := func(context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup(ctx)
		return nil, err
	}
	var readiness []func(context.Context) error

	hashKey := cfg.SessionHashKey
	if hashKey == "" {
		logger.Warn("using ephemeral session hash key; sessions will not survive a restart")
		hashKey, err = randomKey()
		if err != nil {
			return fail(fmt.Errorf("generate session hash key: %w", err))
		}
	}
	hasher, err := security.NewTokenHasher(hashKey)
	if err != nil {
		return fail(fmt.Errorf("init token hasher: %w", err))
	}

	var (
		sessions ports.SessionStore
		windows  ports.WindowStore
	)
	switch cfg.StoreBackend {
	case StoreBackendRedis:
		redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, redisClient.Close)
		readiness = append(readiness, redisReady(redisClient))
		sessions = cacheadapter.NewRedisSessionStore(redisClient)
		windows = cacheadapter.NewRedisWindowStore(redisClient)
	default:
		mem := cacheadapter.NewMemoryStore()
		sessions, windows = mem, mem
	}

	var (
		audit  ports.AuditRepository
		outbox *eventadapter.OutboxWorker
	)
	sinks := eventadapter.FanoutSink{eventadapter.NewLogSink(logger)}
	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.MaxDBConns,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return fail(err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fail(fmt.Errorf("gorm sql db: %w", err))
		}
		closers = append(closers, sqlDB.Close)
		readiness = append(readiness, dbReady(db))

		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
		repos := postgres.NewRepositories(db)
		audit = repos.Audit
		sinks = append(sinks, eventadapter.NewOutboxSink(repos.Outbox))

		publisher, err := newPublisher(cfg, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, publisher.Close)
		outbox = eventadapter.NewOutboxWorker(logger, repos.Outbox, publisher, eventadapter.OutboxWorkerConfig{
			Interval:   cfg.OutboxPollInterval,
			BatchSize:  cfg.OutboxBatchSize,
			ClaimTTL:   cfg.OutboxClaimTTL,
			MaxRetries: cfg.OutboxMaxRetries,
		})
	} else {
		logger.Warn("DB_URL not set; security events and DMCA records are only logged")
	}

	mediaExtractor, err := extractor.NewRapidAPIClient(extractor.Config{
		BaseURL:    cfg.ExtractorURL,
		Host:       cfg.RapidAPIHost,
		APIKey:     cfg.RapidAPIKey,
		HTTPClient: &http.Client{Timeout: cfg.Pipeline.DownloadTimeout},
	})
	if err != nil {
		return fail(fmt.Errorf("init extractor: %w", err))
	}

	captcha, err := newCaptchaVerifier(cfg)
	if err != nil {
		return fail(fmt.Errorf("init captcha verifier: %w", err))
	}

	prom := metrics.NewPrometheus()
	svc := application.NewService(application.Dependencies{
		Config:    cfg.Pipeline,
		Sessions:  sessions,
		Windows:   windows,
		Hasher:    hasher,
		Extractor: mediaExtractor,
		Captcha:   captcha,
		Audit:     audit,
		Events:    sinks,
		Metrics:   prom,
	})
	logLimits(logger, cfg)

	handler := httpadapter.NewHandler(svc, httpadapter.Options{
		Development:   cfg.Development(),
		AllowedOrigin: cfg.AllowedOrigin,
		Metrics:       prom.Handler(),
		Ready: func(ctx context.Context) error {
			for _, check := range readiness {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		health:     healthSrv,
		outbox:     outbox,
		cleanupFn:  cleanup,
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}
	r.grpcLis = lis

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	r.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	if r.outbox == nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("outbox worker requires DB_URL")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}

type closablePublisher interface {
	ports.EventPublisher
	Close() error
}

func newPublisher(cfg Config, logger *slog.Logger) (closablePublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set; outbox events are relayed to the log")
		return eventadapter.NewLoggingPublisher(logger), nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, nil
}

func newCaptchaVerifier(cfg Config) (ports.CaptchaVerifier, error) {
	if cfg.CaptchaPassSecret != "" {
		return security.NewPassTokenVerifier(cfg.CaptchaPassSecret, cfg.CaptchaPassAudience)
	}
	return security.NewLengthVerifier(cfg.CaptchaMinTokenLength), nil
}

func redisReady(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func dbReady(db *gorm.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func logLimits(logger *slog.Logger, cfg Config) {
	p := cfg.Pipeline
	logger.Info("protection limits active",
		"session_timeout", p.SessionTimeout.String(),
		"rate_limit", fmt.Sprintf("%d/%s", p.RateLimitMaxRequests, p.RateLimitWindow),
		"captcha_threshold", p.CaptchaScoreThreshold,
		"ban_threshold", p.BanScoreThreshold,
		"ban_duration", p.BanDuration.String(),
		"max_file_size_mb", p.MaxFileSizeMB,
		"daily_bandwidth_mb", p.DailyBandwidthMB,
		"dmca_limit", fmt.Sprintf("%d/%s", p.DMCAMaxRequests, p.DMCAWindow),
		"captcha_mode", captchaMode(cfg),
	)
}

func captchaMode(cfg Config) string {
	if cfg.CaptchaPassSecret != "" {
		return "pass_token"
	}
	return "token_length"
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
