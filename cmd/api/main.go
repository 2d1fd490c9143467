package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mscan/mscan-core/internal/auth"
	"github.com/mscan/mscan-core/internal/config"
	"github.com/mscan/mscan-core/internal/events"
	"github.com/mscan/mscan-core/internal/handler"
	"github.com/mscan/mscan-core/internal/middleware"
	"github.com/mscan/mscan-core/internal/notify"
	"github.com/mscan/mscan-core/internal/ratelimit"
	"github.com/mscan/mscan-core/internal/repository"
	"github.com/mscan/mscan-core/internal/scheduler"
	"github.com/mscan/mscan-core/internal/service"
	"github.com/mscan/mscan-core/internal/tracing"
	mvalidator "github.com/mscan/mscan-core/internal/validator"
	"github.com/mscan/mscan-core/pkg/database"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if cfg.DB.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	limiter, cache := initLimiter(cfg)
	dispatcher, closeDispatcher := initDispatcher(cfg)
	publisher := initPublisher(cfg)
	rules := ratelimit.RulesFromConfig(cfg.RateLimit)
	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)

	// Repositories
	couponRepo := repository.NewCouponRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	otpRepo := repository.NewOTPRepository(pool)
	creditRepo := repository.NewCreditRepository(pool)
	tenantRepo := repository.NewTenantRepository(pool)
	appRepo := repository.NewAppRepository(pool)

	// Services
	otpService := service.NewOTPService(otpRepo, cfg.OTP.TTL, cfg.OTP.MaxAttempts)
	couponService := service.NewCouponService(pool, couponRepo, cfg.Scan.MaxBatchSize)
	sessionService := service.NewSessionService(sessionRepo, couponRepo, otpService, dispatcher, limiter, rules.OTPSendByMobile, cfg.Scan.SessionTTL)
	redemptionService := service.NewRedemptionService(pool, sessionRepo, couponRepo, creditRepo, otpService, publisher, cfg.Scan.SessionTTL)
	creditService := service.NewCreditService(pool, creditRepo)
	authService := service.NewAuthService(otpService, dispatcher, limiter, rules.LoginByMobile, tokens)

	app := fiber.New(fiber.Config{
		AppName:      "MScan Core",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
		ProxyHeader:  cfg.Server.ProxyHeader,
		ErrorHandler: handler.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(middleware.Metrics())
	app.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	var cachePinger handler.Pinger
	if cache != nil {
		cachePinger = handler.PingFunc(func(ctx context.Context) error { return cache.Ping(ctx).Err() })
	}

	validate := mvalidator.New()
	handler.Routes{
		Health:     handler.NewHealthHandler(pool, cachePinger),
		PublicScan: handler.NewPublicScanHandler(sessionService, redemptionService, validate),
		Partner:    handler.NewPartnerHandler(redemptionService, validate),
		Mobile:     handler.NewMobileHandler(authService, redemptionService, creditService, validate),
		Coupons:    handler.NewAdminCouponHandler(couponService, validate),

		Tenant: middleware.Tenant(tenantRepo, middleware.TenantOptions{
			BaseDomain: cfg.Tenant.BaseDomain,
			Default:    cfg.Tenant.Default,
		}),
		Consumer:     middleware.RequireRole(tokens, auth.RoleConsumer),
		Admin:        middleware.RequireRole(tokens, auth.RoleTenantAdmin, auth.RoleSuperAdmin),
		PartnerKey:   middleware.PartnerAPIKey(appRepo),
		StartLimit:   middleware.RateLimit(limiter, rules.StartByIP, middleware.ByIP),
		VerifyLimit:  middleware.RateLimit(limiter, rules.VerifyBySession, middleware.ByParam("sessionId")),
		PartnerLimit: middleware.RateLimit(limiter, rules.PartnerByApp, middleware.ByPartnerApp),
	}.Register(app)

	var sweeper *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sweeper = scheduler.New(sessionRepo, otpRepo, couponService, scheduler.Options{
			Spec:         cfg.Scheduler.SweepSpec,
			Timeout:      time.Duration(cfg.Scheduler.SweepTimeout) * time.Second,
			SessionTTL:   cfg.Scan.SessionTTL,
			SessionGrace: cfg.Scan.CleanupGrace,
			OTPGrace:     cfg.OTP.CleanupGrace,
		})
		if err := sweeper.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		return app.Listen(":" + cfg.Server.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		// Shutdown server (waits for in-flight requests)
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error during server shutdown")
		}
		if sweeper != nil {
			if err := sweeper.Stop(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("scheduler did not stop in time")
			}
		}
		closeAll(shutdownCtx, pool, cache, closeDispatcher, publisher, shutdownTracer)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// initLimiter returns the shared Redis limiter, or an in-process one when
// RATE_LIMIT_BACKEND=memory. The returned client is nil for the memory backend.
func initLimiter(cfg *config.Config) (ratelimit.Limiter, *redis.Client) {
	if cfg.RateLimit.Backend == "memory" {
		log.Warn().Msg("rate limits are per process (memory backend)")
		return ratelimit.NewMemoryLimiter(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return ratelimit.NewRedisLimiter(client, cfg.RateLimit.Prefix), client
}

// initDispatcher connects to RabbitMQ when configured and falls back to
// logging codes otherwise.
func initDispatcher(cfg *config.Config) (notify.Dispatcher, func()) {
	var base notify.Dispatcher = notify.LogDispatcher{}
	closeFn := func() {}
	if cfg.Notify.AMQPURL != "" {
		d, err := notify.NewAMQPDispatcher(cfg.Notify.AMQPURL, cfg.Notify.Exchange, cfg.Notify.RoutingKey)
		if err != nil {
			log.Error().Err(err).Msg("amqp unavailable, otp codes will only be logged")
		} else {
			base, closeFn = d, d.Close
		}
	}
	return notify.NewRetrying(base, cfg.Notify.MaxAttempts, cfg.Notify.Timeout), closeFn
}

func initPublisher(cfg *config.Config) events.Publisher {
	brokers := cfg.Events.Brokers()
	if len(brokers) == 0 {
		return events.NopPublisher{}
	}
	return events.NewKafkaPublisher(brokers, cfg.Events.ScanTopic)
}

// closeAll releases outbound connections after the server has drained.
func closeAll(ctx context.Context, pool *pgxpool.Pool, cache *redis.Client, closeDispatcher func(), publisher events.Publisher, shutdownTracer func(context.Context) error) {
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing event publisher")
	}
	closeDispatcher()
	if cache != nil {
		if err := cache.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis client")
		}
	}
	if err := shutdownTracer(ctx); err != nil {
		log.Warn().Err(err).Msg("error flushing traces")
	}

	// Close database pool AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
}
