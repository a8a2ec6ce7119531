package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jmconsultingid/korapay-bridge/internal/charge"
	"github.com/jmconsultingid/korapay-bridge/internal/config"
	"github.com/jmconsultingid/korapay-bridge/internal/health"
	"github.com/jmconsultingid/korapay-bridge/internal/korapay"
	"github.com/jmconsultingid/korapay-bridge/internal/lock"
	"github.com/jmconsultingid/korapay-bridge/internal/obs"
	"github.com/jmconsultingid/korapay-bridge/internal/order"
	"github.com/jmconsultingid/korapay-bridge/internal/reconcile"
	"github.com/jmconsultingid/korapay-bridge/internal/resilience"
)

const metricsNamespace = "korabridge"

type deps struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func (d deps) PingDB(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.pool.Ping(ctx)
}

func (d deps) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.redis.Ping(ctx).Err()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("json", "info")
		logger.Fatal().Err(err).Msg("load configuration")
	}

	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL"))
	logger = logger.With().Str("service", "korapay-bridge").Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	obs.MustRegisterDomainMetrics(metricsNamespace, registry)
	registry.MustRegister(resilience.BreakerState, resilience.BreakerTransitions, resilience.BreakerOpenedTotal)
	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(os.Getenv("OBS_HTTP_BUCKETS_MS")), registry)

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   "korapay-bridge",
		Endpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Exporter:      os.Getenv("OBS_TRACE_EXPORTER"),
		SamplingRatio: parseRatio(os.Getenv("OBS_TRACE_SAMPLING_RATIO")),
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracer")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database url")
	}
	poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "korapay-bridge"
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Warn().Err(err).Msg("instrument redis tracing")
	}

	store := order.NewPGStore(pool)

	breaker := resilience.NewBreaker(10, 0.5, 30*time.Second).
		WithTarget("korapay").
		WithLogger(logger)
	korapayClient := &korapay.Client{
		BaseURL: cfg.KorapayBaseURL,
		Credentials: korapay.Credentials{
			LiveSecretKey: cfg.KorapayLiveSecretKey,
			TestSecretKey: cfg.KorapayTestSecretKey,
			LiveMode:      cfg.KorapayLiveMode,
		},
		HTTP: resilience.HTTPClient{
			Client: &http.Client{
				Transport: otelhttp.NewTransport(http.DefaultTransport),
				Timeout:   cfg.ChargeTimeout,
			},
			Breaker:     breaker,
			MaxAttempts: cfg.ChargeMaxAttempts,
			BaseBackoff: cfg.ChargeBackoff,
			Timeout:     cfg.ChargeTimeout,
		},
		Timeout: cfg.ChargeTimeout,
	}

	chargeSettings := charge.Settings{
		Currency:          cfg.SettlementCurrency,
		AllowedCurrencies: cfg.AllowedCurrencies,
		ExchangeRate:      cfg.ExchangeRate,
		RedirectURL:       cfg.ReturnURL(),
		NotificationURL:   cfg.WebhookURL(),
		Narration:         cfg.GatewayTitle,
	}
	chargeHandler := &charge.Handler{
		Service: &charge.Service{
			Store:    store,
			Client:   korapayClient,
			Settings: chargeSettings,
			LiveMode: cfg.KorapayLiveMode,
			Log:      logger,
		},
		Store:    store,
		Validate: validator.New(),
		Gateway: charge.Gateway{
			Title:             cfg.GatewayTitle,
			Description:       cfg.GatewayDescription,
			LiveMode:          cfg.KorapayLiveMode,
			PublicKey:         cfg.PublicKey(),
			WebhookURL:        cfg.WebhookURL(),
			AllowedCurrencies: cfg.AllowedCurrencies,
		},
		Log: logger,
	}

	webhook := &reconcile.Webhook{
		Reconciler: &reconcile.Reconciler{
			Store:   store,
			Locker:  lock.Locker{R: rdb},
			LockTTL: cfg.ReconcileLockTTL,
			Log:     logger,
		},
		Secret:           cfg.SecretKey(),
		RequireSignature: cfg.RequireSignature,
		Replay:           rdb,
		ReplayTTL:        cfg.WebhookReplayTTL,
		Log:              logger,
	}

	healthHandler := health.Handler{Checker: deps{pool: pool, redis: rdb}}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	router.Use(obs.RoutePatternMiddleware)
	router.Use(obs.TracingMiddleware)
	router.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	router.Use(obs.RequestLogger{Logger: logger}.Middleware)

	router.Get("/health/live", healthHandler.Live)
	router.Get("/health/ready", healthHandler.Ready)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	router.Route("/api/v1", func(r chi.Router) {
		chargeHandler.Routes(r)
		r.Post("/webhooks/korapay", webhook.Handle)
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Bool("live_mode", cfg.KorapayLiveMode).
			Msg("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func parseRatio(value string) float64 {
	ratio, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 1
	}
	return ratio
}
