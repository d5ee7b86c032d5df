package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/grpcx"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/grpcapi"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service)
	defer func() { _ = logger.Sync() }()

	if err := run(logger, service); err != nil {
		logger.Fatal("booking service failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, service string) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	step, err := config.Int("SLOT_STEP_MINUTES", 5)
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(service)
	if err != nil {
		return err
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	st, err := openStores(ctx, logger)
	if err != nil {
		return err
	}
	defer st.close()

	reg := metrics.New()
	svc := booking.New(booking.Deps{
		Tenants:            st.tenants,
		Settings:           st.settings,
		Appointments:       st.appointments,
		Clock:              timegrid.SystemClock{},
		Logger:             logger.Named("booking"),
		Metrics:            reg,
		Cache:              st.cache,
		DefaultStepMinutes: step,
	})

	if err := startEvents(ctx, logger, st, svc); err != nil {
		return err
	}

	authMiddleware, err := authFromEnv(logger)
	if err != nil {
		return err
	}
	httpHandler, err := httpStack(logger, handlers.NewRouter(handlers.RouterDeps{
		Engine:      svc,
		Settings:    svc,
		Metrics:     reg,
		Logger:      logger.Named("http"),
		ReadyChecks: st.readyChecks,
		Auth:        authMiddleware,
	}), st)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpcx.ServerOptions(logger.Named("grpc"))...)
	grpcapi.Register(grpcServer, svc)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc server starting", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	runtime.Shutdown(logger, 10*time.Second,
		runtime.Stopper{Name: "grpc-health", Stop: func(context.Context) error {
			healthServer.Shutdown()
			return nil
		}},
		runtime.Stopper{Name: "http", Stop: srv.Shutdown},
		runtime.Stopper{Name: "grpc", Stop: func(ctx context.Context) error {
			return grpcx.GracefulStop(ctx, grpcServer)
		}},
	)
	return nil
}

// authFromEnv enables bearer tokens when a secret or JWKS URL is configured.
func authFromEnv(logger *zap.Logger) (httpx.Middleware, error) {
	secret := config.String("AUTH_JWT_SECRET", "")
	jwksURL := config.String("AUTH_JWKS_URL", "")
	if secret == "" && jwksURL == "" {
		logger.Warn("auth disabled; callers name their own actor")
		return nil, nil
	}
	var jwks *auth.JWKSClient
	if jwksURL != "" {
		ttl, err := config.Duration("AUTH_JWKS_TTL", 5*time.Minute)
		if err != nil {
			return nil, err
		}
		jwks = auth.NewJWKSClient(jwksURL, ttl)
	}
	return auth.Middleware(auth.NewVerifier(secret, jwks), config.Bool("AUTH_REQUIRED", false), logger.Named("auth")), nil
}

// httpStack wraps the router with the outer middleware. Rate limiting uses
// Redis when it is configured so every replica shares one budget.
func httpStack(logger *zap.Logger, router http.Handler, st *stores) (http.Handler, error) {
	timeout, err := config.Duration("REQUEST_TIMEOUT_SECONDS", 15*time.Second)
	if err != nil {
		return nil, err
	}
	bodyLimit, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	perMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}
	corsMaxAge, err := config.Duration("CORS_MAX_AGE", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	var limit httpx.Middleware
	if st.redis != nil {
		limit = httpx.NewRedisRateLimiter(st.redis, perMinute, time.Minute, "apptbook:rl").
			WithKey(handlers.TenantClientKey).
			Middleware(logger.Named("ratelimit"), config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	} else {
		limit = httpx.NewRateLimiter(perMinute, time.Minute).
			WithKey(handlers.TenantClientKey).
			Middleware()
	}

	return httpx.Chain(router,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger.Named("access")),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           corsMaxAge,
		}),
		limit,
		httpx.WithBodyLimit(int64(bodyLimit)),
		httpx.WithTimeout(timeout),
	), nil
}
