package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/gatekeeper/internal/cache"
	"github.com/nkiryanov/gatekeeper/internal/db"
	"github.com/nkiryanov/gatekeeper/internal/handlers"
	"github.com/nkiryanov/gatekeeper/internal/handlers/middleware"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/observability"
	"github.com/nkiryanov/gatekeeper/internal/observability/errstatus"
	"github.com/nkiryanov/gatekeeper/internal/repository"
	"github.com/nkiryanov/gatekeeper/internal/repository/postgres"
	"github.com/nkiryanov/gatekeeper/internal/service/auth"
	"github.com/nkiryanov/gatekeeper/internal/service/ratelimit"
	"github.com/nkiryanov/gatekeeper/internal/service/token"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	evictor *cache.Evictor
	pool    *pgxpool.Pool
	logger  logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	app, err := newServerApp(c, pool, l)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return app, nil
}

func newServerApp(c *Config, pool *pgxpool.Pool, l logger.Logger) (*ServerApp, error) {
	errs := errstatus.New()
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokens, err := token.New(token.Config{SecretKey: c.SecretKey, MaxAge: c.MaxAges()})
	if err != nil {
		return nil, fmt.Errorf("error while creating token service. Err: %w", err)
	}

	accounts, err := auth.NewService(auth.Config{}, tokens, storage.Principal(), l)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	var buckets repository.BucketRepo = storage.Bucket()
	if c.Store == StoreMemory {
		buckets = ratelimit.NewMemoryStore()
	}

	limiters, err := ratelimit.NewSet(ratelimit.SetConfig{
		Limits:       c.Limits(),
		Policy:       c.FailurePolicy(),
		StoreTimeout: c.RateLimit.StoreTimeout,
	}, buckets, errs, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating rate limiters. Err: %w", err)
	}

	registry, err := observability.NewRegistry(errs)
	if err != nil {
		return nil, fmt.Errorf("error while creating metrics registry. Err: %w", err)
	}

	proxies, err := middleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, err
	}

	principals := cache.New[string, models.Principal]()
	public := middleware.NewRoutes(c.PublicRoutes)
	authAttempts := middleware.NewRoutes(middleware.DefaultAuthAttemptRoutes)

	pipeline := middleware.Pipeline(middleware.PipelineConfig{
		Tokens:     tokens,
		Directory:  accounts,
		Principals: principals,
		Limiters: middleware.Limiters{
			Auth:           limiters.Get(ratelimit.Auth),
			API:            limiters.Get(ratelimit.API),
			AuthAttempts:   authAttempts,
			TrustedProxies: proxies,
		},
		Public: public,
		Errors: errs,
		Logger: l,
	})

	router := handlers.NewRouter(handlers.RouterConfig{
		Accounts: accounts,
		Pipeline: pipeline,
		Metrics:  observability.MetricsHandler(registry),
		Errors:   errs,
		Logger:   l,
	})

	evictor := cache.NewEvictor(l)
	evictor.Schedule("principals", cache.ShortLivedInterval, principals)
	evictor.Schedule("public-routes", cache.LongLivedInterval, public)
	evictor.Schedule("auth-attempt-routes", cache.LongLivedInterval, authAttempts)
	evictor.Schedule("rate-buckets", c.RateLimit.SweepInterval, cache.TargetFunc(func(ctx context.Context) error {
		deleted, err := buckets.Evict(ctx, time.Now())
		if err != nil {
			return err
		}
		l.Debug("Idle buckets deleted", "count", deleted)
		return nil
	}))

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    router,
		evictor:    evictor,
		pool:       pool,
		logger:     l,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	evictorStopped := s.evictor.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-evictorStopped

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ServerApp) Close() {
	s.pool.Close()
}
