package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/predico/market-service/internal/api"
	"github.com/predico/market-service/internal/config"
	"github.com/predico/market-service/internal/logging"
	"github.com/predico/market-service/internal/market"
	"github.com/predico/market-service/internal/metrics"
	"github.com/predico/market-service/internal/notify"
	"github.com/predico/market-service/internal/registry"
	"github.com/predico/market-service/internal/store"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store and registry ---
	var st store.Store
	var reg registry.Registry
	var ready func(context.Context) error
	var cleanup []func()

	if cfg.Database.URL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			logger.Fatal("invalid DATABASE_URL", zap.Error(err))
		}
		poolCfg.MaxConns = cfg.Database.MaxConns
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		cleanup = append(cleanup, pool.Close)

		retry := store.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Database.TxRetryAttempts
		pg := store.NewPostgresStore(pool, retry, logger)
		if err := pg.Initialize(ctx); err != nil {
			logger.Fatal("schema initialization failed", zap.Error(err))
		}
		st, ready = pg, pg.Ping
		reg = registry.NewPostgres(pool)
		logger.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				logger.Fatal("invalid REDIS_URL", zap.Error(err))
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			logger.Info("Redis cache enabled", zap.Duration("ttl", cfg.Redis.CacheTTL))
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store and registry (data will not persist)")
		st = store.NewMemoryStore()
		mem := registry.NewMemory()
		if err := mem.Seed(cfg.Registry.Users); err != nil {
			logger.Fatal("invalid registry seed", zap.Error(err))
		}
		if len(cfg.Registry.Users) == 0 {
			logger.Warn("in-memory registry has no users, bid placement is unavailable until registry.users is configured")
		} else {
			logger.Info("in-memory registry seeded", zap.Int("users", len(cfg.Registry.Users)))
		}
		reg = mem
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Notifications ---
	breakerCfg := notify.DefaultBreakerConfig()
	breakerCfg.ConsecutiveFailures = cfg.Notify.BreakerFailures
	breakerCfg.Timeout = cfg.Notify.BreakerTimeout

	hub := notify.NewWSHub(logger)
	go hub.Run(ctx)
	publishers := []notify.Publisher{notify.WithBreaker(hub, breakerCfg, logger)}

	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Fatal("NATS connection failed", zap.Error(err))
		}
		cleanup = append(cleanup, func() { nc.Drain() })
		publishers = append(publishers,
			notify.WithBreaker(notify.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix), breakerCfg, logger))
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:      cfg.Notify.QueueSize,
		Workers:        cfg.Notify.Workers,
		PublishTimeout: cfg.Notify.PublishTimeout,
	}, logger, publishers...)
	dispatcher.Start()

	// --- Market service ---
	svc := market.NewService(st, reg, dispatcher, market.Config{
		MinimumPaymentAmount: cfg.MinimumPayment(),
	}, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-User-Role")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable","service":"market-service"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ok","service":"market-service"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of market events; no request timeout.
		r.Get("/ws", hub.HandleWS)

		r.With(middleware.Timeout(cfg.Server.RequestTimeout)).
			Mount("/market", api.NewHandler(svc, logger).Routes())
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("market-service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down market-service")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", zap.Error(err))
	}
	logger.Info("market-service stopped")
}
