package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairground/go-services/handlers"
	"github.com/fairground/go-services/internal/admin"
	"github.com/fairground/go-services/internal/auth"
	"github.com/fairground/go-services/internal/config"
	"github.com/fairground/go-services/internal/datastore/handler"
	"github.com/fairground/go-services/internal/datastore/service"
	"github.com/fairground/go-services/internal/families"
	"github.com/fairground/go-services/internal/ledger"
	"github.com/fairground/go-services/pkg/logger"
	"github.com/fairground/go-services/pkg/metrics"
	"github.com/fairground/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: storage=%s redis=%v rate_limit=%v", cfg.Storage.Backend, cfg.Redis.Host != "", cfg.RateLimit.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := service.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to initialize storage: %v", err)
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			logger.Warnf("closing storage: %v", err)
		}
	}()

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v; falling back to in-process state", addr, err)
			_ = rdb.Close()
			rdb = nil
		} else {
			logger.Infof("connected to Redis at %s", addr)
			defer func() { _ = rdb.Close() }()
		}
	}

	r := newRouter(cfg, store, rdb)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting API server on %s (backend=%s)", srv.Addr, store.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown: %v", err)
	}
}

func newRouter(cfg *config.Config, store service.Store, rdb *redis.Client) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS for dev: set common headers and answer preflight.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	deps := map[string]handlers.Pinger{"storage": store.Ping}
	if rdb != nil {
		deps["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	handlers.RegisterHealth(r, startTime, deps)
	handlers.RegisterSwagger(r)

	// every /api route needs a bearer token; raw collection access and the
	// clear gate need the admin role on top
	if verifier, err := auth.NewHS256Verifier(cfg.JWT.Secret); err != nil {
		logger.Warnf("API routes not registered: %v", err)
	} else {
		api := r.Group("/api", middleware.AuthMiddleware(verifier))
		handler.New(store).Register(api.Group("/collections", middleware.RequireRole(auth.RoleAdmin)))
		families.RegisterRoutes(api.Group("/families"), families.NewService(store))
		ledger.RegisterRoutes(api.Group("/ledger"), ledger.New(store))

		var challenges admin.ChallengeStore = admin.NewMemoryChallenges()
		if rdb != nil {
			challenges = admin.NewRedisChallenges(rdb, "")
		}
		g := api.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
		admin.NewHandler(store, challenges, cfg.Admin.AllowClear, cfg.Admin.ChallengeTTL).Register(g)
	}

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
