// Package main runs the live commerce backend: HTTP API, event fan-out
// and the session coordinator, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shoplive/backend/config"
	"github.com/shoplive/backend/internal/auth"
	"github.com/shoplive/backend/internal/checkout"
	"github.com/shoplive/backend/internal/coordinator"
	"github.com/shoplive/backend/internal/middleware"
	"github.com/shoplive/backend/internal/payments"
	"github.com/shoplive/backend/internal/products"
	"github.com/shoplive/backend/internal/realtime"
	"github.com/shoplive/backend/internal/sessions"
	"github.com/shoplive/backend/internal/worker"
	"github.com/shoplive/backend/pkg/database"
	"github.com/shoplive/backend/pkg/queue"
	"github.com/shoplive/backend/pkg/redis"
	"github.com/shoplive/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Persistence repositories and the async flush pipeline.
	sessionRepo := sessions.NewRepository(pool)
	productRepo := products.NewRepository(pool)
	checkoutRepo := checkout.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	flusher := worker.NewQueueFlusher(jobQueue)
	processor := worker.NewPersistenceProcessor(sessionRepo, productRepo, checkoutRepo, jobQueue, logger)

	// Fan-out hub with Redis bridging instances.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub, cfg.Realtime.HeartbeatInterval)

	var authority payments.Authority
	if cfg.Payment.Endpoint != "" {
		authority = payments.NewHTTPAuthority(cfg.Payment.Endpoint, cfg.Payment.Secret, cfg.Payment.Timeout, logger)
	} else {
		logger.Warn("no payment gateway configured, charges auto-approve")
		authority = payments.NoopAuthority{}
	}

	ledger := coordinator.NewLedger(logger)
	coord := coordinator.New(ledger, hub, flusher, authority, coordinator.Options{
		ReservationTTL:   cfg.Coordinator.ReservationTTL,
		ReservationSweep: cfg.Coordinator.ReservationSweep,
		PresenceTimeout:  cfg.Coordinator.PresenceTimeout,
		PresenceSweep:    cfg.Coordinator.PresenceSweep,
	}, logger)

	hub.SetSnapshotProvider(func(sessionID uuid.UUID) (interface{}, bool) {
		snap, err := coord.Snapshot(sessionID)
		if err != nil {
			return nil, false
		}
		return snap, true
	})

	if err := restoreState(ctx, coord, ledger, sessionRepo, productRepo, checkoutRepo, logger); err != nil {
		logger.Fatal("restore state", zap.Error(err))
	}

	sessionHandler := sessions.NewHandler(coord, sessionRepo, logger)
	productHandler := products.NewHandler(coord, productRepo, logger)
	checkoutHandler := checkout.NewHandler(coord, checkoutRepo, logger)

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT from the access control service required).
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/sessions", middleware.RequireRole("host", "admin"), sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.PATCH("/sessions/:id", sessionHandler.Update)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/cancel", sessionHandler.Cancel)
		api.GET("/sessions/:id/analytics", sessionHandler.Analytics)

		// Viewers
		api.POST("/sessions/:id/viewers/join", sessionHandler.Join)
		api.POST("/sessions/:id/viewers/leave", sessionHandler.Leave)
		api.POST("/sessions/:id/viewers/heartbeat", sessionHandler.Heartbeat)
		api.GET("/sessions/:id/viewers", sessionHandler.Viewers)
		api.POST("/sessions/:id/chat", sessionHandler.Chat)

		// Products and checkout
		api.POST("/products", middleware.RequireRole("host", "admin"), productHandler.Create)
		api.GET("/products/:id", productHandler.Get)
		api.POST("/sessions/:id/products", middleware.RequireRole("host", "admin"), productHandler.Feature)
		api.GET("/sessions/:id/products", productHandler.ListBySession)
		api.POST("/products/:id/reserve", checkoutHandler.Reserve)
		api.POST("/reservations/:id/release", checkoutHandler.Release)
		api.POST("/reservations/:id/commit", checkoutHandler.Commit)
		api.GET("/sessions/:id/orders", middleware.RequireRole("host", "admin"), checkoutHandler.Orders)

		// Event stream (NDJSON, one event per line)
		api.GET("/sessions/:id/events", realtime.StreamEvents(hub, logger))
	}

	// WebSocket (token in query; no Authorization header on upgrades)
	router.GET("/ws", realtime.ServeWs(hub, coord, logger, jwtValidate))

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// WriteTimeout stays zero so long-lived event streams are not cut.
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go coord.Run(bgCtx)
	go hub.Run(bgCtx)
	go processor.Run(bgCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// restoreState rebuilds in-memory coordinator state from the store:
// non-terminal sessions with their featured products, and every product
// with its counters and surviving holds. In-memory state is the source
// of truth from here on.
func restoreState(ctx context.Context, coord *coordinator.Coordinator, ledger *coordinator.Ledger,
	sessionRepo *sessions.Repository, productRepo *products.Repository, checkoutRepo *checkout.Repository,
	logger *zap.Logger) error {

	prods, stocks, err := productRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	for i, p := range prods {
		held, err := checkoutRepo.ListHeldByProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		ledger.Restore(p, stocks[i], held)
	}

	active, err := sessionRepo.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, s := range active {
		featured, err := productRepo.FeaturedBySession(ctx, s.ID)
		if err != nil {
			return err
		}
		coord.RestoreSession(s, featured)
	}

	logger.Info("state restored",
		zap.Int("products", len(prods)),
		zap.Int("active_sessions", len(active)))
	return nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
