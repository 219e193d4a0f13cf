// Package main runs the crewdesk HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crewdesk/backend/config"
	"github.com/crewdesk/backend/internal/auth"
	"github.com/crewdesk/backend/internal/billing"
	"github.com/crewdesk/backend/internal/middleware"
	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/realtime"
	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/internal/workspaces"
	"github.com/crewdesk/backend/pkg/database"
	"github.com/crewdesk/backend/pkg/metrics"
	"github.com/crewdesk/backend/pkg/queue"
	"github.com/crewdesk/backend/pkg/redis"
	"github.com/crewdesk/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()

	// Sessions
	sessions := session.NewManager(
		session.NewRedisStore(rdb.Client, cfg.Session.TTL()),
		session.NewCodec(cfg.Session.Secret, cfg.Session.TTL()),
		session.CookieOptions{Name: cfg.Session.CookieName, Secure: cfg.Session.CookieSecure},
		cfg.Session.TTL(),
		logger,
	)

	// Workspaces and ownership reconciliation
	workspaceRepo := workspaces.NewRepository(pool)
	provisioner := workspaces.NewProvisioner(workspaceRepo, workspaces.Config{
		TrialPeriod:       cfg.Billing.TrialPeriod(),
		CrossDeviceWindow: cfg.Billing.CrossDeviceWindow(),
	}, m, logger)
	workspaceHandler := workspaces.NewHandler(provisioner, sessions, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	verifier := auth.NewIdentityVerifier(cfg.Identity.Secret, cfg.Identity.Issuer, cfg.Identity.Audience)
	authHandler := auth.NewHandler(authRepo, verifier, provisioner, sessions, logger)

	// Realtime status feed
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Billing
	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set; checkout, portal and payment reversal will fail")
	}
	gateway := billing.NewStripeGateway(cfg.Stripe.SecretKey, logger)
	prices := make(map[models.SubscriptionTier]string, len(cfg.Stripe.PriceIDs))
	for name, price := range cfg.Stripe.PriceIDs {
		if tier, ok := models.ParseTier(name); ok {
			prices[tier] = price
		}
	}
	processor := billing.NewProcessor(billing.NewRepository(pool), gateway, billing.Config{
		Prices:      prices,
		GracePeriod: cfg.Billing.GracePeriod(),
	}, m, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	var archiver billing.Archiver
	if cfg.AWS.ArchiveBucket != "" {
		archiver = jobQueue
	}
	webhookHandler := billing.NewWebhookHandler(processor, cfg.Stripe.WebhookSecret, archiver, hub, logger)
	billingHandler := billing.NewHandler(processor, gateway, cfg.Stripe.FrontendURL, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.LoadSession(sessions, logger))
	router.Use(middleware.CurrentWorkspace(workspaceRepo, logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.SubscriptionGate(middleware.GateConfig{
		GracePeriod: cfg.Billing.GracePeriod(),
		FailOpen:    cfg.Billing.GateFailOpen,
	}, m, logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", m.Handler())

	// Sign-in and workspace creation work before a session has a user.
	router.POST("/session", authHandler.Bootstrap)
	router.POST("/auth/logout", authHandler.Logout)
	router.GET("/auth/me", authHandler.Me)
	router.POST("/workspaces", workspaceHandler.Create)
	router.GET("/billing/upgrade", billingHandler.Upgrade)

	// Stripe signs its requests; no session.
	router.POST("/webhooks/stripe", webhookHandler.Stripe)

	api := router.Group("")
	api.Use(middleware.RequireUser())
	{
		api.GET("/workspaces", workspaceHandler.ListMine)
		api.POST("/workspaces/join", workspaceHandler.Join)
		api.POST("/workspaces/select", workspaceHandler.Select)

		member := api.Group("", middleware.RequireWorkspaceRole())
		member.GET("/workspaces/current/members", workspaceHandler.ListMembers)
		member.GET("/billing/status", billingHandler.Status)
		member.GET("/ws", realtime.ServeWs(hub, realtime.NewUpgrader(cfg.Server.CORSAllowedOrigins), cfg.Billing.GracePeriod(), logger))

		admin := api.Group("", middleware.RequireWorkspaceRole(models.RoleAdmin))
		admin.POST("/billing/checkout", billingHandler.Checkout)
		admin.POST("/billing/portal", billingHandler.Portal)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
