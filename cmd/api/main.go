package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "deliveryerp/api/swagger" // swagger docs
	"deliveryerp/internal/config"
	"deliveryerp/internal/database"
	"deliveryerp/internal/handler"
	"deliveryerp/internal/idempotency"
	"deliveryerp/internal/logger"
	"deliveryerp/internal/middleware"
	"deliveryerp/internal/repository"
	"deliveryerp/internal/scheduler"
	"deliveryerp/internal/service"
	"deliveryerp/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Delivery ERP API
// @version         1.0
// @description     Orders, drivers, clients and the cashbox ledger of a delivery business.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Logger setup failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if cfg.JWTSecret != "" {
		middleware.SetJWTSecret(cfg.JWTSecret)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.DB.DSN(), zlog)
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}

	// Live events, relayed through Redis when configured
	wsHub := websocket.NewHub(zlog)
	go wsHub.Run(ctx)

	var idemStore idempotency.Store = idempotency.NewMemoryStore()
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Fatal("redis connection failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()

		relay := websocket.NewRedisRelay(rdb, cfg.Redis.Channel, zlog)
		wsHub.UseRelay(relay)
		go func() {
			if err := relay.Listen(ctx, wsHub); err != nil {
				zlog.Error("websocket relay stopped", zap.Error(err))
			}
		}()
		idemStore = idempotency.NewRedisStore(rdb)
	}

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	orderRepo := repository.NewOrderRepository(db)
	cashboxRepo := repository.NewCashboxRepository(db)
	driverRepo := repository.NewDriverRepository(db)
	clientRepo := repository.NewClientRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditService := service.NewAuditService(auditRepo)
	ledgerService := service.NewLedgerService(cashboxRepo, auditService, txManager, wsHub, zlog)
	cashEffects := service.NewCashEffects(orderRepo, ledgerService, auditService, txManager, zlog)
	orderService := service.NewOrderService(orderRepo, driverRepo, clientRepo, cashEffects, auditService, txManager, wsHub, zlog)
	driverService := service.NewDriverService(driverRepo, auditService, txManager)
	clientService := service.NewClientService(clientRepo, auditService, txManager)

	idem := idempotency.Middleware(idemStore, idempotency.Config{
		TTL:        cfg.IdempotencyTTL,
		PendingTTL: cfg.IdempotencyPendingTTL,
		Log:        zlog,
	})

	orderHandler := handler.NewOrderHandler(orderService, idem)
	cashboxHandler := handler.NewCashboxHandler(ledgerService, idem)
	driverHandler := handler.NewDriverHandler(driverService)
	clientHandler := handler.NewClientHandler(clientService)
	auditHandler := handler.NewAuditHandler(auditService)

	if cfg.Scheduler.Enabled {
		hour, minute, _ := cfg.Scheduler.ReconcileTime()
		jobs, err := scheduler.New(orderService, ledgerService, scheduler.Config{
			HistoryInterval:  cfg.Scheduler.HistoryInterval,
			HistoryBatchSize: cfg.Scheduler.HistoryBatchSize,
			ReconcileHour:    hour,
			ReconcileMinute:  minute,
		}, zlog)
		if err != nil {
			zlog.Fatal("scheduler setup failed", zap.Error(err))
		}
		jobs.Start()
		defer func() {
			if err := jobs.Stop(); err != nil {
				zlog.Warn("scheduler shutdown", zap.Error(err))
			}
		}()
	}

	router := gin.New()
	router.Use(gin.Recovery(), logger.Gin(zlog))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", idempotency.HeaderName}
	corsConfig.ExposeHeaders = []string{idempotency.ReplayHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	router.GET("/ws", wsHub.ServeWs)

	api := router.Group("")
	orderHandler.RegisterRoutes(api)
	cashboxHandler.RegisterRoutes(api)
	driverHandler.RegisterRoutes(api)
	clientHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown", zap.Error(err))
	}
}
