package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/smartcity/trafficcore/internal/config"
	"github.com/smartcity/trafficcore/internal/delivery/http"
	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/ingest"
	"github.com/smartcity/trafficcore/internal/logger"
	"github.com/smartcity/trafficcore/internal/notify"
	"github.com/smartcity/trafficcore/internal/repository/postgres"
	"github.com/smartcity/trafficcore/internal/service"
)

const notifyStreamMaxLen = 10000

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Configuration
	cfg := config.Load()

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format, "trafficcore")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Dependency Injection: Repository
	repo, closeRepo := openRepository(rootCtx, cfg, zlog)
	defer closeRepo()

	seedCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	if err := postgres.Seed(seedCtx, repo, postgres.AlmatySegments()); err != nil {
		zlog.Warn("Failed to seed road network", zap.Error(err))
	}
	cancel()

	// Dependency Injection: Notifier
	notifier, closeNotifier := openNotifier(rootCtx, cfg, zlog)
	defer closeNotifier()

	// Dependency Injection: Services
	mlBridge := service.NewMLBridge(cfg.MLServiceURL, zlog.Named("ml"))
	directions := service.NewDirectionsClient(cfg.RoutingProviderURL, cfg.RoutingAPIKey, zlog.Named("directions"))
	router := service.NewEmergencyRouter(cfg.Route.BaseSpeedKmh, cfg.Route.UpdateInterval)

	pipelineSvc := service.NewPipelineService(repo, mlBridge, notifier, zlog.Named("pipeline"))
	routeSvc := service.NewRouteService(repo, directions, notifier, router, zlog.Named("routes"))
	dashboardSvc := service.NewDashboardService(repo, zlog.Named("dashboard"))

	// Ingestion: MQTT devices and the optional synthetic feed
	if cfg.MQTT.Broker != "" {
		sub := ingest.NewSubscriber(ingest.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, pipelineSvc, zlog)
		if err := sub.Start(); err != nil {
			zlog.Warn("MQTT ingestion disabled", zap.Error(err))
		} else {
			defer sub.Stop()
		}
	}
	if cfg.DemoFeed {
		feed := service.NewTrafficService(repo, zlog.Named("demo-feed"), time.Now().UnixNano())
		go feed.Run(rootCtx, cfg.DemoFeedInterval, pipelineSvc)
		zlog.Info("Synthetic traffic feed enabled", zap.Duration("interval", cfg.DemoFeedInterval))
	}

	go refreshRoutes(rootCtx, routeSvc, cfg.Route.RefreshTick, zlog)

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "TrafficCore API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorHandler: http.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	handler := http.NewHandler(pipelineSvc, dashboardSvc, routeSvc, map[string]http.HealthChecker{
		"repository": repo,
		"ml_service": mlBridge,
	})
	http.SetupRoutes(app, handler)

	// Graceful shutdown
	go func() {
		zlog.Info("Server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := app.Listen(":" + cfg.Port); err != nil {
			zlog.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down server...")
	stop()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	zlog.Info("Server exited gracefully")
}

// openRepository connects to PostgreSQL, falling back to memory when unavailable
func openRepository(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (domain.TrafficRepository, func()) {
	if cfg.DatabaseURL == "" {
		zlog.Warn("DATABASE_URL not set, running with in-memory storage")
		return postgres.NewMemoryRepository(), func() {}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		zlog.Warn("Could not connect to database, running with in-memory storage", zap.Error(err))
		if pool != nil {
			pool.Close()
		}
		return postgres.NewMemoryRepository(), func() {}
	}

	repo := postgres.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		zlog.Fatal("Failed to prepare database schema", zap.Error(err))
	}
	zlog.Info("Connected to PostgreSQL")
	return repo, pool.Close
}

// openNotifier publishes to a Redis stream, falling back to the log when Redis is unavailable
func openNotifier(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (domain.Notifier, func()) {
	if cfg.Redis.Addr == "" {
		return notify.NewLogNotifier(zlog), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zlog.Warn("Could not connect to Redis, notifications go to the log", zap.Error(err))
		_ = client.Close()
		return notify.NewLogNotifier(zlog), func() {}
	}

	zlog.Info("Publishing notifications to Redis stream", zap.String("stream", cfg.Redis.Stream))
	return notify.NewStreamNotifier(notify.NewRedisStreams(client, notifyStreamMaxLen), cfg.Redis.Stream),
		func() { _ = client.Close() }
}

// refreshRoutes re-derives due emergency routes on every tick
func refreshRoutes(ctx context.Context, routes *service.RouteService, tick time.Duration, zlog *zap.Logger) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := routes.RefreshDue(ctx)
			if err != nil {
				zlog.Error("Route refresh sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zlog.Debug("Emergency routes refreshed", zap.Int("count", n))
			}
		}
	}
}
