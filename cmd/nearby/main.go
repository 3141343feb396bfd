package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/richxcame/driver-location/internal/demand"
	"github.com/richxcame/driver-location/internal/location"
	"github.com/richxcame/driver-location/pkg/common"
	"github.com/richxcame/driver-location/pkg/config"
	"github.com/richxcame/driver-location/pkg/errors"
	"github.com/richxcame/driver-location/pkg/logger"
	"github.com/richxcame/driver-location/pkg/middleware"
	redisClient "github.com/richxcame/driver-location/pkg/redis"
)

const (
	serviceName = "driver-location-nearby"
	version     = "1.0.0"
)

// The nearby binary is the dispatch-facing read path: geo-radius search and
// the demand views, with no ingestion machinery attached.
func main() {
	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8081")
	}
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.InitWithConfig(cfg.Server.Environment, cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting nearby query service",
		zap.String("service", serviceName),
		zap.String("version", version),
	)

	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	nonPersistentCfg := cfg.Redis
	nonPersistentCfg.Host = cfg.Redis.NonPersistentHost
	nonPersistentCfg.Port = cfg.Redis.NonPersistentPort
	nonPersistentCfg.Password = cfg.Redis.NonPersistentPassword
	nonPersistentCfg.DB = cfg.Redis.NonPersistentDB
	if nonPersistentCfg.Host == "" {
		nonPersistentCfg = cfg.Redis
	}
	redis, err := redisClient.NewRedisClient(&nonPersistentCfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	keys := location.KeySchema{}
	if cfg.Redis.Migrating {
		keys.Prefix = cfg.Redis.LTSPrefix
	}
	store := location.NewStore(redis, nil, keys)

	geoConfigDir := os.Getenv("GEO_CONFIG")
	if geoConfigDir == "" {
		geoConfigDir = "./geo_config"
	}
	geofence, err := location.LoadGeofence(geoConfigDir)
	if err != nil {
		logger.Fatal("Failed to load geofence regions", zap.String("dir", geoConfigDir), zap.Error(err))
	}

	service := location.NewService(location.ServiceDeps{
		Store:    store,
		Keys:     keys,
		Geofence: geofence,
	}, location.ServiceConfig{
		BucketSize:            time.Duration(cfg.Location.BucketSizeSeconds) * time.Second,
		NearbyBucketThreshold: int64(cfg.Location.NearbyBucketThreshold),
		VehicleTypes:          cfg.Location.VehicleTypes,
	})

	handler := location.NewHandler(service, 1<<20)
	demandHandler := demand.NewHandler(demand.NewTracker(redis))

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(common.NoRouteHandler())
	router.NoMethod(common.NoMethodHandler())
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Timeout.DefaultRequestTimeoutDuration()))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterNearbyRoutes(router)
	demandHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}
