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
	"github.com/richxcame/driver-location/pkg/cache"
	"github.com/richxcame/driver-location/pkg/common"
	"github.com/richxcame/driver-location/pkg/config"
	"github.com/richxcame/driver-location/pkg/errors"
	"github.com/richxcame/driver-location/pkg/httpclient"
	"github.com/richxcame/driver-location/pkg/kafkaevents"
	"github.com/richxcame/driver-location/pkg/logger"
	"github.com/richxcame/driver-location/pkg/middleware"
	"github.com/richxcame/driver-location/pkg/ratelimit"
	redisClient "github.com/richxcame/driver-location/pkg/redis"
	"github.com/richxcame/driver-location/pkg/resilience"
	"github.com/richxcame/driver-location/pkg/tracing"
)

const (
	serviceName = "driver-location-ingest"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.InitWithConfig(cfg.Server.Environment, cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting driver location ingestion service",
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

	tracerEnabled := os.Getenv("OTEL_ENABLED") == "true"
	if tracerEnabled {
		tracerCfg := tracing.Config{
			ServiceName:    os.Getenv("OTEL_SERVICE_NAME"),
			ServiceVersion: os.Getenv("OTEL_SERVICE_VERSION"),
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Enabled:        true,
		}
		tp, err := tracing.InitTracer(tracerCfg, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
		}
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

	var secondary *redisClient.Client
	if cfg.Redis.Migrating {
		secondary, err = redisClient.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to migration secondary Redis", zap.Error(err))
		}
		defer secondary.Close()
		logger.Info("Migration mode enabled, mirroring writes to secondary")
	}

	keys := location.KeySchema{}
	if cfg.Redis.Migrating {
		keys.Prefix = cfg.Redis.LTSPrefix
	}
	store := location.NewStore(redis, secondary, keys)

	geoConfigDir := os.Getenv("GEO_CONFIG")
	if geoConfigDir == "" {
		geoConfigDir = "./geo_config"
	}
	geofence, err := location.LoadGeofence(geoConfigDir)
	if err != nil {
		logger.Fatal("Failed to load geofence regions", zap.String("dir", geoConfigDir), zap.Error(err))
	}

	drainer := location.NewDrainer(store, keys, location.DrainerConfig{
		Capacity:              cfg.Drainer.Capacity,
		DrainerDelay:          time.Duration(cfg.Drainer.DrainerDelayMs) * time.Millisecond,
		NewRideDrainerDelay:   time.Duration(cfg.Drainer.NewRideDrainerDelayMs) * time.Millisecond,
		BucketSize:            time.Duration(cfg.Location.BucketSizeSeconds) * time.Second,
		NearbyBucketThreshold: int64(cfg.Location.NearbyBucketThreshold),
	})
	drainerCtx, stopDrainer := context.WithCancel(context.Background())
	defer stopDrainer()
	go drainer.Run(drainerCtx)

	producer := kafkaevents.NewProducer(cfg.Kafka)
	defer producer.Close()

	clientTimeout := cfg.Timeout.HTTPClientTimeoutDuration()
	newBreaker := func(upstream string) *resilience.CircuitBreaker {
		if !cfg.Resilience.CircuitBreaker.Enabled {
			return nil
		}
		settings := cfg.Resilience.CircuitBreaker.SettingsFor(upstream)
		return resilience.NewCircuitBreaker(resilience.Settings{
			Name:             fmt.Sprintf("%s-%s", serviceName, upstream),
			Interval:         time.Duration(settings.IntervalSeconds) * time.Second,
			Timeout:          time.Duration(settings.TimeoutSeconds) * time.Second,
			FailureThreshold: uint32(settings.FailureThreshold),
			SuccessThreshold: uint32(settings.SuccessThreshold),
		}, nil)
	}

	auth := location.NewAuthenticator(
		cache.NewCache(redis.Client),
		httpclient.NewClient(cfg.Auth.URL, clientTimeout),
		cfg.Auth.APIKey,
		time.Duration(cfg.Auth.TokenExpirySeconds)*time.Second,
		newBreaker("driver-auth"),
	)

	var engine *location.DetectionEngine
	if cfg.Detection.Enabled {
		engine = location.NewDetectionEngine(
			&location.OverspeedingDetector{
				On: cfg.Detection.OverspeedingEnabled,
				Cfg: location.OverspeedingConfig{
					SampleSize: cfg.Detection.OverspeedingSampleSize,
					SpeedLimit: cfg.Detection.SpeedLimitMps,
					BufferPct:  cfg.Detection.SpeedLimitBufferPct,
				},
			},
			&location.RouteDeviationDetector{
				On:  cfg.Detection.RouteDeviationEnabled,
				Cfg: location.RouteDeviationConfig{ThresholdMeters: cfg.Detection.RouteDeviationThreshold},
			},
			&location.StopDetector{
				On: cfg.Detection.StopDetectionEnabled,
				Cfg: location.StopDetectionConfig{
					SampleSize:          cfg.Detection.StopSampleSize,
					BatchCount:          cfg.Detection.StopBatchCount,
					MaxEligibleDistance: cfg.Detection.StopMaxEligibleDistance,
				},
			},
		)
	}

	demandTracker := demand.NewTracker(redis)

	var alertClient *httpclient.Client
	if cfg.Detection.AlertURL != "" {
		alertClient = httpclient.NewClient(cfg.Detection.AlertURL, clientTimeout)
	}

	service := location.NewService(location.ServiceDeps{
		Store:             store,
		Keys:              keys,
		Geofence:          geofence,
		Limiter:           location.NewRateLimiter(store),
		Drainer:           drainer,
		Stream:            producer,
		Auth:              auth,
		Engine:            engine,
		Demand:            demandTracker,
		BulkClient:        httpclient.NewClient(cfg.Auth.BulkLocationCallbackURL, clientTimeout),
		BulkBreaker:       newBreaker("bulk-location-callback"),
		AlertClient:       alertClient,
		AlertBreaker:      newBreaker("violation-alerts"),
		ExternalGPSAPIKey: cfg.Detection.ExternalGPSAPIKey,
	}, serviceConfig(cfg))

	handler := location.NewHandler(service, 10<<20)
	demandHandler := demand.NewHandler(demandTracker)

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
	router.Use(middleware.SanitizeRequest())
	router.Use(middleware.Idempotency(redis))
	if tracerEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(ratelimit.NewLimiter(redis.Client, cfg.RateLimit), cfg.RateLimit))
	}
	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redis.Client.Ping(ctx).Err()
		},
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.RegisterRoutes(router)
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop accepting work first, then force-flush both drainer lanes.
	if cfg.Drainer.GracefulShutdown {
		drainer.Shutdown()
	} else {
		stopDrainer()
	}
	logger.Info("Server stopped")
}

func serviceConfig(cfg *config.Config) location.ServiceConfig {
	return location.ServiceConfig{
		LocationUpdateLimit:    cfg.Location.LocationUpdateLimit,
		LocationUpdateInterval: time.Duration(cfg.Location.LocationUpdateIntervalSeconds) * time.Second,
		MinLocationAccuracy:    cfg.Location.MinLocationAccuracy,
		AccuracyBuffer:         cfg.Location.DriverLocationAccuracyBuffer,
		LastTimestampExpiry:    time.Duration(cfg.Location.LastLocationTimestampExpiry) * time.Second,
		BatchSize:              int64(cfg.Location.BatchSize),
		OnRideExpiry:           time.Duration(cfg.Location.RedisExpirySeconds) * time.Second,
		RideEndExpiry:          time.Duration(cfg.Location.BucketSizeSeconds) * time.Second,
		ProcessingLockTTL:      time.Duration(cfg.Location.ProcessingLockTTLSeconds) * time.Second,
		ActiveTripExpiry:       time.Duration(cfg.Location.ActiveTripExpirySeconds) * time.Second,
		BucketSize:             time.Duration(cfg.Location.BucketSizeSeconds) * time.Second,
		NearbyBucketThreshold:  int64(cfg.Location.NearbyBucketThreshold),
		VehicleTypes:           cfg.Location.VehicleTypes,
	}
}
