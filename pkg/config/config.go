package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Drainer    DrainerConfig
	Location   LocationConfig
	Kafka      KafkaConfig
	Detection  DetectionConfig
	Logger     LoggerConfig
	RateLimit  RateLimitConfig
	Resilience ResilienceConfig
	Timeout    TimeoutConfig
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port         string
	Workers      int
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string
}

// RedisConfig holds the persistent and non-persistent Redis endpoints, plus
// the dual-write migration variants. The LTS prefix is only consulted when
// Migrating is true.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int

	NonPersistentHost     string
	NonPersistentPort     string
	NonPersistentPassword string
	NonPersistentDB       int

	// Migrating is derived from DEPLOYMENT_VERSION/DEV: when true, keys take
	// the LTSPrefix and writes are mirrored to a secondary Redis during cutover.
	Migrating bool
	LTSPrefix string
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c *RedisConfig) NonPersistentAddr() string {
	if c.NonPersistentHost == "" {
		return c.Addr()
	}
	return fmt.Sprintf("%s:%s", c.NonPersistentHost, c.NonPersistentPort)
}

// RedisAddr is the accessor for callers that only know about a single
// endpoint (non-migration deployments).
func (c *RedisConfig) RedisAddr() string {
	return c.Addr()
}

// AuthConfig carries the driver-app auth endpoint and the bulk-location
// callback endpoint.
type AuthConfig struct {
	URL                     string
	APIKey                  string
	BulkLocationCallbackURL string
	TokenExpirySeconds      int
}

// DrainerConfig tunes the batching drainer.
type DrainerConfig struct {
	Capacity             int
	DrainerDelayMs       int
	NewRideDrainerDelayMs int
	GracefulShutdown     bool
}

// LocationConfig tunes ingestion, geo-bucket, and rate-limit behavior.
type LocationConfig struct {
	RedisExpirySeconds            int
	MinLocationAccuracy           float64
	LastLocationTimestampExpiry   int
	LocationUpdateLimit           int
	LocationUpdateIntervalSeconds int
	BatchSize                     int
	BucketSizeSeconds             int
	NearbyBucketThreshold         int
	DriverLocationAccuracyBuffer  float64
	ProcessingLockTTLSeconds      int
	ActiveTripExpirySeconds       int
	VehicleTypes                  []string
}

// KafkaConfig configures the location-update stream producer.
type KafkaConfig struct {
	Brokers           []string
	Key               string
	Topic             string
	RegionChangeTopic string
}

// DetectionConfig tunes the on-ride violation detectors and the alert
// endpoint they post to.
type DetectionConfig struct {
	Enabled           bool
	AlertURL          string
	ExternalGPSAPIKey string

	OverspeedingEnabled    bool
	OverspeedingSampleSize int
	SpeedLimitMps          float64
	SpeedLimitBufferPct    float64

	RouteDeviationEnabled   bool
	RouteDeviationThreshold float64

	StopDetectionEnabled    bool
	StopSampleSize          int
	StopBatchCount          int
	StopMaxEligibleDistance float64
}

// LoggerConfig tunes log level and optional file output.
type LoggerConfig struct {
	Level      string
	LogToFile  bool
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool
	WindowSeconds     int
	DefaultLimit      int
	DefaultBurst      int
	AnonymousLimit    int
	AnonymousBurst    int
	RedisPrefix       string
	EndpointOverrides map[string]EndpointRateLimitConfig
}

// EndpointRateLimitConfig allows customizing limits per endpoint.
type EndpointRateLimitConfig struct {
	AuthenticatedLimit int `json:"authenticated_limit"`
	AuthenticatedBurst int `json:"authenticated_burst"`
	AnonymousLimit     int `json:"anonymous_limit"`
	AnonymousBurst     int `json:"anonymous_burst"`
	WindowSeconds      int `json:"window_seconds"`
}

// ResilienceConfig groups runtime resilience controls.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-service breaker tuning.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
	ServiceOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific upstream service.
type CircuitBreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	IntervalSeconds  int `json:"interval_seconds"`
}

const (
	DefaultHTTPClientTimeout     = 30
	DefaultRedisOperationTimeout = 5
	DefaultRedisReadTimeout      = 5
	DefaultRedisWriteTimeout     = 5
	DefaultRequestTimeout        = 30

	MaxHTTPClientTimeout     = 300
	MaxRedisOperationTimeout = 30
	MaxRequestTimeout        = 300
)

// TimeoutConfig holds timeout configuration for various operations.
type TimeoutConfig struct {
	HTTPClientTimeout      int
	RedisOperationTimeout  int
	RedisReadTimeout       int
	RedisWriteTimeout      int
	DefaultRequestTimeout  int
	RouteOverrides         map[string]int
}

func (t TimeoutConfig) HTTPClientTimeoutDuration() time.Duration {
	return time.Duration(t.HTTPClientTimeout) * time.Second
}

func (t TimeoutConfig) RedisOperationTimeoutDuration() time.Duration {
	return time.Duration(t.RedisOperationTimeout) * time.Second
}

func (t TimeoutConfig) RedisReadTimeoutDuration() time.Duration {
	if t.RedisReadTimeout > 0 {
		return time.Duration(t.RedisReadTimeout) * time.Second
	}
	return t.RedisOperationTimeoutDuration()
}

func (t TimeoutConfig) RedisWriteTimeoutDuration() time.Duration {
	if t.RedisWriteTimeout > 0 {
		return time.Duration(t.RedisWriteTimeout) * time.Second
	}
	return t.RedisOperationTimeoutDuration()
}

func DefaultRedisReadTimeoutDuration() time.Duration {
	return time.Duration(DefaultRedisReadTimeout) * time.Second
}

func DefaultRedisWriteTimeoutDuration() time.Duration {
	return time.Duration(DefaultRedisWriteTimeout) * time.Second
}

func DefaultHTTPClientTimeoutDuration() time.Duration {
	return time.Duration(DefaultHTTPClientTimeout) * time.Second
}

func (t TimeoutConfig) DefaultRequestTimeoutDuration() time.Duration {
	return time.Duration(t.DefaultRequestTimeout) * time.Second
}

// TimeoutForRoute returns the timeout duration for a specific route.
// Route format: "METHOD:/path" (e.g., "POST:/ui/driver/location").
func (t TimeoutConfig) TimeoutForRoute(method, path string) time.Duration {
	if t.RouteOverrides == nil {
		return t.DefaultRequestTimeoutDuration()
	}

	routeKey := fmt.Sprintf("%s:%s", method, path)
	if timeoutSeconds, ok := t.RouteOverrides[routeKey]; ok && timeoutSeconds > 0 {
		return time.Duration(timeoutSeconds) * time.Second
	}

	return t.DefaultRequestTimeoutDuration()
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	deploymentVersion := getEnv("DEPLOYMENT_VERSION", "")
	dev := getEnvAsBool("DEV", false)
	migrating := deploymentVersion != "" && !dev

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Workers:      getEnvAsInt("WORKERS", 4),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
		},
		Redis: RedisConfig{
			Host:                  getEnv("PERSISTENT_REDIS_HOST", "localhost"),
			Port:                  getEnv("PERSISTENT_REDIS_PORT", "6379"),
			Password:              getEnv("PERSISTENT_REDIS_PASSWORD", ""),
			DB:                    getEnvAsInt("PERSISTENT_REDIS_DB", 0),
			NonPersistentHost:     getEnv("NON_PERSISTENT_REDIS_HOST", ""),
			NonPersistentPort:     getEnv("NON_PERSISTENT_REDIS_PORT", "6379"),
			NonPersistentPassword: getEnv("NON_PERSISTENT_REDIS_PASSWORD", ""),
			NonPersistentDB:       getEnvAsInt("NON_PERSISTENT_REDIS_DB", 0),
			Migrating:             migrating,
			LTSPrefix:             getEnv("REDIS_LTS_PREFIX", "lts:"),
		},
		Auth: AuthConfig{
			URL:                     getEnv("AUTH_URL", ""),
			APIKey:                  getEnv("AUTH_API_KEY", ""),
			BulkLocationCallbackURL: getEnv("BULK_LOCATION_CALLBACK_URL", ""),
			TokenExpirySeconds:      getEnvAsInt("AUTH_TOKEN_EXPIRY", 3600),
		},
		Drainer: DrainerConfig{
			Capacity:              getEnvAsInt("DRAINER_SIZE", 1000),
			DrainerDelayMs:        getEnvAsInt("DRAINER_DELAY_MS", 1000),
			NewRideDrainerDelayMs: getEnvAsInt("NEW_RIDE_DRAINER_DELAY_MS", 200),
			GracefulShutdown:      getEnvAsBool("DRAINER_GRACEFUL_SHUTDOWN", true),
		},
		Location: LocationConfig{
			RedisExpirySeconds:            getEnvAsInt("REDIS_EXPIRY", 3600),
			MinLocationAccuracy:           getEnvAsFloat("MIN_LOCATION_ACCURACY", 100.0),
			LastLocationTimestampExpiry:   getEnvAsInt("LAST_LOCATION_TIMESTAMP_EXPIRY", 86400),
			LocationUpdateLimit:           getEnvAsInt("LOCATION_UPDATE_LIMIT", 60),
			LocationUpdateIntervalSeconds: getEnvAsInt("LOCATION_UPDATE_INTERVAL", 60),
			BatchSize:                     getEnvAsInt("BATCH_SIZE", 100),
			BucketSizeSeconds:             getEnvAsInt("BUCKET_SIZE", 60),
			NearbyBucketThreshold:         getEnvAsInt("NEARBY_BUCKET_THRESHOLD", 2),
			DriverLocationAccuracyBuffer:  getEnvAsFloat("DRIVER_LOCATION_ACCURACY_BUFFER", 0.1),
			ProcessingLockTTLSeconds:      getEnvAsInt("PROCESSING_LOCK_TTL", 5),
			ActiveTripExpirySeconds:       getEnvAsInt("ACTIVE_TRIP_EXPIRY", 86400),
			VehicleTypes:                  splitCSV(getEnv("VEHICLE_TYPES", "auto,cab,bike,suv")),
		},
		Kafka: KafkaConfig{
			Brokers:           splitCSV(getEnv("KAFKA_HOSTS", "localhost:9092")),
			Key:               getEnv("KAFKA_KEY", ""),
			Topic:             getEnv("DRIVER_LOCATION_UPDATE_TOPIC", "driver-location-updates"),
			RegionChangeTopic: getEnv("DRIVER_REGION_CHANGE_TOPIC", "driver-region-changed"),
		},
		Detection: DetectionConfig{
			Enabled:           getEnvAsBool("DETECTION_ENABLED", true),
			AlertURL:          getEnv("VIOLATION_ALERT_URL", ""),
			ExternalGPSAPIKey: getEnv("EXTERNAL_GPS_API_KEY", ""),

			OverspeedingEnabled:    getEnvAsBool("OVERSPEEDING_ENABLED", true),
			OverspeedingSampleSize: getEnvAsInt("OVERSPEEDING_SAMPLE_SIZE", 10),
			SpeedLimitMps:          getEnvAsFloat("SPEED_LIMIT_MPS", 22.2),
			SpeedLimitBufferPct:    getEnvAsFloat("SPEED_LIMIT_BUFFER_PCT", 0.1),

			RouteDeviationEnabled:   getEnvAsBool("ROUTE_DEVIATION_ENABLED", false),
			RouteDeviationThreshold: getEnvAsFloat("ROUTE_DEVIATION_THRESHOLD_M", 100.0),

			StopDetectionEnabled:    getEnvAsBool("STOP_DETECTION_ENABLED", false),
			StopSampleSize:          getEnvAsInt("STOP_SAMPLE_SIZE", 30),
			StopBatchCount:          getEnvAsInt("STOP_BATCH_COUNT", 3),
			StopMaxEligibleDistance: getEnvAsFloat("STOP_MAX_ELIGIBLE_DISTANCE_M", 25.0),
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			LogToFile:  getEnvAsBool("LOG_TO_FILE", false),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/driver-location.log"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvAsBool("RATE_LIMIT_ENABLED", true),
			WindowSeconds:  getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultLimit:   getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 120),
			DefaultBurst:   getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 40),
			AnonymousLimit: getEnvAsInt("RATE_LIMIT_ANON_LIMIT", 60),
			AnonymousBurst: getEnvAsInt("RATE_LIMIT_ANON_BURST", 20),
			RedisPrefix:    getEnv("RATE_LIMIT_REDIS_PREFIX", "rate-limit"),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", true),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
		Timeout: TimeoutConfig{
			HTTPClientTimeout:     getEnvAsInt("HTTP_CLIENT_TIMEOUT", DefaultHTTPClientTimeout),
			RedisOperationTimeout: getEnvAsInt("REDIS_OPERATION_TIMEOUT", DefaultRedisOperationTimeout),
			RedisReadTimeout:      getEnvAsInt("REDIS_READ_TIMEOUT", DefaultRedisReadTimeout),
			RedisWriteTimeout:     getEnvAsInt("REDIS_WRITE_TIMEOUT", DefaultRedisWriteTimeout),
			DefaultRequestTimeout: getEnvAsInt("DEFAULT_REQUEST_TIMEOUT", DefaultRequestTimeout),
			RouteOverrides:        make(map[string]int),
		},
	}

	if overrides := getEnv("RATE_LIMIT_ENDPOINTS", ""); overrides != "" {
		var endpointConfig map[string]EndpointRateLimitConfig
		if err := json.Unmarshal([]byte(overrides), &endpointConfig); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ENDPOINTS value: %w", err)
		}
		cfg.RateLimit.EndpointOverrides = endpointConfig
	}

	if breakerOverrides := getEnv("CB_SERVICE_OVERRIDES", ""); breakerOverrides != "" {
		var serviceConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(breakerOverrides), &serviceConfig); err != nil {
			return nil, fmt.Errorf("invalid CB_SERVICE_OVERRIDES value: %w", err)
		}
		cfg.Resilience.CircuitBreaker.ServiceOverrides = serviceConfig
	}

	if timeoutOverrides := getEnv("ROUTE_TIMEOUT_OVERRIDES", ""); timeoutOverrides != "" {
		var routeTimeouts map[string]int
		if err := json.Unmarshal([]byte(timeoutOverrides), &routeTimeouts); err != nil {
			return nil, fmt.Errorf("invalid ROUTE_TIMEOUT_OVERRIDES value: %w", err)
		}
		for route, timeout := range routeTimeouts {
			if timeout <= 0 {
				delete(routeTimeouts, route)
			}
		}
		cfg.Timeout.RouteOverrides = routeTimeouts
	}

	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = int((time.Minute).Seconds())
	}

	if cfg.Resilience.CircuitBreaker.TimeoutSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.TimeoutSeconds = 30
	}
	if cfg.Resilience.CircuitBreaker.IntervalSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.IntervalSeconds = 60
	}
	if cfg.Resilience.CircuitBreaker.FailureThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.Resilience.CircuitBreaker.SuccessThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.SuccessThreshold = 1
	}

	if cfg.Timeout.HTTPClientTimeout <= 0 {
		cfg.Timeout.HTTPClientTimeout = DefaultHTTPClientTimeout
	} else if cfg.Timeout.HTTPClientTimeout > MaxHTTPClientTimeout {
		return nil, fmt.Errorf("HTTP_CLIENT_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.HTTPClientTimeout, MaxHTTPClientTimeout)
	}

	if cfg.Timeout.RedisOperationTimeout <= 0 {
		cfg.Timeout.RedisOperationTimeout = DefaultRedisOperationTimeout
	} else if cfg.Timeout.RedisOperationTimeout > MaxRedisOperationTimeout {
		return nil, fmt.Errorf("REDIS_OPERATION_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.RedisOperationTimeout, MaxRedisOperationTimeout)
	}

	if cfg.Timeout.RedisReadTimeout <= 0 {
		cfg.Timeout.RedisReadTimeout = DefaultRedisReadTimeout
	} else if cfg.Timeout.RedisReadTimeout > MaxRedisOperationTimeout {
		return nil, fmt.Errorf("REDIS_READ_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.RedisReadTimeout, MaxRedisOperationTimeout)
	}

	if cfg.Timeout.RedisWriteTimeout <= 0 {
		cfg.Timeout.RedisWriteTimeout = DefaultRedisWriteTimeout
	} else if cfg.Timeout.RedisWriteTimeout > MaxRedisOperationTimeout {
		return nil, fmt.Errorf("REDIS_WRITE_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.RedisWriteTimeout, MaxRedisOperationTimeout)
	}

	if cfg.Timeout.DefaultRequestTimeout <= 0 {
		cfg.Timeout.DefaultRequestTimeout = DefaultRequestTimeout
	} else if cfg.Timeout.DefaultRequestTimeout > MaxRequestTimeout {
		return nil, fmt.Errorf("DEFAULT_REQUEST_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.DefaultRequestTimeout, MaxRequestTimeout)
	}

	for route, timeout := range cfg.Timeout.RouteOverrides {
		if timeout > MaxRequestTimeout {
			return nil, fmt.Errorf("route timeout for '%s' (%d seconds) exceeds maximum allowed value of %d seconds", route, timeout, MaxRequestTimeout)
		}
	}

	return cfg, nil
}

// SettingsFor returns effective breaker settings for a specific upstream service name.
func (c CircuitBreakerConfig) SettingsFor(service string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		TimeoutSeconds:   c.TimeoutSeconds,
		IntervalSeconds:  c.IntervalSeconds,
	}

	if c.ServiceOverrides != nil {
		if override, ok := c.ServiceOverrides[service]; ok {
			if override.FailureThreshold > 0 {
				settings.FailureThreshold = override.FailureThreshold
			}
			if override.SuccessThreshold > 0 {
				settings.SuccessThreshold = override.SuccessThreshold
			}
			if override.TimeoutSeconds > 0 {
				settings.TimeoutSeconds = override.TimeoutSeconds
			}
			if override.IntervalSeconds > 0 {
				settings.IntervalSeconds = override.IntervalSeconds
			}
		}
	}

	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = 30
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}

	return settings
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := s[start:i]
			start = i + 1
			j, k := 0, len(part)
			for j < k && part[j] == ' ' {
				j++
			}
			for k > j && part[k-1] == ' ' {
				k--
			}
			if j < k {
				out = append(out, part[j:k])
			}
		}
	}
	return out
}

// Window returns the configured rate limit window duration.
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}
