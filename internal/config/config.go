package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Tracking  TrackingConfig
	Geocoder  GeocoderConfig
	Messaging MessagingConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values for the position archive.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds connection values for the agent record store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// TrackingConfig carries the live-state reconciliation parameters.
type TrackingConfig struct {
	HomeName           string
	HomeLat            float64
	HomeLng            float64
	LivenessWindowSec  int
	RenderTickSec      int
	MinWriteIntervalMs int
	MinDisplacementKm  float64
	AreaStalenessSec   int
	AreaMovementKm     float64
	SensorTimeoutSec   int
}

// GeocoderConfig configures the reverse-geocoding client.
type GeocoderConfig struct {
	BaseURL        string
	Language       string
	TimeoutSeconds int
	RequestsPerSec float64
}

// MessagingConfig configures the consent-invite deep link handoff.
type MessagingConfig struct {
	CountryCode     string
	ConsentLinkBase string
	DeepLinkBase    string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "courier-track"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracking: TrackingConfig{
			HomeName:           getEnv("TRACKING_HOME_NAME", "bakery"),
			HomeLat:            getEnvAsFloat("TRACKING_HOME_LAT", 29.3759),
			HomeLng:            getEnvAsFloat("TRACKING_HOME_LNG", 47.9774),
			LivenessWindowSec:  getEnvAsInt("TRACKING_LIVENESS_WINDOW_SECONDS", 20),
			RenderTickSec:      getEnvAsInt("TRACKING_RENDER_TICK_SECONDS", 3),
			MinWriteIntervalMs: getEnvAsInt("TRACKING_MIN_WRITE_INTERVAL_MS", 2000),
			MinDisplacementKm:  getEnvAsFloat("TRACKING_MIN_DISPLACEMENT_KM", 0.005),
			AreaStalenessSec:   getEnvAsInt("TRACKING_AREA_STALENESS_SECONDS", 60),
			AreaMovementKm:     getEnvAsFloat("TRACKING_AREA_MOVEMENT_KM", 0.3),
			SensorTimeoutSec:   getEnvAsInt("TRACKING_SENSOR_TIMEOUT_SECONDS", 15),
		},
		Geocoder: GeocoderConfig{
			BaseURL:        getEnv("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
			Language:       getEnv("GEOCODER_LANGUAGE", "ar"),
			TimeoutSeconds: getEnvAsInt("GEOCODER_TIMEOUT_SECONDS", 5),
			RequestsPerSec: getEnvAsFloat("GEOCODER_REQUESTS_PER_SECOND", 1),
		},
		Messaging: MessagingConfig{
			CountryCode:     getEnv("MESSAGING_COUNTRY_CODE", "965"),
			ConsentLinkBase: getEnv("MESSAGING_CONSENT_LINK_BASE", "https://track.example.com/consent?agentId="),
			DeepLinkBase:    getEnv("MESSAGING_DEEP_LINK_BASE", "https://wa.me/"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// LivenessWindow is the span after which a non-updating agent renders as disconnected.
func (t TrackingConfig) LivenessWindow() time.Duration {
	return time.Duration(t.LivenessWindowSec) * time.Second
}

// RenderTick is the dashboard re-render cadence.
func (t TrackingConfig) RenderTick() time.Duration {
	return time.Duration(t.RenderTickSec) * time.Second
}

// MinWriteInterval is the elapsed-time leg of the position write gate.
func (t TrackingConfig) MinWriteInterval() time.Duration {
	return time.Duration(t.MinWriteIntervalMs) * time.Millisecond
}

// AreaStaleness is the time leg of the area refresh gate.
func (t TrackingConfig) AreaStaleness() time.Duration {
	return time.Duration(t.AreaStalenessSec) * time.Second
}

// Timeout returns the geocoding HTTP timeout.
func (g GeocoderConfig) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
