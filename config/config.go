package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Coordinator CoordinatorConfig
	Payment     PaymentConfig
	Realtime    RealtimeConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds token validation settings for the external access
// control service.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// CoordinatorConfig holds the coordinator's policy knobs. These are
// deployment policy, not contract.
type CoordinatorConfig struct {
	ReservationTTL   time.Duration
	ReservationSweep time.Duration
	PresenceTimeout  time.Duration
	PresenceSweep    time.Duration
}

// PaymentConfig holds the payment gateway settings. An empty endpoint
// selects the development no-op authority.
type PaymentConfig struct {
	Endpoint string
	Secret   string
	Timeout  time.Duration
}

// RealtimeConfig holds fan-out settings.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration
}

// DSN returns the PostgreSQL connection string. If URL is set it is
// used as-is; otherwise the DSN is built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 0), // 0: never time out event streams
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/shoplive?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "shoplive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Coordinator: CoordinatorConfig{
			ReservationTTL:   getEnvDuration("RESERVATION_TTL_SEC", 180*time.Second),
			ReservationSweep: getEnvDuration("RESERVATION_SWEEP_SEC", 5*time.Second),
			PresenceTimeout:  getEnvDuration("PRESENCE_TIMEOUT_SEC", 60*time.Second),
			PresenceSweep:    getEnvDuration("PRESENCE_SWEEP_SEC", 15*time.Second),
		},
		Payment: PaymentConfig{
			Endpoint: getEnv("PAYMENT_GATEWAY_URL", ""),
			Secret:   getEnv("PAYMENT_GATEWAY_SECRET", ""),
			Timeout:  getEnvDuration("PAYMENT_TIMEOUT_SEC", 10*time.Second),
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL_SEC", 30*time.Second),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
