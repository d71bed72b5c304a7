package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL       string
	DBMaxConns        int32
	DBMinConns        int32
	DBConnMaxLifetime time.Duration
	MigrationsPath    string

	// Redis broker
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Job execution
	LeaseTimeout    time.Duration // visibility window before a job is considered stalled
	PollInterval    time.Duration // worker idle sleep between empty dequeues
	SweepInterval   time.Duration // delayed-promotion and stalled-reclaim tick
	DefaultAttempts int
	BackoffBase     time.Duration
	BackoffCap      time.Duration

	// Per-queue concurrency
	MediaMoveWorkers int
	ThumbnailWorkers int
	PayoutWorkers    int // kept low: the payout API rate-limits per client
	DeliveryWorkers  int // per channel queue

	// Delivery
	SendRatePerSec int // per-channel token rate for durable delivery
	SenderBaseURL  string
	SenderTimeout  time.Duration
	ExpressHighBuf int
	ExpressMedBuf  int
	ExpressLowBuf  int

	// Payout provider
	PayoutAPIBaseURL string
	PayoutAPITimeout time.Duration

	// Object store
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	// Thumbnails
	ThumbWidth  int
	ThumbHeight int
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:       dbURL,
		DBMaxConns:        int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:        int32(getInt("DB_MIN_CONNS", 5)),
		DBConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "migrations"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		LeaseTimeout:    getDuration("LEASE_TIMEOUT", 60*time.Second),
		PollInterval:    getDuration("POLL_INTERVAL", 500*time.Millisecond),
		SweepInterval:   getDuration("SWEEP_INTERVAL", 2*time.Second),
		DefaultAttempts: getInt("DEFAULT_MAX_ATTEMPTS", 3),
		BackoffBase:     getDuration("BACKOFF_BASE", 5*time.Second),
		BackoffCap:      getDuration("BACKOFF_CAP", 5*time.Minute),

		MediaMoveWorkers: getInt("MEDIA_MOVE_WORKERS", 4),
		ThumbnailWorkers: getInt("THUMBNAIL_WORKERS", 4),
		PayoutWorkers:    getInt("PAYOUT_WORKERS", 1),
		DeliveryWorkers:  getInt("DELIVERY_WORKERS", 2),

		SendRatePerSec: getInt("SEND_RATE_PER_CHANNEL", 50),
		SenderBaseURL:  getEnv("SENDER_BASE_URL", "http://localhost:9090/send"),
		SenderTimeout:  getDuration("SENDER_TIMEOUT", 10*time.Second),
		ExpressHighBuf: getInt("EXPRESS_HIGH_BUFFER", 1000),
		ExpressMedBuf:  getInt("EXPRESS_MEDIUM_BUFFER", 2000),
		ExpressLowBuf:  getInt("EXPRESS_LOW_BUFFER", 2000),

		PayoutAPIBaseURL: getEnv("PAYOUT_API_BASE_URL", "http://localhost:9091"),
		PayoutAPITimeout: getDuration("PAYOUT_API_TIMEOUT", 15*time.Second),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3PathStyle: getBool("S3_PATH_STYLE", false),

		ThumbWidth:  getInt("THUMB_WIDTH", 320),
		ThumbHeight: getInt("THUMB_HEIGHT", 0),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
