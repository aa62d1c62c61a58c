package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	WebRTC     WebRTCConfig
	AWS        AWSConfig
	Recording  RecordingConfig
	Spotlight  SpotlightConfig
	Attendance AttendanceConfig
	Whiteboard WhiteboardConfig
}

// SpotlightConfig holds the default spotlight settings for newly started classroom sessions.
type SpotlightConfig struct {
	MaxActive           int
	DefaultDurationSec  int
	AutoRotate          bool
	RotationIntervalSec int
	QueueEnabled        bool
	NotifyBuffer        int // async history/broadcast buffer per server
}

// AttendanceConfig controls how a student's session time maps to present/late/absent.
type AttendanceConfig struct {
	LateAfterMinutes int     // joining later than this after class start counts as late
	MinPresentShare  float64 // minimum share of class time attended to not be absent (0..1)
}

// WhiteboardConfig holds shared whiteboard settings.
type WhiteboardConfig struct {
	MaxStrokes       int
	SnapshotTTLHours int
}

// RecordingConfig holds in-app recording (teacher view) settings.
type RecordingConfig struct {
	OutputDir     string // directory for temp recording files; empty = os.TempDir()
	WebhookSecret string // HMAC-SHA256 key for provider webhooks; empty disables the check
}

// WebRTCConfig holds STUN/TURN ICE server URLs for WebRTC.
type WebRTCConfig struct {
	ICEUrls []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	LogLevel           string // debug enables zap development logger
	WorkerMetricsPort  string // cmd/worker serves /metrics here
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/liveclass?sslmode=disable)
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

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
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
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			WorkerMetricsPort:  getEnv("WORKER_METRICS_PORT", "9091"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/liveclass?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "liveclass"),
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
		WebRTC: WebRTCConfig{
			ICEUrls: splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "liveclass-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Recording: RecordingConfig{
			OutputDir:     getEnv("RECORDING_OUTPUT_DIR", ""),
			WebhookSecret: getEnv("RECORDING_WEBHOOK_SECRET", ""),
		},
		Spotlight: SpotlightConfig{
			MaxActive:           getEnvInt("SPOTLIGHT_MAX_ACTIVE", 3),
			DefaultDurationSec:  getEnvInt("SPOTLIGHT_DEFAULT_DURATION_SEC", 300),
			AutoRotate:          getEnvBool("SPOTLIGHT_AUTO_ROTATE", false),
			RotationIntervalSec: getEnvInt("SPOTLIGHT_ROTATION_INTERVAL_SEC", 180),
			QueueEnabled:        getEnvBool("SPOTLIGHT_QUEUE_ENABLED", true),
			NotifyBuffer:        getEnvInt("SPOTLIGHT_NOTIFY_BUFFER", 1024),
		},
		Attendance: AttendanceConfig{
			LateAfterMinutes: getEnvInt("ATTENDANCE_LATE_AFTER_MINUTES", 5),
			MinPresentShare:  getEnvFloat("ATTENDANCE_MIN_PRESENT_SHARE", 0.5),
		},
		Whiteboard: WhiteboardConfig{
			MaxStrokes:       getEnvInt("WHITEBOARD_MAX_STROKES", 5000),
			SnapshotTTLHours: getEnvInt("WHITEBOARD_SNAPSHOT_TTL_HOURS", 12),
		},
	}
	if cfg.Spotlight.MaxActive < 1 {
		return nil, fmt.Errorf("SPOTLIGHT_MAX_ACTIVE must be at least 1, got %d", cfg.Spotlight.MaxActive)
	}
	if cfg.Attendance.MinPresentShare < 0 || cfg.Attendance.MinPresentShare > 1 {
		return nil, fmt.Errorf("ATTENDANCE_MIN_PRESENT_SHARE must be within 0..1, got %v", cfg.Attendance.MinPresentShare)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
