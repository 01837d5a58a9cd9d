package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// WebSocket tuning
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Routing engine knobs
	RingTimeout        time.Duration // ringing -> re-queue when the agent never answers
	WrapUpTimeout      time.Duration // wrap_up lapses without a disposition
	QueueSweepInterval time.Duration // safety-net re-route pass for queue heads
	DefaultMaxCalls    int           // agent capacity when the company policy has none
	DefaultHandleTime  time.Duration // wait-estimate fallback with no handle history
	ICEBufferLimit     int           // buffered candidates per session before the peer is ready
	PublicCompanyID    string        // company scope used by the landing-page widget
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PublicCompanyID: getEnv("PUBLIC_COMPANY_ID", "public"),
	}

	var err error
	if config.WSReadTimeout, err = getEnvSeconds("WS_READ_TIMEOUT", 60); err != nil {
		return nil, err
	}
	if config.WSWriteTimeout, err = getEnvSeconds("WS_WRITE_TIMEOUT", 10); err != nil {
		return nil, err
	}

	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 16384 // SDP offers run to a few KB

	if config.RingTimeout, err = getEnvSeconds("RING_TIMEOUT", 25); err != nil {
		return nil, err
	}
	if config.WrapUpTimeout, err = getEnvSeconds("WRAPUP_TIMEOUT", 120); err != nil {
		return nil, err
	}
	if config.QueueSweepInterval, err = getEnvSeconds("QUEUE_SWEEP_INTERVAL", 5); err != nil {
		return nil, err
	}
	if config.DefaultHandleTime, err = getEnvSeconds("DEFAULT_HANDLE_TIME", 180); err != nil {
		return nil, err
	}
	if config.DefaultMaxCalls, err = getEnvInt("DEFAULT_MAX_CONCURRENT_CALLS", 1); err != nil {
		return nil, err
	}
	if config.ICEBufferLimit, err = getEnvInt("ICE_BUFFER_LIMIT", 16); err != nil {
		return nil, err
	}

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvSeconds(key string, defaultSeconds int) (time.Duration, error) {
	v, err := getEnvInt(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}
