package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Sheets    SheetsConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", c.User, c.Password, c.Host, c.Port)
}

type QueueConfig struct {
	Path         string
	Name         string
	JobTimeout   time.Duration
	Workers      int
	PollInterval time.Duration
	HeartbeatTTL time.Duration
}

type SheetsConfig struct {
	TargetsDB       string
	TargetsFile     string
	SpreadsheetID   string
	CredentialsPath string
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	SendBuffer      int
	// MaxClients caps concurrent sync-event subscribers. Zero means no cap.
	MaxClients int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Load() (*Config, error) {
	godotenv.Load()

	jobTimeout, err := getEnvAsDuration("SYNC_JOB_TIMEOUT", 90*time.Second)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getEnvAsDuration("SYNC_POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	heartbeatTTL, err := getEnvAsDuration("SYNC_HEARTBEAT_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "boxtrack"),
		},
		Queue: QueueConfig{
			Path:         getEnv("SYNC_QUEUE_PATH", "./data/queue"),
			Name:         getEnv("SYNC_QUEUE_NAME", "sync"),
			JobTimeout:   jobTimeout,
			Workers:      getEnvAsInt("SYNC_WORKERS", 1),
			PollInterval: pollInterval,
			HeartbeatTTL: heartbeatTTL,
		},
		Sheets: SheetsConfig{
			TargetsDB:       getEnv("SHEETS_TARGETS_DB", "./data/targets.db"),
			TargetsFile:     getEnv("SHEETS_TARGETS_FILE", ""),
			SpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),
			CredentialsPath: getEnv("SHEETS_CREDENTIALS", ""),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			SendBuffer:      getEnvAsInt("WS_SEND_BUFFER", 64),
			MaxClients:      getEnvAsInt("WS_MAX_CLIENTS", 256),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

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

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
