package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerAddr string
	JWTSecret  string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Transcode
	FFmpegPath                string
	TranscodeMaxInputBytes    int64
	TranscodeTempDir          string
	TranscodeRenditionTimeout time.Duration
	TranscodeMaxJobs          int
	TranscodeDefaultLabels    []string

	// URL delivery
	URLDefaultExpiry      time.Duration
	URLCacheSafetyMargin  time.Duration
	URLCacheDebounce      time.Duration
	URLCacheBudgetBytes   int64
	URLCacheMaxEntries    int
	URLCacheBackend       string // redis, file or none
	URLCacheFile          string
	URLResolveTimeout     time.Duration
	URLResolveMaxAttempts int

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		JWTSecret:  os.Getenv("JWT_SECRET"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "fanvault"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "fanvault"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		FFmpegPath:                getEnv("FFMPEG_PATH", "ffmpeg"),
		TranscodeMaxInputBytes:    getEnvInt64("TRANSCODE_MAX_INPUT_BYTES", 500<<20),
		TranscodeTempDir:          getEnv("TRANSCODE_TEMP_DIR", os.TempDir()),
		TranscodeRenditionTimeout: getEnvDuration("TRANSCODE_RENDITION_TIMEOUT", 15*time.Minute),
		TranscodeMaxJobs:          getEnvInt("TRANSCODE_MAX_JOBS", 2),
		TranscodeDefaultLabels:    getEnvList("TRANSCODE_DEFAULT_LABELS", []string{"240p", "360p", "480p", "720p", "1080p"}),

		URLDefaultExpiry:      getEnvDuration("URL_DEFAULT_EXPIRY", time.Hour),
		URLCacheSafetyMargin:  getEnvDuration("URL_CACHE_SAFETY_MARGIN", 5*time.Minute),
		URLCacheDebounce:      getEnvDuration("URL_CACHE_DEBOUNCE", 500*time.Millisecond),
		URLCacheBudgetBytes:   getEnvInt64("URL_CACHE_BUDGET_BYTES", 4<<20),
		URLCacheMaxEntries:    getEnvInt("URL_CACHE_MAX_ENTRIES", 5000),
		URLCacheBackend:       getEnv("URL_CACHE_BACKEND", "redis"),
		URLCacheFile:          getEnv("URL_CACHE_FILE", filepath.Join("data", "url_cache.json")),
		URLResolveTimeout:     getEnvDuration("URL_RESOLVE_TIMEOUT", 10*time.Second),
		URLResolveMaxAttempts: getEnvInt("URL_RESOLVE_MAX_ATTEMPTS", 3),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}

// Validate reports configuration values the services cannot run with.
func (c *Config) Validate() error {
	if c.TranscodeMaxInputBytes <= 0 {
		return fmt.Errorf("TRANSCODE_MAX_INPUT_BYTES must be positive, got %d", c.TranscodeMaxInputBytes)
	}
	if c.TranscodeMaxJobs <= 0 {
		return fmt.Errorf("TRANSCODE_MAX_JOBS must be positive, got %d", c.TranscodeMaxJobs)
	}
	if c.URLDefaultExpiry <= c.URLCacheSafetyMargin {
		return fmt.Errorf("URL_DEFAULT_EXPIRY (%s) must exceed URL_CACHE_SAFETY_MARGIN (%s)", c.URLDefaultExpiry, c.URLCacheSafetyMargin)
	}
	if c.URLResolveMaxAttempts <= 0 {
		return fmt.Errorf("URL_RESOLVE_MAX_ATTEMPTS must be positive, got %d", c.URLResolveMaxAttempts)
	}
	switch c.URLCacheBackend {
	case "redis", "file", "none":
	default:
		return fmt.Errorf("unknown URL_CACHE_BACKEND %q", c.URLCacheBackend)
	}
	return nil
}
