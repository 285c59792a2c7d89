package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StorageDriverLocal = "local"
	StorageDriverMinIO = "minio"

	LLMProviderOpenAI = "openai"
	LLMProviderVertex = "vertex"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Migrations MigrationsConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Storage    StorageConfig
	LLM        LLMConfig
	OCR        OCRConfig
	Rules      RulesConfig
	Evaluation EvaluationConfig
	Reports    ReportsConfig
	Events     EventsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// MigrationsConfig controls schema migrations applied at boot.
type MigrationsConfig struct {
	Enabled bool
	Dir     string
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects where uploaded documents live.
type StorageConfig struct {
	Driver           string
	LocalDir         string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	MinIO            MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// LLMConfig configures the language model capability.
type LLMConfig struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	VertexProject     string
	VertexLocation    string
	VertexCredentials string
}

// OCRConfig points at the poppler/tesseract binaries used for fallback extraction.
type OCRConfig struct {
	Pdftoppm  string
	Tesseract string
	Language  string
	DPI       int
	Timeout   time.Duration
}

// RulesConfig tunes the country rule set cache.
type RulesConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// EvaluationConfig governs the async worker and the stale processing watchdog.
type EvaluationConfig struct {
	WorkerConcurrency int
	WorkerBuffer      int
	StaleAfter        time.Duration
	WatchdogInterval  time.Duration
}

// ReportsConfig configures asynchronous evaluation report generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// EventsConfig configures the status-change publisher.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Migrations = MigrationsConfig{
		Enabled: v.GetBool("MIGRATIONS_ENABLED"),
		Dir:     v.GetString("MIGRATIONS_DIR"),
	}

	cfg.Redis = RedisConfig{
		Enabled:   v.GetBool("REDIS_ENABLED"),
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxUpload := v.GetInt64("STORAGE_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Driver:           strings.ToLower(v.GetString("STORAGE_DRIVER")),
		LocalDir:         v.GetString("STORAGE_LOCAL_DIR"),
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("STORAGE_ALLOWED_MIME_TYPES")),
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
	}

	cfg.LLM = LLMConfig{
		Provider:          strings.ToLower(v.GetString("LLM_PROVIDER")),
		BaseURL:           v.GetString("LLM_BASE_URL"),
		APIKey:            v.GetString("LLM_API_KEY"),
		Model:             v.GetString("LLM_MODEL"),
		Temperature:       v.GetFloat64("LLM_TEMPERATURE"),
		Timeout:           parseDuration(v.GetString("LLM_TIMEOUT"), 60*time.Second),
		VertexProject:     v.GetString("VERTEX_PROJECT"),
		VertexLocation:    v.GetString("VERTEX_LOCATION"),
		VertexCredentials: v.GetString("VERTEX_CREDENTIALS_FILE"),
	}

	cfg.OCR = OCRConfig{
		Pdftoppm:  v.GetString("OCR_PDFTOPPM_BIN"),
		Tesseract: v.GetString("OCR_TESSERACT_BIN"),
		Language:  v.GetString("OCR_LANGUAGE"),
		DPI:       v.GetInt("OCR_DPI"),
		Timeout:   parseDuration(v.GetString("OCR_TIMEOUT"), 90*time.Second),
	}

	cfg.Rules = RulesConfig{
		CacheEnabled: v.GetBool("RULES_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("RULES_CACHE_TTL"), 24*time.Hour),
	}

	cfg.Evaluation = EvaluationConfig{
		WorkerConcurrency: v.GetInt("EVALUATION_WORKER_CONCURRENCY"),
		WorkerBuffer:      v.GetInt("EVALUATION_WORKER_BUFFER"),
		StaleAfter:        parseDuration(v.GetString("EVALUATION_STALE_AFTER"), 15*time.Minute),
		WatchdogInterval:  parseDuration(v.GetString("EVALUATION_WATCHDOG_INTERVAL"), time.Minute),
	}

	cfg.Reports = ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	cfg.Events = EventsConfig{
		AMQPURL:  v.GetString("AMQP_URL"),
		Exchange: v.GetString("AMQP_EXCHANGE"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "credential_eval")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("MIGRATIONS_ENABLED", true)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "credeval")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("STORAGE_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("STORAGE_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png,text/plain")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "credential-documents")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("LLM_PROVIDER", LLMProviderOpenAI)
	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_TEMPERATURE", 0.0)
	v.SetDefault("LLM_TIMEOUT", "60s")
	v.SetDefault("VERTEX_PROJECT", "")
	v.SetDefault("VERTEX_LOCATION", "us-central1")
	v.SetDefault("VERTEX_CREDENTIALS_FILE", "")

	v.SetDefault("OCR_PDFTOPPM_BIN", "pdftoppm")
	v.SetDefault("OCR_TESSERACT_BIN", "tesseract")
	v.SetDefault("OCR_LANGUAGE", "eng+spa+por+fra")
	v.SetDefault("OCR_DPI", 300)
	v.SetDefault("OCR_TIMEOUT", "90s")

	v.SetDefault("RULES_CACHE_ENABLED", true)
	v.SetDefault("RULES_CACHE_TTL", "24h")

	v.SetDefault("EVALUATION_WORKER_CONCURRENCY", 2)
	v.SetDefault("EVALUATION_WORKER_BUFFER", 32)
	v.SetDefault("EVALUATION_STALE_AFTER", "15m")
	v.SetDefault("EVALUATION_WATCHDOG_INTERVAL", "1m")

	v.SetDefault("ENABLE_REPORTS", true)
	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "credential.evaluations")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
