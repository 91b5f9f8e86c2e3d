package config

import (
	"os"
	"strconv"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AzureConfig holds Azure Blob Storage settings.
type AzureConfig struct {
	Account    string
	AccountKey string
	Endpoint   string
	Container  string
}

// StorageConfig selects the blob backend used for file content.
type StorageConfig struct {
	Backend string // "minio" or "azure"
	MinIO   MinIOConfig
	Azure   AzureConfig
}

// RedisConfig configures the shared discovery cache. An empty Addr selects the in-memory cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WopiConfig holds the protocol settings: token credential, discovery feed and proof switch.
type WopiConfig struct {
	TokenSecret         string
	TokenIssuer         string
	DiscoveryURL        string
	DiscoveryTimeoutSec int
	ProofEnabled        bool
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	Log      LogConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Wopi     WopiConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "minio"),
			MinIO: MinIOConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", ""),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			Azure: AzureConfig{
				Account:    getEnv("AZURE_STORAGE_ACCOUNT", ""),
				AccountKey: getEnv("AZURE_STORAGE_KEY", ""),
				Endpoint:   getEnv("AZURE_STORAGE_ENDPOINT", ""),
				Container:  getEnv("AZURE_STORAGE_CONTAINER", "wopi-files"),
			},
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Wopi: WopiConfig{
			TokenSecret:         getEnv("WOPI_TOKEN_SECRET", ""),
			TokenIssuer:         getEnv("WOPI_TOKEN_ISSUER", "wopihost"),
			DiscoveryURL:        getEnv("WOPI_DISCOVERY_URL", ""),
			DiscoveryTimeoutSec: getEnvInt("WOPI_DISCOVERY_TIMEOUT_SEC", 10),
			ProofEnabled:        getEnvBool("WOPI_PROOF_ENABLED", true),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
