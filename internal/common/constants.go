package common

// Environment variable keys
const (
	EnvConfigFile         = "CONFIG_FILE"
	EnvPort               = "PORT"
	EnvShutdownTimeout    = "SHUTDOWN_TIMEOUT"
	EnvStorageDriver      = "STORAGE_DRIVER"
	EnvDataPath           = "DATA_PATH"
	EnvPostgresDSN        = "POSTGRES_DSN"
	EnvModelPath          = "MODEL_PATH"
	EnvTwitterBaseURL     = "TWITTER_BASE_URL"
	EnvTwitterBearerToken = "TWITTER_BEARER_TOKEN"
	EnvTwitterTimeout     = "TWITTER_TIMEOUT"
	EnvTwitterRetries     = "TWITTER_RETRIES"
	EnvCollectInterval    = "COLLECT_INTERVAL"
	EnvCollectOnStart     = "COLLECT_ON_START"
	EnvRedisAddr          = "REDIS_ADDR"
	EnvRedisPassword      = "REDIS_PASSWORD"
	EnvRedisDB            = "REDIS_DB"
	EnvLookupTTL          = "LOOKUP_TTL"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogPretty          = "LOG_PRETTY"
)

// Storage drivers
const (
	StorageBolt     = "bolt"
	StoragePostgres = "postgres"
)

// Configuration defaults
const (
	DefaultPort            = 8080
	DefaultShutdownTimeout = "10s"
	DefaultStorageDriver   = StorageBolt
	DefaultDataPath        = "data"
	DefaultModelPath       = "models/pipeline.json"
	DefaultTwitterBaseURL  = "https://api.twitter.com"
	DefaultTwitterTimeout  = "10s"
	DefaultTwitterRetries  = 2
	DefaultCollectInterval = "24h"
	DefaultLookupTTL       = "15m"
	DefaultLogLevel        = "info"
)

// Common error messages
const (
	ErrMsgBearerTokenRequired = "twitter bearer token is required"
	ErrMsgPostgresDSNRequired = "postgres DSN is required when the storage driver is postgres"
	ErrMsgDataPathRequired    = "data path is required when the storage driver is bolt"
)

// Validation constants
const (
	MinPort               = 1024
	MaxPort               = 65535
	MaxTwitterRetries     = 10
	MinCollectIntervalSec = 60
)
