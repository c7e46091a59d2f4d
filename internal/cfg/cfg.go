package cfg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"bot-scorer/internal/common"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Server    ServerConfig    `yaml:"server" envconfig:""`
	Storage   StorageConfig   `yaml:"storage" envconfig:""`
	ML        MLConfig        `yaml:"ml" envconfig:""`
	Twitter   TwitterConfig   `yaml:"twitter" envconfig:""`
	Collector CollectorConfig `yaml:"collector" envconfig:""`
	Redis     RedisConfig     `yaml:"redis" envconfig:""`
	Log       LogConfig       `yaml:"log" envconfig:""`
}

type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	DataPath    string `yaml:"dataPath" envconfig:"DATA_PATH"`
	PostgresDSN string `yaml:"postgresDSN" envconfig:"POSTGRES_DSN"`
}

type MLConfig struct {
	ModelPath string `yaml:"modelPath" envconfig:"MODEL_PATH"`
}

type TwitterConfig struct {
	BaseURL     string        `yaml:"baseURL" envconfig:"TWITTER_BASE_URL"`
	BearerToken string        `yaml:"bearerToken" envconfig:"TWITTER_BEARER_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TWITTER_TIMEOUT"`
	Retries     int           `yaml:"retries" envconfig:"TWITTER_RETRIES"`
}

type CollectorConfig struct {
	Interval   time.Duration `yaml:"interval" envconfig:"COLLECT_INTERVAL"`
	RunOnStart bool          `yaml:"runOnStart" envconfig:"COLLECT_ON_START"`
}

// RedisConfig enables the lookup cache when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password  string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" envconfig:"REDIS_DB"`
	LookupTTL time.Duration `yaml:"lookupTTL" envconfig:"LOOKUP_TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" envconfig:"LOG_PRETTY"`
}

// Load builds Settings from defaults, the optional YAML file named by
// CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (Settings, error) {
	settings := Defaults()

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		if err := loadFromYAML(configPath, &settings); err != nil {
			return Settings{}, err
		}
	}

	if err := envconfig.Process("", &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to read environment: %w", err)
	}

	settings.Storage.Driver = strings.ToLower(strings.TrimSpace(settings.Storage.Driver))

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		Server: ServerConfig{
			Port:            common.DefaultPort,
			ShutdownTimeout: mustDuration(common.DefaultShutdownTimeout),
		},
		Storage: StorageConfig{
			Driver:   common.DefaultStorageDriver,
			DataPath: common.DefaultDataPath,
		},
		ML: MLConfig{ModelPath: common.DefaultModelPath},
		Twitter: TwitterConfig{
			BaseURL: common.DefaultTwitterBaseURL,
			Timeout: mustDuration(common.DefaultTwitterTimeout),
			Retries: common.DefaultTwitterRetries,
		},
		Collector: CollectorConfig{Interval: mustDuration(common.DefaultCollectInterval)},
		Redis:     RedisConfig{LookupTTL: mustDuration(common.DefaultLookupTTL)},
		Log:       LogConfig{Level: common.DefaultLogLevel},
	}
}

func loadFromYAML(path string, settings *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// validateSettings performs validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.Server.Port < common.MinPort || settings.Server.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Server.Port)
	}
	if settings.Server.ShutdownTimeout < time.Second || settings.Server.ShutdownTimeout > 5*time.Minute {
		return fmt.Errorf("shutdown timeout must be between 1s and 5m, got %v", settings.Server.ShutdownTimeout)
	}

	switch settings.Storage.Driver {
	case common.StorageBolt:
		if settings.Storage.DataPath == "" {
			return fmt.Errorf(common.ErrMsgDataPathRequired)
		}
	case common.StoragePostgres:
		if settings.Storage.PostgresDSN == "" {
			return fmt.Errorf(common.ErrMsgPostgresDSNRequired)
		}
	default:
		return fmt.Errorf("storage driver must be %q or %q, got %q", common.StorageBolt, common.StoragePostgres, settings.Storage.Driver)
	}

	if settings.ML.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	if settings.Twitter.BaseURL == "" {
		return fmt.Errorf("twitter base URL cannot be empty")
	}
	if settings.Twitter.BearerToken == "" {
		return fmt.Errorf(common.ErrMsgBearerTokenRequired)
	}
	if settings.Twitter.Timeout < time.Second || settings.Twitter.Timeout > time.Minute {
		return fmt.Errorf("twitter timeout must be between 1s and 1m, got %v", settings.Twitter.Timeout)
	}
	if settings.Twitter.Retries < 0 || settings.Twitter.Retries > common.MaxTwitterRetries {
		return fmt.Errorf("twitter retries must be between 0 and %d, got %d", common.MaxTwitterRetries, settings.Twitter.Retries)
	}

	if settings.Collector.Interval < common.MinCollectIntervalSec*time.Second {
		return fmt.Errorf("collect interval must be at least %ds, got %v", common.MinCollectIntervalSec, settings.Collector.Interval)
	}

	if settings.Redis.Addr != "" {
		if settings.Redis.LookupTTL <= 0 {
			return fmt.Errorf("lookup TTL must be positive when redis is enabled, got %v", settings.Redis.LookupTTL)
		}
		if settings.Redis.DB < 0 {
			return fmt.Errorf("redis DB must not be negative, got %d", settings.Redis.DB)
		}
	}

	if _, err := zerolog.ParseLevel(settings.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", settings.Log.Level)
	}

	return nil
}
