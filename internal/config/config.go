package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Cache        CacheConfig        `mapstructure:"cache"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Context      ContextConfig      `mapstructure:"context"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	I18n         I18nConfig         `mapstructure:"i18n"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ProvidersConfig carries optional startup credentials. Keys set here seed
// the credential store on first run; keys set later through the API win.
type ProvidersConfig struct {
	Anthropic ProviderKeyConfig `mapstructure:"anthropic"`
	OpenAI    ProviderKeyConfig `mapstructure:"openai"`
	Google    ProviderKeyConfig `mapstructure:"google"`
	Grok      ProviderKeyConfig `mapstructure:"grok"`
}

type ProviderKeyConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type SubscriptionConfig struct {
	DefaultTier string `mapstructure:"default_tier"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type ContextConfig struct {
	MaxMessages int    `mapstructure:"max_messages"`
	Persona     string `mapstructure:"persona"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides
	viper.BindEnv("providers.anthropic.api_key", "ANTHROPIC_API_KEY")
	viper.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("providers.google.api_key", "GOOGLE_API_KEY")
	viper.BindEnv("providers.grok.api_key", "GROK_API_KEY")
	viper.BindEnv("providers.grok.base_url", "GROK_BASE_URL")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")
	viper.BindEnv("subscription.default_tier", "SUBSCRIPTION_TIER")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8741"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Vendor calls can be slow; the write timeout must outlive them
		cfg.Server.WriteTimeout = 180 * time.Second
	}
	if cfg.Context.MaxMessages == 0 {
		cfg.Context.MaxMessages = 5
	}
	if cfg.Subscription.DefaultTier == "" {
		cfg.Subscription.DefaultTier = "free"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "en"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Storage.Type {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "redis" && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("redis storage requires an address")
	}
	switch cfg.Subscription.DefaultTier {
	case "free", "basic", "pro", "unlimited":
	default:
		return fmt.Errorf("unknown subscription tier: %s", cfg.Subscription.DefaultTier)
	}
	return nil
}
