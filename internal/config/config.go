package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Recall     RecallConfig     `mapstructure:"recall"`
	Export     ExportConfig     `mapstructure:"export"`
	Internal   InternalConfig   `mapstructure:"internal"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// OpenAIConfig holds extraction provider configuration
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AdmissionConfig bounds concurrent extraction calls
type AdmissionConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxQueueDepth int           `mapstructure:"max_queue_depth"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

// ExtractionConfig holds retry and timeout policy for extraction calls
type ExtractionConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// IngestConfig holds email ingestion limits
type IngestConfig struct {
	MaxFileSizeBytes int64         `mapstructure:"max_file_size_bytes"`
	AliasCacheTTL    time.Duration `mapstructure:"alias_cache_ttl"`
	AliasCacheSize   int           `mapstructure:"alias_cache_size"`
	AliasRateLimit   int           `mapstructure:"alias_rate_limit"`
	AliasRateWindow  time.Duration `mapstructure:"alias_rate_window"`
	WarrantyMonths   int           `mapstructure:"warranty_months"`
	AttachmentMaxFan int           `mapstructure:"attachment_max_fan"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// RecallConfig holds the external recall-check client configuration
type RecallConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExportConfig holds receipt export configuration
type ExportConfig struct {
	OutputPrefix string `mapstructure:"output_prefix"`
}

// InternalConfig holds server-to-server authentication
type InternalConfig struct {
	APIToken string `mapstructure:"api_token"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 120*time.Second)

	viper.SetDefault("database.path", "data/receiptpipe.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("openai.temperature", 0.1)
	viper.SetDefault("openai.max_tokens", 4000)

	viper.SetDefault("admission.max_concurrent", 3)
	viper.SetDefault("admission.max_queue_depth", 20)
	viper.SetDefault("admission.queue_timeout", 30*time.Second)

	viper.SetDefault("extraction.max_attempts", 3)
	viper.SetDefault("extraction.base_backoff", 2*time.Second)
	viper.SetDefault("extraction.request_timeout", 60*time.Second)

	viper.SetDefault("ingest.max_file_size_bytes", int64(10*1024*1024))
	viper.SetDefault("ingest.alias_cache_ttl", 5*time.Minute)
	viper.SetDefault("ingest.alias_cache_size", 1000)
	viper.SetDefault("ingest.alias_rate_limit", 30)
	viper.SetDefault("ingest.alias_rate_window", time.Minute)
	viper.SetDefault("ingest.warranty_months", 12)
	viper.SetDefault("ingest.attachment_max_fan", 10)

	viper.SetDefault("storage.base_dir", "data/objects")

	viper.SetDefault("recall.timeout", 5*time.Second)

	viper.SetDefault("export.output_prefix", "exports")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("internal.api_token", "INTERNAL_API_TOKEN")
	viper.BindEnv("recall.base_url", "RECALL_SERVICE_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Internal.APIToken == "" {
		return fmt.Errorf("internal.api_token is required")
	}
	if c.Admission.MaxConcurrent <= 0 {
		return fmt.Errorf("admission.max_concurrent must be positive")
	}
	if c.Admission.MaxQueueDepth < 0 {
		return fmt.Errorf("admission.max_queue_depth must not be negative")
	}
	if c.Extraction.MaxAttempts <= 0 {
		return fmt.Errorf("extraction.max_attempts must be positive")
	}
	if c.Ingest.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("ingest.max_file_size_bytes must be positive")
	}
	return nil
}
