package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is constructed once at
// startup and passed explicitly into each component's constructor; nothing
// reads configuration from ambient state afterwards.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// APIKey authenticates the internal API used by the workflow system.
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// TelegramConfig holds Bot API and webhook configuration
type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token"`
	BotUsername string        `mapstructure:"bot_username"`
	APIBaseURL  string        `mapstructure:"api_base_url"`
	APITimeout  time.Duration `mapstructure:"api_timeout"`

	// RetryAttempts bounds the Bot API request executor.
	RetryAttempts int `mapstructure:"retry_attempts"`

	WebhookPath    string   `mapstructure:"webhook_path"`
	WebhookURL     string   `mapstructure:"webhook_url"`
	WebhookSecret  string   `mapstructure:"webhook_secret"`
	AllowedIPs     []string `mapstructure:"allowed_ips"`
	MaxConnections int      `mapstructure:"max_connections"`
	AllowedUpdates []string `mapstructure:"allowed_updates"`

	NotificationsEnabled bool          `mapstructure:"notifications_enabled"`
	TokenTTL             time.Duration `mapstructure:"token_ttl"`

	// Templates overrides the built-in notification templates by type.
	Templates map[string]string `mapstructure:"templates"`

	Workers       int `mapstructure:"workers"`
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// WorkflowConfig holds the external workflow engine endpoint
type WorkflowConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
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
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/telegram_bridge.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Telegram defaults
	viper.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.api_timeout", 30*time.Second)
	viper.SetDefault("telegram.retry_attempts", 3)
	viper.SetDefault("telegram.webhook_path", "/webhook/telegram")
	viper.SetDefault("telegram.max_connections", 40)
	viper.SetDefault("telegram.allowed_updates", []string{"message", "callback_query"})
	viper.SetDefault("telegram.notifications_enabled", true)
	viper.SetDefault("telegram.token_ttl", time.Hour)
	viper.SetDefault("telegram.workers", 4)
	viper.SetDefault("telegram.queue_capacity", 256)

	// Workflow defaults
	viper.SetDefault("workflow.timeout", 30*time.Second)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("server.api_key", "SERVER_API_KEY")
	viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	viper.BindEnv("telegram.webhook_secret", "TELEGRAM_WEBHOOK_SECRET")
	viper.BindEnv("telegram.webhook_url", "TELEGRAM_WEBHOOK_URL")
	viper.BindEnv("workflow.base_url", "WORKFLOW_BASE_URL")
	viper.BindEnv("workflow.api_key", "WORKFLOW_API_KEY")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
		return fmt.Errorf("telegram.webhook_path must start with /")
	}
	if c.Telegram.RetryAttempts < 1 {
		return fmt.Errorf("telegram.retry_attempts must be at least 1")
	}
	if c.Telegram.Workers < 1 {
		return fmt.Errorf("telegram.workers must be at least 1")
	}
	if c.Telegram.TokenTTL <= 0 {
		return fmt.Errorf("telegram.token_ttl must be positive")
	}
	if c.Workflow.BaseURL == "" {
		return fmt.Errorf("workflow.base_url is required")
	}
	return nil
}
