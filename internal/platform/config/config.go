package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for the notification pipeline and the relay
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Transport TransportConfig `mapstructure:"transport"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Session   SessionConfig   `mapstructure:"session"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// BackendConfig holds the backend endpoints the pipeline talks to
type BackendConfig struct {
	HTTPBaseURL  string        `mapstructure:"http_base_url" envconfig:"BACKEND_HTTP_BASE_URL" default:"http://localhost:8090"`
	SocketURL    string        `mapstructure:"socket_url" envconfig:"BACKEND_SOCKET_URL" default:"ws://localhost:8090/ws"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" envconfig:"BACKEND_PROBE_TIMEOUT" default:"3s"`
}

// TransportConfig holds WebSocket connection and reconnection policy
type TransportConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay" envconfig:"TRANSPORT_BASE_DELAY" default:"1s"`
	MaxAttempts   int           `mapstructure:"max_attempts" envconfig:"TRANSPORT_MAX_ATTEMPTS" default:"5"`
	PingInterval  time.Duration `mapstructure:"ping_interval" envconfig:"TRANSPORT_PING_INTERVAL" default:"30s"`
	ReadDeadline  time.Duration `mapstructure:"read_deadline" envconfig:"TRANSPORT_READ_DEADLINE" default:"60s"`
	WriteDeadline time.Duration `mapstructure:"write_deadline" envconfig:"TRANSPORT_WRITE_DEADLINE" default:"10s"`
}

// FilterConfig holds the dedup/staleness policy windows
type FilterConfig struct {
	StaleWindow  time.Duration `mapstructure:"stale_window" envconfig:"FILTER_STALE_WINDOW" default:"60s"`
	RepeatWindow time.Duration `mapstructure:"repeat_window" envconfig:"FILTER_REPEAT_WINDOW" default:"2s"`
}

// FeedbackConfig holds feedback emitter defaults and preference persistence
type FeedbackConfig struct {
	PreferencesPath string        `mapstructure:"preferences_path" envconfig:"FEEDBACK_PREFERENCES_PATH" default:""`
	VibrationPulse  time.Duration `mapstructure:"vibration_pulse" envconfig:"FEEDBACK_VIBRATION_PULSE" default:"200ms"`
}

// GatewayConfig holds REST gateway behaviour
type GatewayConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"GATEWAY_REQUEST_TIMEOUT" default:"5s"`
	// Mode is "lenient" (failed mutations degrade to local success) or
	// "strict" (failed mutations surface errors).
	Mode string `mapstructure:"mode" envconfig:"GATEWAY_MODE" default:"lenient"`
}

// SessionConfig holds session-level behaviour
type SessionConfig struct {
	RefreshSpec string `mapstructure:"refresh_spec" envconfig:"SESSION_REFRESH_SPEC" default:"@every 5m"`
	PageSize    int    `mapstructure:"page_size" envconfig:"SESSION_PAGE_SIZE" default:"20"`
}

// RelayConfig holds the development relay server configuration
type RelayConfig struct {
	Port         int           `mapstructure:"port" envconfig:"RELAY_PORT" default:"8090"`
	JWTSecret    string        `mapstructure:"jwt_secret" envconfig:"RELAY_JWT_SECRET" default:"dev-secret-change-me"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"RELAY_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"RELAY_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" envconfig:"RELAY_IDLE_TIMEOUT" default:"120s"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds optional Redis backing for the relay store
type RedisConfig struct {
	// Addr empty means the relay keeps notifications in memory.
	Addr     string `mapstructure:"addr" envconfig:"RELAY_REDIS_ADDR" default:""`
	Password string `mapstructure:"password" envconfig:"RELAY_REDIS_PASSWORD"`
	DB       int    `mapstructure:"db" envconfig:"RELAY_REDIS_DB" default:"0"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	var cfg Config

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars and defaults
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if cfg.Gateway.Mode != "lenient" && cfg.Gateway.Mode != "strict" {
		return nil, fmt.Errorf("invalid gateway mode %q", cfg.Gateway.Mode)
	}

	return &cfg, nil
}

// Addr returns the relay listen address
func (c *RelayConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
