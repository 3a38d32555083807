package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	// SendBufferSize is the number of outbound frames queued per connection
	// before the connection is considered too slow and dropped.
	SendBufferSize int `yaml:"send_buffer_size"`
	// EchoToSender makes the sending connection receive its own messages.
	EchoToSender    bool          `yaml:"echo_to_sender"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Store           store.Config  `yaml:"store"`
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultSendBufferSize  = 256
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	defaultShutdownTimeout = 10 * time.Second
	defaultBadgerPath      = "data/chatrelay"
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		SendBufferSize:  defaultSendBufferSize,
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
		ShutdownTimeout: defaultShutdownTimeout,
		Store: store.Config{
			Backend:    store.BackendMemory,
			BadgerPath: defaultBadgerPath,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = store.BackendMemory
	}
	if cfg.Store.HistoryLimit < 0 {
		cfg.Store.HistoryLimit = 0
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// envOverrides lists the environment variables read on top of the defaults and
// the optional YAML file. Unset variables stay nil and leave the value alone.
type envOverrides struct {
	Port            *string `env:"SERVER_PORT"`
	AllowedOrigins  *string `env:"ALLOWED_ORIGINS"`
	MaxMessageSize  *string `env:"MAX_MESSAGE_SIZE"`
	Burst           *string `env:"RATE_LIMIT_BURST"`
	RefillInterval  *string `env:"RATE_LIMIT_REFILL_INTERVAL"`
	SendBufferSize  *string `env:"SEND_BUFFER_SIZE"`
	EchoToSender    *string `env:"ECHO_TO_SENDER"`
	LogLevel        *string `env:"LOG_LEVEL"`
	LogFormat       *string `env:"LOG_FORMAT"`
	ShutdownTimeout *string `env:"SHUTDOWN_TIMEOUT"`
	StoreBackend    *string `env:"STORE_BACKEND"`
	BadgerPath      *string `env:"BADGER_PATH"`
	RedisAddr       *string `env:"REDIS_ADDR"`
	RedisPassword   *string `env:"REDIS_PASSWORD"`
	RedisDB         *string `env:"REDIS_DB"`
	PostgresDSN     *string `env:"POSTGRES_DSN"`
	MongoURI        *string `env:"MONGO_URI"`
	MongoDatabase   *string `env:"MONGO_DATABASE"`
	HistoryLimit    *string `env:"HISTORY_LIMIT"`
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return errors.Wrap(err, "parse config yaml")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return errors.Wrap(err, "read environment")
	}

	setString(&cfg.Port, o.Port)
	if o.AllowedOrigins != nil && *o.AllowedOrigins != "" {
		cfg.AllowedOrigins = parseOrigins(*o.AllowedOrigins)
	}
	if o.MaxMessageSize != nil {
		cfg.MaxMessageSize = parseMaxMessageSize(*o.MaxMessageSize, cfg.MaxMessageSize)
	}
	if o.Burst != nil {
		cfg.RateLimit.Burst = parseIntValue(*o.Burst, cfg.RateLimit.Burst)
	}
	if o.RefillInterval != nil {
		cfg.RateLimit.RefillInterval = parseInterval(*o.RefillInterval, cfg.RateLimit.RefillInterval)
	}
	if o.SendBufferSize != nil {
		cfg.SendBufferSize = parseIntValue(*o.SendBufferSize, cfg.SendBufferSize)
	}
	if o.EchoToSender != nil {
		cfg.EchoToSender = parseBool(*o.EchoToSender, cfg.EchoToSender)
	}
	setString(&cfg.LogLevel, o.LogLevel)
	setString(&cfg.LogFormat, o.LogFormat)
	if o.ShutdownTimeout != nil {
		cfg.ShutdownTimeout = parseInterval(*o.ShutdownTimeout, cfg.ShutdownTimeout)
	}

	setString(&cfg.Store.Backend, o.StoreBackend)
	setString(&cfg.Store.BadgerPath, o.BadgerPath)
	setString(&cfg.Store.RedisAddr, o.RedisAddr)
	setString(&cfg.Store.RedisPassword, o.RedisPassword)
	if o.RedisDB != nil {
		if db, err := strconv.Atoi(*o.RedisDB); err == nil && db >= 0 {
			cfg.Store.RedisDB = db
		}
	}
	setString(&cfg.Store.PostgresDSN, o.PostgresDSN)
	setString(&cfg.Store.MongoURI, o.MongoURI)
	setString(&cfg.Store.MongoDatabase, o.MongoDatabase)
	if o.HistoryLimit != nil {
		cfg.Store.HistoryLimit = parseIntValue(*o.HistoryLimit, cfg.Store.HistoryLimit)
	}
	return nil
}

func setString(dst *string, value *string) {
	if value != nil && *value != "" {
		*dst = *value
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseInterval accepts whole seconds ("5") or a Go duration ("1500ms").
func parseInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}
