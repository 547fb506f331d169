package server

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dlintw/goconf"

	"github.com/Tyrowin/gochat-hub/internal/calls"
	"github.com/Tyrowin/gochat-hub/internal/groupcall"
	"github.com/Tyrowin/gochat-hub/internal/receipts"
)

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// StoreConfig selects the backends of the stores.
type StoreConfig struct {
	// Messages selects the backend of messages and conversations.
	Messages string
	// Users selects the backend of the user status.
	Users string

	MongoURL      string
	MongoDatabase string
	RedisAddress  string
}

// Config holds the server configuration.
type Config struct {
	Debug bool

	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	Workers         int
	SeenWindow      int
	DeliveredWindow int
	RingTimeout     time.Duration
	GroupCall       groupcall.Config

	Store   StoreConfig
	NatsURL string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimitConfig{
			Burst:          50,
			RefillInterval: time.Second,
		},
		Workers:         8,
		SeenWindow:      receipts.DefaultSeenWindow,
		DeliveredWindow: receipts.DefaultDeliveredWindow,
		RingTimeout:     calls.DefaultRingTimeout,
		GroupCall: groupcall.Config{
			GracePeriod: groupcall.DefaultGracePeriod,
			ZombieAge:   groupcall.DefaultZombieAge,
			MinDuration: groupcall.DefaultMinDuration,
		},
		Store: StoreConfig{
			Messages:      StoreMemory,
			Users:         StoreMemory,
			MongoURL:      "mongodb://localhost:27017",
			MongoDatabase: "gochat",
			RedisAddress:  "localhost:6379",
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

// LoadConfig reads the configuration file at path. Environment variables
// override the values from the file.
func LoadConfig(path string) (*Config, error) {
	file, err := goconf.ReadConfigFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ConfigFromFile(file)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// ConfigFromFile builds a configuration from a parsed configuration file.
// Missing options keep their defaults.
func ConfigFromFile(file *goconf.ConfigFile) (*Config, error) {
	cfg := defaultConfig()
	r := &configReader{file: file}

	cfg.Debug = r.boolean("app", "debug", cfg.Debug)

	cfg.Port = r.str("http", "listen", cfg.Port)
	if origins := r.str("http", "allowed_origins", ""); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	cfg.MaxMessageSize = int64(r.integer("websocket", "max_message_size", int(cfg.MaxMessageSize)))
	cfg.RateLimit.Burst = r.integer("websocket", "rate_limit_burst", cfg.RateLimit.Burst)
	cfg.RateLimit.RefillInterval = r.duration("websocket", "rate_limit_refill_interval", cfg.RateLimit.RefillInterval)

	cfg.Workers = r.integer("hub", "workers", cfg.Workers)
	cfg.SeenWindow = r.integer("receipts", "seen_window", cfg.SeenWindow)
	cfg.DeliveredWindow = r.integer("receipts", "delivered_window", cfg.DeliveredWindow)
	cfg.RingTimeout = r.duration("calls", "ring_timeout", cfg.RingTimeout)

	cfg.GroupCall.GracePeriod = r.duration("groupcall", "grace_period", cfg.GroupCall.GracePeriod)
	cfg.GroupCall.ZombieAge = r.duration("groupcall", "zombie_age", cfg.GroupCall.ZombieAge)
	cfg.GroupCall.MinDuration = r.duration("groupcall", "min_duration", cfg.GroupCall.MinDuration)
	cfg.GroupCall.FallbackSender = r.str("groupcall", "fallback_sender", cfg.GroupCall.FallbackSender)

	cfg.Store.Messages = r.str("store", "messages", cfg.Store.Messages)
	cfg.Store.Users = r.str("store", "users", cfg.Store.Users)
	cfg.Store.MongoURL = r.str("mongo", "url", cfg.Store.MongoURL)
	cfg.Store.MongoDatabase = r.str("mongo", "database", cfg.Store.MongoDatabase)
	cfg.Store.RedisAddress = r.str("redis", "address", cfg.Store.RedisAddress)

	cfg.NatsURL = r.str("nats", "url", cfg.NatsURL)

	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Messages {
	case StoreMemory, StoreMongo:
	default:
		return errors.New("unsupported message store: " + c.Store.Messages)
	}
	switch c.Store.Users {
	case StoreMemory, StoreMongo, StoreRedis:
	default:
		return errors.New("unsupported user store: " + c.Store.Users)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// Load SERVER_PORT
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	// Load ALLOWED_ORIGINS
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	// Load MAX_MESSAGE_SIZE
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	// Load RATE_LIMIT_BURST
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	// Load RATE_LIMIT_REFILL_INTERVAL
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}
}

// sanitize fills invalid values with defaults.
func (c *Config) sanitize() {
	defaults := defaultConfig()
	if c.Port == "" {
		c.Port = defaults.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
}

var (
	searchVarsRegexp = regexp.MustCompile(`\$\([A-Za-z][A-Za-z0-9_]*\)`)
)

// replaceEnvVars resolves references in the form "$(VAR)".
func replaceEnvVars(s string) string {
	return searchVarsRegexp.ReplaceAllStringFunc(s, func(name string) string {
		name = name[2 : len(name)-1]
		value, found := os.LookupEnv(name)
		if !found {
			return name
		}
		return value
	})
}

// configReader reads typed options and remembers the first invalid value.
type configReader struct {
	file *goconf.ConfigFile
	err  error
}

func (r *configReader) raw(section, option string) (string, bool) {
	value, err := r.file.GetString(section, option)
	if err != nil {
		var ge goconf.GetError
		if !errors.As(err, &ge) && r.err == nil {
			r.err = err
		}
		return "", false
	}
	return strings.TrimSpace(replaceEnvVars(value)), true
}

func (r *configReader) invalid(section, option, value string) {
	if r.err == nil {
		r.err = errors.New("invalid value for " + section + "." + option + ": " + value)
	}
}

func (r *configReader) str(section, option, def string) string {
	if value, found := r.raw(section, option); found && value != "" {
		return value
	}
	return def
}

func (r *configReader) integer(section, option string, def int) int {
	value, found := r.raw(section, option)
	if !found || value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.invalid(section, option, value)
		return def
	}
	return parsed
}

func (r *configReader) boolean(section, option string, def bool) bool {
	value, found := r.raw(section, option)
	if !found || value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.invalid(section, option, value)
		return def
	}
	return parsed
}

// duration accepts Go durations ("45s") and plain seconds.
func (r *configReader) duration(section, option string, def time.Duration) time.Duration {
	value, found := r.raw(section, option)
	if !found || value == "" {
		return def
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.invalid(section, option, value)
		return def
	}
	return parsed
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

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
