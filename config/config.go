// Package config loads the TOML configuration files of the ccstream binaries.
//
// Every key is optional: missing keys keep their defaults. Durations are
// strings accepted by time.ParseDuration ("2s", "100ms"). A few settings can
// be overridden from the environment, which wins over the file; command line
// flags in turn win over both.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cyberinferno/go-ccstream/addrresolver"
	"github.com/cyberinferno/go-ccstream/attemptstore"
	"github.com/cyberinferno/go-ccstream/handshake"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/streamclient"
	"github.com/cyberinferno/go-ccstream/streamserver"
)

// Environment overrides.
const (
	EnvPassword  = "CCSTREAM_PASSWORD"
	EnvLogLevel  = "CCSTREAM_LOG_LEVEL"
	EnvRedisAddr = "CCSTREAM_REDIS_ADDR"
)

// Attempt store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// LockoutConfig refuses hosts that keep sending wrong passwords.
type LockoutConfig struct {
	// Threshold is the failure count at which a host is refused; 0 disables.
	Threshold int
	// Window is how long failures are remembered.
	Window time.Duration
}

// AttemptStoreConfig selects where failures are counted.
type AttemptStoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	RedisPrefix   string
}

// ServerConfig configures ccstream-server.
type ServerConfig struct {
	Port                string
	Password            string
	PenaltyDelay        time.Duration
	MaxPasswordAttempts int
	PasswordBufferSize  int
	Lockout             LockoutConfig
	AttemptStore        AttemptStoreConfig
	// MetricsAddr serves /metrics when non-empty, e.g. ":9102".
	MetricsAddr string
	// Output receives relayed streams; "-" is stdout, empty discards.
	Output string
	Log    logger.Config
}

// ClientConfig configures ccstream-client.
type ClientConfig struct {
	Host           string
	Port           string
	ConnectTimeout time.Duration
	PacingDelay    time.Duration
	Log            logger.Config
}

type serverFile struct {
	Port                string        `toml:"port"`
	Password            string        `toml:"password"`
	PenaltyDelay        string        `toml:"penalty_delay"`
	MaxPasswordAttempts int           `toml:"max_password_attempts"`
	PasswordBufferSize  int           `toml:"password_buffer_size"`
	Lockout             lockoutFile   `toml:"lockout"`
	AttemptStore        attemptsFile  `toml:"attempt_store"`
	MetricsAddr         string        `toml:"metrics_addr"`
	Output              string        `toml:"output"`
	Log                 logger.Config `toml:"log"`
}

type lockoutFile struct {
	Threshold int    `toml:"threshold"`
	Window    string `toml:"window"`
}

type attemptsFile struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisDB       int    `toml:"redis_db"`
	RedisPassword string `toml:"redis_password"`
	RedisPrefix   string `toml:"redis_prefix"`
}

type clientFile struct {
	Host           string        `toml:"host"`
	Port           string        `toml:"port"`
	ConnectTimeout string        `toml:"connect_timeout"`
	PacingDelay    string        `toml:"pacing_delay"`
	Log            logger.Config `toml:"log"`
}

// DefaultServerConfig returns the settings of an unprotected server on the
// default port.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:               addrresolver.DefaultPort,
		PenaltyDelay:       handshake.DefaultPenaltyDelay,
		PasswordBufferSize: handshake.DefaultBufferSize,
		Lockout:            LockoutConfig{Window: attemptstore.DefaultWindow},
		AttemptStore: AttemptStoreConfig{
			Backend:     BackendMemory,
			RedisAddr:   "localhost:6379",
			RedisPrefix: attemptstore.DefaultRedisPrefix,
		},
		Log: logger.DefaultConfig(),
	}
}

// DefaultClientConfig returns the client defaults; Host must still be set.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Port:        addrresolver.DefaultPort,
		PacingDelay: 100 * time.Millisecond,
		Log:         logger.DefaultConfig(),
	}
}

// LoadServerConfig reads path over the defaults and applies environment
// overrides. An empty path yields the defaults plus overrides.
//
// Parameters:
//   - path: TOML file path, may be empty
//
// Returns:
//   - The merged configuration, or an error if the file cannot be read or a
//     value cannot be parsed
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path != "" {
		raw := serverFile{Log: cfg.Log}
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("load server config: %w", err)
		}

		if meta.IsDefined("port") {
			cfg.Port = strings.TrimSpace(raw.Port)
		}

		if meta.IsDefined("password") {
			cfg.Password = raw.Password
		}

		if meta.IsDefined("penalty_delay") {
			d, err := parseDuration("penalty_delay", raw.PenaltyDelay)
			if err != nil {
				return ServerConfig{}, err
			}
			cfg.PenaltyDelay = d
		}

		if meta.IsDefined("max_password_attempts") {
			cfg.MaxPasswordAttempts = raw.MaxPasswordAttempts
		}

		if meta.IsDefined("password_buffer_size") {
			cfg.PasswordBufferSize = raw.PasswordBufferSize
		}

		if meta.IsDefined("lockout", "threshold") {
			cfg.Lockout.Threshold = raw.Lockout.Threshold
		}

		if meta.IsDefined("lockout", "window") {
			d, err := parseDuration("lockout.window", raw.Lockout.Window)
			if err != nil {
				return ServerConfig{}, err
			}
			cfg.Lockout.Window = d
		}

		if meta.IsDefined("attempt_store", "backend") {
			cfg.AttemptStore.Backend = strings.ToLower(strings.TrimSpace(raw.AttemptStore.Backend))
		}

		if meta.IsDefined("attempt_store", "redis_addr") {
			cfg.AttemptStore.RedisAddr = strings.TrimSpace(raw.AttemptStore.RedisAddr)
		}

		if meta.IsDefined("attempt_store", "redis_db") {
			cfg.AttemptStore.RedisDB = raw.AttemptStore.RedisDB
		}

		if meta.IsDefined("attempt_store", "redis_password") {
			cfg.AttemptStore.RedisPassword = raw.AttemptStore.RedisPassword
		}

		if meta.IsDefined("attempt_store", "redis_prefix") {
			cfg.AttemptStore.RedisPrefix = raw.AttemptStore.RedisPrefix
		}

		if meta.IsDefined("metrics_addr") {
			cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
		}

		if meta.IsDefined("output") {
			cfg.Output = strings.TrimSpace(raw.Output)
		}

		cfg.Log = raw.Log
	}

	if v, ok := os.LookupEnv(EnvPassword); ok {
		cfg.Password = v
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.Log.Level = v
	}

	if v, ok := os.LookupEnv(EnvRedisAddr); ok {
		cfg.AttemptStore.RedisAddr = v
	}

	return cfg, nil
}

// LoadClientConfig reads path over the defaults and applies the log level
// override. An empty path yields the defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		raw := clientFile{Log: cfg.Log}
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("load client config: %w", err)
		}

		if meta.IsDefined("host") {
			cfg.Host = strings.TrimSpace(raw.Host)
		}

		if meta.IsDefined("port") {
			cfg.Port = strings.TrimSpace(raw.Port)
		}

		if meta.IsDefined("connect_timeout") {
			d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
			if err != nil {
				return ClientConfig{}, err
			}
			cfg.ConnectTimeout = d
		}

		if meta.IsDefined("pacing_delay") {
			d, err := parseDuration("pacing_delay", raw.PacingDelay)
			if err != nil {
				return ClientConfig{}, err
			}
			cfg.PacingDelay = d
		}

		cfg.Log = raw.Log
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate checks the merged server configuration.
func (c ServerConfig) Validate() error {
	if err := validatePort(c.Port, true); err != nil {
		return err
	}

	if c.PenaltyDelay < 0 {
		return fmt.Errorf("%w: penalty_delay must not be negative", ErrInvalid)
	}

	if c.MaxPasswordAttempts < 0 {
		return fmt.Errorf("%w: max_password_attempts must not be negative", ErrInvalid)
	}

	if c.PasswordBufferSize <= 0 {
		return fmt.Errorf("%w: password_buffer_size must be positive", ErrInvalid)
	}

	if c.Lockout.Threshold < 0 {
		return fmt.Errorf("%w: lockout.threshold must not be negative", ErrInvalid)
	}

	if c.Lockout.Threshold > 0 && c.Lockout.Window <= 0 {
		return fmt.Errorf("%w: lockout.window must be positive", ErrInvalid)
	}

	switch c.AttemptStore.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.AttemptStore.RedisAddr == "" {
			return fmt.Errorf("%w: attempt_store.redis_addr is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown attempt_store.backend %q", ErrInvalid, c.AttemptStore.Backend)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}

	return nil
}

// Validate checks the merged client configuration.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalid)
	}

	if err := validatePort(c.Port, false); err != nil {
		return err
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: connect_timeout must not be negative", ErrInvalid)
	}

	if c.PacingDelay < 0 {
		return fmt.Errorf("%w: pacing_delay must not be negative", ErrInvalid)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}

	return nil
}

// StreamServer converts c into streamserver settings.
func (c ServerConfig) StreamServer() streamserver.Config {
	cfg := streamserver.DefaultConfig()
	cfg.Port = c.Port
	cfg.Password = c.Password
	cfg.PenaltyDelay = c.PenaltyDelay
	cfg.MaxPasswordAttempts = c.MaxPasswordAttempts
	cfg.PasswordBufferSize = c.PasswordBufferSize
	cfg.LockoutThreshold = c.Lockout.Threshold

	return cfg
}

// StreamClient converts c into streamclient settings.
func (c ClientConfig) StreamClient() streamclient.Config {
	cfg := streamclient.DefaultConfig(c.Host)
	cfg.Port = c.Port
	cfg.ConnectionTimeout = c.ConnectTimeout
	cfg.PacingDelay = c.PacingDelay

	return cfg
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	return d, nil
}

func validatePort(port string, allowZero bool) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%w: port %q is not a number", ErrInvalid, port)
	}

	if n > 65535 || n < 0 || (n == 0 && !allowZero) {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, n)
	}

	return nil
}
