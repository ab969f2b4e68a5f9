// Package config loads the configuration shared by the hawk binaries.
//
// Files are YAML or TOML, chosen by extension. ${VAR_NAME} references are
// replaced with environment variables before parsing, so secrets can stay out
// of the file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vitalvas/hawk/hawk"
	"github.com/vitalvas/hawk/noncecache"
)

// Nonce cache drivers.
const (
	DriverMemory  = "memory"
	DriverBounded = "bounded"
	DriverRedis   = "redis"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server" toml:"server"`
	NonceCache  NonceCacheConfig   `yaml:"nonce_cache" toml:"nonce_cache"`
	Credentials []CredentialConfig `yaml:"credentials" toml:"credentials"`
	Client      ClientConfig       `yaml:"client" toml:"client"`
	Logging     LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig configures the verifying server.
type ServerConfig struct {
	HTTPAddr           string   `yaml:"http_addr" toml:"http_addr"`
	TimestampSkew      Duration `yaml:"timestamp_skew" toml:"timestamp_skew"`
	NTPServer          string   `yaml:"ntp_server" toml:"ntp_server"`
	AllowBewit         bool     `yaml:"allow_bewit" toml:"allow_bewit"`
	RequirePayloadHash bool     `yaml:"require_payload_hash" toml:"require_payload_hash"`
	ShutdownTimeout    Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// NonceCacheConfig selects and configures the replay cache.
type NonceCacheConfig struct {
	Driver     string      `yaml:"driver" toml:"driver"`
	MaxEntries int         `yaml:"max_entries" toml:"max_entries"`
	Redis      RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig configures the redis nonce cache driver.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// CredentialConfig is a credential accepted by the server.
type CredentialConfig struct {
	ID        string `yaml:"id" toml:"id"`
	Key       string `yaml:"key" toml:"key"`
	Algorithm string `yaml:"algorithm" toml:"algorithm"`
}

// ClientConfig configures the client CLI.
type ClientConfig struct {
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	ID         string `yaml:"id" toml:"id"`
	Key        string `yaml:"key" toml:"key"`
	Algorithm  string `yaml:"algorithm" toml:"algorithm"`
	PathPrefix string `yaml:"path_prefix" toml:"path_prefix"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Env   string `yaml:"env" toml:"env"`
	Level string `yaml:"level" toml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// Load reads, expands and parses the file at path, then applies defaults
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format, err := formatFromPath(path)
	if err != nil {
		return nil, err
	}

	return Parse(data, format)
}

// Parse expands and decodes data in the given format, then applies defaults
// and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case FormatTOML:
		md, err := toml.NewDecoder(strings.NewReader(expanded)).Decode(&cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config file: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadEnvFile loads variables from .env files into the process environment
// without overriding variables already set. Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
	}

	return nil
}

func formatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or with an
// empty string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}

	if c.Server.TimestampSkew == 0 {
		c.Server.TimestampSkew = Duration(hawk.DefaultTimestampSkew)
	}

	if c.Server.NTPServer == "" {
		c.Server.NTPServer = hawk.DefaultNTPServer
	}

	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.NonceCache.Driver == "" {
		c.NonceCache.Driver = DriverMemory
	}

	if c.NonceCache.MaxEntries == 0 {
		c.NonceCache.MaxEntries = 100000
	}

	if c.NonceCache.Redis.Addr == "" {
		c.NonceCache.Redis.Addr = "localhost:6379"
	}

	if c.NonceCache.Redis.Prefix == "" {
		c.NonceCache.Redis.Prefix = "hawk:nonce"
	}

	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.TimestampSkew < 0 {
		return fmt.Errorf("server.timestamp_skew must not be negative")
	}

	// Hawk timestamps have one-second resolution.
	if skew := c.Server.TimestampSkew.Std(); skew > 0 && skew < time.Second {
		return fmt.Errorf("server.timestamp_skew %s is below the one second timestamp resolution", skew)
	}

	switch c.NonceCache.Driver {
	case DriverMemory, DriverRedis:
	case DriverBounded:
		if c.NonceCache.MaxEntries < 1 {
			return fmt.Errorf("nonce_cache.max_entries must be positive for the bounded driver")
		}
	default:
		return fmt.Errorf("nonce_cache.driver %q is not one of memory, bounded, redis", c.NonceCache.Driver)
	}

	seen := make(map[string]struct{}, len(c.Credentials))
	for i, cred := range c.Credentials {
		if cred.ID == "" {
			return fmt.Errorf("credentials[%d].id is required", i)
		}

		if cred.Key == "" {
			return fmt.Errorf("credentials[%d].key is required", i)
		}

		if _, err := hawk.ParseAlgorithm(cred.Algorithm); err != nil {
			return fmt.Errorf("credentials[%d].algorithm: %w", i, err)
		}

		if _, dup := seen[cred.ID]; dup {
			return fmt.Errorf("credentials[%d].id %q is duplicated", i, cred.ID)
		}

		seen[cred.ID] = struct{}{}
	}

	if c.Client.Algorithm != "" {
		if _, err := hawk.ParseAlgorithm(c.Client.Algorithm); err != nil {
			return fmt.Errorf("client.algorithm: %w", err)
		}
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// CredentialStore builds the server's credential store.
func (c *Config) CredentialStore() (hawk.StaticCredentials, error) {
	store := make(hawk.StaticCredentials, len(c.Credentials))

	for _, cc := range c.Credentials {
		cred, err := cc.Credential()
		if err != nil {
			return nil, err
		}

		if err := store.Add(cred); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Credential converts the entry to a hawk credential.
func (cc CredentialConfig) Credential() (*hawk.Credential, error) {
	alg, err := hawk.ParseAlgorithm(cc.Algorithm)
	if err != nil {
		return nil, err
	}

	return hawk.NewCredential(cc.ID, []byte(cc.Key), alg)
}

// Credential converts the client section to a hawk credential.
func (cc ClientConfig) Credential() (*hawk.Credential, error) {
	return CredentialConfig{ID: cc.ID, Key: cc.Key, Algorithm: cc.Algorithm}.Credential()
}

// Open creates the configured nonce cache with the given entry lifetime.
func (nc NonceCacheConfig) Open(ctx context.Context, ttl time.Duration) (noncecache.Cache, error) {
	switch nc.Driver {
	case DriverMemory, "":
		return noncecache.NewMemory(ttl), nil
	case DriverBounded:
		return noncecache.NewBounded(ttl, nc.MaxEntries), nil
	case DriverRedis:
		return noncecache.DialRedis(ctx, noncecache.RedisOptions{
			Addr:     nc.Redis.Addr,
			Password: nc.Redis.Password,
			DB:       nc.Redis.DB,
			Prefix:   nc.Redis.Prefix,
		}, ttl)
	default:
		return nil, fmt.Errorf("unknown nonce cache driver %q", nc.Driver)
	}
}
