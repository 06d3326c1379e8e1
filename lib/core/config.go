// Package core wires a tonpool client from a TOML configuration file: it
// loads the network config document, builds the lite-server factory and the
// checkpoint bootstrapper, and manages the pool's lifecycle.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"github.com/tonpool/tonpool/lib/logging"
	"github.com/tonpool/tonpool/lib/pool"
	"github.com/tonpool/tonpool/lib/resilience"
)

// Default configuration values
const (
	DefaultPoolSize     = 4
	DefaultConfigURL    = "https://ton.org/global.config.json"
	DefaultQueryTimeout = 10 * time.Second
	DefaultMaxBlockAge  = 60 * time.Second
	DefaultProofPolicy  = "fast"
	DefaultLogFormat    = "text"
	DefaultMetricsAddr  = "127.0.0.1:9102"
)

// EnvPrefix prefixes the environment variables read by ApplyEnvOverrides.
const EnvPrefix = "TONPOOL_"

// Duration is a time.Duration written as a Go duration string ("1m30s") in
// TOML files.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all configuration for a tonpool client.
type Config struct {
	Pool    PoolConfig    `toml:"pool"`
	Retry   RetryConfig   `toml:"retry"`
	Network NetworkConfig `toml:"network"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// PoolConfig contains slot settings.
type PoolConfig struct {
	// Size is the number of lite-server sessions kept open
	Size int `toml:"size"`
	// Check is how new sessions are verified: none, health or archive
	Check pool.ConnectionCheck `toml:"check"`
}

// RetryConfig contains the retry policy for overloaded lite-servers.
type RetryConfig struct {
	// Interval is the fixed wait between attempts
	Interval Duration `toml:"interval"`
	// MaxRetries is the number of extra attempts after the first
	MaxRetries uint `toml:"max_retries"`
}

// NetworkConfig contains the network config source and session settings.
type NetworkConfig struct {
	// ConfigPath is a local network config document; it takes precedence
	// over ConfigURL
	ConfigPath string `toml:"config_path,omitempty"`
	// ConfigURL is where the network config document is downloaded from
	ConfigURL string `toml:"config_url,omitempty"`
	// KeystoreDir is the root of the per-slot keystores; empty keeps no state
	KeystoreDir string `toml:"keystore_dir"`
	// RefreshCheckpoint refreshes the config's init block before connecting
	RefreshCheckpoint bool `toml:"refresh_checkpoint"`
	// QueryTimeout bounds each bootstrap server query
	QueryTimeout Duration `toml:"query_timeout"`
	// MaxBlockAge bounds the age of a healthy node's last masterchain block
	MaxBlockAge Duration `toml:"max_block_age"`
	// ProofPolicy is unsafe, fast or secure
	ProofPolicy string `toml:"proof_policy"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Verbosity ranges from 0 (fatal) to 5 (trace)
	Verbosity uint32 `toml:"verbosity"`
	// Format is text or json
	Format string `toml:"format"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen is the metrics HTTP address; empty disables the endpoint
	Listen string `toml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	retry := resilience.DefaultRetryStrategy()

	return &Config{
		Pool: PoolConfig{
			Size:  DefaultPoolSize,
			Check: pool.CheckHealth,
		},
		Retry: RetryConfig{
			Interval:   Duration(retry.Interval),
			MaxRetries: retry.MaxRetries,
		},
		Network: NetworkConfig{
			ConfigURL:         DefaultConfigURL,
			KeystoreDir:       filepath.Join(homeDir, ".tonpool", "keystore"),
			RefreshCheckpoint: true,
			QueryTimeout:      Duration(DefaultQueryTimeout),
			MaxBlockAge:       Duration(DefaultMaxBlockAge),
			ProofPolicy:       DefaultProofPolicy,
		},
		Log: LogConfig{
			Verbosity: logging.VerbosityInfo,
			Format:    DefaultLogFormat,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsAddr,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Pool.Size < 1 {
		return errors.New("pool.size must be at least 1")
	}
	if c.Pool.Check < pool.CheckNone || c.Pool.Check > pool.CheckArchive {
		return errors.New("pool.check must be none, health or archive")
	}
	if c.Retry.Interval < 0 {
		return errors.New("retry.interval must not be negative")
	}
	if c.Retry.MaxRetries > resilience.MaxRetriesLimit {
		return fmt.Errorf("retry.max_retries must be at most %d", resilience.MaxRetriesLimit)
	}
	if c.Network.ConfigPath == "" && c.Network.ConfigURL == "" {
		return errors.New("network.config_path or network.config_url is required")
	}
	if c.Network.QueryTimeout.Std() <= 0 {
		return errors.New("network.query_timeout must be positive")
	}
	if c.Network.MaxBlockAge.Std() <= 0 {
		return errors.New("network.max_block_age must be positive")
	}
	switch c.Network.ProofPolicy {
	case "unsafe", "fast", "secure":
	default:
		return fmt.Errorf("network.proof_policy %q must be unsafe, fast or secure", c.Network.ProofPolicy)
	}
	if c.Log.Verbosity > logging.VerbosityTrace {
		return fmt.Errorf("log.verbosity must be between 0 and %d", logging.VerbosityTrace)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// RetryStrategy converts the retry section to the pool's policy.
func (c *Config) RetryStrategy() resilience.RetryStrategy {
	return resilience.RetryStrategy{
		Interval:   c.Retry.Interval.Std(),
		MaxRetries: c.Retry.MaxRetries,
	}
}

// ApplyEnvOverrides overrides settings from TONPOOL_* environment variables.
// Unparsable values are reported and leave the setting unchanged.
func (c *Config) ApplyEnvOverrides() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	parse := func(name string, set func(string) error) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			if err := set(strings.TrimSpace(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			}
		}
	}

	parse("POOL_SIZE", func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			c.Pool.Size = n
		}
		return err
	})
	parse("POOL_CHECK", func(v string) error { return c.Pool.Check.UnmarshalText([]byte(v)) })
	parse("RETRY_INTERVAL", func(v string) error { return c.Retry.Interval.UnmarshalText([]byte(v)) })
	parse("MAX_RETRIES", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err == nil {
			c.Retry.MaxRetries = uint(n)
		}
		return err
	})
	str("CONFIG_PATH", &c.Network.ConfigPath)
	str("CONFIG_URL", &c.Network.ConfigURL)
	str("KEYSTORE_DIR", &c.Network.KeystoreDir)
	parse("REFRESH_CHECKPOINT", func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			c.Network.RefreshCheckpoint = b
		}
		return err
	})
	parse("QUERY_TIMEOUT", func(v string) error { return c.Network.QueryTimeout.UnmarshalText([]byte(v)) })
	parse("MAX_BLOCK_AGE", func(v string) error { return c.Network.MaxBlockAge.UnmarshalText([]byte(v)) })
	str("PROOF_POLICY", &c.Network.ProofPolicy)
	parse("LOG_VERBOSITY", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err == nil {
			c.Log.Verbosity = uint32(n)
		}
		return err
	})
	str("LOG_FORMAT", &c.Log.Format)
	str("METRICS_LISTEN", &c.Metrics.Listen)

	return multierr.Combine(errs...)
}
