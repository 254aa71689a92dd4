// Package node wires the relay together: database, relay core, JSON-RPC
// server, metrics endpoint and header relayer.
package node

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/bscrelay/bscrelay/consensus/parlia"
	"github.com/bscrelay/bscrelay/crypto"
	"github.com/bscrelay/bscrelay/relayer"
)

// EnvPrefix prefixes environment variables overriding config keys, e.g.
// BSCRELAY_RPC_PORT for rpc.port.
const EnvPrefix = "BSCRELAY"

// Config holds all configuration for a relay node.
type Config struct {
	// DataDir is the root directory for the relay database. An empty
	// DataDir keeps everything in memory.
	DataDir string `mapstructure:"datadir"`

	// ChainID is the id of the relayed chain.
	ChainID uint64 `mapstructure:"chain-id"`

	// DatabaseCache is the LevelDB cache size in megabytes.
	DatabaseCache int `mapstructure:"db-cache"`

	// DatabaseHandles is the number of open files LevelDB may use.
	DatabaseHandles int `mapstructure:"db-handles"`

	// SignerCacheSize bounds the recovered signer cache.
	SignerCacheSize int `mapstructure:"signer-cache"`

	RPC       RPCConfig       `mapstructure:"rpc"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Relayer   RelayerConfig   `mapstructure:"relayer"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Log       LogConfig       `mapstructure:"log"`
}

// RPCConfig holds JSON-RPC server configuration.
type RPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the listen address.
func (c RPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the listen address.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RelayerConfig configures the built-in header relayer.
type RelayerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Source is the RPC endpoint of the relayed chain.
	Source string `mapstructure:"source"`

	// Target is the RPC endpoint of a remote relay. Empty submits to the
	// relay of this node.
	Target string `mapstructure:"target"`

	relayer.Config `mapstructure:",squash"`
}

// BootstrapConfig configures how init picks the relay genesis.
type BootstrapConfig struct {
	// Number pins the genesis block; zero uses the source head.
	Number uint64 `mapstructure:"number"`
	// Confirmations is how far behind the source head the genesis is taken.
	Confirmations uint64 `mapstructure:"confirmations"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:         "bscrelay-data",
		ChainID:         parlia.MainnetChainID,
		DatabaseCache:   64,
		DatabaseHandles: 128,
		SignerCacheSize: crypto.DefaultSignerCacheSize,
		RPC: RPCConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8575,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    6060,
		},
		Relayer: RelayerConfig{
			Config: relayer.DefaultConfig(),
		},
		Bootstrap: BootstrapConfig{
			Confirmations: 15,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return errors.New("config: chain id must not be zero")
	}
	if c.RPC.Port < 0 || c.RPC.Port > 65535 {
		return fmt.Errorf("config: invalid rpc port: %d", c.RPC.Port)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("config: invalid metrics port: %d", c.Metrics.Port)
	}
	if c.DatabaseCache < 0 || c.DatabaseHandles < 0 {
		return errors.New("config: database cache and handles must not be negative")
	}
	if c.Relayer.Enabled {
		if c.Relayer.Source == "" {
			return errors.New("config: relayer enabled without a source endpoint")
		}
		if err := c.Relayer.Config.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// SetDefaults registers the defaults of c with v so that every key can be
// overridden from the environment.
func SetDefaults(v *viper.Viper, c Config) {
	v.SetDefault("datadir", c.DataDir)
	v.SetDefault("chain-id", c.ChainID)
	v.SetDefault("db-cache", c.DatabaseCache)
	v.SetDefault("db-handles", c.DatabaseHandles)
	v.SetDefault("signer-cache", c.SignerCacheSize)

	v.SetDefault("rpc.enabled", c.RPC.Enabled)
	v.SetDefault("rpc.host", c.RPC.Host)
	v.SetDefault("rpc.port", c.RPC.Port)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.host", c.Metrics.Host)
	v.SetDefault("metrics.port", c.Metrics.Port)

	v.SetDefault("relayer.enabled", c.Relayer.Enabled)
	v.SetDefault("relayer.source", c.Relayer.Source)
	v.SetDefault("relayer.target", c.Relayer.Target)
	v.SetDefault("relayer.batch-size", c.Relayer.BatchSize)
	v.SetDefault("relayer.poll-interval", c.Relayer.PollInterval)
	v.SetDefault("relayer.fetch-workers", c.Relayer.FetchWorkers)

	v.SetDefault("bootstrap.number", c.Bootstrap.Number)
	v.SetDefault("bootstrap.confirmations", c.Bootstrap.Confirmations)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
}

// LoadConfig builds a Config from v: defaults, then the config file named by
// file (if any), then BSCRELAY_* environment variables, then anything
// already bound to v such as command line flags.
func LoadConfig(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
