package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddress     = ":8080"
	defaultDataDir           = "./loan-data"
	defaultStorageBackend    = "leveldb"
	defaultHeartbeatInterval = "6s"
	defaultServiceName       = "loand"
)

type Config struct {
	ListenAddress     string `toml:"ListenAddress"`
	DataDir           string `toml:"DataDir"`
	StorageBackend    string `toml:"StorageBackend"`
	GenesisFile       string `toml:"GenesisFile"`
	HeartbeatInterval string `toml:"HeartbeatInterval"`
	Environment       string `toml:"Environment"`
	// PausedModules are held paused by the operator regardless of on-chain
	// pause state.
	PausedModules []string `toml:"PausedModules"`

	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"ratelimit"`
}

// Logging mirrors observability/logging.Options.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters. An empty endpoint disables export.
type Telemetry struct {
	ServiceName string  `toml:"ServiceName"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Auth configures bearer token verification on the HTTP API. Tokens are
// HS256 JWTs whose subject is the caller's bech32 address.
type Auth struct {
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
	// AllowAnonymousReads lets GET routes through without a token.
	AllowAnonymousReads bool `toml:"AllowAnonymousReads"`
}

type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{
		ListenAddress:     defaultListenAddress,
		DataDir:           defaultDataDir,
		StorageBackend:    defaultStorageBackend,
		HeartbeatInterval: defaultHeartbeatInterval,
		Environment:       "local",
		PausedModules:     []string{},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			ServiceName: defaultServiceName,
			Insecure:    true,
			Metrics:     true,
			Traces:      true,
			SampleRatio: 1,
		},
		RateLimit: RateLimit{
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = defaultStorageBackend
	}
	cfg.GenesisFile = strings.TrimSpace(cfg.GenesisFile)
	cfg.HeartbeatInterval = strings.TrimSpace(cfg.HeartbeatInterval)
	if cfg.HeartbeatInterval == "" {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = defaultServiceName
	}
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
}

// Validate checks the values a node cannot start without.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.StorageBackend {
	case "leveldb", "bolt", "bbolt", "memory":
	default:
		return fmt.Errorf("storage: unsupported backend %q", cfg.StorageBackend)
	}
	interval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		return fmt.Errorf("heartbeat interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio %v outside [0, 1]", cfg.Telemetry.SampleRatio)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("ratelimit: requests per second must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit: burst must be positive when limiting")
	}
	if cfg.Auth.HMACSecret != "" && len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmac secret must be at least 32 bytes")
	}
	return nil
}

// Heartbeat returns the parsed heartbeat interval.
func (cfg *Config) Heartbeat() time.Duration {
	interval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil || interval <= 0 {
		interval, _ = time.ParseDuration(defaultHeartbeatInterval)
	}
	return interval
}
