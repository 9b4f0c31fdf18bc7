package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"loanledger/native/fees"
	"loanledger/native/flash"
)

const (
	defaultListenAddress = ":8080"
	defaultDataDir       = "./loan-data"
	defaultEnvironment   = "local"
	defaultSecretEnv     = "LOAN_RPC_JWT_SECRET"
)

// Logging configures the node logger. An empty File logs to stdout.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// RateLimit bounds query API traffic per client.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Auth configures bearer tokens on the write API. The HMAC secret is read
// from the environment variable named by SecretEnv; when it is unset the
// write routes refuse every request.
type Auth struct {
	SecretEnv        string `toml:"SecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	// InMemory keeps state in memory only; DataDir is ignored.
	InMemory        bool                `toml:"InMemory"`
	GenesisFile     string              `toml:"GenesisFile"`
	Environment     string              `toml:"Environment"`
	FeeSnapshot     fees.SnapshotTiming `toml:"FeeSnapshot"`
	FlashPremiumBps uint64              `toml:"FlashPremiumBps"`
	PausedModules   []string            `toml:"PausedModules"`
	Logging         Logging             `toml:"Logging"`
	Telemetry       Telemetry           `toml:"Telemetry"`
	RateLimit       RateLimit           `toml:"RateLimit"`
	Auth            Auth                `toml:"Auth"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress:   defaultListenAddress,
		DataDir:         defaultDataDir,
		Environment:     defaultEnvironment,
		FeeSnapshot:     fees.SnapshotAtStart,
		FlashPremiumBps: flash.DefaultPremiumBps,
		PausedModules:   []string{},
		Logging:         Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Telemetry:       Telemetry{Endpoint: "localhost:4318", Insecure: true},
		RateLimit:       RateLimit{RequestsPerMinute: 600, Burst: 60},
		Auth:            Auth{SecretEnv: defaultSecretEnv, Issuer: "loand", Audience: "loan-api", ClockSkewSeconds: 120},
	}
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	if cfg.GenesisFile != "" && !filepath.IsAbs(cfg.GenesisFile) {
		cfg.GenesisFile = filepath.Join(filepath.Dir(path), cfg.GenesisFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = defaultEnvironment
	}
	if c.FlashPremiumBps == 0 {
		c.FlashPremiumBps = flash.DefaultPremiumBps
	}
	if strings.TrimSpace(c.Auth.SecretEnv) == "" {
		c.Auth.SecretEnv = defaultSecretEnv
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
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
