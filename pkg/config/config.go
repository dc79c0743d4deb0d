package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/bootstrap"
	"federegistry/pkg/registry"
	"federegistry/pkg/remote"
	"federegistry/pkg/store"

	"github.com/joho/godotenv"
)

const (
	DefaultAddress         = ":7100"
	DefaultRefreshInterval = 24 * time.Hour
	DefaultMaxEntrySize    = 1 << 20
	DefaultCallTimeout     = 3 * time.Second
)

// Config is a registry node's configuration.
type Config struct {
	UserID string `json:"user_id"`
	// Address is the listen address.
	Address string `json:"address"`
	// CoreAddr is the address advertised in this node's record. Defaults to
	// the listen address.
	CoreAddr      string `json:"core_addr,omitempty"`
	DataDir       string `json:"data_dir"`
	Store         string `json:"store"`
	SigningSecret string `json:"signing_secret"`
	BootstrapPath string `json:"bootstrap_path,omitempty"`

	RemoteMode         string   `json:"remote_mode"`
	TaskTimeout        Duration `json:"task_timeout,omitempty"`
	Retraction         string   `json:"retraction"`
	ResolvePasses      int      `json:"resolve_passes,omitempty"`
	ResolveBackoff     Duration `json:"resolve_backoff,omitempty"`
	PublishConcurrency int      `json:"publish_concurrency,omitempty"`
	RefreshInterval    Duration `json:"refresh_interval,omitempty"`
	MaxEntrySize       DataSize `json:"max_entry_size,omitempty"`

	// CallTimeout bounds one RPC to a peer. It must stay below TaskTimeout.
	CallTimeout Duration `json:"call_timeout,omitempty"`
	// RegistryTaskTimeout bounds the registry entries, which make one call
	// per registry per pass. Zero leaves them bounded by their calls only.
	RegistryTaskTimeout Duration `json:"registry_task_timeout,omitempty"`

	MetricsAddress string           `json:"metrics_address,omitempty"`
	Auth           *auth.AuthConfig `json:"auth,omitempty"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFromEnv builds a configuration from REGISTRY_* variables. A .env file
// in the working directory is loaded first if present; variables already
// set in the environment win.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		UserID:         getEnv("REGISTRY_USER_ID", ""),
		Address:        getEnv("REGISTRY_ADDRESS", DefaultAddress),
		CoreAddr:       getEnv("REGISTRY_CORE_ADDR", ""),
		DataDir:        getEnv("REGISTRY_DATA_DIR", ""),
		Store:          getEnv("REGISTRY_STORE", store.BackendMemory),
		SigningSecret:  getEnv("REGISTRY_SIGNING_SECRET", ""),
		BootstrapPath:  getEnv("REGISTRY_BOOTSTRAP_PATH", ""),
		RemoteMode:     getEnv("REGISTRY_REMOTE_MODE", string(remote.ModeDirect)),
		Retraction:     getEnv("REGISTRY_RETRACTION", string(registry.BestEffort)),
		MetricsAddress: getEnv("REGISTRY_METRICS_ADDRESS", ""),
	}

	var err error
	if cfg.ResolvePasses, err = getEnvInt("REGISTRY_RESOLVE_PASSES"); err != nil {
		return nil, err
	}
	if cfg.PublishConcurrency, err = getEnvInt("REGISTRY_PUBLISH_CONCURRENCY"); err != nil {
		return nil, err
	}
	for key, dst := range map[string]*Duration{
		"REGISTRY_RESOLVE_BACKOFF":       &cfg.ResolveBackoff,
		"REGISTRY_TASK_TIMEOUT":          &cfg.TaskTimeout,
		"REGISTRY_CALL_TIMEOUT":          &cfg.CallTimeout,
		"REGISTRY_REGISTRY_TASK_TIMEOUT": &cfg.RegistryTaskTimeout,
		"REGISTRY_REFRESH_INTERVAL":      &cfg.RefreshInterval,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			*dst = Duration(d)
		}
	}
	if v := os.Getenv("REGISTRY_MAX_ENTRY_SIZE"); v != "" {
		n, err := ParseDataSize(v)
		if err != nil {
			return nil, fmt.Errorf("REGISTRY_MAX_ENTRY_SIZE: %w", err)
		}
		cfg.MaxEntrySize = DataSize(n)
	}
	if os.Getenv("REGISTRY_TLS_CERT") != "" {
		cfg.Auth = &auth.AuthConfig{
			Enabled:           true,
			CAPath:            getEnv("REGISTRY_TLS_CA", ""),
			CertPath:          os.Getenv("REGISTRY_TLS_CERT"),
			KeyPath:           getEnv("REGISTRY_TLS_KEY", ""),
			ClientCAPath:      getEnv("REGISTRY_TLS_CLIENT_CA", ""),
			RequireClientAuth: getEnv("REGISTRY_TLS_REQUIRE_CLIENT_AUTH", "") == "true",
			MinTLSVersion:     getEnv("REGISTRY_TLS_MIN_VERSION", "1.3"),
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Store == "" {
		c.Store = store.BackendMemory
	}
	if c.RemoteMode == "" {
		c.RemoteMode = string(remote.ModeDirect)
	}
	if c.Retraction == "" {
		c.Retraction = string(registry.BestEffort)
	}
	if c.ResolvePasses == 0 {
		c.ResolvePasses = registry.DefaultMaxPasses
	}
	if c.ResolveBackoff == 0 {
		c.ResolveBackoff = Duration(registry.DefaultPassBackoff)
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = Duration(remote.DefaultTaskTimeout)
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = Duration(DefaultCallTimeout)
	}
	if c.PublishConcurrency == 0 {
		c.PublishConcurrency = 1
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(DefaultRefreshInterval)
	}
	if c.MaxEntrySize == 0 {
		c.MaxEntrySize = DefaultMaxEntrySize
	}
	if c.BootstrapPath == "" {
		if home, err := bootstrap.Home(); err == nil {
			c.BootstrapPath = filepath.Join(home, bootstrap.FileName)
		}
	}
}

// Validate checks the configuration a node is started with.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing_secret is required")
	}
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.Store == store.BackendSQLite && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for the sqlite store")
	}
	if _, err := remote.ParseMode(c.RemoteMode); err != nil {
		return err
	}
	if _, err := registry.ParseRetractionPolicy(c.Retraction); err != nil {
		return err
	}
	if c.ResolvePasses < 0 {
		return fmt.Errorf("resolve_passes must not be negative")
	}
	if c.PublishConcurrency < 0 {
		return fmt.Errorf("publish_concurrency must not be negative")
	}
	if c.CallTimeout <= 0 || c.CallTimeout >= c.TaskTimeout {
		return fmt.Errorf("call_timeout (%s) must be positive and below task_timeout (%s)",
			time.Duration(c.CallTimeout), time.Duration(c.TaskTimeout))
	}
	if c.RegistryTaskTimeout < 0 {
		return fmt.Errorf("registry_task_timeout must not be negative")
	}
	if c.RegistryTaskTimeout > 0 && c.RegistryTaskTimeout <= c.CallTimeout {
		return fmt.Errorf("registry_task_timeout (%s) must be above call_timeout (%s)",
			time.Duration(c.RegistryTaskTimeout), time.Duration(c.CallTimeout))
	}
	if c.Auth != nil && c.Auth.Enabled {
		if err := c.Auth.Validate(); err != nil {
			return fmt.Errorf("invalid auth config: %w", err)
		}
	}
	return nil
}

// RegistryOptions returns the protocol options the configuration selects.
func (c *Config) RegistryOptions() (registry.Options, error) {
	policy, err := registry.ParseRetractionPolicy(c.Retraction)
	if err != nil {
		return registry.Options{}, err
	}
	return registry.Options{
		RetractionPolicy:   policy,
		MaxPasses:          c.ResolvePasses,
		PassBackoff:        time.Duration(c.ResolveBackoff),
		PublishConcurrency: c.PublishConcurrency,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
