package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"federegistry/pkg/bootstrap"
)

const clientConfigFile = "client.json"

// ClientConfig holds the operator CLI's connection defaults: which node to
// talk to and the user credential to present.
type ClientConfig struct {
	Node    string `json:"node"`
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"`
	// TLS, when set, secures the connection to the node.
	CACert     string `json:"ca_cert,omitempty"`
	ClientCert string `json:"client_cert,omitempty"`
	ClientKey  string `json:"client_key,omitempty"`
}

// GetClientConfigPath returns the client config path inside the registry
// home.
func GetClientConfigPath() (string, error) {
	home, err := bootstrap.Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, clientConfigFile), nil
}

// LoadClientConfig loads the client config at path. A missing file yields
// an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ClientConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	cfg.CACert = os.ExpandEnv(cfg.CACert)
	cfg.ClientCert = os.ExpandEnv(cfg.ClientCert)
	cfg.ClientKey = os.ExpandEnv(cfg.ClientKey)
	return &cfg, nil
}

// Save writes the client config to path with owner-only permissions.
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write client config: %w", err)
	}
	return nil
}

// CallTimeout returns the configured per-command timeout, 30s by default.
func (c *ClientConfig) CallTimeout() time.Duration {
	if c.Timeout != "" {
		if d, err := ParseDuration(c.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

// TLSEnabled reports whether the config names client TLS material.
func (c *ClientConfig) TLSEnabled() bool {
	return c.CACert != ""
}
