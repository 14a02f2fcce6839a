package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration.
type CLIConfig struct {
	Address    string `yaml:"address"`
	AdminToken string `yaml:"admin_token,omitempty"`
	TLSCACert  string `yaml:"tls_ca_cert,omitempty"`
}

var cfg CLIConfig

// configPath returns the path to the CLI config file.
func configPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ephemera", "config.yaml")
}

// loadConfig loads the CLI config from disk.
func loadConfig() {
	cfg = CLIConfig{
		Address: "http://127.0.0.1:8080",
	}
	data, err := os.ReadFile(configPath())
	if err != nil {
		return // Use defaults
	}
	yaml.Unmarshal(data, &cfg) //nolint:errcheck
}

// saveConfig persists the CLI config to disk.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// setConfigValue updates a single key of the CLI config.
func setConfigValue(key, value string) error {
	switch key {
	case "address":
		cfg.Address = value
	case "admin_token":
		cfg.AdminToken = value
	case "tls_ca_cert":
		cfg.TLSCACert = value
	default:
		return fmt.Errorf("unknown config key %q (address, admin_token, tls_ca_cert)", key)
	}
	return nil
}
