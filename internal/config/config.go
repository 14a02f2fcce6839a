// Package config loads the server configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config is the server configuration.
type Config struct {
	ListenAddr    string `yaml:"listen_addr" validate:"required"`
	PublicURL     string `yaml:"public_url" validate:"omitempty,url"`
	TLSCertFile   string `yaml:"tls_cert" validate:"required_with=TLSKeyFile"`
	TLSKeyFile    string `yaml:"tls_key" validate:"required_with=TLSCertFile"`
	Backend       string `yaml:"backend" validate:"oneof=postgres redis sqlite memory"`
	DBUrl         string `yaml:"db_url" validate:"required_if=Backend postgres"`
	RedisURL      string `yaml:"redis_url" validate:"required_if=Backend redis"`
	SQLitePath    string `yaml:"sqlite_path" validate:"required_if=Backend sqlite,excludesall=?#"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	EncryptionKey string `yaml:"encryption_key" validate:"omitempty,hexadecimal,len=64"`
	KeyFile       string `yaml:"key_file"`
	AdminToken    string `yaml:"admin_token"`

	MaxMessageBytes int `yaml:"max_message_bytes" validate:"gt=0"`
	DefaultViews    int `yaml:"default_views" validate:"gt=0,ltefield=MaxViews"`
	MaxViews        int `yaml:"max_views" validate:"gt=0"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		Backend:         BackendPostgres,
		MigrationsDir:   "migrations",
		LogLevel:        "info",
		MaxMessageBytes: 64 * 1024,
		DefaultViews:    1,
		MaxViews:        100,
	}
}

// Path returns the config file location, honoring EPHEMERA_CONFIG.
func Path() string {
	if v := os.Getenv("EPHEMERA_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("file", path).Msg("config file not found, using defaults")
	default:
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	// SERVER_ADDRESS and SERVER_PORT are kept for deployments that predate
	// EPHEMERA_LISTEN_ADDR.
	host, port := getenv("SERVER_ADDRESS"), getenv("SERVER_PORT")
	if host != "" || port != "" {
		curHost, curPort, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			curHost, curPort = "", "8080"
		}
		if host == "" {
			host = curHost
		}
		if port == "" {
			port = curPort
		}
		cfg.ListenAddr = net.JoinHostPort(host, port)
	}
	set(&cfg.ListenAddr, "EPHEMERA_LISTEN_ADDR")

	set(&cfg.Backend, "EPHEMERA_BACKEND")
	set(&cfg.DBUrl, "DATABASE_URL")
	set(&cfg.RedisURL, "REDIS_URL")
	set(&cfg.EncryptionKey, "ENCRYPTION_KEY")
	set(&cfg.KeyFile, "EPHEMERA_KEY_FILE")
	set(&cfg.AdminToken, "EPHEMERA_ADMIN_TOKEN")
	set(&cfg.PublicURL, "EPHEMERA_PUBLIC_URL")
	set(&cfg.LogLevel, "EPHEMERA_LOG_LEVEL")

	cfg.Backend = strings.ToLower(cfg.Backend)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BaseURL is the externally visible root used to build message links.
func (c Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	scheme := "http"
	if c.TLSCertFile != "" {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return scheme + "://" + c.ListenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}
