// Package config loads and validates the gateway's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ion-ash/mcp-mux/internal/interpolation"
	"github.com/pelletier/go-toml/v2"
)

// Version is the only supported config schema version.
const Version = "v1"

const (
	DefaultListenAddress  = "127.0.0.1:8420"
	DefaultThrottleWindow = time.Second
	DefaultTokenTTL       = time.Hour
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config is the root of the TOML document.
type Config struct {
	Version string `toml:"version"`

	// Listen is the gateway HTTP bind address.
	Listen string `toml:"listen" env_interpolation:"yes"`

	// DatabasePath is the sqlite file. Empty selects the in-memory store.
	DatabasePath string `toml:"database_path" env_interpolation:"yes"`

	// ThrottleWindow is the minimum interval between list-changed
	// notifications of one kind to one session.
	ThrottleWindow Duration `toml:"throttle_window"`

	// AdminToken guards the management API. Empty disables the admin
	// endpoints entirely.
	AdminToken string `toml:"admin_token" env_interpolation:"yes"`

	Logging LogConfig   `toml:"logging"`
	OAuth   OAuthConfig `toml:"oauth"`
	Spaces  []SpaceDef  `toml:"spaces"`
	Servers []ServerDef `toml:"servers"`
}

// LogConfig selects handler level, encoding, and destination.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output" env_interpolation:"yes"`
}

// OAuthConfig configures token issuance for inbound clients.
type OAuthConfig struct {
	Issuer        string   `toml:"issuer" env_interpolation:"yes"`
	SigningSecret string   `toml:"signing_secret" env_interpolation:"yes"`
	TokenTTL      Duration `toml:"token_ttl"`
}

// SpaceDef declares a space to create at startup if absent.
type SpaceDef struct {
	Name    string `toml:"name"`
	Default bool   `toml:"default"`
}

// ServerDef statically declares a backend server within a space.
type ServerDef struct {
	ID        string   `toml:"id"`
	Space     string   `toml:"space"`
	Transport string   `toml:"transport"`
	Command   string   `toml:"command" env_interpolation:"yes"`
	Args      []string `toml:"args" env_interpolation:"yes"`
	Endpoint  string   `toml:"endpoint" env_interpolation:"yes"`
	Enabled   bool     `toml:"enabled"`
}

// NewConfig loads a configuration from a TOML file.
func NewConfig(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: config file does not exist: %s", ErrFailedToLoadConfig, filePath)
	}
	if ext := filepath.Ext(filePath); ext != ".toml" {
		return nil, fmt.Errorf("%w: unsupported config format: %s, only .toml is supported", ErrFailedToLoadConfig, ext)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	return NewConfigFromBytes(data)
}

// NewConfigFromReader loads a configuration from an io.Reader of TOML data.
func NewConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	return NewConfigFromBytes(data)
}

// NewConfigFromBytes parses TOML bytes and applies defaults. Validate is a
// separate step so callers can report all problems at once.
func NewConfigFromBytes(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}

	if cfg.Version == "" {
		cfg.Version = Version
	}
	if cfg.Version != Version {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigVer, cfg.Version)
	}
	if err := interpolation.Apply(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListenAddress
	}
	if c.ThrottleWindow.AsDuration() <= 0 {
		c.ThrottleWindow = FromDuration(DefaultThrottleWindow)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.OAuth.TokenTTL.AsDuration() <= 0 {
		c.OAuth.TokenTTL = FromDuration(DefaultTokenTTL)
	}
}

// Validate checks the whole document and joins every problem found.
func (c *Config) Validate() error {
	errz := []error{}

	switch c.Logging.Format {
	case "text", "txt", "json":
	default:
		errz = append(errz, fmt.Errorf("unsupported log format: %s", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errz = append(errz, fmt.Errorf("unsupported log level: %s", c.Logging.Level))
	}

	if c.OAuth.SigningSecret == "" {
		errz = append(errz, errors.New("oauth signing_secret must be set"))
	}

	defaults := 0
	spaceNames := make(map[string]bool, len(c.Spaces))
	for i, space := range c.Spaces {
		if space.Name == "" {
			errz = append(errz, fmt.Errorf("space at index %d has an empty name", i))
			continue
		}
		if spaceNames[space.Name] {
			errz = append(errz, fmt.Errorf("duplicate space name '%s'", space.Name))
		}
		spaceNames[space.Name] = true
		if space.Default {
			defaults++
		}
	}
	if defaults > 1 {
		errz = append(errz, errors.New("at most one space may be marked default"))
	}

	serverIDs := make(map[string]bool, len(c.Servers))
	for i, server := range c.Servers {
		if server.ID == "" {
			errz = append(errz, fmt.Errorf("server at index %d has an empty id", i))
			continue
		}
		key := server.Space + "/" + server.ID
		if serverIDs[key] {
			errz = append(errz, fmt.Errorf("duplicate server id '%s' in space '%s'", server.ID, server.Space))
		}
		serverIDs[key] = true

		if server.Space != "" && !spaceNames[server.Space] {
			errz = append(errz, fmt.Errorf("server '%s' references undeclared space '%s'", server.ID, server.Space))
		}
		switch server.Transport {
		case "stdio":
			if server.Command == "" {
				errz = append(errz, fmt.Errorf("stdio server '%s' has no command", server.ID))
			}
		case "http":
			if server.Endpoint == "" {
				errz = append(errz, fmt.Errorf("http server '%s' has no endpoint", server.ID))
			}
		default:
			errz = append(errz, fmt.Errorf("server '%s' has unsupported transport '%s'", server.ID, server.Transport))
		}
	}

	if err := errors.Join(errz...); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToValidateConfig, err)
	}
	return nil
}
