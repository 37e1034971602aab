// Package config loads the server configuration file (YAML) and
// applies defaults for anything the file omits.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the contents of the server config file.
type Config struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`

	// JWTSecret signs and verifies API bearer tokens. Must match the
	// identity provider's signing key.
	JWTSecret string `yaml:"jwt_secret"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	// SweepInterval controls the restriction-expiry sweeper,
	// as a Go duration string. Empty disables the sweeper.
	SweepInterval string `yaml:"sweep_interval"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Port:           8080,
		DBPath:         "points.db",
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		SweepInterval:  "1h",
	}
}

// Load reads the config from path. A missing file yields the defaults;
// a present file is merged over them.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "points.db"
	}
	return cfg, nil
}
