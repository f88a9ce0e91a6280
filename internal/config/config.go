package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Sweep   SweepConfig   `yaml:"sweep"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"SESSIONWATCH_HOST"`
	Port int    `yaml:"port" env:"SESSIONWATCH_PORT"`
}

type AuthConfig struct {
	// APIKey is the shared secret required on every API call. Empty
	// disables auth; only do that in development.
	APIKey string `yaml:"api_key" env:"SESSIONWATCH_API_KEY"`
}

type StorageConfig struct {
	Path          string        `yaml:"path" env:"SESSIONWATCH_DATA_FILE"`
	Debounce      time.Duration `yaml:"debounce"`
	MaxFlushDelay time.Duration `yaml:"max_flush_delay"`
	EventCapacity int           `yaml:"event_capacity"`
}

type SweepConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Path:          "data/sessions.json",
			Debounce:      time.Second,
			MaxFlushDelay: 30 * time.Second,
			EventCapacity: 1000,
		},
		Sweep: SweepConfig{
			Interval:   time.Minute,
			StaleAfter: 5 * time.Minute,
		},
	}
}

// Load builds the config from defaults, then the YAML file at path if
// it exists, then environment overrides. A missing file is fine; an
// unreadable or malformed one is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env-only config
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env: %w", err)
	}

	return cfg, nil
}
