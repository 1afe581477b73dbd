package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Client is the participant client configuration.
type Client struct {
	ServerURL      string        `yaml:"server_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Deck           []float64     `yaml:"deck"`
	LogLevel       string        `yaml:"log_level"`
}

func DefaultClient() Client {
	return Client{
		ServerURL:      "http://localhost:8000",
		ReconnectDelay: 1 * time.Second,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 10 * time.Second,
		Deck:           []float64{1, 2, 3, 5, 8, 13},
		LogLevel:       "warn",
	}
}

// LoadClient reads an optional YAML file over the defaults, then applies
// WEVOTE_* environment overrides. An empty path skips the file.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Client{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Client{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ServerURL = getEnv("WEVOTE_SERVER_URL", cfg.ServerURL)
	cfg.ReconnectDelay = getEnvDuration("WEVOTE_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.LogLevel = getEnv("WEVOTE_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func (c Client) validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect_delay must be positive")
	}
	if len(c.Deck) == 0 {
		return errors.New("deck must contain at least one card")
	}
	return nil
}
