package client

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mlfoundry/foundry-go/session"
)

const pathEnv = ".env"

// Duration parses human-readable durations ("30s", "5m") from both
// environment variables and YAML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)

	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	BaseURL         string   `env:"FOUNDRY_BASE_URL"            yaml:"base_url"`
	APIKey          string   `env:"FOUNDRY_API_KEY"             yaml:"api_key"`
	TLSVerification bool     `env:"FOUNDRY_TLS_VERIFICATION"    envDefault:"true" yaml:"tls_verification"`
	AttemptTimeout  Duration `env:"FOUNDRY_ATTEMPT_TIMEOUT"     envDefault:"30s"  yaml:"attempt_timeout"`
	PollTimeout     Duration `env:"FOUNDRY_POLL_TIMEOUT"        envDefault:"0s"   yaml:"poll_timeout"`
	Keepalive       Duration `env:"FOUNDRY_KEEPALIVE_INTERVAL"  envDefault:"30s"  yaml:"keepalive_interval"`
	MaxChunkItems   int      `env:"FOUNDRY_MAX_CHUNK_ITEMS"     envDefault:"128"  yaml:"max_chunk_items"`
	MaxChunkSize    int      `env:"FOUNDRY_MAX_CHUNK_SIZE"      envDefault:"4194304" yaml:"max_chunk_size"`
}

// FromEnv loads the configuration from the environment, reading an
// optional .env file first.
func FromEnv() (Config, error) {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to open configuration file '%s': %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.AttemptTimeout < 0 || c.PollTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.MaxChunkItems < 0 || c.MaxChunkSize < 0 {
		return errors.New("chunk limits must not be negative")
	}

	return nil
}

func (c Config) limits() session.Limits {
	return session.Limits{
		MaxItemsPerChunk: c.MaxChunkItems,
		MaxChunkSize:     c.MaxChunkSize,
	}
}

// sharingKey identifies the rate-limiter sharing domain: one limiter
// per credential/endpoint pair.
func (c Config) sharingKey() string {
	return c.BaseURL + "|" + c.APIKey
}
