package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Env is the process configuration read from environment variables.
type Env struct {
	InstanceName string `env:"QUILL_INSTANCE_NAME,required,notEmpty"`
	RedisURL     string `env:"REDIS_URL,required,notEmpty"`
	ConfigPath   string `env:"QUILL_CONFIG" envDefault:"quill.yml"`
	ListenAddr   string `env:"QUILL_LISTEN_ADDR" envDefault:":8080"`
	OTelEndpoint string `env:"QUILL_OTEL_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv parses Env from the process environment.
func LoadEnv() (*Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// LoadEnvWithOverrides is LoadEnv with non-empty overrides taking precedence
// over the process environment. Used for CLI flags.
func LoadEnvWithOverrides(overrides map[string]string) (*Env, error) {
	environment := env.ToMap(os.Environ())
	for k, v := range overrides {
		if v != "" {
			environment[k] = v
		}
	}

	var e Env
	if err := env.ParseWithOptions(&e, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &e, nil
}
