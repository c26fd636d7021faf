package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/metrics"
	"github.com/dyluth/quill/internal/participant"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/pkg/session"
	"github.com/redis/go-redis/v9"
)

// runtime bundles what every store-backed command needs.
type runtime struct {
	env    *config.Env
	config *config.QuillConfig
	store  *session.Client
}

// loadRuntime reads the environment and quill.yml and connects to Redis.
// Errors are printed with printer and returned for Cobra.
func loadRuntime(ctx context.Context) (*runtime, error) {
	e, err := config.LoadEnvWithOverrides(map[string]string{
		"QUILL_INSTANCE_NAME": instanceName,
		"REDIS_URL":           redisURL,
	})
	if err != nil {
		return nil, printer.Error(
			"missing configuration",
			err.Error(),
			[]string{
				"Set QUILL_INSTANCE_NAME and REDIS_URL in the environment",
				"Pass --name and --redis-url",
			},
		)
	}

	cfg, err := config.LoadOrDefault(e.ConfigPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid quill.yml",
			err.Error(),
			map[string]string{"Path": e.ConfigPath},
			nil,
		)
	}

	store, err := connect(ctx, e, cfg)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"Redis unreachable",
			err.Error(),
			map[string]string{"Instance": e.InstanceName},
			[]string{"Check that Redis is running and REDIS_URL is correct"},
		)
	}

	return &runtime{env: e, config: cfg, store: store}, nil
}

func connect(ctx context.Context, e *config.Env, cfg *config.QuillConfig) (*session.Client, error) {
	opts, err := redis.ParseURL(e.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	store, err := session.NewClient(opts, e.InstanceName,
		session.WithMaxTxAttempts(cfg.MaxTxAttempts()),
		session.WithConflictHook(metrics.TxRetries.Inc),
		session.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// settings derives participant loop settings from quill.yml.
func (r *runtime) settings() participant.Settings {
	return participant.Settings{
		HeartbeatInterval: r.config.HeartbeatInterval(),
		ReconcileInterval: r.config.ReconcileInterval(),
	}
}

func (r *runtime) Close() error {
	return r.store.Close()
}
