package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dyluth/quill/internal/duration"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a setting is omitted.
const (
	DefaultHeartbeatIntervalSeconds = 10
	DefaultStaleAfterSeconds        = 30
	DefaultReconcileIntervalSeconds = 30
	DefaultMaxTxAttempts            = 10
	DefaultGradingTopic             = "quill.submissions"
)

// PresenceConfig controls heartbeats and stale-connection sweeps
type PresenceConfig struct {
	HeartbeatIntervalSeconds *int `yaml:"heartbeat_interval_seconds,omitempty"`
	StaleAfterSeconds        *int `yaml:"stale_after_seconds,omitempty"` // Must be >= heartbeat interval
}

// ObserverConfig controls the client-side reconciliation poll
type ObserverConfig struct {
	ReconcileIntervalSeconds *int `yaml:"reconcile_interval_seconds,omitempty"`
}

// StoreConfig controls session store transactions
type StoreConfig struct {
	MaxTxAttempts *int `yaml:"max_tx_attempts,omitempty"` // Attempts before a conflicting update gives up
}

// DurationsConfig overrides the built-in tier table
type DurationsConfig struct {
	DefaultTier string                        `yaml:"default_tier,omitempty"` // Tier used for unrecognized ranks
	Tiers       map[string]duration.Durations `yaml:"tiers,omitempty"`
}

// GradingConfig specifies where committed submissions are sent
type GradingConfig struct {
	Brokers []string `yaml:"brokers,omitempty"` // Empty disables grading hand-off
	Topic   string   `yaml:"topic,omitempty"`
}

// QuillConfig represents the top-level quill.yml configuration
type QuillConfig struct {
	Version   string           `yaml:"version"`
	Presence  *PresenceConfig  `yaml:"presence,omitempty"`
	Observer  *ObserverConfig  `yaml:"observer,omitempty"`
	Store     *StoreConfig     `yaml:"store,omitempty"`
	Durations *DurationsConfig `yaml:"durations,omitempty"`
	Grading   *GradingConfig   `yaml:"grading,omitempty"`

	policy *duration.Policy
}

func defaultInt(p **int, v int) {
	if *p == nil {
		*p = &v
	}
}

// Validate performs strict validation on the configuration and applies defaults
func (c *QuillConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Presence == nil {
		c.Presence = &PresenceConfig{}
	}
	defaultInt(&c.Presence.HeartbeatIntervalSeconds, DefaultHeartbeatIntervalSeconds)
	defaultInt(&c.Presence.StaleAfterSeconds, DefaultStaleAfterSeconds)
	if *c.Presence.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("presence.heartbeat_interval_seconds must be > 0, got %d", *c.Presence.HeartbeatIntervalSeconds)
	}
	if *c.Presence.StaleAfterSeconds < *c.Presence.HeartbeatIntervalSeconds {
		return fmt.Errorf("presence.stale_after_seconds (%d) must be >= heartbeat_interval_seconds (%d)",
			*c.Presence.StaleAfterSeconds, *c.Presence.HeartbeatIntervalSeconds)
	}

	if c.Observer == nil {
		c.Observer = &ObserverConfig{}
	}
	defaultInt(&c.Observer.ReconcileIntervalSeconds, DefaultReconcileIntervalSeconds)
	if *c.Observer.ReconcileIntervalSeconds <= 0 {
		return fmt.Errorf("observer.reconcile_interval_seconds must be > 0, got %d", *c.Observer.ReconcileIntervalSeconds)
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	defaultInt(&c.Store.MaxTxAttempts, DefaultMaxTxAttempts)
	if *c.Store.MaxTxAttempts < 1 {
		return fmt.Errorf("store.max_tx_attempts must be >= 1, got %d", *c.Store.MaxTxAttempts)
	}

	if c.Durations == nil {
		c.Durations = &DurationsConfig{}
	}
	if c.Durations.DefaultTier == "" {
		c.Durations.DefaultTier = string(duration.DefaultTier)
	}
	policy, err := duration.NewPolicy(c.Durations.DefaultTier, c.Durations.Tiers)
	if err != nil {
		return fmt.Errorf("durations: %w", err)
	}
	c.policy = policy

	if c.Grading == nil {
		c.Grading = &GradingConfig{}
	}
	if len(c.Grading.Brokers) > 0 && c.Grading.Topic == "" {
		c.Grading.Topic = DefaultGradingTopic
	}

	return nil
}

// HeartbeatInterval returns presence.heartbeat_interval_seconds as a duration.
func (c *QuillConfig) HeartbeatInterval() time.Duration {
	return time.Duration(*c.Presence.HeartbeatIntervalSeconds) * time.Second
}

// StaleAfter returns presence.stale_after_seconds as a duration.
func (c *QuillConfig) StaleAfter() time.Duration {
	return time.Duration(*c.Presence.StaleAfterSeconds) * time.Second
}

// ReconcileInterval returns observer.reconcile_interval_seconds as a duration.
func (c *QuillConfig) ReconcileInterval() time.Duration {
	return time.Duration(*c.Observer.ReconcileIntervalSeconds) * time.Second
}

// MaxTxAttempts returns store.max_tx_attempts.
func (c *QuillConfig) MaxTxAttempts() int {
	return *c.Store.MaxTxAttempts
}

// Policy returns the duration policy built during validation.
func (c *QuillConfig) Policy() *duration.Policy {
	return c.policy
}

// GradingEnabled reports whether submissions are forwarded to a broker.
func (c *QuillConfig) GradingEnabled() bool {
	return c.Grading != nil && len(c.Grading.Brokers) > 0
}

// Default returns a validated configuration with every default applied.
func Default() *QuillConfig {
	config := &QuillConfig{Version: "1.0"}
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return config
}

// Load reads and validates quill.yml from the specified path
func Load(path string) (*QuillConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config QuillConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*QuillConfig, error) {
	config, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return config, err
}
