package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RollupConfig holds the tunables of the daily rollup job.
type RollupConfig struct {
	// Timezone is the IANA zone whose calendar days bound each snapshot window.
	Timezone string `mapstructure:"timezone"`
	// RunInterval is how often the scheduler wakes up. The job itself is
	// idempotent, so waking more than once per day is harmless.
	RunInterval time.Duration `mapstructure:"runInterval"`
	// RunTimeout bounds a single snapshot run end to end.
	RunTimeout time.Duration `mapstructure:"runTimeout"`
	// EnabledJobs restricts which scheduler jobs run. Empty means all.
	EnabledJobs []string `mapstructure:"enabledJobs"`
}

func DefaultRollupConfig() RollupConfig {
	return RollupConfig{
		Timezone:    "UTC",
		RunInterval: 24 * time.Hour,
		RunTimeout:  10 * time.Minute,
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c RollupConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

type RollupConfigHolder struct {
	current atomic.Value // holds RollupConfig
}

// NewRollupConfigHolder loads rollup.yml and keeps it hot-reloaded.
func NewRollupConfigHolder() (*RollupConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("rollup")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/rollup/config") // Volume-mounted config
	v.AddConfigPath("/etc/rollup")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("ROLLUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRollupConfig()
		v.SetDefault("rollup.timezone", defaults.Timezone)
		v.SetDefault("rollup.runInterval", defaults.RunInterval)
		v.SetDefault("rollup.runTimeout", defaults.RunTimeout)
	}

	var cfg RollupConfig
	if err := v.UnmarshalKey("rollup", &cfg); err != nil {
		return nil, err
	}
	cfg = withRollupDefaults(cfg)
	if err := validateRollupConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RollupConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RollupConfig
		if err := v.UnmarshalKey("rollup", &updated); err != nil {
			log.Printf("[rollup-config] reload failed: %v", err)
			return
		}
		updated = withRollupDefaults(updated)
		if err := validateRollupConfig(updated); err != nil {
			log.Printf("[rollup-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[rollup-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRollupConfigHolder wraps a fixed config with no file watching.
func NewStaticRollupConfigHolder(cfg RollupConfig) *RollupConfigHolder {
	holder := &RollupConfigHolder{}
	holder.current.Store(withRollupDefaults(cfg))
	return holder
}

func (h *RollupConfigHolder) Get() RollupConfig {
	return h.current.Load().(RollupConfig)
}

func withRollupDefaults(cfg RollupConfig) RollupConfig {
	defaults := DefaultRollupConfig()
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = defaults.Timezone
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = defaults.RunInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaults.RunTimeout
	}
	return cfg
}

func validateRollupConfig(cfg RollupConfig) error {
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone)); err != nil {
		return errors.New("rollup.timezone must be a valid IANA zone")
	}
	return nil
}
