// Package config loads termguard settings from YAML with TERMGUARD_* overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/swarmguard/termguard/wordstore"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	// Enabled=false makes every check pass; nothing is built or scheduled.
	Enabled         bool          `yaml:"enabled"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FailMode        string        `yaml:"fail_mode"`
	PolicyFile      string        `yaml:"policy_file"`
	// Policy selects "static" (reject on match) or "rego".
	Policy string `yaml:"policy"`

	Store   StoreConfig   `yaml:"store"`
	Refresh RefreshConfig `yaml:"refresh"`
	NATS    NATSConfig    `yaml:"nats"`
	HTTP    HTTPConfig    `yaml:"http"`
	Admin   AdminConfig   `yaml:"admin"`
}

type StoreConfig struct {
	Driver   string        `yaml:"driver"`
	Path     string        `yaml:"path"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
	Redis    RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type RefreshConfig struct {
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type NATSConfig struct {
	URL            string `yaml:"url"` // empty disables notifications
	RefreshSubject string `yaml:"refresh_subject"`
	PublishSubject string `yaml:"publish_subject"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AdminConfig rate-limits manual refreshes.
type AdminConfig struct {
	RefreshBurst     int64   `yaml:"refresh_burst"`
	RefreshPerSecond float64 `yaml:"refresh_per_second"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Enabled:         true,
		RefreshInterval: 5 * time.Minute,
		FailMode:        "open",
		Policy:          "static",
		Store: StoreConfig{
			Driver:   "file",
			Path:     "./terms.json",
			Watch:    true,
			Debounce: wordstore.DefaultDebounce,
			Redis:    RedisConfig{Addr: "localhost:6379", Key: wordstore.DefaultRedisKey},
		},
		Refresh: RefreshConfig{
			RetryAttempts:   3,
			RetryDelay:      200 * time.Millisecond,
			BreakerFailures: 5,
			BreakerCooldown: time.Minute,
		},
		NATS: NATSConfig{
			RefreshSubject: "termguard.v1.terms.changed",
			PublishSubject: "termguard.v1.snapshot.published",
		},
		HTTP:  HTTPConfig{Addr: ":8090", ShutdownTimeout: 10 * time.Second},
		Admin: AdminConfig{RefreshBurst: 3, RefreshPerSecond: 0.2},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("TERMGUARD_FAIL_MODE", &c.FailMode)
	str("TERMGUARD_POLICY", &c.Policy)
	str("TERMGUARD_POLICY_FILE", &c.PolicyFile)
	str("TERMGUARD_STORE_DRIVER", &c.Store.Driver)
	str("TERMGUARD_STORE_PATH", &c.Store.Path)
	str("TERMGUARD_REDIS_ADDR", &c.Store.Redis.Addr)
	str("TERMGUARD_REDIS_PASSWORD", &c.Store.Redis.Password)
	str("TERMGUARD_NATS_URL", &c.NATS.URL)
	str("TERMGUARD_HTTP_ADDR", &c.HTTP.Addr)

	if v, ok := lookup("TERMGUARD_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: TERMGUARD_ENABLED: %v", ErrInvalid, err)
		}
		c.Enabled = b
	}
	if v, ok := lookup("TERMGUARD_REFRESH_INTERVAL"); ok && v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("%w: TERMGUARD_REFRESH_INTERVAL: %v", ErrInvalid, err)
		}
		c.RefreshInterval = d
	}
	return nil
}

// UnmarshalYAML decodes c, reading refresh_interval as a Go duration or a bare
// number of seconds like TERMGUARD_REFRESH_INTERVAL.
func (c *Config) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Value != "refresh_interval" || v.Kind != yaml.ScalarNode {
				continue
			}
			d, err := parseInterval(v.Value)
			if err != nil {
				return fmt.Errorf("line %d: refresh_interval: %w", v.Line, err)
			}
			v.Tag, v.Value = "!!str", d.String()
		}
	}
	type plain Config
	return n.Decode((*plain)(c))
}

// parseInterval accepts a Go duration or a bare number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must be positive, got %s", c.RefreshInterval))
	}
	if c.FailMode != "open" && c.FailMode != "closed" {
		errs = append(errs, fmt.Errorf("fail_mode must be open or closed, got %q", c.FailMode))
	}
	if c.Policy != "static" && c.Policy != "rego" {
		errs = append(errs, fmt.Errorf("policy must be static or rego, got %q", c.Policy))
	}
	if !slices.Contains(wordstore.Drivers, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver %q not one of %v", c.Store.Driver, wordstore.Drivers))
	}
	switch c.Store.Driver {
	case "file", "bolt", "badger":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %s", c.Store.Driver))
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	}
	if c.Refresh.RetryAttempts < 0 || c.Refresh.BreakerFailures < 0 {
		errs = append(errs, errors.New("refresh retry and breaker counts must not be negative"))
	}
	if c.Admin.RefreshBurst <= 0 || c.Admin.RefreshPerSecond <= 0 {
		errs = append(errs, errors.New("admin refresh limits must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// StoreOptions converts the store section for wordstore.Open.
func (c *Config) StoreOptions() wordstore.Options {
	return wordstore.Options{
		Driver: c.Store.Driver,
		Path:   c.Store.Path,
		Redis: wordstore.RedisOptions{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
			Key:      c.Store.Redis.Key,
		},
	}
}
