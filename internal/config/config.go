// Package config wraps viper behind a small, nil-safe accessor type and
// supplies routerctl's defaults. Settings come from an optional YAML file
// and from ROUTERCTL_* environment variables; environment wins.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is a nil-safe view over a viper instance. A Config built from a
// nil viper returns zero values from every getter.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v yields a usable, empty Config.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// Load reads routerctl's configuration. path may be empty, in which case
// only defaults and environment variables apply; a named file that cannot
// be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.session_ttl", "15m")
	v.SetDefault("auth.cooldown", "30s")
	v.SetDefault("audit.path", "routerctl-audit.db")

	v.SetEnvPrefix("ROUTERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return New(v), nil
}

// GetString returns the string value for key, or "" if unset.
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// GetInt returns the int value for key, or 0 if unset.
func (c *Config) GetInt(key string) int {
	if c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

// GetBool returns the bool value for key, or false if unset.
func (c *Config) GetBool(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

// GetDuration returns the duration value for key, or 0 if unset.
func (c *Config) GetDuration(key string) time.Duration {
	if c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

// IsSet reports whether key has a value from any source.
func (c *Config) IsSet(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the subtree rooted at key. Always non-nil; a missing key
// yields an empty Config.
func (c *Config) Sub(key string) *Config {
	if c.v == nil {
		return New(nil)
	}
	return New(c.v.Sub(key))
}

// Unmarshal decodes the configuration into target using mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}
