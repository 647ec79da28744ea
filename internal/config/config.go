// Package config loads and validates the synchronizer configuration
// from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/dirstack/adsync/internal/directory"
)

// QueryConfig carries the search-location and account-form settings.
type QueryConfig struct {
	// AccountForm selects the username syntax: "principal" (default)
	// or "sam".
	AccountForm string `yaml:"accountForm"`

	// Search locations per entity type. An empty list means the
	// directory's default base.
	UserLocations  []string `yaml:"userLocations"`
	GroupLocations []string `yaml:"groupLocations"`
	NodeLocations  []string `yaml:"nodeLocations"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" default:"8h"`
}

// AttributeMappingConfig is one (attribute, field, kind) tuple.
type AttributeMappingConfig struct {
	Attr  string `yaml:"attr"`
	Field string `yaml:"field"`
	Kind  string `yaml:"kind"` // "text" (default) or "photo"
}

// SyncConfig controls reconciliation behavior.
type SyncConfig struct {
	// DefaultGroup, when set, is a local group code every synchronized
	// identity is assigned to.
	DefaultGroup string `yaml:"defaultGroup"`

	// ExpiryAttribute and ExpiryMask define the account-disabled
	// policy evaluated on inbound reconciliation.
	ExpiryAttribute string `yaml:"expiryAttribute" default:"useraccountcontrol"`
	ExpiryMask      int64  `yaml:"expiryMask" default:"2"`

	AttributeMappings []AttributeMappingConfig `yaml:"attributeMappings"`

	// Workers bounds how many identities are reconciled concurrently.
	// Each worker opens its own directory connection.
	Workers int `yaml:"workers" default:"4"`
}

// ProvisionConfig locates created objects.
type ProvisionConfig struct {
	UserBaseDN  string `yaml:"userBaseDn"`
	GroupBaseDN string `yaml:"groupBaseDn"`
	UPNSuffix   string `yaml:"upnSuffix"`
}

// Config is the root configuration document.
type Config struct {
	Directory directory.Config `yaml:"directory"`
	Query     QueryConfig      `yaml:"query"`
	Cache     CacheConfig      `yaml:"cache"`
	Sync      SyncConfig       `yaml:"sync"`
	Provision ProvisionConfig  `yaml:"provision"`

	LogLevel string `yaml:"logLevel" default:"info"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse unmarshals a YAML document, applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if len(c.Directory.URLs) == 0 {
		return directory.NewConfigError("validate_config", "at least one directory URL is required")
	}
	for _, mapping := range c.Sync.AttributeMappings {
		if mapping.Attr == "" || mapping.Field == "" {
			return directory.NewConfigError("validate_config",
				"attribute mapping needs both attr and field (got attr=%q field=%q)",
				mapping.Attr, mapping.Field)
		}
		switch mapping.Kind {
		case "", "text", "photo":
		default:
			return directory.NewConfigError("validate_config",
				"unknown attribute mapping kind %q", mapping.Kind)
		}
	}
	if c.Sync.Workers < 1 {
		return directory.NewConfigError("validate_config", "workers must be at least 1")
	}
	return nil
}
