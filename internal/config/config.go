// Package config handles configuration loading and validation for sitedocs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// S3Config holds the object-store connection settings.
type S3Config struct {
	Endpoint    string `yaml:"endpoint"` // Custom endpoint for MinIO-style deployments (optional)
	Region      string `yaml:"region"`
	Bucket      string `yaml:"bucket"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	PathStyle   bool   `yaml:"path_style"`   // Path-style addressing (required by most MinIO setups)
	MaxAttempts int    `yaml:"max_attempts"` // SDK retry budget, initial attempt included (default: 3)
}

// EditorConfig holds settings for the external editing engine.
type EditorConfig struct {
	BaseURL          string `yaml:"base_url"`          // Where browsers load the engine from
	SigningSecret    string `yaml:"signing_secret"`    // Shared HMAC secret
	EnforceSignature bool   `yaml:"enforce_signature"` // Require signed descriptors and callbacks
	TokenTTL         string `yaml:"token_ttl"`         // Proxy access-token lifetime (default: "24h")
	DocKeyTTL        string `yaml:"doc_key_ttl"`       // Document-key cache lifetime (default: "168h")
}

// ArchiveConfig holds settings for the archive purge job.
type ArchiveConfig struct {
	RetentionDays int    `yaml:"retention_days"` // Archived items older than this are purged (default: 30)
	PurgeInterval string `yaml:"purge_interval"` // Background purge cadence (default: "6h")
}

// CacheConfig holds the listing-cache tuning.
type CacheConfig struct {
	ListingTTL string `yaml:"listing_ttl"` // Folder-listing cache lifetime (default: "15m")
}

// Config is the full server configuration.
type Config struct {
	Listen        string        `yaml:"listen"`
	AuthToken     string        `yaml:"auth_token"`      // Bearer token for the drive API
	PublicBaseURL string        `yaml:"public_base_url"` // Externally reachable base URL
	S3            S3Config      `yaml:"s3"`
	Editor        EditorConfig  `yaml:"editor"`
	Archive       ArchiveConfig `yaml:"archive"`
	Cache         CacheConfig   `yaml:"cache"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "http://localhost:8080"
	}
	if c.S3.Region == "" {
		c.S3.Region = "eu-west-3"
	}
	if c.S3.MaxAttempts <= 0 {
		c.S3.MaxAttempts = 3
	}
	if c.Editor.TokenTTL == "" {
		c.Editor.TokenTTL = "24h"
	}
	if c.Editor.DocKeyTTL == "" {
		c.Editor.DocKeyTTL = "168h"
	}
	if c.Archive.RetentionDays <= 0 {
		c.Archive.RetentionDays = 30
	}
	if c.Archive.PurgeInterval == "" {
		c.Archive.PurgeInterval = "6h"
	}
	if c.Cache.ListingTTL == "" {
		c.Cache.ListingTTL = "15m"
	}
}

// Validate checks required fields and duration syntax.
func (c *Config) Validate() error {
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.Editor.EnforceSignature && c.Editor.SigningSecret == "" {
		return fmt.Errorf("editor.signing_secret is required when editor.enforce_signature is set")
	}
	for name, value := range map[string]string{
		"editor.token_ttl":       c.Editor.TokenTTL,
		"editor.doc_key_ttl":     c.Editor.DocKeyTTL,
		"archive.purge_interval": c.Archive.PurgeInterval,
		"cache.listing_ttl":      c.Cache.ListingTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}
	return nil
}

// TokenTTL returns the parsed proxy token lifetime.
func (c *Config) TokenTTL() time.Duration { return mustDuration(c.Editor.TokenTTL, 24*time.Hour) }

// DocKeyTTL returns the parsed document-key cache lifetime.
func (c *Config) DocKeyTTL() time.Duration {
	return mustDuration(c.Editor.DocKeyTTL, 7*24*time.Hour)
}

// PurgeInterval returns the parsed purge cadence.
func (c *Config) PurgeInterval() time.Duration {
	return mustDuration(c.Archive.PurgeInterval, 6*time.Hour)
}

// ListingTTL returns the parsed listing-cache lifetime.
func (c *Config) ListingTTL() time.Duration {
	return mustDuration(c.Cache.ListingTTL, 15*time.Minute)
}

// Retention returns the archive retention as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Archive.RetentionDays) * 24 * time.Hour
}

// mustDuration parses a duration validated earlier; fallback covers configs
// built in code that skipped Validate.
func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
