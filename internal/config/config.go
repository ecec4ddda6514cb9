// Package config provides configuration loading and validation for Headshot.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/headshot/internal/filter"
)

// Defaults applied when the config leaves them unset.
const (
	DefaultURL            = "https://cloud.tenable.com"
	DefaultAccessKeyEnv   = "TENABLE_ACCESS_KEY"
	DefaultSecretKeyEnv   = "TENABLE_SECRET_KEY"
	DefaultBatchSize      = 50
	DefaultExportPageSize = 200
)

// Config is the complete configuration for a run: platform connection
// settings plus the ordered rule list.
type Config struct {
	Tenable TenableConfig `json:"tenable" yaml:"tenable"`
	Rules   []Rule        `json:"rules" yaml:"rules"`
}

// TenableConfig contains platform connection settings. Credentials are
// referenced indirectly by environment variable name so the config file
// never holds secrets.
type TenableConfig struct {
	URL            string `json:"url,omitempty" yaml:"url,omitempty"`
	AccessKeyEnv   string `json:"access_key_env,omitempty" yaml:"access_key_env,omitempty"`
	SecretKeyEnv   string `json:"secret_key_env,omitempty" yaml:"secret_key_env,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	ExportPageSize int    `json:"export_page_size,omitempty" yaml:"export_page_size,omitempty"`
}

// CustomAttribute names the remote attribute a rule asserts on matched
// assets.
type CustomAttribute struct {
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Rule associates a filter expression with the custom attribute to apply.
// Rules are loaded once at process start and never mutated during a run.
type Rule struct {
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled         *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	CustomAttribute CustomAttribute   `json:"custom_attribute" yaml:"custom_attribute"`
	Filters         filter.Expression `json:"plugin_filters" yaml:"plugin_filters"`
}

// IsEnabled reports whether the rule should run by default. Unset means
// enabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// LoadConfig reads and parses a configuration file. The format is JSON;
// files with a .yaml/.yml extension are parsed as YAML into the same
// structure.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from trusted source (config file)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("parsing config JSON: %w", err)
		}
		if dec.More() {
			return nil, fmt.Errorf("parsing config JSON: trailing data after configuration object")
		}
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Tenable.URL == "" {
		c.Tenable.URL = DefaultURL
	}
	if c.Tenable.AccessKeyEnv == "" {
		c.Tenable.AccessKeyEnv = DefaultAccessKeyEnv
	}
	if c.Tenable.SecretKeyEnv == "" {
		c.Tenable.SecretKeyEnv = DefaultSecretKeyEnv
	}
	if c.Tenable.BatchSize <= 0 {
		c.Tenable.BatchSize = DefaultBatchSize
	}
	if c.Tenable.ExportPageSize <= 0 {
		c.Tenable.ExportPageSize = DefaultExportPageSize
	}
}

// Validate ensures the configuration is valid. Filter expression contents
// are checked during decoding; this covers the rule-level structure.
func (c *Config) Validate() error {
	if len(c.Rules) == 0 {
		return fmt.Errorf("configuration must contain at least one rule")
	}

	seen := make(map[string]bool, len(c.Rules))
	for i := range c.Rules {
		rule := &c.Rules[i]
		if rule.Name == "" {
			return fmt.Errorf("rule %d missing name", i+1)
		}
		if seen[rule.Name] {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true

		if rule.CustomAttribute.Name == "" {
			return fmt.Errorf("rule %q: custom_attribute missing name", rule.Name)
		}
		if rule.CustomAttribute.Value == "" {
			return fmt.Errorf("rule %q: custom_attribute missing value", rule.Name)
		}
		if len(rule.Filters.Groups()) == 0 {
			return fmt.Errorf("rule %q missing plugin_filters", rule.Name)
		}
	}

	return nil
}

// Credentials resolves the API key pair from the configured environment
// variables.
func (c *Config) Credentials() (accessKey, secretKey string, err error) {
	accessKey = os.Getenv(c.Tenable.AccessKeyEnv)
	secretKey = os.Getenv(c.Tenable.SecretKeyEnv)

	if accessKey == "" || secretKey == "" {
		return "", "", fmt.Errorf("API credentials not found: set the %s and %s environment variables",
			c.Tenable.AccessKeyEnv, c.Tenable.SecretKeyEnv)
	}

	return accessKey, secretKey, nil
}

// SelectRules returns the rules to run in configuration order. With no
// names given it returns all enabled rules; with names it returns exactly
// those rules (enabled or not), and any unknown name is an error.
func (c *Config) SelectRules(names []string) ([]Rule, error) {
	if len(names) == 0 {
		var selected []Rule
		for _, rule := range c.Rules {
			if rule.IsEnabled() {
				selected = append(selected, rule)
			}
		}
		return selected, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []Rule
	for _, rule := range c.Rules {
		if wanted[rule.Name] {
			selected = append(selected, rule)
			delete(wanted, rule.Name)
		}
	}

	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		// Preserve the order the caller asked for.
		var ordered []string
		for _, name := range names {
			if containsName(missing, name) {
				ordered = append(ordered, name)
			}
		}
		return nil, fmt.Errorf("rules not found in configuration: %s", strings.Join(ordered, ", "))
	}

	return selected, nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
