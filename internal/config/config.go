// Package config loads sqlbridge configuration.
//
// Loading order:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (SQLBRIDGE_*)
//
// The result is checked against an embedded CUE schema before use.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the root configuration.
type Config struct {
	BaseDir    string     `yaml:"base_dir" json:"base_dir"`
	Workers    int        `yaml:"workers" json:"workers"`
	Logging    Logging    `yaml:"logging" json:"logging"`
	Databases  []Database `yaml:"databases,omitempty" json:"databases,omitempty"`
	Changefeed Changefeed `yaml:"changefeed" json:"changefeed"`
}

// Logging selects log level and handler format.
type Logging struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
}

// Database is a connection opened at startup.
type Database struct {
	Name       string      `yaml:"name" json:"name"`
	Location   string      `yaml:"location,omitempty" json:"location,omitempty"`
	Memory     bool        `yaml:"memory,omitempty" json:"memory,omitempty"`
	Extensions []Extension `yaml:"extensions,omitempty" json:"extensions,omitempty"`
}

// Extension is a native extension loaded into a Database.
type Extension struct {
	Path       string `yaml:"path" json:"path"`
	EntryPoint string `yaml:"entry_point,omitempty" json:"entry_point,omitempty"`
}

// Changefeed configures publishing of row changes to MQTT.
type Changefeed struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         int    `yaml:"qos" json:"qos"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		BaseDir: "./data",
		Workers: 0,
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Changefeed: Changefeed{
			ClientID:    "sqlbridge",
			TopicPrefix: "sqlbridge/changes",
			QoS:         1,
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies SQLBRIDGE_* variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SQLBRIDGE_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("SQLBRIDGE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SQLBRIDGE_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("SQLBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SQLBRIDGE_MQTT_BROKER"); v != "" {
		cfg.Changefeed.Broker = v
		cfg.Changefeed.Enabled = true
	}
	return nil
}

// Validate checks cfg against the embedded schema and rules the schema
// cannot express.
func (c *Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Databases))
	for _, db := range c.Databases {
		if seen[db.Name] {
			return fmt.Errorf("databases: duplicate name %q", db.Name)
		}
		seen[db.Name] = true
	}
	return nil
}
