// Package config loads fedvault's on-disk YAML configuration (spec §6.4),
// merges it with defaults, and is itself overridden field-by-field by
// command-line flags: read file, yaml.Unmarshal, mergo.Merge over an
// in-memory defaults struct, never fail the whole load on a missing or
// malformed file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// PeerConfig is one entry of the `peers` map (spec §6.4: "mapping from peer
// name to dial address").
type PeerConfig struct {
	Address string `yaml:"address"`
}

// Config mirrors spec §6.4's recognized options one field at a time.
type Config struct {
	MyAddress       string                `yaml:"my_address"`
	Peers           map[string]PeerConfig `yaml:"peers"`
	MountPoint      string                `yaml:"mount_point"`
	DBPath          string                `yaml:"db_path"`
	LocalVaultName  string                `yaml:"local_vault_name"`
	Caching         bool                  `yaml:"caching"`
	ShareLocalVault bool                  `yaml:"share_local_vault"`

	AllowDisconnectedDelete bool `yaml:"allow_disconnected_delete"`
	AllowDisconnectedCreate bool `yaml:"allow_disconnected_create"`

	// BackgroundUpdateInterval is in seconds (spec §6.4).
	BackgroundUpdateInterval int `yaml:"background_update_interval"`

	LogLevel string `yaml:"log_level"`
}

// defaults builds an in-memory Config of fallback values before ever
// touching the file on disk.
func defaults() Config {
	return Config{
		LocalVaultName:           "local",
		DBPath:                   "./fedvault-data",
		MountPoint:               "./fedvault-mnt",
		LogLevel:                 "info",
		BackgroundUpdateInterval: 3,
	}
}

// DefaultConfigPath returns fedvault's own config file location under the
// user's configuration directory.
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		log.Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(confDir, "fedvault/config.yml")
}

// Load reads path, merges it over the package defaults, and returns the
// result. A missing or unparsable file is not fatal - defaults are returned
// instead, and the failure is logged.
func Load(path string) *Config {
	def := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("configuration file not found, using defaults")
		return &def
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not parse configuration file, using defaults")
		return &def
	}
	if err := mergo.Merge(cfg, def); err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not merge configuration with defaults")
	}
	return cfg
}

// Validate checks the handful of options that Load/pflag can't enforce
// structurally on their own (spec §6.4 names these as required, not optional).
func (c *Config) Validate() error {
	if c.LocalVaultName == "" {
		return fmt.Errorf("local_vault_name must be set")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("mount_point must be set")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must be set")
	}
	if c.ShareLocalVault && c.MyAddress == "" {
		return fmt.Errorf("my_address must be set when share_local_vault is true")
	}
	return nil
}

// Write serializes c back to path as YAML.
func (c Config) Write(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}
