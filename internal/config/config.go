// Package config loads and validates driftsync configuration.
//
// Configuration is layered, later layers override earlier ones:
//  1. Built-in defaults
//  2. User config (~/.config/driftsync/config.yaml)
//  3. Root config (<local_root>/.driftsync/config.yaml)
//  4. Environment variables (DRIFTSYNC_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftsync/driftsync/internal/errors"
)

const (
	// StateDirName is the per-root state directory. It is always excluded
	// from scanning so the tool never tries to reconcile its own state.
	StateDirName = ".driftsync"

	// IgnoreFileName is the scoped ignore file honored during traversal.
	IgnoreFileName = ".driftignore"

	// ConfigFileName is the per-root config file under StateDirName.
	ConfigFileName = "config.yaml"
)

// MetadataPolicy selects which side wins a metadata-only difference.
type MetadataPolicy string

const (
	// PolicyNewerMtime prefers the side with the more recent mtime (default).
	PolicyNewerMtime MetadataPolicy = "newer_mtime"
	// PolicyOlderMtime prefers the side with the older mtime.
	PolicyOlderMtime MetadataPolicy = "older_mtime"
	// PolicyLocal always prefers the local side's metadata.
	PolicyLocal MetadataPolicy = "local"
	// PolicyRemote always prefers the remote side's metadata.
	PolicyRemote MetadataPolicy = "remote"
)

// Config represents the complete driftsync configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Remote  RemoteConfig  `yaml:"remote" json:"remote"`
	Compare CompareConfig `yaml:"compare" json:"compare"`
	Apply   ApplyConfig   `yaml:"apply" json:"apply"`
	Exclude ExcludeConfig `yaml:"exclude" json:"exclude"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// RemoteConfig describes the remote endpoint reached over SSH.
type RemoteConfig struct {
	Host string `yaml:"host" json:"host"`
	User string `yaml:"user" json:"user"`
	Port int    `yaml:"port" json:"port"`
	Root string `yaml:"root" json:"root"`

	// HelperPath is the path of the driftsync-helper binary on the remote
	// host. Defaults to "driftsync-helper" resolved via the remote PATH.
	HelperPath string `yaml:"helper_path" json:"helper_path"`

	// Compression enables SSH transport compression.
	Compression bool `yaml:"compression" json:"compression"`

	// ConnectTimeout bounds SSH dialing (e.g. "10s").
	ConnectTimeout string `yaml:"connect_timeout" json:"connect_timeout"`

	// Sessions is the size of the pooled SFTP session set.
	Sessions int `yaml:"sessions" json:"sessions"`
}

// CompareConfig tunes the two-phase comparison.
type CompareConfig struct {
	// MtimeTolerance is the slack within which mtimes count as equal
	// for the cheap signature phase (e.g. "2s").
	MtimeTolerance string `yaml:"mtime_tolerance" json:"mtime_tolerance"`

	// HashWorkers bounds the parallel content-hash pool.
	HashWorkers int `yaml:"hash_workers" json:"hash_workers"`

	// MetadataPolicy picks the preferred side for metadata-only diffs.
	MetadataPolicy MetadataPolicy `yaml:"metadata_policy" json:"metadata_policy"`
}

// ApplyConfig tunes plan execution.
type ApplyConfig struct {
	// Workers bounds concurrent transfer operations within a phase.
	Workers int `yaml:"workers" json:"workers"`
}

// ExcludeConfig adds to the built-in exclusion sets.
type ExcludeConfig struct {
	// Dirs are extra directory names excluded at any depth.
	Dirs []string `yaml:"dirs" json:"dirs"`
	// Files are extra file names excluded anywhere by exact name.
	Files []string `yaml:"files" json:"files"`
	// Patterns are extra doublestar globs checked against relative paths.
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// defaultExcludedDirs are directory names pruned at any depth, before any
// ignore-rule evaluation. Negation patterns cannot resurrect them.
var defaultExcludedDirs = []string{
	"node_modules",
	".tox",
	".venv",
	StateDirName,
	"__pycache__",
	".pytest_cache",
	".cache",
	".ruff_cache",
}

// defaultExcludedFiles are file names excluded anywhere by exact name.
var defaultExcludedFiles = []string{
	".DS_Store",
	"Icon\r",
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Remote: RemoteConfig{
			Port:           22,
			HelperPath:     "driftsync-helper",
			ConnectTimeout: "10s",
			Sessions:       2,
		},
		Compare: CompareConfig{
			MtimeTolerance: "2s",
			HashWorkers:    4,
			MetadataPolicy: PolicyNewerMtime,
		},
		Apply: ApplyConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ExcludedDirs returns the effective excluded directory name set.
func (c *Config) ExcludedDirs() []string {
	return append(append([]string{}, defaultExcludedDirs...), c.Exclude.Dirs...)
}

// ExcludedFiles returns the effective excluded file name set.
func (c *Config) ExcludedFiles() []string {
	return append(append([]string{}, defaultExcludedFiles...), c.Exclude.Files...)
}

// MtimeTolerance parses the configured tolerance, falling back to 2s.
func (c *Config) MtimeTolerance() time.Duration {
	d, err := time.ParseDuration(c.Compare.MtimeTolerance)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}

// ConnectTimeout parses the configured SSH dial timeout, falling back to 10s.
func (c *Config) ConnectTimeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.ConnectTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// UserConfigPath returns ~/.config/driftsync/config.yaml.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "driftsync", ConfigFileName)
}

// RootConfigPath returns <root>/.driftsync/config.yaml.
func RootConfigPath(root string) string {
	return filepath.Join(root, StateDirName, ConfigFileName)
}

// Load builds the layered configuration for the given local root.
// Missing config files are not an error; a malformed file is.
func Load(localRoot string) (*Config, error) {
	cfg := Default()

	for _, path := range []string{UserConfigPath(), RootConfigPath(localRoot)} {
		if path == "" {
			continue
		}
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays one YAML file onto cfg if the file exists.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("malformed config file %s", path), err).
			WithSuggestion("check the YAML syntax or regenerate with 'driftsync config init'")
	}
	return nil
}

// applyEnvOverrides applies DRIFTSYNC_* environment overrides, the
// highest-priority layer.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRIFTSYNC_REMOTE_HOST"); v != "" {
		cfg.Remote.Host = v
	}
	if v := os.Getenv("DRIFTSYNC_REMOTE_USER"); v != "" {
		cfg.Remote.User = v
	}
	if v := os.Getenv("DRIFTSYNC_REMOTE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Remote.Port = port
		}
	}
	if v := os.Getenv("DRIFTSYNC_REMOTE_ROOT"); v != "" {
		cfg.Remote.Root = v
	}
	if v := os.Getenv("DRIFTSYNC_HASH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compare.HashWorkers = n
		}
	}
	if v := os.Getenv("DRIFTSYNC_APPLY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Apply.Workers = n
		}
	}
	if v := os.Getenv("DRIFTSYNC_MTIME_TOLERANCE"); v != "" {
		cfg.Compare.MtimeTolerance = v
	}
	if v := os.Getenv("DRIFTSYNC_METADATA_POLICY"); v != "" {
		cfg.Compare.MetadataPolicy = MetadataPolicy(v)
	}
	if v := os.Getenv("DRIFTSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Compare.MetadataPolicy {
	case PolicyNewerMtime, PolicyOlderMtime, PolicyLocal, PolicyRemote:
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown metadata_policy %q", c.Compare.MetadataPolicy), nil).
			WithSuggestion("use one of: newer_mtime, older_mtime, local, remote")
	}
	if c.Compare.HashWorkers < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "compare.hash_workers must be >= 1", nil)
	}
	if c.Apply.Workers < 1 {
		return errors.New(errors.ErrCodeConfigInvalid, "apply.workers must be >= 1", nil)
	}
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("remote.port %d out of range", c.Remote.Port), nil)
	}
	if _, err := time.ParseDuration(c.Compare.MtimeTolerance); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("compare.mtime_tolerance %q is not a duration", c.Compare.MtimeTolerance), err)
	}
	return nil
}

// WriteYAML writes the configuration to the given path, creating parent
// directories as needed.
func (c *Config) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "cannot create config directory", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "cannot marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "cannot write config file", err)
	}
	return nil
}
