// Package config loads daemon settings. Sources, lowest precedence first:
// built-in defaults, an optional TOML file, then the JSON object in the
// GUTTERDIFF_CONFIG environment variable set by the editor plugin.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"

	"gutterdiff/git"
	"gutterdiff/logger"
)

// EnvVar holds the JSON configuration passed by the editor plugin
const EnvVar = "GUTTERDIFF_CONFIG"

// Sign describes how one marker kind is drawn in the sign column
type Sign struct {
	Text      string `json:"text" toml:"text"`
	Highlight string `json:"highlight" toml:"highlight"`
}

// Signs holds the sign for every marker kind
type Signs struct {
	Added   Sign `json:"added" toml:"added"`
	Changed Sign `json:"changed" toml:"changed"`
	Removed Sign `json:"removed" toml:"removed"`
	Created Sign `json:"created" toml:"created"`
}

type Config struct {
	// ConfigFile points at the TOML file; only read from the environment
	ConfigFile string `json:"config_file" toml:"-"`

	NsID                   int     `json:"ns_id" toml:"ns_id"`
	Track                  string  `json:"track" toml:"track"` // e.g. "main master" or "merge-base:main"
	GitBackend             string  `json:"git_backend" toml:"git_backend"`
	DebounceMs             int     `json:"debounce_ms" toml:"debounce_ms"`
	MaxParallel            int     `json:"max_parallel" toml:"max_parallel"`
	GitRatePerSec          float64 `json:"git_rate_per_sec" toml:"git_rate_per_sec"`
	SnapshotDB             string  `json:"snapshot_db" toml:"snapshot_db"`
	SnapshotKeep           int     `json:"snapshot_keep" toml:"snapshot_keep"`
	WatchGit               bool    `json:"watch_git" toml:"watch_git"`
	LogLevel               string  `json:"log_level" toml:"log_level"` // trace, debug, info, warn, error
	DebugImmediateShutdown bool    `json:"debug_immediate_shutdown" toml:"debug_immediate_shutdown"`
	Signs                  Signs   `json:"signs" toml:"signs"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Track:         git.DefaultTrack,
		GitBackend:    git.BackendExec,
		DebounceMs:    150,
		MaxParallel:   4,
		GitRatePerSec: 50,
		SnapshotKeep:  20,
		WatchGit:      true,
		LogLevel:      "info",
		Signs: Signs{
			Added:   Sign{Text: "┃", Highlight: "GutterDiffAdd"},
			Changed: Sign{Text: "┃", Highlight: "GutterDiffChange"},
			Removed: Sign{Text: "▁", Highlight: "GutterDiffDelete"},
			Created: Sign{Text: "┃", Highlight: "GutterDiffCreated"},
		},
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/gutterdiff/config.toml
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(dir, "gutterdiff", "config.toml"), nil
}

// DefaultSnapshotDB returns the snapshot database location under the user
// cache directory
func DefaultSnapshotDB() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("could not determine cache directory: %w", err)
	}
	return filepath.Join(dir, "gutterdiff", "snapshots.db"), nil
}

// Load builds the configuration from the environment
func Load() (*Config, error) {
	path, _ := DefaultConfigPath()
	return LoadFrom(os.Getenv(EnvVar), path)
}

// LoadFrom layers envJSON over the TOML file (the one named by config_file
// in envJSON, else defaultPath) over the defaults, then validates.
// A missing TOML file is not an error.
func LoadFrom(envJSON, defaultPath string) (*Config, error) {
	cfg := Default()

	var env map[string]json.RawMessage
	if strings.TrimSpace(envJSON) != "" {
		if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvVar, err)
		}
	}

	path := defaultPath
	if raw, ok := env["config_file"]; ok {
		if err := json.Unmarshal(raw, &path); err != nil {
			return nil, fmt.Errorf("invalid config_file: %w", err)
		}
	}

	if path != "" {
		if err := LoadTOML(cfg, path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if env != nil {
		if err := json.Unmarshal([]byte(envJSON), cfg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvVar, err)
		}
	}
	cfg.ConfigFile = path

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg. Keys absent from the
// file keep their current values.
func LoadTOML(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		logger.Warn("config: ignoring unknown keys in %s: %v", path, undecoded)
	}
	return nil
}

// setDefaults fills values that depend on the machine
func (c *Config) setDefaults() error {
	if c.SnapshotDB == "" {
		db, err := DefaultSnapshotDB()
		if err != nil {
			return err
		}
		c.SnapshotDB = db
	}
	return nil
}

// ValidationError is a single invalid setting
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid setting
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and reports all problems at once
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.NsID < 0 {
		add("ns_id", "must not be negative, got %d", c.NsID)
	}
	if c.GitBackend != git.BackendExec && c.GitBackend != git.BackendGoGit {
		add("git_backend", "invalid backend '%s', must be one of: %s, %s", c.GitBackend, git.BackendExec, git.BackendGoGit)
	}
	if c.DebounceMs < 0 {
		add("debounce_ms", "must not be negative, got %d", c.DebounceMs)
	}
	if c.MaxParallel < 1 {
		add("max_parallel", "must be at least 1, got %d", c.MaxParallel)
	}
	if c.GitRatePerSec < 0 {
		add("git_rate_per_sec", "must not be negative, got %v", c.GitRatePerSec)
	}
	if c.SnapshotKeep < 0 {
		add("snapshot_keep", "must not be negative, got %d", c.SnapshotKeep)
	}
	if _, ok := logger.LookupLogLevel(c.LogLevel); !ok {
		add("log_level", "unknown level '%s'", c.LogLevel)
	}

	for field, sign := range map[string]Sign{
		"signs.added":   c.Signs.Added,
		"signs.changed": c.Signs.Changed,
		"signs.removed": c.Signs.Removed,
		"signs.created": c.Signs.Created,
	} {
		if n := utf8.RuneCountInString(sign.Text); n == 0 || n > 2 {
			add(field+".text", "must be one or two characters, got %q", sign.Text)
		}
		if sign.Highlight == "" {
			add(field+".highlight", "must name a highlight group")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// TrackSpec returns the parsed track setting
func (c *Config) TrackSpec() git.TrackSpec {
	return git.ParseTrackSpec(c.Track)
}
