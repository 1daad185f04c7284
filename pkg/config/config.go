// Package config handles loading and saving lazytree configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/lazytree/config.yaml (or config.toml)
//   - State:   ~/.local/state/lazytree/ (trace logs)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/lazytree/pkg/tree"
)

const appName = "lazytree"

// Duration is a time.Duration written as "250ms" / "5s" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// TreeConfig holds tree policies and load tuning.
type TreeConfig struct {
	LoadChildrenOnSelected   bool     `yaml:"load_children_on_selected,omitempty" toml:"load_children_on_selected,omitempty"`
	UnloadChildrenOnCollapse *bool    `yaml:"unload_children_on_collapse,omitempty" toml:"unload_children_on_collapse,omitempty"`
	MergeReloads             *bool    `yaml:"merge_reloads,omitempty" toml:"merge_reloads,omitempty"`
	LoadConcurrency          int      `yaml:"load_concurrency,omitempty" toml:"load_concurrency,omitempty"`
	FetchTimeout             Duration `yaml:"fetch_timeout,omitempty" toml:"fetch_timeout,omitempty"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level     string `yaml:"level,omitempty" toml:"level,omitempty"` // none, error, warn, info, debug, trace
	TracePath string `yaml:"trace_path,omitempty" toml:"trace_path,omitempty"`
	Debug     bool   `yaml:"debug,omitempty" toml:"debug,omitempty"`
}

// BrowserConfig holds settings for the lazytree browser.
type BrowserConfig struct {
	Root       string   `yaml:"root,omitempty" toml:"root,omitempty"`
	Database   string   `yaml:"database,omitempty" toml:"database,omitempty"` // SQLite file; overrides Root
	ShowHidden bool     `yaml:"show_hidden,omitempty" toml:"show_hidden,omitempty"`
	Watch      bool     `yaml:"watch,omitempty" toml:"watch,omitempty"`
	Debounce   Duration `yaml:"debounce,omitempty" toml:"debounce,omitempty"`
	Format     string   `yaml:"format,omitempty" toml:"format,omitempty"` // text, json, yaml (headless dump)
}

// Config is the top-level configuration for lazytree.
type Config struct {
	Tree    TreeConfig    `yaml:"tree,omitempty" toml:"tree,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty" toml:"log,omitempty"`
	Browser BrowserConfig `yaml:"browser,omitempty" toml:"browser,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tree: TreeConfig{
			LoadConcurrency: 4,
		},
		Log: LogConfig{
			Level: "warn",
		},
		Browser: BrowserConfig{
			Root:     ".",
			Debounce: Duration(200 * time.Millisecond),
			Format:   "text",
		},
	}
}

// ConfigDir returns the XDG config directory for lazytree.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// StateDir returns the XDG state directory for lazytree.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", appName)
}

// ConfigPath returns the config file in the config directory: config.yaml,
// or config.toml when only that one exists.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	yamlPath := filepath.Join(dir, "config.yaml")
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(yamlPath); os.IsNotExist(err) {
		if _, err := os.Stat(tomlPath); err == nil {
			return tomlPath
		}
	}
	return yamlPath
}

// DefaultTracePath is where --trace writes when no path is given.
func DefaultTracePath() string {
	dir := StateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "trace.jsonl")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path. Files ending in .toml are
// parsed as TOML, everything else as YAML.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Browser.Root = expandHome(cfg.Browser.Root)
	cfg.Browser.Database = expandHome(cfg.Browser.Database)
	cfg.Log.TracePath = expandHome(cfg.Log.TracePath)

	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path, as TOML for .toml paths.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var data []byte
	var err error
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate reports settings no component can honor.
func (c Config) Validate() error {
	if c.Tree.LoadConcurrency < 0 {
		return fmt.Errorf("tree.load_concurrency must not be negative, got %d", c.Tree.LoadConcurrency)
	}
	switch c.Browser.Format {
	case "", "text", "json", "yaml":
	default:
		return fmt.Errorf("browser.format must be text, json or yaml, got %q", c.Browser.Format)
	}
	return nil
}

// TreeOptions converts the tree and log sections into tree options.
func (c Config) TreeOptions() []tree.Option {
	opts := []tree.Option{
		tree.WithLoadChildrenOnSelected(c.Tree.LoadChildrenOnSelected),
		tree.WithLoadConcurrency(c.Tree.LoadConcurrency),
		tree.WithFetchTimeout(time.Duration(c.Tree.FetchTimeout)),
		tree.WithLogLevel(tree.ParseLogLevel(c.Log.Level)),
	}
	if c.Tree.UnloadChildrenOnCollapse != nil {
		opts = append(opts, tree.WithUnloadChildrenOnCollapse(*c.Tree.UnloadChildrenOnCollapse))
	}
	if c.Tree.MergeReloads != nil {
		opts = append(opts, tree.WithMergeReloads(*c.Tree.MergeReloads))
	}
	if c.Log.TracePath != "" {
		opts = append(opts, tree.WithTracePath(c.Log.TracePath))
	}
	return opts
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
