// Package config loads kiorg's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-hclog"

	"github.com/kiorg/kiorg/internal/cache"
	"github.com/kiorg/kiorg/internal/plugin/manager"
	"github.com/kiorg/kiorg/internal/plugin/process"
	"github.com/kiorg/kiorg/internal/plugin/protocol"
)

// Duration is a time.Duration written as a Go duration string ("750ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the on-disk configuration.
type Config struct {
	Plugins Plugins `toml:"plugins"`
	Cache   Cache   `toml:"cache"`
}

// Plugins configures the plugin registry.
type Plugins struct {
	Dir              string            `toml:"dir"`
	HandshakeTimeout Duration          `toml:"handshake_timeout"`
	PreviewTimeout   Duration          `toml:"preview_timeout"`
	ShutdownGrace    Duration          `toml:"shutdown_grace"`
	Disabled         []string          `toml:"disabled"`
	Protocols        map[string]string `toml:"protocols"`
	Watch            bool              `toml:"watch"`
}

// Cache configures the preview cache.
type Cache struct {
	Dir            string `toml:"dir"`
	MemoryEntries  int    `toml:"memory_entries"`
	PluginPreviews bool   `toml:"plugin_previews"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Plugins: Plugins{
			HandshakeTimeout: Duration{manager.DefaultHandshakeTimeout},
			PreviewTimeout:   Duration{manager.DefaultPreviewTimeout},
			ShutdownGrace:    Duration{process.DefaultShutdownGrace},
		},
		Cache: Cache{MemoryEntries: cache.DefaultMemoryEntries},
	}
}

// Dir returns kiorg's configuration directory.
func Dir() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("failed to locate config directory: %w", errors.Join(err, herr))
		}
		root = filepath.Join(home, ".config")
	}
	return filepath.Join(root, "kiorg"), nil
}

// DefaultPath returns the configuration file read when none is given.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the configuration at path over the defaults. An empty path
// reads DefaultPath, which need not exist.
func Load(path string) (Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		var err error
		if path, err = DefaultPath(); err != nil {
			return cfg, nil
		}
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the decoder cannot.
func (c Config) Validate() error {
	var errs []error
	for name, kind := range c.Plugins.Protocols {
		if _, err := protocol.ParseKind(kind); err != nil {
			errs = append(errs, fmt.Errorf("plugins.protocols.%s: %w", name, err))
		}
	}
	if c.Plugins.HandshakeTimeout.Duration < 0 {
		errs = append(errs, errors.New("plugins.handshake_timeout must not be negative"))
	}
	if c.Plugins.PreviewTimeout.Duration < 0 {
		errs = append(errs, errors.New("plugins.preview_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// PluginDir returns the configured plugin directory, defaulting to
// plugins/ under the config directory.
func (c Config) PluginDir() string {
	if c.Plugins.Dir != "" {
		return c.Plugins.Dir
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "plugins")
}

// Manager converts the plugin section to registry configuration.
func (c Config) Manager() manager.Config {
	protocols := make(map[string]protocol.Kind, len(c.Plugins.Protocols))
	for name, kind := range c.Plugins.Protocols {
		// Validate has already rejected unknown kinds.
		k, _ := protocol.ParseKind(kind)
		protocols[name] = k
	}
	return manager.Config{
		PluginDir:        c.PluginDir(),
		HandshakeTimeout: c.Plugins.HandshakeTimeout.Duration,
		PreviewTimeout:   c.Plugins.PreviewTimeout.Duration,
		ShutdownGrace:    c.Plugins.ShutdownGrace.Duration,
		Disabled:         c.Plugins.Disabled,
		Protocols:        protocols,
	}
}

// CacheOptions converts the cache section to cache options. KIORG_CACHE_DIR
// takes precedence over cache.dir.
func (c Config) CacheOptions(logger hclog.Logger) cache.Options {
	dir := c.Cache.Dir
	if os.Getenv(cache.EnvCacheDir) != "" {
		dir = ""
	}
	return cache.Options{
		Dir:           dir,
		MemoryEntries: c.Cache.MemoryEntries,
		Logger:        logger,
	}
}
