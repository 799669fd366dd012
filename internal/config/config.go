// Package config loads the recordcore daemon configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/tiroq/recordcore/internal/capability"
)

const (
	defaultEngineURL         = "ws://127.0.0.1:4466/engine"
	defaultRequestTimeout    = 10
	defaultReconnectDelay    = 5
	defaultMaxReconnectDelay = 60
	defaultPreset            = "default"
	defaultPollInterval      = 2
	defaultStateDir          = "~/.cache/recordcore"
	defaultLogPath           = "~/.cache/recordcore/recordcore-diag.log"
)

// Environment overrides applied after the file is read.
const (
	EnvEngineURL = "RECORDCORE_ENGINE_URL"
	EnvLogPath   = "RECORDCORE_LOG_PATH"
)

// Engine describes how to reach the recording engine daemon.
type Engine struct {
	URL                      string `toml:"url"`
	Password                 string `toml:"password"`
	RequestTimeoutSeconds    int    `toml:"request_timeout_seconds"`
	ReconnectDelaySeconds    int    `toml:"reconnect_delay_seconds"`
	MaxReconnectDelaySeconds int    `toml:"max_reconnect_delay_seconds"`
}

// Recording holds session defaults.
type Recording struct {
	Preset              string `toml:"preset"`           // preset used by a bare "start"
	OutputDirectory     string `toml:"output_directory"` // empty = engine default
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	WriteMetadata       bool   `toml:"write_metadata"` // sidecar .meta.json next to each output
	RenameOutputs       bool   `toml:"rename_outputs"` // rename outputs to YYYY-MM-DD_HHMM_<preset>
}

// Paths holds the daemon's local files.
type Paths struct {
	StateDir string `toml:"state_dir"` // command file, status snapshot, lock
	LogPath  string `toml:"log_path"`  // diagnostic NDJSON log
}

// Config is the daemon configuration.
type Config struct {
	Engine    Engine    `toml:"engine"`
	Recording Recording `toml:"recording"`
	Paths     Paths     `toml:"paths"`
}

// Default returns a Config populated with built-in defaults. Paths are not
// expanded.
func Default() Config {
	return Config{
		Engine: Engine{
			URL:                      defaultEngineURL,
			RequestTimeoutSeconds:    defaultRequestTimeout,
			ReconnectDelaySeconds:    defaultReconnectDelay,
			MaxReconnectDelaySeconds: defaultMaxReconnectDelay,
		},
		Recording: Recording{
			Preset:              defaultPreset,
			PollIntervalSeconds: defaultPollInterval,
			WriteMetadata:       true,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogPath:  defaultLogPath,
		},
	}
}

// DefaultPath is ~/.config/recordcore/config.toml.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "recordcore", "config.toml")
}

// Load reads path (DefaultPath when empty). A missing file yields the
// defaults. Environment overrides are applied, paths expanded and the result
// validated. The second return value reports whether a file was read.
func Load(path string) (*Config, bool, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	exists := true
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, exists, nil
}

// Save validates cfg and writes it to path (DefaultPath when empty).
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	// The password may be set.
	return os.WriteFile(path, data, 0600)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvEngineURL)); v != "" {
		c.Engine.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogPath)); v != "" {
		c.Paths.LogPath = v
	}
}

func (c *Config) normalize() error {
	c.Recording.Preset = strings.ToLower(strings.TrimSpace(c.Recording.Preset))
	var err error
	if c.Paths.StateDir, err = ExpandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.LogPath, err = ExpandPath(c.Paths.LogPath); err != nil {
		return err
	}
	if c.Recording.OutputDirectory, err = ExpandPath(c.Recording.OutputDirectory); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Engine.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("engine.url must be a ws:// or wss:// address, got %q", c.Engine.URL)
	}
	if c.Engine.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("engine.request_timeout_seconds must be positive, got %d", c.Engine.RequestTimeoutSeconds)
	}
	if c.Engine.ReconnectDelaySeconds < 1 {
		return fmt.Errorf("engine.reconnect_delay_seconds must be positive, got %d", c.Engine.ReconnectDelaySeconds)
	}
	if c.Engine.MaxReconnectDelaySeconds < c.Engine.ReconnectDelaySeconds {
		return fmt.Errorf("engine.max_reconnect_delay_seconds (%d) must be >= reconnect_delay_seconds (%d)",
			c.Engine.MaxReconnectDelaySeconds, c.Engine.ReconnectDelaySeconds)
	}

	if c.Recording.PollIntervalSeconds < 1 || c.Recording.PollIntervalSeconds > 10 {
		return fmt.Errorf("recording.poll_interval_seconds must be between 1 and 10, got %d", c.Recording.PollIntervalSeconds)
	}
	if _, ok := capability.PresetByName(c.Recording.Preset); !ok {
		return fmt.Errorf("recording.preset %q is unknown (known: %s)",
			c.Recording.Preset, strings.Join(capability.PresetNames(), ", "))
	}

	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return fmt.Errorf("paths.state_dir must be set")
	}
	return nil
}

// PollInterval is the UpdateStatus tick period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Recording.PollIntervalSeconds) * time.Second
}

// RequestTimeout bounds each engine query.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Engine.RequestTimeoutSeconds) * time.Second
}

// ReconnectDelays returns the initial and maximum reconnect backoff.
func (c *Config) ReconnectDelays() (time.Duration, time.Duration) {
	return time.Duration(c.Engine.ReconnectDelaySeconds) * time.Second,
		time.Duration(c.Engine.MaxReconnectDelaySeconds) * time.Second
}

// EnsureDirectories creates the state directory and the log directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir}
	if c.Paths.LogPath != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.LogPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves a leading ~ against $HOME and makes the path absolute.
// The empty path stays empty.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home := os.Getenv("HOME")
		if home == "" {
			var err error
			if home, err = os.UserHomeDir(); err != nil {
				return "", fmt.Errorf("resolve home directory: %w", err)
			}
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}
