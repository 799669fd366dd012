package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

func TestLoad_missingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvEngineURL, "")
	t.Setenv(EnvLogPath, "")

	cfg, exists, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Error("expected no config file to be found")
	}
	if cfg.Engine.URL != defaultEngineURL {
		t.Errorf("engine url = %q, want %q", cfg.Engine.URL, defaultEngineURL)
	}
	if want := filepath.Join(home, ".cache", "recordcore"); cfg.Paths.StateDir != want {
		t.Errorf("state dir = %q, want %q", cfg.Paths.StateDir, want)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("poll interval = %v, want 2s", cfg.PollInterval())
	}
	if !cfg.Recording.WriteMetadata {
		t.Error("metadata should be written by default")
	}
}

func TestLoad_fileOverridesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvEngineURL, "")
	t.Setenv(EnvLogPath, "")

	path := writeConfig(t, `
[engine]
url = "wss://capture.local:9000/engine"
password = "s3cret"

[recording]
preset = "VR-4K"
poll_interval_seconds = 5
output_directory = "~/Videos"
`)
	cfg, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Error("expected config file to be found")
	}
	if cfg.Engine.URL != "wss://capture.local:9000/engine" || cfg.Engine.Password != "s3cret" {
		t.Errorf("engine section not applied: %+v", cfg.Engine)
	}
	if cfg.Recording.Preset != "vr-4k" {
		t.Errorf("preset = %q, want normalized %q", cfg.Recording.Preset, "vr-4k")
	}
	if cfg.Recording.PollIntervalSeconds != 5 {
		t.Errorf("poll interval = %d, want 5", cfg.Recording.PollIntervalSeconds)
	}
	if want := filepath.Join(os.Getenv("HOME"), "Videos"); cfg.Recording.OutputDirectory != want {
		t.Errorf("output directory = %q, want %q", cfg.Recording.OutputDirectory, want)
	}
	// Untouched keys keep their defaults.
	if cfg.Engine.RequestTimeoutSeconds != defaultRequestTimeout {
		t.Errorf("request timeout = %d, want default", cfg.Engine.RequestTimeoutSeconds)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvEngineURL, "ws://10.0.0.5:4466/engine")
	logPath := filepath.Join(t.TempDir(), "diag.log")
	t.Setenv(EnvLogPath, logPath)

	path := writeConfig(t, "[engine]\nurl = \"ws://ignored:1/engine\"\n")
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.URL != "ws://10.0.0.5:4466/engine" {
		t.Errorf("engine url = %q, want env override", cfg.Engine.URL)
	}
	if cfg.Paths.LogPath != logPath {
		t.Errorf("log path = %q, want %q", cfg.Paths.LogPath, logPath)
	}
}

func TestLoad_rejectsBadFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvEngineURL, "")
	t.Setenv(EnvLogPath, "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "[engine\nurl = 1", "parse config"},
		{"unknown key", "[recording]\nthreshold = 3\n", "parse config"},
		{"http url", "[engine]\nurl = \"http://localhost/engine\"\n", "engine.url"},
		{"poll too fast", "[recording]\npoll_interval_seconds = 0\n", "poll_interval_seconds"},
		{"unknown preset", "[recording]\npreset = \"ultra\"\n", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Validate
// ─────────────────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"poll one", func(c *Config) { c.Recording.PollIntervalSeconds = 1 }, false},
		{"poll ten", func(c *Config) { c.Recording.PollIntervalSeconds = 10 }, false},
		{"poll eleven", func(c *Config) { c.Recording.PollIntervalSeconds = 11 }, true},
		{"no host", func(c *Config) { c.Engine.URL = "ws:///engine" }, true},
		{"empty url", func(c *Config) { c.Engine.URL = "" }, true},
		{"zero timeout", func(c *Config) { c.Engine.RequestTimeoutSeconds = 0 }, true},
		{"max below initial delay", func(c *Config) { c.Engine.MaxReconnectDelaySeconds = 1 }, true},
		{"empty state dir", func(c *Config) { c.Paths.StateDir = " " }, true},
		{"preset with underscore", func(c *Config) { c.Recording.Preset = "high_quality" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Save / ExpandPath
// ─────────────────────────────────────────────────────────────────────────────

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvEngineURL, "")
	t.Setenv(EnvLogPath, "")

	cfg := Default()
	cfg.Engine.Password = "pw"
	cfg.Recording.Preset = "performance"
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Engine.Password != "pw" || loaded.Recording.Preset != "performance" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Recording.PollIntervalSeconds = 0
	if err := Save(&cfg, filepath.Join(t.TempDir(), "c.toml")); err == nil {
		t.Error("expected Save to validate")
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"~", home},
		{"~/a/b", filepath.Join(home, "a", "b")},
		{"/tmp/../tmp/x", "/tmp/x"},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		if err != nil {
			t.Fatalf("ExpandPath(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Paths.LogPath = filepath.Join(root, "logs", "diag.log")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
}
