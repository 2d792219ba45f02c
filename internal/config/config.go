package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DisplayConfig selects the panel and refresh policy.
type DisplayConfig struct {
	// Type names the panel profile, e.g. "waveshare_4in26".
	Type string `yaml:"type" json:"type"`

	// Rotation is the render rotation in degrees: 0, 90, 180 or 270.
	// 90/270 render a transposed raster; the codec remaps it onto panel rows.
	Rotation int `yaml:"rotation" json:"rotation"`

	// Grayscale enables the 4-level waveform instead of black/white.
	Grayscale bool `yaml:"grayscale" json:"grayscale"`

	// PartialRefresh allows the low-flicker partial waveform, bounded by
	// PartialRefreshLimit consecutive uses before a full refresh is forced.
	PartialRefresh      bool `yaml:"partial_refresh" json:"partial_refresh"`
	PartialRefreshLimit int  `yaml:"partial_refresh_limit" json:"partial_refresh_limit"`

	// FastFull uses the fast waveform for full refreshes.
	FastFull bool `yaml:"fast_full" json:"fast_full"`

	// PollIntervalMs is the busy line sampling period; BusyTimeoutMs bounds
	// a single busy-wait before the panel is declared unresponsive.
	PollIntervalMs int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	BusyTimeoutMs  int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`

	// Mock replaces the SPI bus with an in-memory one (no hardware needed).
	Mock bool `yaml:"mock" json:"mock"`
}

// WeatherConfig configures the upstream weather provider.
type WeatherConfig struct {
	// Provider is "openweathermap" or "weatherapi".
	Provider  string  `yaml:"provider" json:"provider"`
	APIKey    string  `yaml:"api_key" json:"api_key"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	// Units is "metric" or "imperial".
	Units string `yaml:"units" json:"units"`

	// CacheDurationSec is how long a fetched observation stays valid in the
	// memory and file caches. CacheDir holds the file cache.
	CacheDurationSec int    `yaml:"cache_duration_sec" json:"cache_duration_sec"`
	CacheDir         string `yaml:"cache_dir" json:"cache_dir"`

	// TimeoutSec bounds a single API request.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`

	// MaxRetries and RetryBackoffSec control the fetch retry policy.
	MaxRetries      int `yaml:"max_retries" json:"max_retries"`
	RetryBackoffSec int `yaml:"retry_backoff_sec" json:"retry_backoff_sec"`
}

// UpdateConfig schedules the refresh loop.
type UpdateConfig struct {
	// Cron is a cron-style schedule, e.g. "*/30 * * * *".
	Cron string `yaml:"cron" json:"cron"`

	// OnlyOnChange skips the physical refresh when the rendered content is
	// identical to the last transmitted frame.
	OnlyOnChange bool `yaml:"only_on_change" json:"only_on_change"`

	// QuietHoursStart/End suppress refreshes during the night (local
	// hours, range may span midnight). Equal values disable quiet hours.
	QuietHoursStart int `yaml:"quiet_hours_start" json:"quiet_hours_start"`
	QuietHoursEnd   int `yaml:"quiet_hours_end" json:"quiet_hours_end"`
}

// RenderConfig selects how the weather raster is produced.
type RenderConfig struct {
	// Mode is "draw" (direct 2D drawing) or "capture" (headless Chromium
	// screenshot of CaptureURL).
	Mode       string `yaml:"mode" json:"mode"`
	CaptureURL string `yaml:"capture_url" json:"capture_url"`

	// FontPath is an optional TTF file for the draw renderer; empty uses a
	// built-in bitmap face.
	FontPath string `yaml:"font_path" json:"font_path"`
}

// MonitorConfig gates updates on system load.
type MonitorConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	MaxCPUPercent int  `yaml:"max_cpu_percent" json:"max_cpu_percent"`
	MaxMemPercent int  `yaml:"max_mem_percent" json:"max_mem_percent"`
}

// BasicAuthConfig protects the HTTP API. Both fields must be set for
// auth to be enforced.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API; empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Display DisplayConfig `yaml:"display" json:"display"`
	Weather WeatherConfig `yaml:"weather" json:"weather"`
	Update  UpdateConfig  `yaml:"update" json:"update"`
	Render  RenderConfig  `yaml:"render" json:"render"`
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		LogLevel: "INFO",
		Display: DisplayConfig{
			Type:                "waveshare_4in26",
			Rotation:            0,
			PartialRefresh:      true,
			PartialRefreshLimit: 10,
			PollIntervalMs:      20,
			BusyTimeoutMs:       30_000,
		},
		Weather: WeatherConfig{
			Provider:         "openweathermap",
			Units:            "metric",
			CacheDurationSec: 1800,
			CacheDir:         "./var/cache",
			TimeoutSec:       10,
			MaxRetries:       3,
			RetryBackoffSec:  2,
		},
		Update: UpdateConfig{
			Cron:            "*/30 * * * *",
			OnlyOnChange:    true,
			QuietHoursStart: 23,
			QuietHoursEnd:   7,
		},
		Render: RenderConfig{
			Mode: "draw",
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			MaxCPUPercent: 80,
			MaxMemPercent: 90,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Display.Type == "" {
		c.Display.Type = def.Display.Type
	}
	switch c.Display.Rotation {
	case 0, 90, 180, 270:
	default:
		c.Display.Rotation = 0
	}
	if c.Display.PartialRefreshLimit <= 0 {
		c.Display.PartialRefreshLimit = def.Display.PartialRefreshLimit
	}
	if c.Display.PollIntervalMs <= 0 {
		c.Display.PollIntervalMs = def.Display.PollIntervalMs
	}
	if c.Display.BusyTimeoutMs <= 0 {
		c.Display.BusyTimeoutMs = def.Display.BusyTimeoutMs
	}

	if c.Weather.Provider == "" {
		c.Weather.Provider = def.Weather.Provider
	}
	switch c.Weather.Units {
	case "metric", "imperial":
	default:
		c.Weather.Units = "metric"
	}
	if c.Weather.CacheDurationSec <= 0 {
		c.Weather.CacheDurationSec = def.Weather.CacheDurationSec
	}
	if c.Weather.CacheDir == "" {
		c.Weather.CacheDir = def.Weather.CacheDir
	}
	if c.Weather.TimeoutSec <= 0 {
		c.Weather.TimeoutSec = def.Weather.TimeoutSec
	}
	if c.Weather.MaxRetries <= 0 {
		c.Weather.MaxRetries = def.Weather.MaxRetries
	}
	if c.Weather.RetryBackoffSec <= 0 {
		c.Weather.RetryBackoffSec = def.Weather.RetryBackoffSec
	}

	if c.Update.Cron == "" {
		c.Update.Cron = def.Update.Cron
	}
	if c.Update.QuietHoursStart < 0 || c.Update.QuietHoursStart > 23 {
		c.Update.QuietHoursStart = def.Update.QuietHoursStart
	}
	if c.Update.QuietHoursEnd < 0 || c.Update.QuietHoursEnd > 23 {
		c.Update.QuietHoursEnd = def.Update.QuietHoursEnd
	}

	switch c.Render.Mode {
	case "draw", "capture":
	default:
		c.Render.Mode = "draw"
	}

	if c.Monitor.MaxCPUPercent <= 0 {
		c.Monitor.MaxCPUPercent = def.Monitor.MaxCPUPercent
	}
	if c.Monitor.MaxMemPercent <= 0 {
		c.Monitor.MaxMemPercent = def.Monitor.MaxMemPercent
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal into Config, normalize.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path: parent dir
// created 0700, atomic temp-file+rename write, final perms 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epdweather-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
