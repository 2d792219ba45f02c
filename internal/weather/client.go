// Package weather fetches current conditions from a weather provider with
// memory and file caching so a flaky network (or a rate-limited API key)
// never blocks the display loop.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"epdweather/internal/config"
	appLog "epdweather/internal/log"
)

// ErrNoAPIKey reports a fetch attempted without a configured key.
var ErrNoAPIKey = errors.New("weather: no API key configured")

// Observation is the provider-independent current-conditions record.
type Observation struct {
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    int     `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	WindSpeed   float64 `json:"wind_speed"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Location    string  `json:"location"`
	Timestamp   int64   `json:"timestamp"`
	Sunrise     int64   `json:"sunrise,omitempty"`
	Sunset      int64   `json:"sunset,omitempty"`
}

// Client fetches observations with two cache levels in front of the API:
// an in-memory copy and a JSON file that survives restarts.
type Client struct {
	cfg    config.WeatherConfig
	client *http.Client

	// Provider endpoints, overridable in tests.
	owmURL        string
	weatherAPIURL string

	mu       sync.Mutex
	cached   *Observation
	cachedAt time.Time
}

// NewClient builds a client from the weather config section.
func NewClient(cfg config.WeatherConfig) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		owmURL:        "https://api.openweathermap.org/data/2.5/weather",
		weatherAPIURL: "https://api.weatherapi.com/v1/current.json",
	}
}

func (c *Client) cacheDuration() time.Duration {
	return time.Duration(c.cfg.CacheDurationSec) * time.Second
}

func (c *Client) cacheFile() string {
	return filepath.Join(c.cfg.CacheDir, "weather_data.json")
}

// Current returns the freshest available observation: memory cache, then
// file cache, then the provider API with bounded retries.
func (c *Client) Current(ctx context.Context) (*Observation, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.cachedAt) < c.cacheDuration() {
		obs := c.cached
		c.mu.Unlock()
		appLog.Debug("weather served from memory cache")
		return obs, nil
	}
	c.mu.Unlock()

	if obs := c.loadFileCache(); obs != nil {
		appLog.Debug("weather served from file cache")
		c.store(obs)
		return obs, nil
	}

	appLog.Info("fetching weather from API", "provider", c.cfg.Provider)
	obs, err := c.fetchWithRetries(ctx)
	if err != nil {
		return nil, err
	}

	c.saveFileCache(obs)
	c.store(obs)
	return obs, nil
}

func (c *Client) store(obs *Observation) {
	c.mu.Lock()
	c.cached = obs
	c.cachedAt = time.Now()
	c.mu.Unlock()
}

// InvalidateCache drops both cache levels.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	_ = os.Remove(c.cacheFile())
}

func (c *Client) fetchWithRetries(ctx context.Context) (*Observation, error) {
	backoff := time.Duration(c.cfg.RetryBackoffSec) * time.Second
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		var obs *Observation
		var err error

		switch c.cfg.Provider {
		case "openweathermap":
			obs, err = c.fetchOpenWeatherMap(ctx)
		case "weatherapi":
			obs, err = c.fetchWeatherAPI(ctx)
		default:
			return nil, fmt.Errorf("weather: unsupported provider %q", c.cfg.Provider)
		}
		if err == nil {
			return obs, nil
		}
		if errors.Is(err, ErrNoAPIKey) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		appLog.Warn("weather fetch failed",
			"attempt", attempt+1, "max", c.cfg.MaxRetries, "err", err)

		if attempt < c.cfg.MaxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= time.Duration(c.cfg.RetryBackoffSec)
		}
	}
	return nil, fmt.Errorf("weather: all %d attempts failed: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "epdweather/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weather: API returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) fetchOpenWeatherMap(ctx context.Context) (*Observation, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.cfg.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.cfg.Longitude, 'f', -1, 64))
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", c.cfg.Units)

	var raw struct {
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
			Pressure  float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Weather []struct {
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
		Sys struct {
			Sunrise int64 `json:"sunrise"`
			Sunset  int64 `json:"sunset"`
		} `json:"sys"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, c.owmURL+"?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	obs := &Observation{
		Temperature: raw.Main.Temp,
		FeelsLike:   raw.Main.FeelsLike,
		Humidity:    raw.Main.Humidity,
		Pressure:    raw.Main.Pressure,
		WindSpeed:   raw.Wind.Speed,
		Location:    raw.Name,
		Timestamp:   time.Now().Unix(),
		Sunrise:     raw.Sys.Sunrise,
		Sunset:      raw.Sys.Sunset,
	}
	if len(raw.Weather) > 0 {
		obs.Description = raw.Weather[0].Description
		obs.Icon = raw.Weather[0].Icon
	}
	return obs, nil
}

func (c *Client) fetchWeatherAPI(ctx context.Context) (*Observation, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("q", fmt.Sprintf("%v,%v", c.cfg.Latitude, c.cfg.Longitude))

	var raw struct {
		Current struct {
			TempC      float64 `json:"temp_c"`
			TempF      float64 `json:"temp_f"`
			FeelsC     float64 `json:"feelslike_c"`
			FeelsF     float64 `json:"feelslike_f"`
			WindKph    float64 `json:"wind_kph"`
			WindMph    float64 `json:"wind_mph"`
			Humidity   int     `json:"humidity"`
			PressureMb float64 `json:"pressure_mb"`
			Condition  struct {
				Text string `json:"text"`
				Icon string `json:"icon"`
			} `json:"condition"`
		} `json:"current"`
		Location struct {
			Name string `json:"name"`
		} `json:"location"`
	}
	if err := c.get(ctx, c.weatherAPIURL+"?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	obs := &Observation{
		Humidity:    raw.Current.Humidity,
		Pressure:    raw.Current.PressureMb,
		Description: raw.Current.Condition.Text,
		Icon:        raw.Current.Condition.Icon,
		Location:    raw.Location.Name,
		Timestamp:   time.Now().Unix(),
	}
	if c.cfg.Units == "metric" {
		obs.Temperature = raw.Current.TempC
		obs.FeelsLike = raw.Current.FeelsC
		obs.WindSpeed = raw.Current.WindKph
	} else {
		obs.Temperature = raw.Current.TempF
		obs.FeelsLike = raw.Current.FeelsF
		obs.WindSpeed = raw.Current.WindMph
	}
	return obs, nil
}

// loadFileCache returns the persisted observation if still within the cache
// window, nil otherwise.
func (c *Client) loadFileCache() *Observation {
	data, err := os.ReadFile(c.cacheFile())
	if err != nil {
		return nil
	}

	var obs Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		appLog.Warn("weather file cache is corrupt, ignoring", "err", err)
		return nil
	}

	age := time.Since(time.Unix(obs.Timestamp, 0))
	if age >= c.cacheDuration() {
		appLog.Debug("weather file cache expired", "age", age)
		return nil
	}
	return &obs
}

func (c *Client) saveFileCache(obs *Observation) {
	if err := os.MkdirAll(c.cfg.CacheDir, 0o700); err != nil {
		appLog.Warn("cannot create weather cache dir", "err", err)
		return
	}
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(c.cacheFile(), data, 0o600); err != nil {
		appLog.Warn("cannot write weather file cache", "err", err)
	}
}
