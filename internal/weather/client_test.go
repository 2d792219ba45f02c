package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"epdweather/internal/config"
)

func testConfig(t *testing.T) config.WeatherConfig {
	t.Helper()
	return config.WeatherConfig{
		Provider:         "openweathermap",
		APIKey:           "test-key",
		Latitude:         52.52,
		Longitude:        13.405,
		Units:            "metric",
		CacheDurationSec: 600,
		CacheDir:         t.TempDir(),
		TimeoutSec:       2,
		MaxRetries:       3,
		RetryBackoffSec:  1,
	}
}

const owmBody = `{
	"main": {"temp": 21.5, "feels_like": 20.1, "humidity": 63, "pressure": 1013},
	"wind": {"speed": 3.4},
	"weather": [{"description": "scattered clouds", "icon": "03d"}],
	"sys": {"sunrise": 1700000000, "sunset": 1700040000},
	"name": "Berlin"
}`

func TestCurrentOpenWeatherMap(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("appid") != "test-key" {
			t.Errorf("appid = %q, want test-key", q.Get("appid"))
		}
		if q.Get("units") != "metric" {
			t.Errorf("units = %q, want metric", q.Get("units"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(owmBody))
	}))
	defer srv.Close()

	c := NewClient(testConfig(t))
	c.owmURL = srv.URL

	obs, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	want := &Observation{
		Temperature: 21.5,
		FeelsLike:   20.1,
		Humidity:    63,
		Pressure:    1013,
		WindSpeed:   3.4,
		Description: "scattered clouds",
		Icon:        "03d",
		Location:    "Berlin",
		Sunrise:     1700000000,
		Sunset:      1700040000,
	}
	ignoreTS := cmpopts.IgnoreFields(Observation{}, "Timestamp")
	if diff := cmp.Diff(want, obs, ignoreTS); diff != "" {
		t.Errorf("observation mismatch (-want +got):\n%s", diff)
	}

	// Second call is served from the memory cache.
	if _, err := c.Current(context.Background()); err != nil {
		t.Fatalf("cached Current: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("API called %d times, want 1", got)
	}
}

func TestCurrentWeatherAPIImperial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q, want test-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"current": {
				"temp_c": 20.0, "temp_f": 68.0,
				"feelslike_c": 19.0, "feelslike_f": 66.2,
				"wind_kph": 10.0, "wind_mph": 6.2,
				"humidity": 55, "pressure_mb": 1010,
				"condition": {"text": "Sunny", "icon": "//cdn/sun.png"}
			},
			"location": {"name": "Austin"}
		}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Provider = "weatherapi"
	cfg.Units = "imperial"
	c := NewClient(cfg)
	c.weatherAPIURL = srv.URL

	obs, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if obs.Temperature != 68.0 || obs.FeelsLike != 66.2 || obs.WindSpeed != 6.2 {
		t.Errorf("imperial fields = %v/%v/%v, want fahrenheit and mph values",
			obs.Temperature, obs.FeelsLike, obs.WindSpeed)
	}
	if obs.Location != "Austin" || obs.Description != "Sunny" {
		t.Errorf("location/description = %q/%q", obs.Location, obs.Description)
	}
}

func TestCurrentRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(owmBody))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.RetryBackoffSec = 0 // keep the test fast
	c := NewClient(cfg)
	c.owmURL = srv.URL

	obs, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if obs.Location != "Berlin" {
		t.Errorf("Location = %q, want Berlin", obs.Location)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("API called %d times, want 3", got)
	}
}

func TestCurrentExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.RetryBackoffSec = 0
	c := NewClient(cfg)
	c.owmURL = srv.URL

	if _, err := c.Current(context.Background()); err == nil {
		t.Fatal("Current should fail once retries are exhausted")
	}
	if got := calls.Load(); got != int32(cfg.MaxRetries) {
		t.Errorf("API called %d times, want %d", got, cfg.MaxRetries)
	}
}

func TestMissingAPIKeyFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.APIKey = ""
	c := NewClient(cfg)
	c.owmURL = srv.URL

	_, err := c.Current(context.Background())
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
	if calls.Load() != 0 {
		t.Error("no request should be made without a key")
	}
}

func TestFileCacheSurvivesRestart(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(owmBody))
	}))
	defer srv.Close()

	cfg := testConfig(t)

	c := NewClient(cfg)
	c.owmURL = srv.URL
	if _, err := c.Current(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A fresh client (same cache dir) reads the file cache, no API call.
	c2 := NewClient(cfg)
	c2.owmURL = srv.URL
	obs, err := c2.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if obs.Location != "Berlin" {
		t.Errorf("Location = %q, want Berlin", obs.Location)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("API called %d times, want 1", got)
	}

	// Invalidation drops both levels and forces a refetch.
	c2.InvalidateCache()
	if _, err := c2.Current(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("API called %d times after invalidation, want 2", got)
	}
}
