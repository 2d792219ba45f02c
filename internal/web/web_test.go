package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"epdweather/internal/config"
	"epdweather/internal/weather"
)

func testServer(t *testing.T, cfg *config.Config, hooks Hooks) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	srv := httptest.NewServer(NewServer(cfg, hooks).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func defaultHooks() Hooks {
	return Hooks{
		Weather: func(context.Context) (*weather.Observation, error) {
			return &weather.Observation{Location: "Berlin", Temperature: 21.5}, nil
		},
		Refresh: func(bool) error { return nil },
		DisplayStatus: func() DisplayStatus {
			return DisplayStatus{State: "ready", Mode: "full", LastUpdate: time.Now()}
		},
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, nil, Hooks{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatusAndWeather(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Monitor.Enabled = false // keep the test free of real sampling
	srv := testServer(t, cfg, defaultHooks())

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status struct {
		Display DisplayStatus `json:"display"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Display.State != "ready" || status.Display.Mode != "full" {
		t.Errorf("display status = %+v", status.Display)
	}

	wresp, err := http.Get(srv.URL + "/api/weather")
	if err != nil {
		t.Fatal(err)
	}
	defer wresp.Body.Close()
	var obs weather.Observation
	if err := json.NewDecoder(wresp.Body).Decode(&obs); err != nil {
		t.Fatal(err)
	}
	if obs.Location != "Berlin" {
		t.Errorf("Location = %q, want Berlin", obs.Location)
	}
}

func TestRefresh(t *testing.T) {
	var gotForce *bool
	hooks := defaultHooks()
	hooks.Refresh = func(force bool) error {
		gotForce = &force
		return nil
	}
	srv := testServer(t, nil, hooks)

	// GET is rejected.
	resp, err := http.Get(srv.URL + "/api/refresh")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}
	if gotForce != nil {
		t.Fatal("GET must not trigger a refresh")
	}

	resp, err = http.Post(srv.URL+"/api/refresh?force=1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST status = %d, want 200", resp.StatusCode)
	}
	if gotForce == nil || !*gotForce {
		t.Error("refresh hook should receive force=true")
	}
}

func TestMissingHooksReturn503(t *testing.T) {
	srv := testServer(t, nil, Hooks{})

	for _, path := range []string{"/api/status", "/api/weather"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Monitor.Enabled = false
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "hunter2"}
	srv := testServer(t, cfg, defaultHooks())

	// /health stays open.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}

	// API requires credentials.
	resp, err = http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.SetBasicAuth("admin", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
