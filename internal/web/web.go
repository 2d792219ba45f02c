// Package web exposes a small HTTP API for health checks, current status
// and manual refresh triggering. It is a control surface for the daemon,
// not a public site; bind it to localhost or put basic auth in front.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"epdweather/internal/config"
	appLog "epdweather/internal/log"
	"epdweather/internal/monitor"
	"epdweather/internal/weather"
)

// Hooks connects the HTTP API to the running daemon. Any nil hook
// disables its endpoint with 503.
type Hooks struct {
	// Weather returns the current observation, served from the client's
	// caches when fresh.
	Weather func(ctx context.Context) (*weather.Observation, error)

	// Refresh requests an immediate display update. force skips the
	// unchanged-content check.
	Refresh func(force bool) error

	// DisplayStatus returns orchestrator state for /api/status.
	DisplayStatus func() DisplayStatus

	// PreviewPath is the last rendered frame on disk, served at
	// /preview.png. Empty disables the endpoint.
	PreviewPath string
}

// DisplayStatus is the orchestrator view exposed over the API.
type DisplayStatus struct {
	State           string    `json:"state"`
	Mode            string    `json:"mode"`
	PartialCount    int       `json:"partial_count"`
	LastUpdate      time.Time `json:"last_update"`
	LastUpdateDrawn bool      `json:"last_update_drawn"`
}

// Server provides the HTTP API for the weather display daemon.
type Server struct {
	cfg   *config.Config
	hooks Hooks
	mux   *http.ServeMux

	// Cached host stats so /api/status does not pay a one-second CPU
	// sampling window on every request.
	statsMu    sync.RWMutex
	statsCache *statsCache
}

type statsCache struct {
	stats     *monitor.Stats
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, hooks Hooks) *Server {
	s := &Server{
		cfg:   cfg,
		hooks: hooks,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays open for liveness probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epdweather", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/weather", s.handleWeather)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Display DisplayStatus  `json:"display"`
	Host    *monitor.Stats `json:"host,omitempty"`
}

// handleStatus reports orchestrator state plus cached host stats.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.hooks.DisplayStatus == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}

	resp := statusResponse{Display: s.hooks.DisplayStatus()}

	if s.cfg.Monitor.Enabled {
		resp.Host = s.cachedStats(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

// cachedStats returns host stats with a short TTL. Sampling blocks for a
// second, which is too slow to do per request.
func (s *Server) cachedStats(ctx context.Context) *monitor.Stats {
	const statsTTL = 30 * time.Second
	now := time.Now()

	s.statsMu.RLock()
	c := s.statsCache
	s.statsMu.RUnlock()
	if c != nil && now.Sub(c.updatedAt) < statsTTL {
		return c.stats
	}

	stats, err := monitor.Sample(ctx)
	if err != nil {
		appLog.Error("host stats sample failed", err)
		return nil
	}

	s.statsMu.Lock()
	s.statsCache = &statsCache{stats: stats, updatedAt: time.Now()}
	s.statsMu.Unlock()
	return stats
}

// handleWeather returns the current observation for the Web UI.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if s.hooks.Weather == nil {
		writeError(w, http.StatusServiceUnavailable, "weather unavailable")
		return
	}

	obs, err := s.hooks.Weather(r.Context())
	if err != nil {
		appLog.Error("api weather fetch failed", err)
		writeError(w, http.StatusBadGateway, "failed to fetch weather")
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

// handleRefresh triggers an immediate display update.
//
// POST /api/refresh?force=1
//   - force: skip the unchanged-content check and push the frame anyway.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.hooks.Refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}

	force := r.URL.Query().Get("force") == "1"
	appLog.Info("api refresh requested", "force", force)

	if err := s.hooks.Refresh(force); err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	type refreshResp struct {
		OK    bool `json:"ok"`
		Force bool `json:"force"`
	}
	writeJSON(w, http.StatusOK, refreshResp{OK: true, Force: force})
}

// handlePreview serves the last rendered frame from disk. http.ServeFile
// maps missing files and permission errors to sensible status codes.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.hooks.PreviewPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.hooks.PreviewPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
