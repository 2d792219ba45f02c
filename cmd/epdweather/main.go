package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"epdweather/internal/capture"
	"epdweather/internal/config"
	"epdweather/internal/convert"
	"epdweather/internal/display"
	"epdweather/internal/epd"
	appLog "epdweather/internal/log"
	"epdweather/internal/monitor"
	"epdweather/internal/render"
	"epdweather/internal/weather"
	"epdweather/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	force      bool
	clear      bool
	renderOnly bool
	dump       bool
	mock       bool
}

func main() {
	appLog.Info("epdweather starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.mock {
		conf.Display.Mock = true
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"panel", conf.Display.Type,
		"rotation", conf.Display.Rotation,
		"grayscale", conf.Display.Grayscale,
		"provider", conf.Weather.Provider,
		"cron", conf.Update.Cron,
		"render_mode", conf.Render.Mode,
		"mock", conf.Display.Mock,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a, err := newApp(conf, flags)
	if err != nil {
		appLog.Error("startup failed", err)
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("exiting with error", err)
		a.shutdown()
		os.Exit(1)
	}

	a.shutdown()
	appLog.Info("epdweather exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdweather/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+render+display cycle and exit")
	flag.BoolVar(&cfg.force, "force", false, "Push the frame even if content is unchanged")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel to white and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display hardware")
	flag.BoolVar(&cfg.dump, "dump", false, "Dump debug artifacts (preview.png, packed frame buffers)")
	flag.BoolVar(&cfg.mock, "mock", false, "Use the in-memory bus instead of SPI hardware")

	flag.Parse()

	return cfg
}

// app wires the daemon together: weather client, renderer, display
// orchestrator and the HTTP control API.
type app struct {
	cfg     *config.Config
	flags   flagConfig
	profile *epd.Profile

	client   *weather.Client
	renderer *render.Renderer
	drv      *epd.Driver
	ctrl     *display.Controller

	previewPath string

	// cycleMu serializes update cycles between cron and /api/refresh.
	cycleMu sync.Mutex

	statusMu     sync.Mutex
	lastUpdate   time.Time
	lastDrawn    bool
	failureCount int
}

func newApp(conf *config.Config, flags flagConfig) (*app, error) {
	profile, err := profileFor(conf.Display.Type)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     conf,
		flags:   flags,
		profile: profile,
		client:  weather.NewClient(conf.Weather),
		renderer: render.New(render.Options{
			Width:    profile.Width,
			Height:   profile.Height,
			Rotation: conf.Display.Rotation,
			FontPath: conf.Render.FontPath,
		}),
		previewPath: filepath.Join(conf.Weather.CacheDir, "preview.png"),
	}

	if flags.renderOnly {
		return a, nil
	}

	var bus epd.Bus
	if conf.Display.Mock {
		bus = epd.NewMockBus()
	} else {
		bus = epd.NewSPIBus(profile)
	}

	timing := epd.Timing{
		PollInterval: time.Duration(conf.Display.PollIntervalMs) * time.Millisecond,
		BusyTimeout:  time.Duration(conf.Display.BusyTimeoutMs) * time.Millisecond,
	}
	drv := epd.NewDriver(bus, profile, timing)

	if err := drv.Open(); err != nil {
		if conf.Display.Mock {
			return nil, err
		}
		// No SPI access (developer laptop, missing overlay). Keep the
		// daemon useful by degrading to the in-memory bus.
		appLog.Warn("hardware init failed, falling back to mock bus", "err", err)
		drv = epd.NewDriver(epd.NewMockBus(), profile, timing)
		if err := drv.Open(); err != nil {
			return nil, err
		}
	}

	a.drv = drv
	a.ctrl = display.New(drv, display.Options{
		Grayscale:     conf.Display.Grayscale,
		PreferPartial: conf.Display.PartialRefresh,
		PartialLimit:  conf.Display.PartialRefreshLimit,
		FastFull:      conf.Display.FastFull,
	})
	return a, nil
}

func profileFor(name string) (*epd.Profile, error) {
	switch name {
	case "", "waveshare_4in26":
		return epd.Profile4in26, nil
	default:
		return nil, fmt.Errorf("unknown display type %q", name)
	}
}

// run executes the one-shot modes or starts the scheduled daemon.
func (a *app) run(ctx context.Context) error {
	switch {
	case a.flags.clear:
		if a.ctrl == nil {
			return errors.New("-clear needs display hardware; drop -render-only")
		}
		appLog.Info("clearing panel")
		return a.ctrl.Clear()
	case a.flags.renderOnly:
		_, err := a.renderCycle(ctx)
		return err
	case a.flags.once:
		return a.cycle(ctx, a.flags.force)
	}

	// Daemon mode: HTTP API plus cron-driven refresh.
	if a.cfg.Listen != "" {
		srv := web.NewServer(a.cfg, web.Hooks{
			Weather:       a.client.Current,
			Refresh:       func(force bool) error { return a.cycle(ctx, force) },
			DisplayStatus: a.displayStatus,
			PreviewPath:   a.previewPath,
		})
		go func() {
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("HTTP server stopped", err)
			}
		}()
	}

	// First frame right away so the panel is never blank after boot.
	if err := a.cycle(ctx, a.flags.force); err != nil {
		appLog.Error("initial update failed", err)
	}

	sched := cron.New()
	_, err := sched.AddFunc(a.cfg.Update.Cron, func() {
		if err := a.cycle(ctx, false); err != nil {
			appLog.Error("scheduled update failed", err)
			a.retryLater(ctx)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", a.cfg.Update.Cron, err)
	}
	sched.Start()
	defer sched.Stop()

	<-ctx.Done()
	return ctx.Err()
}

// retryLater schedules a one-off retry with exponential backoff, capped
// so a dead API never produces an hours-long gap beyond the cron period.
func (a *app) retryLater(ctx context.Context) {
	a.statusMu.Lock()
	a.failureCount++
	n := a.failureCount
	a.statusMu.Unlock()

	backoff := time.Duration(1<<min(n, 5)) * time.Minute
	appLog.Info("scheduling retry", "attempt", n, "after", backoff)

	time.AfterFunc(backoff, func() {
		if ctx.Err() != nil {
			return
		}
		if err := a.cycle(ctx, false); err != nil {
			appLog.Error("retry failed", err)
		}
	})
}

// cycle runs one fetch+render+display pass.
func (a *app) cycle(ctx context.Context, force bool) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	if !force && a.inQuietHours(time.Now()) {
		appLog.Info("in quiet hours, skipping update")
		return nil
	}

	if a.cfg.Monitor.Enabled && !force {
		stats, err := monitor.Sample(ctx)
		if err != nil {
			appLog.Warn("host stats unavailable", "err", err)
		} else if stats.Exceeds(a.limits()) {
			appLog.Warn("host busy, deferring update",
				"cpu", fmt.Sprintf("%.0f%%", stats.CPUPercent),
				"mem", fmt.Sprintf("%.0f%%", stats.MemPercent))
			return nil
		}
	}

	img, err := a.renderCycle(ctx)
	if err != nil {
		// Never leave a factory-fresh panel blank: if nothing was ever
		// drawn, put up a message screen before surfacing the error.
		if a.lastUpdate.IsZero() {
			if _, derr := a.ctrl.Update(a.renderer.RenderMessage("weather unavailable"), true); derr != nil {
				appLog.Error("message screen failed", derr)
			}
		}
		return err
	}

	drawn, err := a.ctrl.Update(img, force || !a.cfg.Update.OnlyOnChange)
	if err != nil {
		return fmt.Errorf("display update: %w", err)
	}

	a.statusMu.Lock()
	a.lastUpdate = time.Now()
	a.lastDrawn = drawn
	a.failureCount = 0
	a.statusMu.Unlock()

	if drawn {
		appLog.Info("panel updated", "mode", a.drv.Mode().String(),
			"partial_count", a.ctrl.PartialCount())
	} else {
		appLog.Info("content unchanged, refresh skipped")
	}
	return nil
}

// renderCycle fetches weather and produces the quantized frame, writing
// the preview PNG (and optional debug dumps) along the way.
func (a *app) renderCycle(ctx context.Context) (*image.Gray, error) {
	obs, err := a.client.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("weather fetch: %w", err)
	}

	var img *image.Gray
	if a.cfg.Render.Mode == "capture" && a.cfg.Render.CaptureURL != "" {
		shot, err := capture.PageImage(ctx, capture.Options{
			URL:    a.cfg.Render.CaptureURL,
			Width:  a.renderWidth(),
			Height: a.renderHeight(),
		})
		if err != nil {
			return nil, err
		}
		img = render.Quantize(shot)
	} else {
		var stats *monitor.Stats
		if a.cfg.Monitor.Enabled {
			if s, err := monitor.Sample(ctx); err == nil {
				stats = s
			}
		}
		img, err = a.renderer.Render(obs, stats, time.Now())
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
	}

	a.savePreview(img)
	if a.flags.dump {
		a.dumpFrames(img)
	}
	return img, nil
}

func (a *app) renderWidth() int {
	if a.cfg.Display.Rotation == 90 || a.cfg.Display.Rotation == 270 {
		return a.profile.Height
	}
	return a.profile.Width
}

func (a *app) renderHeight() int {
	if a.cfg.Display.Rotation == 90 || a.cfg.Display.Rotation == 270 {
		return a.profile.Width
	}
	return a.profile.Height
}

func (a *app) limits() monitor.Limits {
	return monitor.Limits{
		MaxCPUPercent: float64(a.cfg.Monitor.MaxCPUPercent),
		MaxMemPercent: float64(a.cfg.Monitor.MaxMemPercent),
	}
}

func (a *app) inQuietHours(now time.Time) bool {
	start, end := a.cfg.Update.QuietHoursStart, a.cfg.Update.QuietHoursEnd
	if start == end {
		return false
	}
	h := now.Hour()
	if start < end {
		return h >= start && h < end
	}
	// Range spans midnight, e.g. 23..7.
	return h >= start || h < end
}

func (a *app) savePreview(img image.Image) {
	if err := os.MkdirAll(filepath.Dir(a.previewPath), 0o700); err != nil {
		appLog.Warn("cannot create preview dir", "err", err)
		return
	}
	f, err := os.Create(a.previewPath)
	if err != nil {
		appLog.Warn("cannot write preview", "err", err)
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		appLog.Warn("preview encode failed", "err", err)
	}
}

// dumpFrames writes the packed frame buffers next to the preview so the
// exact bytes sent to the panel can be inspected offline.
func (a *app) dumpFrames(img image.Image) {
	profile := a.profile
	dir := filepath.Dir(a.previewPath)

	if a.cfg.Display.Grayscale {
		gray, err := convert.PackGray4(img, profile.Width, profile.Height)
		if err != nil {
			appLog.Warn("dump: gray pack failed", "err", err)
			return
		}
		p1, p2, err := convert.Bitplanes(gray, profile.Width, profile.Height)
		if err != nil {
			appLog.Warn("dump: bitplane split failed", "err", err)
			return
		}
		_ = os.WriteFile(filepath.Join(dir, "plane1.bin"), p1, 0o644)
		_ = os.WriteFile(filepath.Join(dir, "plane2.bin"), p2, 0o644)
		return
	}

	mono, err := convert.PackMono(img, profile.Width, profile.Height)
	if err != nil {
		appLog.Warn("dump: mono pack failed", "err", err)
		return
	}
	_ = os.WriteFile(filepath.Join(dir, "mono.bin"), mono, 0o644)
}

func (a *app) displayStatus() web.DisplayStatus {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return web.DisplayStatus{
		State:           a.drv.State().String(),
		Mode:            a.drv.Mode().String(),
		PartialCount:    a.ctrl.PartialCount(),
		LastUpdate:      a.lastUpdate,
		LastUpdateDrawn: a.lastDrawn,
	}
}

// shutdown puts the panel into deep sleep. Leaving an e-paper panel
// powered with a static charge shortens its life.
func (a *app) shutdown() {
	if a.ctrl == nil {
		return
	}
	if err := a.ctrl.Sleep(); err != nil && !errors.Is(err, epd.ErrSleeping) {
		appLog.Error("display sleep failed", err)
	}
}
