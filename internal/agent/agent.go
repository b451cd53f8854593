// Package agent wires the gateway together: it brings up the access point
// and uplink, watches both, keeps the clock in sync and runs the presence
// poller, the reporter and the optional dashboard and MQTT publisher.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"smart-roll-call/internal/config"
	"smart-roll-call/internal/connwatch"
	"smart-roll-call/internal/core"
	"smart-roll-call/internal/dashboard"
	"smart-roll-call/internal/lua"
	"smart-roll-call/internal/mqtt"
	"smart-roll-call/internal/presence"
	"smart-roll-call/internal/radio"
	"smart-roll-call/internal/report"
	"smart-roll-call/internal/scheduler"
	"smart-roll-call/internal/timesync"
)

// Options carries the dependencies that are not part of the configuration.
// Every field may be left zero.
type Options struct {
	// Runner executes hostapd, wpa_supplicant and ip.
	Runner radio.Runner

	// WiFi answers interface and station queries. Nil opens nl80211.
	WiFi radio.WiFi

	// HTTPClient overrides the reporter's client.
	HTTPClient *http.Client

	// Backoff tunes both link watchers.
	Backoff connwatch.Backoff

	Logger *slog.Logger
}

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup
	logger *slog.Logger

	state    *core.State
	eventBus *core.EventBus

	ap        *radio.AccessPoint
	station   *radio.Station // nil without an uplink SSID
	clock     *timesync.Clock
	syncer    *timesync.Syncer
	reporter  *report.Reporter
	poller    *presence.Poller
	watchers  *connwatch.Manager
	backoff   connwatch.Backoff
	scheduler *scheduler.Scheduler
	dashboard *dashboard.Server // nil when disabled
	mqtt      *mqtt.Client      // nil when disabled

	apMu sync.Mutex

	// startMu orders Run's startup against Shutdown.
	startMu sync.Mutex
	stopped bool
}

// NewAgent builds every component from cfg. Nothing starts until Run.
func NewAgent(cfg *config.Config, opts Options) (*Agent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	site := cfg.Site
	a := &Agent{
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		logger:   logger,
		state:    core.NewState(),
		eventBus: core.NewEventBus(),
		backoff:  opts.Backoff,
	}

	a.ap = radio.NewAccessPoint(radio.APSettingsFrom(site, cfg.Radio), cfg.Radio, opts.Runner, opts.WiFi, logger.With("component", "ap"))
	if site.WiFiSSID != "" && !cfg.Radio.Disabled {
		a.station = radio.NewStation(radio.STASettingsFrom(site, cfg.Radio), cfg.Radio, opts.Runner, logger.With("component", "station"))
	}

	a.clock = timesync.NewClock(site.GMTOffsetSec, site.DaylightOffsetSec)
	a.syncer = &timesync.Syncer{
		Server:  site.NTPServer,
		Timeout: config.Duration(cfg.Time.Timeout, 5*time.Second),
		Clock:   a.clock,
		Bus:     a.eventBus,
		State:   a.state,
		Logger:  logger.With("component", "timesync"),
	}

	var err error
	a.reporter, err = report.New(report.Config{
		ServerURL:   site.ServerURL,
		DeviceID:    site.APSSID,
		Timeout:     config.Duration(cfg.Report.Timeout, 10*time.Second),
		RateLimit:   cfg.Report.RateLimit,
		RateBurst:   cfg.Report.RateBurst,
		QueueSize:   cfg.Report.QueueSize,
		MaxAttempts: cfg.Report.MaxAttempts,
		RetryDelay:  config.Duration(cfg.Report.RetryDelay, 2*time.Second),
		Client:      opts.HTTPClient,
		Bus:         a.eventBus,
		State:       a.state,
		Logger:      logger.With("component", "report"),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("reporter: %w", err)
	}

	a.poller, err = presence.NewPoller(presence.PollerConfig{
		Lister:   a.ap,
		Reporter: a.reporter,
		Interval: site.DeviceCheckInterval,
		DedupTTL: config.Duration(cfg.Presence.DedupTTL, 10*time.Minute),
		DedupCap: cfg.Presence.DedupCap,
		Filter:   lua.NewFilter(cfg.Presence.FilterScript, logger.With("component", "filter")),
		Now:      a.clock.Now,
		Bus:      a.eventBus,
		State:    a.state,
		Logger:   logger.With("component", "presence"),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("poller: %w", err)
	}

	a.watchers = connwatch.NewManager(logger.With("component", "connwatch"))
	a.scheduler = scheduler.New(logger.With("component", "scheduler"))

	if cfg.Dashboard.Enabled {
		a.dashboard = dashboard.NewServer(dashboard.Options{
			Port:           cfg.Dashboard.Port,
			AllowedOrigins: cfg.Dashboard.AllowedOrigins,
			Join: dashboard.JoinInfo{
				SSID:     site.APSSID,
				Password: site.APPassword,
				Hidden:   site.HideSSID,
			},
			State:   a.state,
			Bus:     a.eventBus,
			Links:   a.watchers.Status,
			Jobs:    a.scheduler.Entries,
			Clients: a.poller.Clients,
			Now:     a.clock.Local,
			Logger:  logger.With("component", "dashboard"),
		})
	}

	a.mqtt = mqtt.NewClient(cfg.MQTT, a.eventBus, a.state, a, logger.With("component", "mqtt"))

	return a, nil
}

// State returns a snapshot of the gateway state.
func (a *Agent) State() core.State {
	return a.state.Clone()
}

// Bus exposes the event bus for observers.
func (a *Agent) Bus() *core.EventBus {
	return a.eventBus
}

// Run brings the gateway up and blocks until Shutdown. A non-nil error
// means startup failed; the caller should still call Shutdown.
func (a *Agent) Run() error {
	a.startMu.Lock()
	if a.stopped {
		a.startMu.Unlock()
		return nil
	}
	err := a.start()
	a.startMu.Unlock()
	if err != nil {
		return err
	}

	a.logger.Info("agent running",
		"ap_ssid", a.config.Site.APSSID,
		"server_url", a.config.Site.ServerURL,
		"interval", a.config.Site.DeviceCheckInterval,
	)
	<-a.ctx.Done()
	return nil
}

func (a *Agent) start() error {
	for _, issue := range config.Check(a.config.Site, a.config.Radio.CountryCode) {
		a.logger.Warn("site configuration issue", "kind", issue.Kind, "field", issue.Field, "message", issue.Message)
	}

	if a.config.Radio.Disabled {
		a.logger.Info("radio bring-up disabled, polling only")
	} else {
		if err := a.ap.Start(a.ctx); err != nil {
			return err
		}
		if a.station != nil {
			if err := a.station.Connect(a.ctx); err != nil {
				// Presence detection does not need the uplink; reports queue
				// and retry.
				a.logger.Warn("station connect failed", "error", err)
			}
		}
		a.watchLinks()
	}

	if err := a.syncer.Sync(a.ctx); err != nil {
		a.logger.Warn("initial time sync failed, using system clock", "error", err)
	}

	a.goRun(a.reporter.Start)
	a.goRun(a.poller.Start)
	if a.dashboard != nil {
		a.goRun(a.dashboard.Run)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.Info("dashboard listening", "port", a.config.Dashboard.Port)
			if err := a.dashboard.ListenAndServe(); err != nil {
				a.logger.Error("dashboard server error", "error", err)
			}
		}()
	}
	if a.mqtt != nil {
		go func() {
			if err := a.mqtt.Connect(); err != nil {
				a.logger.Error("mqtt setup error", "error", err)
			}
		}()
		a.goRun(a.mqtt.Run)
	}

	if err := a.scheduler.Add("clock-resync", a.config.Time.ResyncSpec, func(ctx context.Context) {
		_ = a.ResyncClock(ctx)
	}); err != nil {
		return fmt.Errorf("schedule clock resync: %w", err)
	}
	a.scheduler.Start()
	return nil
}

func (a *Agent) goRun(fn func(context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
}

// watchLinks starts the AP and uplink health watchers. Link changes are
// reflected in State and published on the bus.
func (a *Agent) watchLinks() {
	a.watchers.Watch(a.ctx, connwatch.WatcherConfig{
		Name:    "ap",
		Probe:   a.ap.Ping,
		Backoff: a.backoff,
		OnReady: func() {
			a.state.SetAP(true)
			a.eventBus.Publish(core.Event{Type: core.APChangedEvent, Payload: core.LinkPayload{Up: true}})
		},
		OnDown: func(err error) {
			a.state.SetAP(false)
			a.eventBus.Publish(core.Event{Type: core.APChangedEvent, Payload: core.LinkPayload{Up: false, Error: err.Error()}})
			if rerr := a.RestartAP(a.ctx); rerr != nil && !errors.Is(rerr, context.Canceled) {
				a.logger.Error("access point restart failed", "error", rerr)
			}
		},
	})

	if a.station == nil {
		return
	}
	a.watchers.Watch(a.ctx, connwatch.WatcherConfig{
		Name:    "uplink",
		Probe:   a.station.Ping,
		Backoff: a.backoff,
		OnReady: func() {
			a.state.SetUplink(true)
			a.eventBus.Publish(core.Event{Type: core.UplinkChangedEvent, Payload: core.LinkPayload{Up: true}})
		},
		OnDown: func(err error) {
			a.state.SetUplink(false)
			a.eventBus.Publish(core.Event{Type: core.UplinkChangedEvent, Payload: core.LinkPayload{Up: false, Error: err.Error()}})
		},
	})
}

// Shutdown stops everything Run started, in reverse order.
func (a *Agent) Shutdown() {
	a.startMu.Lock()
	a.stopped = true
	a.startMu.Unlock()

	a.scheduler.Stop()
	a.mqtt.Disconnect()
	if a.dashboard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.dashboard.Shutdown(ctx); err != nil {
			a.logger.Warn("dashboard shutdown", "error", err)
		}
		cancel()
	}
	a.cancel()
	a.wg.Wait()

	a.watchers.Stop()
	if a.station != nil {
		if err := a.station.Stop(); err != nil {
			a.logger.Warn("station stop", "error", err)
		}
	}
	if err := a.ap.Stop(); err != nil {
		a.logger.Warn("access point stop", "error", err)
	}
	if err := a.ap.Close(); err != nil {
		a.logger.Warn("nl80211 close", "error", err)
	}
	if n := a.reporter.Pending(); n > 0 {
		a.logger.Warn("reports dropped at shutdown", "count", n)
	}
}
