// Package daemon wires the attendance subsystems together and runs them:
// the orchestrator, the power coordinator, the recovery reconciler, the
// proxy relay, the network observer and the localhost admin endpoint.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/attendance"
	"git.home.luguber.info/inful/presenced/internal/audit"
	"git.home.luguber.info/inful/presenced/internal/config"
	"git.home.luguber.info/inful/presenced/internal/events"
	"git.home.luguber.info/inful/presenced/internal/fingerprint"
	"git.home.luguber.info/inful/presenced/internal/logfields"
	"git.home.luguber.info/inful/presenced/internal/metrics"
	"git.home.luguber.info/inful/presenced/internal/netinfo"
	"git.home.luguber.info/inful/presenced/internal/power"
	"git.home.luguber.info/inful/presenced/internal/proxy"
	"git.home.luguber.info/inful/presenced/internal/state"
	"git.home.luguber.info/inful/presenced/internal/ui"
)

// Status is the daemon lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// settleInterval drives the background job that clears an owed check-out
// once the server reports the day as already closed.
const settleInterval = 5 * time.Minute

// Daemon owns the long-running attendance process.
type Daemon struct {
	cfg        *config.Config
	configPath string

	status    atomic.Value // Status
	startTime time.Time
	flags     atomic.Value // config.AttendanceConfig

	bus      *events.Bus
	store    state.Store
	auditDB  audit.Store
	mirror   *audit.NATSMirror
	auditLog *audit.Logger
	client   *api.Client
	observer *netinfo.Observer
	orch     *attendance.Orchestrator
	coord    *power.Coordinator
	recon    *attendance.Reconciler
	relay    *proxy.Service
	source   events.Source

	registry *prom.Registry
	recorder metrics.Recorder

	scheduler gocron.Scheduler
	admin     *http.Server
	watcher   *ConfigWatcher

	mu          sync.Mutex
	lastAttempt *events.AttemptFinished

	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Options injects the environment-facing collaborators. Every field has a
// production default; tests swap in synthetic implementations.
type Options struct {
	Confirmer ui.Confirmer
	Notifier  ui.Notifier
	Prober    netinfo.Prober
	Inhibitor power.Inhibitor

	// PowerSource publishes OS power/session signals onto the bus. Nil means
	// no OS hookup; the run command still maps SIGTERM to a shutdown event.
	PowerSource events.Source
}

// New builds the daemon and all its subsystems without starting anything.
// configPath may be empty, which disables live config reloading.
func New(cfg *config.Config, configPath string, opts Options) (*Daemon, error) {
	if opts.Confirmer == nil {
		opts.Confirmer = ui.HeadlessConfirmer{}
	}
	if opts.Notifier == nil {
		opts.Notifier = ui.LogNotifier{}
	}
	if opts.Prober == nil {
		opts.Prober = netinfo.SystemProber{}
	}

	store, err := state.NewJSONStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	auditPath := cfg.Audit.Path
	if auditPath != ":memory:" && !filepath.IsAbs(auditPath) {
		auditPath = filepath.Join(cfg.DataDir, auditPath)
	}
	auditDB, err := audit.NewSQLiteStore(auditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	var mirror *audit.NATSMirror
	if cfg.Audit.NATS != nil && cfg.Audit.NATS.Enabled {
		mirror, err = audit.NewNATSMirror(cfg.Audit.NATS)
		if err != nil {
			// The durable record of truth is SQLite; a missing mirror only
			// degrades fleet visibility.
			slog.Warn("Audit NATS mirror unavailable", logfields.Error(err))
			mirror = nil
		}
	}

	var auditMirror audit.Mirror
	if mirror != nil {
		auditMirror = mirror
	}
	auditLog := audit.NewLogger(auditDB, auditMirror)

	tokens := api.NewTokenManager(cfg.Server.AccessToken, cfg.Server.RefreshToken)
	client := api.NewClient(cfg.Server.BaseURL, tokens, cfg.Server.DeviceName, cfg.Server.Timeout())

	var registry *prom.Registry
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Admin.MetricsEnabled {
		registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		bus:        events.NewBus(),
		store:      store,
		auditDB:    auditDB,
		mirror:     mirror,
		auditLog:   auditLog,
		client:     client,
		registry:   registry,
		recorder:   recorder,
		source:     opts.PowerSource,
	}
	d.status.Store(StatusStopped)
	d.flags.Store(cfg.Attendance)

	d.observer = netinfo.NewObserver(opts.Prober, d.emitNetworkChange)

	networkFn := func() netinfo.Info {
		info, err := d.observer.Current()
		if err != nil {
			return netinfo.None()
		}
		return info
	}

	d.orch = attendance.New(attendance.Options{
		Flags:       d.Flags,
		Client:      client,
		Store:       store,
		Network:     networkFn,
		Fingerprint: fingerprint.Generate,
		AuditLog:    auditLog,
		Notifier:    opts.Notifier,
		Recorder:    recorder,
		Bus:         d.bus,
	})

	d.coord = power.NewCoordinator(power.CoordinatorOptions{
		Flags:     d.Flags,
		Client:    client,
		Store:     store,
		Orch:      d.orch,
		Confirmer: opts.Confirmer,
		Inhibitor: opts.Inhibitor,
		Network:   networkFn,
	})

	d.recon = attendance.NewReconciler(store, client, d.orch, opts.Confirmer, cfg.Recovery.Warmup())

	if cfg.Proxy.Enabled {
		d.relay = proxy.NewService(proxy.ServiceOptions{
			Config:     cfg.Proxy,
			BaseURL:    cfg.Server.BaseURL,
			DeviceName: cfg.Server.DeviceName,
			Client:     client,
			Recorder:   recorder,
			AuditLog:   auditLog,
		})
	}

	return d, nil
}

// Status returns the lifecycle state.
func (d *Daemon) Status() Status {
	return d.status.Load().(Status)
}

func (d *Daemon) setStatus(s Status) {
	d.status.Store(s)
}

// Flags returns the current attendance flag snapshot. The snapshot is
// replaced atomically on config reload, so in-flight attempts keep the flags
// they started with.
func (d *Daemon) Flags() config.AttendanceConfig {
	return d.flags.Load().(config.AttendanceConfig)
}

// ReloadConfig applies the hot-reloadable subset of a freshly loaded config.
// Only the attendance flags change at runtime; server address, proxy and
// audit settings need a restart.
func (d *Daemon) ReloadConfig(cfg *config.Config) {
	previous := d.Flags()
	d.flags.Store(cfg.Attendance)
	slog.Info("Attendance flags reloaded",
		slog.Bool("auto_check_in", cfg.Attendance.AutoCheckIn),
		slog.Bool("auto_checkout_on_shutdown", cfg.Attendance.AutoCheckoutOnShutdown),
		slog.Bool("notifications", cfg.Attendance.Notifications),
		slog.Bool("changed", previous != cfg.Attendance))
}

// Start launches the event loop, the periodic jobs, the recovery pass, the
// proxy relay and the admin endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	d.setStatus(StatusStarting)
	d.startTime = time.Now()
	d.loopCtx, d.loopCancel = context.WithCancel(context.WithoutCancel(ctx))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runEventLoop()
	}()

	if err := d.startJobs(); err != nil {
		d.setStatus(StatusError)
		return err
	}

	if d.relay != nil {
		if err := d.relay.Start(d.loopCtx); err != nil {
			// Local relay trouble must not take attendance down with it.
			slog.Warn("Proxy relay failed to start", logfields.Error(err))
		}
	}

	if err := d.startAdmin(); err != nil {
		d.setStatus(StatusError)
		return err
	}

	if d.configPath != "" {
		watcher, err := NewConfigWatcher(d.configPath, d.ReloadConfig)
		if err != nil {
			slog.Warn("Config watcher unavailable, live reload disabled", logfields.Error(err))
		} else {
			d.watcher = watcher
			d.watcher.Start(d.loopCtx)
		}
	}

	if d.source != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.source.Run(d.loopCtx, d.bus); err != nil && d.loopCtx.Err() == nil {
				slog.Warn("Power event source stopped", logfields.Error(err))
			}
		}()
	}

	// Recovery runs once, after its warmup, concurrently with normal triggers.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.recon.Run(d.loopCtx); err != nil && d.loopCtx.Err() == nil {
			slog.Warn("Recovery pass did not complete", logfields.Error(err))
		}
	}()

	// The process starting is itself a trigger.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.orch.AttemptCheckIn(d.loopCtx, state.TriggerAppStart)
	}()

	d.setStatus(StatusRunning)
	slog.Info("Daemon started",
		slog.String("data_dir", d.cfg.DataDir),
		slog.Bool("proxy", d.relay != nil),
		logfields.Port(d.cfg.Admin.Port))
	return nil
}

func (d *Daemon) startJobs() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	d.scheduler = scheduler

	if _, err := scheduler.NewJob(
		gocron.DurationJob(d.cfg.Network.PollInterval()),
		gocron.NewTask(d.networkTick),
		gocron.WithName("network-poll"),
	); err != nil {
		return fmt.Errorf("failed to schedule network poll: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(settleInterval),
		gocron.NewTask(d.settleTick),
		gocron.WithName("pending-settle"),
	); err != nil {
		return fmt.Errorf("failed to schedule pending settle: %w", err)
	}

	scheduler.Start()
	return nil
}

// runEventLoop consumes bus events. Handlers that can block (the power flow
// waits on a dialog) run in their own goroutine so the loop keeps draining.
func (d *Daemon) runEventLoop() {
	powerCh, unsubPower := events.Subscribe[events.PowerEvent](d.bus, 8)
	defer unsubPower()
	netCh, unsubNet := events.Subscribe[events.NetworkChanged](d.bus, 8)
	defer unsubNet()
	doneCh, unsubDone := events.Subscribe[events.AttemptFinished](d.bus, 8)
	defer unsubDone()

	for {
		select {
		case <-d.loopCtx.Done():
			return
		case evt, ok := <-powerCh:
			if !ok {
				return
			}
			d.handlePowerEvent(evt)
		case evt, ok := <-netCh:
			if !ok {
				return
			}
			d.handleNetworkChange(evt)
		case evt, ok := <-doneCh:
			if !ok {
				return
			}
			d.mu.Lock()
			last := evt
			d.lastAttempt = &last
			d.mu.Unlock()
		}
	}
}

func (d *Daemon) handlePowerEvent(evt events.PowerEvent) {
	if evt.Deferrable() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.coord.Handle(d.baseCtx(), evt, func() {})
		}()
		return
	}

	switch evt.Kind {
	case events.PowerResume, events.PowerUnlock:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.orch.AttemptCheckIn(d.baseCtx(), state.TriggerSystemWake)
		}()
	}
}

func (d *Daemon) handleNetworkChange(evt events.NetworkChanged) {
	if evt.Current.IsNone() {
		slog.Debug("Network lost", slog.String("previous", evt.Previous.String()))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.orch.AttemptCheckIn(d.baseCtx(), state.TriggerNetworkChange)
	}()
}

// emitNetworkChange is the observer callback; it runs on the poll goroutine.
func (d *Daemon) emitNetworkChange(previous, current netinfo.Info) {
	slog.Info("Network attachment changed",
		slog.String("previous", previous.String()), logfields.Network(current.String()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.bus.Publish(ctx, events.NetworkChanged{
		Previous: previous, Current: current, At: time.Now(),
	}); err != nil {
		slog.Debug("Failed to publish network change", logfields.Error(err))
	}
}

func (d *Daemon) networkTick() {
	if _, err := d.observer.Poll(); err != nil {
		slog.Debug("Network poll failed", logfields.Error(err))
	}
}

// settleTick clears an owed check-out that another device or the server
// already closed. It never submits a check-out itself: the user may have
// explicitly declined one, and only the recovery prompt can override that.
func (d *Daemon) settleTick() {
	if !d.store.Session().PendingCheckout || !d.client.Tokens().Authenticated() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := d.client.GetStatus(ctx)
	if err != nil {
		slog.Debug("Pending settle could not fetch status", logfields.Error(err))
		return
	}

	switch resp.Status {
	case api.StatusCheckedOut, api.StatusNotStarted:
		slog.Info("Owed check-out settled remotely, clearing",
			logfields.Status(string(resp.Status)))
		if err := d.store.ClearPendingCheckout(); err != nil {
			slog.Warn("Failed to clear pending checkout", logfields.Error(err))
		}
	}
}

// baseCtx is the lifecycle context once started, Background before that.
func (d *Daemon) baseCtx() context.Context {
	if d.loopCtx != nil {
		return d.loopCtx
	}
	return context.Background()
}

// HandlePowerSignal runs the power coordinator synchronously for an
// OS-delivered signal. The run command calls this for SIGTERM before Stop so
// the shutdown flow gets its chance to check out.
func (d *Daemon) HandlePowerSignal(ctx context.Context, kind events.PowerEventKind) {
	d.coord.Handle(ctx, events.PowerEvent{Kind: kind, At: time.Now()}, func() {})
}

// TriggerAttempt dispatches one attempt for the trigger, routed by the
// trigger's implicit intent. Used by the CLI and the admin endpoint.
func (d *Daemon) TriggerAttempt(ctx context.Context, trigger state.Trigger) attendance.Result {
	if trigger.Intent() == state.IntentCheckOut {
		return d.orch.AttemptCheckOut(ctx, trigger, attendance.CheckOutOptions{})
	}
	return d.orch.AttemptCheckIn(ctx, trigger)
}

// Stop shuts the daemon down: safety net first, then the periodic jobs, the
// relay, the admin endpoint, and finally the stores.
func (d *Daemon) Stop(ctx context.Context) error {
	d.setStatus(StatusStopping)

	// Last chance to persist an owed check-out before the process goes away.
	d.coord.BeforeQuit(ctx)

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			slog.Warn("Failed to stop scheduler", logfields.Error(err))
		}
	}
	if d.relay != nil {
		if err := d.relay.Stop(ctx); err != nil {
			slog.Warn("Failed to stop proxy relay", logfields.Error(err))
		}
	}
	if d.admin != nil {
		if err := d.admin.Shutdown(ctx); err != nil {
			slog.Warn("Failed to stop admin endpoint", logfields.Error(err))
		}
	}

	if d.loopCancel != nil {
		d.loopCancel()
	}
	d.bus.Close()
	d.wg.Wait()

	err := d.Close()
	d.setStatus(StatusStopped)
	slog.Info("Daemon stopped")
	return err
}

// Close releases the stores without running the shutdown flow. One-shot CLI
// commands use it directly; the daemon path goes through Stop.
func (d *Daemon) Close() error {
	d.bus.Close()
	if err := d.auditDB.Close(); err != nil {
		slog.Warn("Failed to close audit store", logfields.Error(err))
	}
	if d.mirror != nil {
		d.mirror.Close()
	}
	return d.store.Close()
}
