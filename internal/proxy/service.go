// Package proxy runs the local HTTP relay and keeps it registered with the
// remote server under token expiry, address churn and transient failures.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/audit"
	"git.home.luguber.info/inful/presenced/internal/config"
	"git.home.luguber.info/inful/presenced/internal/logfields"
	"git.home.luguber.info/inful/presenced/internal/metrics"
	"git.home.luguber.info/inful/presenced/internal/retry"
)

// Registration is the relay's process-scoped status. It is re-derived on
// every start, never persisted, because it depends on the live network
// address.
type Registration struct {
	IsRunning     bool       `json:"is_running"`
	Port          int        `json:"port"`
	IPAddress     string     `json:"ip_address,omitempty"`
	IsRegistered  bool       `json:"is_registered"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	MainServerURL string     `json:"main_server_url"`
}

// Service owns the relay listener and its registration lifecycle.
type Service struct {
	cfg        config.ProxyConfig
	baseURL    string
	deviceName string
	userID     string

	registrar *Registrar
	recorder  metrics.Recorder
	auditLog  *audit.Logger

	// resolveIP is swapped in tests to simulate address churn.
	resolveIP func() (string, error)

	mu           sync.Mutex
	registration Registration

	listener  net.Listener
	server    *http.Server
	scheduler gocron.Scheduler
}

// ServiceOptions bundles the proxy service dependencies.
type ServiceOptions struct {
	Config     config.ProxyConfig
	BaseURL    string
	DeviceName string
	UserID     string
	Client     *api.Client
	Recorder   metrics.Recorder
	AuditLog   *audit.Logger
}

// NewService builds the proxy service.
func NewService(opts ServiceOptions) *Service {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	policy := retry.NewPolicy(
		opts.Config.Retry.Backoff,
		time.Duration(opts.Config.Retry.InitialSeconds)*time.Second,
		time.Duration(opts.Config.Retry.MaxSeconds)*time.Second,
		opts.Config.Retry.MaxRetries,
	)
	return &Service{
		cfg:        opts.Config,
		baseURL:    opts.BaseURL,
		deviceName: opts.DeviceName,
		userID:     opts.UserID,
		registrar:  NewRegistrar(opts.Client, policy, recorder),
		recorder:   recorder,
		auditLog:   opts.AuditLog,
		resolveIP:  FirstNonLoopbackIPv4,
		registration: Registration{
			Port:          opts.Config.Port,
			MainServerURL: opts.BaseURL,
		},
	}
}

// Status returns a copy of the current registration state.
func (s *Service) Status() Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registration
}

func (s *Service) updateStatus(fn func(*Registration)) {
	s.mu.Lock()
	fn(&s.registration)
	registered := s.registration.IsRegistered
	s.mu.Unlock()
	s.recorder.SetProxyRegistered(registered)
}

// Start binds the listener, registers with the server and launches the
// periodic jobs. Registration failure is never fatal: local clients can
// still reach the relay directly, only remote discoverability is degraded.
func (s *Service) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind relay listener on port %d: %w", s.cfg.Port, err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	relay := NewRelay(s.baseURL, &http.Client{Timeout: 30 * time.Second}, s.healthStatus)
	s.server = &http.Server{Handler: relay}
	go func() {
		if serveErr := s.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("Relay listener stopped", logfields.Error(serveErr))
		}
	}()

	ip, err := s.resolveIP()
	if err != nil {
		slog.Warn("Could not resolve relay address, serving unregistered", logfields.Error(err))
	}
	s.updateStatus(func(r *Registration) {
		r.IsRunning = true
		r.Port = port
		r.IPAddress = ip
	})
	slog.Info("Relay listening", logfields.Port(port), logfields.IPAddress(ip))

	if ip != "" {
		s.register(ctx, ip, port)
	}

	return s.startJobs()
}

// register runs one full registration attempt and records the outcome.
func (s *Service) register(ctx context.Context, ip string, port int) {
	now := time.Now()
	err := s.registrar.Register(ctx, ip, port)
	s.updateStatus(func(r *Registration) {
		r.LastAttempt = &now
		r.IsRegistered = err == nil
		if err != nil {
			r.LastError = err.Error()
		} else {
			r.LastError = ""
		}
	})
	if s.auditLog != nil && err == nil {
		s.auditLog.Append(ctx, "", audit.TypeProxyRegistered, audit.AttemptPayload{
			Network: ip, At: now,
		})
	}
}

func (s *Service) startJobs() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create proxy scheduler: %w", err)
	}
	s.scheduler = scheduler

	if _, err := scheduler.NewJob(
		gocron.DurationJob(s.cfg.HeartbeatInterval()),
		gocron.NewTask(s.heartbeatTick),
		gocron.WithName("proxy-heartbeat"),
	); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(s.cfg.ReregisterInterval()),
		gocron.NewTask(s.reregisterTick),
		gocron.WithName("proxy-reregister"),
	); err != nil {
		return fmt.Errorf("failed to schedule re-registration check: %w", err)
	}

	scheduler.Start()
	return nil
}

func (s *Service) heartbeatTick() {
	if !s.Status().IsRegistered {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.registrar.Heartbeat(ctx); err != nil {
		if s.auditLog != nil {
			s.auditLog.Append(ctx, "", audit.TypeProxyHeartbeat, audit.AttemptPayload{
				Reason: err.Error(), At: time.Now(),
			})
		}
	}
}

// reregisterTick re-resolves the local address and re-runs registration when
// the address changed (the laptop moved networks) or the relay is currently
// unregistered.
func (s *Service) reregisterTick() {
	ip, err := s.resolveIP()
	if err != nil {
		slog.Warn("Re-registration check could not resolve address", logfields.Error(err))
		return
	}

	status := s.Status()
	if status.IsRegistered && ip == status.IPAddress {
		return
	}

	if ip != status.IPAddress {
		slog.Info("Relay address changed, re-registering",
			logfields.IPAddress(ip), slog.String("previous", status.IPAddress))
		s.updateStatus(func(r *Registration) { r.IPAddress = ip })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.register(ctx, ip, status.Port)
}

func (s *Service) healthStatus() HealthStatus {
	status := s.Status()
	return HealthStatus{
		IP:           status.IPAddress,
		Port:         status.Port,
		IsRunning:    status.IsRunning,
		IsRegistered: status.IsRegistered,
		UserID:       s.userID,
		DeviceName:   s.deviceName,
	}
}

// Stop tears the relay down: periodic jobs first so a heartbeat cannot fire
// against a socket mid-teardown, then a best-effort unregister, then the
// listener.
func (s *Service) Stop(ctx context.Context) error {
	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			slog.Warn("Failed to stop proxy scheduler", logfields.Error(err))
		}
	}

	if s.Status().IsRegistered {
		unregCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		s.registrar.Unregister(unregCtx)
		cancel()
		if s.auditLog != nil {
			s.auditLog.Append(ctx, "", audit.TypeProxyUnregister, audit.AttemptPayload{At: time.Now()})
		}
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.updateStatus(func(r *Registration) {
		r.IsRunning = false
		r.IsRegistered = false
	})
	return err
}
