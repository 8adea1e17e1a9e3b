// Package attendance owns the check-in/check-out lifecycle: trigger handling,
// debouncing, eligibility, submission and failure classification.
package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/audit"
	"git.home.luguber.info/inful/presenced/internal/config"
	"git.home.luguber.info/inful/presenced/internal/events"
	"git.home.luguber.info/inful/presenced/internal/logfields"
	"git.home.luguber.info/inful/presenced/internal/metrics"
	"git.home.luguber.info/inful/presenced/internal/netinfo"
	"git.home.luguber.info/inful/presenced/internal/observability"
	"git.home.luguber.info/inful/presenced/internal/state"
	"git.home.luguber.info/inful/presenced/internal/ui"
)

// Result is the outcome of one attempt.
type Result struct {
	Success      bool
	Reason       string
	ErrorCode    Code
	ErrorType    ErrorType
	AttendanceID string
	Timestamp    time.Time
}

// CheckOutOptions modify a check-out attempt.
type CheckOutOptions struct {
	// FastMode tolerates a missing fingerprint and skips network validation.
	// Used on shutdown/sleep paths where the OS may kill the process any
	// moment; best-effort submission beats no submission.
	FastMode bool

	// NetworkHint overrides the live network probe. Recovery check-outs pass
	// the attachment cached at session end, since the machine may be on a
	// different network by now.
	NetworkHint *netinfo.Info

	// ExplicitTime backdates the check-out. Recovery must report the original
	// event time, not "now"; the value is passed to the server unmodified.
	ExplicitTime *time.Time
}

// Orchestrator serializes attendance attempts. Triggers originate
// concurrently (timers, OS signals, polling) but each attempt runs to
// completion before the next is considered, because attempts mutate shared
// persisted state.
//
// There are no automatic retries at this level: a failure is terminal per
// attempt and the next trigger is the retry mechanism.
type Orchestrator struct {
	attemptGate chan struct{}

	flags       func() config.AttendanceConfig
	client      *api.Client
	evaluator   *Evaluator
	store       state.Store
	network     func() netinfo.Info
	fingerprint func() (string, error)
	auditLog    *audit.Logger
	notifier    ui.Notifier
	recorder    metrics.Recorder
	bus         *events.Bus
	now         func() time.Time
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Flags       func() config.AttendanceConfig
	Client      *api.Client
	Store       state.Store
	Network     func() netinfo.Info
	Fingerprint func() (string, error)
	AuditLog    *audit.Logger
	Notifier    ui.Notifier
	Recorder    metrics.Recorder
	Bus         *events.Bus
	Now         func() time.Time
}

// New builds the orchestrator. Recorder, AuditLog and Bus may be left unset.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		attemptGate: make(chan struct{}, 1),
		flags:       opts.Flags,
		client:      opts.Client,
		evaluator:   NewEvaluator(opts.Client),
		store:       opts.Store,
		network:     opts.Network,
		fingerprint: opts.Fingerprint,
		auditLog:    opts.AuditLog,
		notifier:    opts.Notifier,
		recorder:    opts.Recorder,
		bus:         opts.Bus,
		now:         opts.Now,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.recorder == nil {
		o.recorder = metrics.NoopRecorder{}
	}
	if o.notifier == nil {
		o.notifier = ui.NopNotifier{}
	}
	o.attemptGate <- struct{}{}
	return o
}

// acquire serializes attempts while staying cancellable: the shutdown path
// races attempts against a timeout and must not deadlock behind a stuck one.
func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case <-o.attemptGate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release() {
	o.attemptGate <- struct{}{}
}

// AttemptCheckIn runs one check-in attempt for the trigger.
func (o *Orchestrator) AttemptCheckIn(ctx context.Context, trigger state.Trigger) Result {
	if err := o.acquire(ctx); err != nil {
		return Result{Reason: "canceled", Timestamp: o.now()}
	}
	defer o.release()

	attemptID := uuid.NewString()
	ctx = observability.WithAttemptID(ctx, attemptID)
	ctx = observability.WithTrigger(ctx, string(trigger))
	ctx = observability.WithIntent(ctx, string(state.IntentCheckIn))

	cfg := o.flags()
	now := o.now()

	// Debounce gate: suppress rapid duplicate firings of the same physical
	// event. Only successful attempts update the ledger, so a failure never
	// blocks a retry.
	if last, ok := o.store.LastSuccess(trigger); ok && now.Sub(last) < cfg.DebounceWindow() {
		observability.DebugContext(ctx, "Check-in debounced",
			logfields.Reason("debounced"),
			logfields.DurationMS(float64(now.Sub(last).Milliseconds())))
		o.recorder.IncAttempt(string(trigger), string(state.IntentCheckIn), metrics.ResultDebounced)
		o.auditLog.Skipped(ctx, attemptID, o.payload(trigger, state.IntentCheckIn, "debounced", Classification{}, netinfo.None(), now))
		return o.finish(ctx, attemptID, trigger, state.IntentCheckIn, Result{Reason: "debounced", Timestamp: now})
	}

	network := o.network()
	if network.IsNone() {
		observability.InfoContext(ctx, "Check-in skipped, no network")
		class := classTable[CodeNoNetwork]
		o.recorder.IncAttempt(string(trigger), string(state.IntentCheckIn), metrics.ResultSkipped)
		o.auditLog.Skipped(ctx, attemptID, o.payload(trigger, state.IntentCheckIn, "no network", class, network, now))
		return o.finish(ctx, attemptID, trigger, state.IntentCheckIn, Result{
			Reason: "no network", ErrorCode: class.Code, ErrorType: class.Type, Timestamp: now,
		})
	}

	o.auditLog.Started(ctx, attemptID, o.payload(trigger, state.IntentCheckIn, "", Classification{}, network, now))

	elig, err := o.evaluator.EvaluateCheckIn(ctx, cfg.AutoCheckIn, network)
	if err != nil {
		return o.fail(ctx, attemptID, trigger, state.IntentCheckIn, cfg, network, err)
	}
	if !elig.Eligible {
		observability.InfoContext(ctx, "Check-in not eligible", logfields.Reason(elig.Reason))
		o.recorder.IncAttempt(string(trigger), string(state.IntentCheckIn), metrics.ResultSkipped)
		class, _ := Lookup(elig.Code)
		o.auditLog.Skipped(ctx, attemptID, o.payload(trigger, state.IntentCheckIn, elig.Reason, class, network, now))
		return o.finish(ctx, attemptID, trigger, state.IntentCheckIn, Result{
			Reason: elig.Reason, ErrorCode: elig.Code, ErrorType: class.Type, Timestamp: now,
		})
	}

	fp, err := o.resolveFingerprint(cfg.AllowMissingFingerprint)
	if err != nil {
		return o.fail(ctx, attemptID, trigger, state.IntentCheckIn, cfg, network, err)
	}

	wifi, eth := api.NetworkDescriptors(network)
	var resp api.CheckInResponse
	err = o.client.DoWithAuthRetry(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = o.client.CheckIn(ctx, api.CheckInRequest{
			Source:            string(trigger),
			Wifi:              wifi,
			Ethernet:          eth,
			SystemFingerprint: fp,
		})
		return callErr
	})
	if err != nil {
		return o.fail(ctx, attemptID, trigger, state.IntentCheckIn, cfg, network, err)
	}

	// Ledger and session updates happen only now, after the server accepted.
	if err := o.store.RecordSuccess(trigger, now); err != nil {
		observability.WarnContext(ctx, "Failed to persist ledger entry", logfields.Error(err))
	}
	if err := o.store.UpdateSession(func(s *state.Session) {
		checkInTime := resp.CheckInTime
		s.LastCheckIn = &checkInTime
		s.LastNetwork = &network
		s.SystemFingerprint = fp
		s.PendingCheckout = false
	}); err != nil {
		observability.WarnContext(ctx, "Failed to persist session after check-in", logfields.Error(err))
	}

	observability.InfoContext(ctx, "Checked in", logfields.Status(resp.AttendanceID), logfields.Network(network.String()))
	o.recorder.IncAttempt(string(trigger), string(state.IntentCheckIn), metrics.ResultSuccess)
	o.auditLog.Succeeded(ctx, attemptID, o.payload(trigger, state.IntentCheckIn, "", Classification{}, network, now))
	if cfg.Notifications {
		o.notifier.Notify("Checked in", "Your attendance has been recorded.", ui.LevelInfo)
	}

	return o.finish(ctx, attemptID, trigger, state.IntentCheckIn, Result{
		Success: true, AttendanceID: resp.AttendanceID, Timestamp: now,
	})
}

// AttemptCheckOut runs one check-out attempt. There is no debounce gate:
// check-out is driven by rare, high-stakes events, not by noisy pollers.
func (o *Orchestrator) AttemptCheckOut(ctx context.Context, trigger state.Trigger, opts CheckOutOptions) Result {
	if err := o.acquire(ctx); err != nil {
		return Result{Reason: "canceled", Timestamp: o.now()}
	}
	defer o.release()

	attemptID := uuid.NewString()
	ctx = observability.WithAttemptID(ctx, attemptID)
	ctx = observability.WithTrigger(ctx, string(trigger))
	ctx = observability.WithIntent(ctx, string(state.IntentCheckOut))

	cfg := o.flags()
	now := o.now()
	started := now

	defer func() {
		o.recorder.ObserveCheckoutDuration(o.now().Sub(started))
	}()

	network := o.network()
	if opts.NetworkHint != nil {
		network = *opts.NetworkHint
	}
	if network.IsNone() {
		observability.InfoContext(ctx, "Check-out skipped, no network")
		class := classTable[CodeNoNetwork]
		o.recorder.IncAttempt(string(trigger), string(state.IntentCheckOut), metrics.ResultSkipped)
		o.auditLog.Skipped(ctx, attemptID, o.payload(trigger, state.IntentCheckOut, "no network", class, network, now))
		return o.finish(ctx, attemptID, trigger, state.IntentCheckOut, Result{
			Reason: "no network", ErrorCode: class.Code, ErrorType: class.Type, Timestamp: now,
		})
	}

	o.auditLog.Started(ctx, attemptID, o.payload(trigger, state.IntentCheckOut, "", Classification{}, network, now))

	enabled := cfg.AutoCheckoutOnShutdown || trigger == state.TriggerRecovery || trigger == state.TriggerBackground
	elig, err := o.evaluator.EvaluateCheckOut(ctx, enabled, opts.FastMode, network)
	if err != nil {
		return o.failCheckOut(ctx, attemptID, trigger, cfg, network, err)
	}
	if !elig.Eligible {
		// "Already checked out" / "not checked in" mean the goal is already
		// achieved: clear any owed-checkout flag and report a clean skip.
		if GoalAlreadyAchieved(Classification{Code: elig.Code}) {
			if err := o.store.ClearPendingCheckout(); err != nil {
				observability.WarnContext(ctx, "Failed to clear pending checkout", logfields.Error(err))
			}
		}
		observability.InfoContext(ctx, "Check-out not eligible", logfields.Reason(elig.Reason))
		o.recorder.IncAttempt(string(trigger), string(state.IntentCheckOut), metrics.ResultSkipped)
		class, _ := Lookup(elig.Code)
		o.auditLog.Skipped(ctx, attemptID, o.payload(trigger, state.IntentCheckOut, elig.Reason, class, network, now))
		return o.finish(ctx, attemptID, trigger, state.IntentCheckOut, Result{
			Reason: elig.Reason, ErrorCode: elig.Code, ErrorType: class.Type, Timestamp: now,
		})
	}

	fp, err := o.resolveFingerprint(cfg.AllowMissingFingerprint || opts.FastMode)
	if err != nil {
		return o.failCheckOut(ctx, attemptID, trigger, cfg, network, err)
	}

	wifi, eth := api.NetworkDescriptors(network)
	var resp api.CheckOutResponse
	err = o.client.DoWithAuthRetry(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = o.client.CheckOut(ctx, api.CheckOutRequest{
			Source:            string(trigger),
			Wifi:              wifi,
			Ethernet:          eth,
			SystemFingerprint: fp,
			CheckOutTime:      opts.ExplicitTime,
		})
		return callErr
	})
	if err != nil {
		return o.failCheckOut(ctx, attemptID, trigger, cfg, network, err)
	}

	if err := o.store.RecordSuccess(trigger, now); err != nil {
		observability.WarnContext(ctx, "Failed to persist ledger entry", logfields.Error(err))
	}
	if err := o.store.UpdateSession(func(s *state.Session) {
		checkOutTime := resp.CheckOutTime
		s.LastCheckOut = &checkOutTime
		s.PendingCheckout = false
	}); err != nil {
		observability.WarnContext(ctx, "Failed to persist session after check-out", logfields.Error(err))
	}

	observability.InfoContext(ctx, "Checked out", logfields.Status(resp.AttendanceID), logfields.Network(network.String()))
	o.recorder.IncAttempt(string(trigger), string(state.IntentCheckOut), metrics.ResultSuccess)
	o.auditLog.Succeeded(ctx, attemptID, o.payload(trigger, state.IntentCheckOut, "", Classification{}, network, now))
	if cfg.Notifications {
		o.notifier.Notify("Checked out", "Your attendance has been closed for today.", ui.LevelInfo)
	}

	return o.finish(ctx, attemptID, trigger, state.IntentCheckOut, Result{
		Success: true, AttendanceID: resp.AttendanceID, Timestamp: now,
	})
}

func (o *Orchestrator) resolveFingerprint(allowMissing bool) (string, error) {
	fp, err := o.fingerprint()
	if err == nil {
		return fp, nil
	}
	if allowMissing {
		return "", nil
	}
	se := &api.StatusError{StatusCode: 422, Code: string(CodeFingerprintRequired), Message: err.Error()}
	return "", se
}

// fail classifies a check-in failure and applies the propagation policy:
// validation and network errors are surfaced, authentication errors are
// logged only (the remedial action is re-login, not retrying check-in),
// system errors get a generic message.
func (o *Orchestrator) fail(ctx context.Context, attemptID string, trigger state.Trigger, intent state.Intent, cfg config.AttendanceConfig, network netinfo.Info, err error) Result {
	class := Classify(err)
	now := o.now()

	o.recorder.IncAttempt(string(trigger), string(intent), metrics.ResultFailed)
	o.auditLog.Failed(ctx, attemptID, o.payload(trigger, intent, err.Error(), class, network, now))

	if class.Type == ErrTypeAuthentication {
		observability.InfoContext(ctx, "Attempt failed with authentication error, not surfacing",
			logfields.ErrorCode(string(class.Code)), logfields.Error(err))
	} else {
		observability.WarnContext(ctx, "Attempt failed",
			logfields.ErrorCode(string(class.Code)), logfields.ErrorType(string(class.Type)), logfields.Error(err))
		if cfg.Notifications && class.Message != "" {
			level := ui.LevelWarning
			if class.Type == ErrTypeSystem {
				level = ui.LevelError
			}
			title := "Check-in failed"
			if intent == state.IntentCheckOut {
				title = "Check-out failed"
			}
			o.notifier.Notify(title, class.Message, level)
		}
	}

	return o.finish(ctx, attemptID, trigger, intent, Result{
		Reason: err.Error(), ErrorCode: class.Code, ErrorType: class.Type, Timestamp: now,
	})
}

// failCheckOut adds the goal-already-achieved handling on top of fail: an
// "already checked out" rejection from the server clears the owed-checkout
// flag and is not surfaced as an error.
func (o *Orchestrator) failCheckOut(ctx context.Context, attemptID string, trigger state.Trigger, cfg config.AttendanceConfig, network netinfo.Info, err error) Result {
	class := Classify(err)
	if GoalAlreadyAchieved(class) {
		now := o.now()
		if clearErr := o.store.ClearPendingCheckout(); clearErr != nil {
			observability.WarnContext(ctx, "Failed to clear pending checkout", logfields.Error(clearErr))
		}
		observability.InfoContext(ctx, "Check-out goal already achieved", logfields.ErrorCode(string(class.Code)))
		o.recorder.IncAttempt(string(trigger), string(state.IntentCheckOut), metrics.ResultSkipped)
		o.auditLog.Skipped(ctx, attemptID, o.payload(trigger, state.IntentCheckOut, "goal already achieved", class, network, now))
		return o.finish(ctx, attemptID, trigger, state.IntentCheckOut, Result{
			Reason: "goal already achieved", ErrorCode: class.Code, ErrorType: class.Type, Timestamp: now,
		})
	}
	return o.fail(ctx, attemptID, trigger, state.IntentCheckOut, cfg, network, err)
}

func (o *Orchestrator) payload(trigger state.Trigger, intent state.Intent, reason string, class Classification, network netinfo.Info, at time.Time) audit.AttemptPayload {
	return audit.AttemptPayload{
		Trigger:   string(trigger),
		Intent:    string(intent),
		Reason:    reason,
		ErrorCode: string(class.Code),
		ErrorType: string(class.Type),
		Network:   network.String(),
		At:        at,
	}
}

// finish publishes the attempt result for status consumers. Consumers must
// never use it to start another attempt.
func (o *Orchestrator) finish(ctx context.Context, attemptID string, trigger state.Trigger, intent state.Intent, r Result) Result {
	if o.bus != nil {
		evt := events.AttemptFinished{
			AttemptID: attemptID,
			Trigger:   string(trigger),
			Intent:    string(intent),
			Success:   r.Success,
			Reason:    r.Reason,
			ErrorType: string(r.ErrorType),
			At:        r.Timestamp,
		}
		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := o.bus.Publish(publishCtx, evt); err != nil {
			observability.DebugContext(ctx, "Failed to publish attempt result", logfields.Error(err))
		}
	}
	return r
}
