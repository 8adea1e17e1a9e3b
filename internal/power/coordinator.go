// Package power coordinates check-out against OS shutdown, sleep and logout.
// These are the only triggers where failing to act has an externally visible
// cost: the machine actually powers off, and the process is racing the OS.
package power

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/attendance"
	"git.home.luguber.info/inful/presenced/internal/config"
	"git.home.luguber.info/inful/presenced/internal/events"
	"git.home.luguber.info/inful/presenced/internal/logfields"
	"git.home.luguber.info/inful/presenced/internal/netinfo"
	"git.home.luguber.info/inful/presenced/internal/observability"
	"git.home.luguber.info/inful/presenced/internal/state"
	"git.home.luguber.info/inful/presenced/internal/ui"
)

// State names the coordinator's position in the shutdown flow.
type State string

const (
	StateIdle                State = "idle"
	StateCheckingEligibility State = "checking_eligibility"
	StateBlocking            State = "blocking"
	StateSavingPendingState  State = "saving_pending_state"
	StateAwaitingUserChoice  State = "awaiting_user_choice"
	StateSubmitting          State = "submitting"
	StateResolved            State = "resolved"
)

// Coordinator runs the shutdown-path state machine over the orchestrator.
// One flow runs at a time; a second power event during a flow is released
// immediately since the obligation is already persisted.
type Coordinator struct {
	mu    sync.Mutex
	state State

	flags     func() config.AttendanceConfig
	client    *api.Client
	store     state.Store
	orch      *attendance.Orchestrator
	confirmer ui.Confirmer
	inhibitor Inhibitor
	network   func() netinfo.Info
	now       func() time.Time
}

// CoordinatorOptions bundles the coordinator's collaborators.
type CoordinatorOptions struct {
	Flags     func() config.AttendanceConfig
	Client    *api.Client
	Store     state.Store
	Orch      *attendance.Orchestrator
	Confirmer ui.Confirmer
	Inhibitor Inhibitor
	Network   func() netinfo.Info
	Now       func() time.Time
}

// NewCoordinator builds the coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		state:     StateIdle,
		flags:     opts.Flags,
		client:    opts.Client,
		store:     opts.Store,
		orch:      opts.Orch,
		confirmer: opts.Confirmer,
		inhibitor: opts.Inhibitor,
		network:   opts.Network,
		now:       opts.Now,
	}
	if c.inhibitor == nil {
		c.inhibitor = NopInhibitor{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Status returns the current state for diagnostics.
func (c *Coordinator) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// tryBegin claims the flow; a concurrent second event is rejected.
func (c *Coordinator) tryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle && c.state != StateResolved {
		return false
	}
	c.state = StateCheckingEligibility
	return true
}

// Handle runs the flow for one deferrable power event. release lets the OS
// action proceed; the coordinator guarantees it is called exactly once on
// every path before Handle returns.
func (c *Coordinator) Handle(ctx context.Context, evt events.PowerEvent, release func()) {
	var releaseOnce sync.Once
	released := func() { releaseOnce.Do(release) }
	defer released()

	if !evt.Deferrable() {
		return
	}
	if !c.tryBegin() {
		observability.DebugContext(ctx, "Power flow already in progress, releasing",
			logfields.Reason(string(evt.Kind)))
		return
	}
	defer c.setState(StateResolved)

	cfg := c.flags()
	if !cfg.AutoCheckoutOnShutdown {
		observability.DebugContext(ctx, "Auto check-out disabled, releasing")
		return
	}
	if !c.client.Tokens().Authenticated() {
		observability.DebugContext(ctx, "Not authenticated, releasing")
		return
	}

	checkedIn := c.isCheckedIn(ctx)
	if checkedIn != nil && !*checkedIn {
		observability.DebugContext(ctx, "Not checked in, releasing")
		return
	}
	// Status unknown counts as checked in: persisting a pending flag that
	// recovery later finds already settled costs one write, losing the
	// obligation costs the record.

	// Persist the obligation BEFORE anything user-facing. If the process is
	// killed one instruction later, the next start still knows a check-out is
	// owed and at what time.
	c.setState(StateSavingPendingState)
	network := c.network()
	var hint *netinfo.Info
	if !network.IsNone() {
		hint = &network
	}
	eventTime := evt.At
	if eventTime.IsZero() {
		eventTime = c.now()
	}
	if err := c.store.MarkPendingCheckout(eventTime, hint); err != nil {
		observability.ErrorContext(ctx, "Failed to persist pending checkout", logfields.Error(err))
		// Continue anyway; an immediate check-out may still settle it.
	}

	c.setState(StateBlocking)
	releaseLock, err := c.inhibitor.Acquire("attendance check-out prompt")
	if err != nil {
		observability.WarnContext(ctx, "Failed to acquire sleep inhibitor", logfields.Error(err))
		releaseLock = func() {}
	}
	// Single cleanup point for the lock, taken on every exit path.
	defer releaseLock()

	c.setState(StateAwaitingUserChoice)
	choice, err := c.confirmer.Confirm(ctx, ui.Prompt{
		Title:    "Check out before leaving?",
		Question: "You are still checked in. Check out now?",
		Accept:   "Check Out",
		Decline:  "Continue",
	})
	if err != nil || choice != ui.ChoiceAccept {
		// Declined or prompt failure: the pending flag stays set with the
		// fresh timestamp and recovery settles it on the next start.
		observability.InfoContext(ctx, "Check-out declined, keeping pending flag")
		return
	}

	c.setState(StateSubmitting)
	c.submitWithTimeout(ctx, evt, cfg.CheckoutTimeout())
}

// submitWithTimeout races the check-out against the configured deadline.
// A timed-out attempt is abandoned but not killed: its late result may still
// settle persisted state through the orchestrator, it just never re-triggers
// UI. The pending flag survives a timeout so recovery retries on next boot.
func (c *Coordinator) submitWithTimeout(ctx context.Context, evt events.PowerEvent, timeout time.Duration) {
	trigger := state.TriggerShutdown
	if evt.Kind == events.PowerLogout {
		trigger = state.TriggerLogout
	}

	done := make(chan attendance.Result, 1)
	go func() {
		done <- c.orch.AttemptCheckOut(context.WithoutCancel(ctx), trigger, attendance.CheckOutOptions{
			FastMode: true,
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		if result.Success {
			observability.InfoContext(ctx, "Shutdown check-out completed",
				logfields.Trigger(string(trigger)))
		} else {
			observability.WarnContext(ctx, "Shutdown check-out failed",
				logfields.Reason(result.Reason), logfields.ErrorCode(string(result.ErrorCode)))
		}
	case <-timer.C:
		observability.WarnContext(ctx, "Shutdown check-out timed out, pending flag stays set",
			logfields.DurationMS(float64(timeout.Milliseconds())))
	case <-ctx.Done():
		observability.WarnContext(ctx, "Shutdown check-out canceled, pending flag stays set")
	}
}

// isCheckedIn returns nil when the status could not be determined.
func (c *Coordinator) isCheckedIn(ctx context.Context) *bool {
	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.client.GetStatus(statusCtx)
	if err != nil {
		observability.WarnContext(ctx, "Could not fetch status on shutdown path", logfields.Error(err))
		return nil
	}
	checkedIn := resp.Status == api.StatusCheckedIn
	return &checkedIn
}

// BeforeQuit is the independent safety net run at final shutdown. It
// re-checks authentication and status synchronously and force-persists the
// pending flag if nothing else already did. The redundant write is deliberate:
// one extra persisted write is negligible against silently losing the
// obligation.
func (c *Coordinator) BeforeQuit(ctx context.Context) {
	if !c.flags().AutoCheckoutOnShutdown || !c.client.Tokens().Authenticated() {
		return
	}
	if c.store.Session().PendingCheckout {
		return
	}

	checkedIn := c.isCheckedIn(ctx)
	if checkedIn == nil || !*checkedIn {
		return
	}

	network := c.network()
	var hint *netinfo.Info
	if !network.IsNone() {
		hint = &network
	}
	if err := c.store.MarkPendingCheckout(c.now(), hint); err != nil {
		observability.ErrorContext(ctx, "Safety net failed to persist pending checkout", logfields.Error(err))
	} else {
		observability.InfoContext(ctx, "Safety net persisted pending checkout")
	}
}
