package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/logfields"
	"git.home.luguber.info/inful/presenced/internal/state"
	"git.home.luguber.info/inful/presenced/internal/ui"
)

// Reconciler settles an owed check-out left behind by a previous process.
// It runs once near start: if the pending-checkout flag is set it re-fetches
// the remote status, prompts the user with the original timestamp and, on
// acceptance, submits a check-out backdated to the saved session end.
type Reconciler struct {
	store     state.Store
	client    *api.Client
	orch      *Orchestrator
	confirmer ui.Confirmer
	warmup    time.Duration
}

// NewReconciler builds the startup reconciler.
func NewReconciler(store state.Store, client *api.Client, orch *Orchestrator, confirmer ui.Confirmer, warmup time.Duration) *Reconciler {
	return &Reconciler{
		store:     store,
		client:    client,
		orch:      orch,
		confirmer: confirmer,
		warmup:    warmup,
	}
}

// Run performs one reconciliation pass. Errors leave the pending flag set so
// the next start retries; they are never escalated past logging by callers.
func (r *Reconciler) Run(ctx context.Context) error {
	// Let the daemon warm up first: network probes and token loading may
	// still be settling right after start.
	if r.warmup > 0 {
		select {
		case <-time.After(r.warmup):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sess := r.store.Session()
	if !sess.PendingCheckout {
		return nil
	}
	if sess.SessionEnd == nil {
		// Should be unreachable: the store writes both fields atomically.
		slog.Warn("Pending checkout without session end timestamp, clearing")
		return r.store.ClearPendingCheckout()
	}

	slog.Info("Pending check-out found, reconciling",
		slog.Time("session_end", *sess.SessionEnd))

	if !r.client.Tokens().Authenticated() {
		slog.Info("Cannot reconcile pending check-out, not authenticated")
		return nil
	}

	status, err := r.client.GetStatus(ctx)
	if err != nil {
		slog.Warn("Failed to fetch status during recovery", logfields.Error(err))
		return err
	}

	switch status.Status {
	case api.StatusCheckedIn:
		return r.settle(ctx, sess)
	case api.StatusCheckedOut, api.StatusNotStarted:
		// Another device or the server already closed the loop; no prompt.
		slog.Info("Pending check-out already settled remotely",
			logfields.Status(string(status.Status)))
		return r.store.ClearPendingCheckout()
	default:
		slog.Warn("Unexpected status during recovery", logfields.Status(string(status.Status)))
		return nil
	}
}

func (r *Reconciler) settle(ctx context.Context, sess state.Session) error {
	choice, err := r.confirmer.Confirm(ctx, ui.Prompt{
		Title: "Check out from your last session?",
		Question: fmt.Sprintf("You were still checked in when this computer shut down at %s. Check out with that time?",
			sess.SessionEnd.Local().Format("Mon 15:04")),
		Accept:  "Check Out",
		Decline: "Not Now",
	})
	if err != nil {
		slog.Warn("Recovery prompt failed", logfields.Error(err))
		return err
	}
	if choice != ui.ChoiceAccept {
		slog.Info("User declined recovery check-out, keeping pending flag")
		return nil
	}

	// The whole point of recovery is backdating: the check-out must carry the
	// saved session end, never the current time.
	result := r.orch.AttemptCheckOut(ctx, state.TriggerRecovery, CheckOutOptions{
		NetworkHint:  sess.LastNetwork,
		ExplicitTime: sess.SessionEnd,
	})
	if !result.Success && result.ErrorCode != CodeAlreadyCheckedOut && result.ErrorCode != CodeInvalidStatus {
		slog.Warn("Recovery check-out failed, will retry next start",
			logfields.Reason(result.Reason), logfields.ErrorCode(string(result.ErrorCode)))
	}
	return nil
}
