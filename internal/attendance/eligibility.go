package attendance

import (
	"context"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/netinfo"
)

// Eligibility is the outcome of the precondition chain run before any
// check-in/check-out call is issued.
type Eligibility struct {
	Eligible bool
	// Reason explains ineligibility. Empty when eligible.
	Reason string
	// Code is set when the ineligibility has a taxonomy entry.
	Code Code
	// Status is the remote status observed during evaluation, when the chain
	// got far enough to fetch it.
	Status api.AttendanceStatus
}

func eligible(status api.AttendanceStatus) Eligibility {
	return Eligibility{Eligible: true, Status: status}
}

func ineligible(reason string, code Code, status api.AttendanceStatus) Eligibility {
	return Eligibility{Reason: reason, Code: code, Status: status}
}

// Evaluator runs the sequential eligibility chain. Each check short-circuits;
// a failing check produces no partial side effects because evaluation only
// reads. Remote status is always re-fetched, never cached across attempts.
type Evaluator struct {
	client *api.Client
}

// NewEvaluator builds an evaluator over the remote client.
func NewEvaluator(client *api.Client) *Evaluator {
	return &Evaluator{client: client}
}

// EvaluateCheckIn runs enabled → authenticated → status NotStarted → network
// validated. A returned error is a remote failure to be classified; an
// ineligible result with a nil error is a clean skip.
func (e *Evaluator) EvaluateCheckIn(ctx context.Context, enabled bool, network netinfo.Info) (Eligibility, error) {
	if !enabled {
		return ineligible("auto check-in disabled", "", ""), nil
	}
	if !e.client.Tokens().Authenticated() {
		return ineligible("not authenticated", CodeSessionExpired, ""), nil
	}

	status, err := e.client.GetStatus(ctx)
	if err != nil {
		return Eligibility{}, err
	}
	switch status.Status {
	case api.StatusCheckedIn:
		return ineligible("already checked in", CodeAlreadyCheckedIn, status.Status), nil
	case api.StatusCheckedOut:
		return ineligible("already checked out", CodeAlreadyCheckedOut, status.Status), nil
	}

	wifi, eth := api.NetworkDescriptors(network)
	validation, err := e.client.ValidateNetwork(ctx, api.NetworkValidateRequest{Wifi: wifi, Ethernet: eth})
	if err != nil {
		return Eligibility{}, err
	}
	if !validation.Allowed {
		reason := validation.Reason
		if reason == "" {
			reason = "network not approved"
		}
		return ineligible(reason, CodeNetworkNotApproved, status.Status), nil
	}

	return eligible(status.Status), nil
}

// EvaluateCheckOut mirrors the check-in chain but requires status CheckedIn.
// "Already checked out" and "not checked in" are clean skips, not errors:
// they are races with a concurrent external change. Network validation is
// skipped in fast mode, where best effort beats completeness.
func (e *Evaluator) EvaluateCheckOut(ctx context.Context, enabled, fastMode bool, network netinfo.Info) (Eligibility, error) {
	if !enabled {
		return ineligible("auto check-out disabled", "", ""), nil
	}
	if !e.client.Tokens().Authenticated() {
		return ineligible("not authenticated", CodeSessionExpired, ""), nil
	}

	status, err := e.client.GetStatus(ctx)
	if err != nil {
		return Eligibility{}, err
	}
	switch status.Status {
	case api.StatusCheckedOut:
		return ineligible("already checked out", CodeAlreadyCheckedOut, status.Status), nil
	case api.StatusNotStarted:
		return ineligible("not checked in", CodeInvalidStatus, status.Status), nil
	}

	if !fastMode {
		wifi, eth := api.NetworkDescriptors(network)
		validation, err := e.client.ValidateNetwork(ctx, api.NetworkValidateRequest{Wifi: wifi, Ethernet: eth})
		if err != nil {
			return Eligibility{}, err
		}
		if !validation.Allowed {
			reason := validation.Reason
			if reason == "" {
				reason = "network not approved"
			}
			return ineligible(reason, CodeNetworkNotApproved, status.Status), nil
		}
	}

	return eligible(status.Status), nil
}
