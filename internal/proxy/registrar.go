package proxy

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/presenced/internal/api"
	"git.home.luguber.info/inful/presenced/internal/logfields"
	"git.home.luguber.info/inful/presenced/internal/metrics"
	"git.home.luguber.info/inful/presenced/internal/retry"
)

// Registrar performs the server-side registration calls under the bounded
// retry policy. A 401 anywhere triggers one token refresh and one retried
// call before the backoff loop continues.
type Registrar struct {
	client   *api.Client
	policy   retry.Policy
	recorder metrics.Recorder

	// sleep is swapped in tests to assert the backoff schedule without
	// actually waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRegistrar builds a registrar. recorder may be nil.
func NewRegistrar(client *api.Client, policy retry.Policy, recorder metrics.Recorder) *Registrar {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Registrar{
		client:   client,
		policy:   policy,
		recorder: recorder,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register announces the relay endpoint, retrying under the policy. The
// returned error reports exhaustion for status bookkeeping; callers never
// treat it as fatal, since the listener keeps serving unregistered.
func (r *Registrar) Register(ctx context.Context, ipAddress string, port int) error {
	attempt := func(ctx context.Context) error {
		return r.client.DoWithAuthRetry(ctx, func(ctx context.Context) error {
			return r.client.RegisterProxy(ctx, ipAddress, port)
		})
	}

	err := attempt(ctx)
	if err == nil {
		r.recorder.IncProxyRegistration(true)
		return nil
	}

	for i := 1; i <= r.policy.MaxRetries; i++ {
		delay := r.policy.Delay(i)
		slog.Warn("Proxy registration failed, retrying",
			logfields.Retry(i),
			logfields.DurationMS(float64(delay.Milliseconds())),
			logfields.Error(err))
		r.recorder.IncProxyRetry()

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			r.recorder.IncProxyRegistration(false)
			return sleepErr
		}
		if err = attempt(ctx); err == nil {
			r.recorder.IncProxyRegistration(true)
			return nil
		}
	}

	slog.Warn("Proxy registration gave up after retries",
		logfields.Retry(r.policy.MaxRetries), logfields.Error(err))
	r.recorder.IncProxyRegistration(false)
	return err
}

// Heartbeat keeps the registration alive. A 401 triggers the refresh-and-
// retry-once pattern; any other failure is logged and the next tick tries
// again. No backoff escalation: heartbeats self-heal on the next tick.
func (r *Registrar) Heartbeat(ctx context.Context) error {
	err := r.client.DoWithAuthRetry(ctx, r.client.ProxyHeartbeat)
	if err != nil {
		slog.Warn("Proxy heartbeat failed", logfields.Error(err))
	}
	r.recorder.IncHeartbeat(err == nil)
	return err
}

// Unregister removes the registration. Best effort on shutdown.
func (r *Registrar) Unregister(ctx context.Context) {
	if err := r.client.UnregisterProxy(ctx); err != nil {
		slog.Debug("Proxy unregister failed", logfields.Error(err))
	}
}
