package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	attempts         *prom.CounterVec
	checkoutDuration prom.Histogram
	registrations    *prom.CounterVec
	proxyRetries     prom.Counter
	heartbeats       *prom.CounterVec
	proxyRegistered  prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.attempts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "presenced",
			Name:      "attendance_attempts_total",
			Help:      "Attendance attempts by trigger, intent and result",
		}, []string{"trigger", "intent", "result"})
		pr.checkoutDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "presenced",
			Name:      "checkout_duration_seconds",
			Help:      "Duration of check-out attempts including the timeout race",
			Buckets:   prom.DefBuckets,
		})
		pr.registrations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "presenced",
			Name:      "proxy_registrations_total",
			Help:      "Proxy registration attempts by result",
		}, []string{"result"})
		pr.proxyRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: "presenced",
			Name:      "proxy_registration_retries_total",
			Help:      "Backoff retries performed during proxy registration",
		})
		pr.heartbeats = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "presenced",
			Name:      "proxy_heartbeats_total",
			Help:      "Proxy heartbeat calls by result",
		}, []string{"result"})
		pr.proxyRegistered = prom.NewGauge(prom.GaugeOpts{
			Namespace: "presenced",
			Name:      "proxy_registered",
			Help:      "Whether the relay is currently registered with the server",
		})
		reg.MustRegister(pr.attempts, pr.checkoutDuration, pr.registrations, pr.proxyRetries, pr.heartbeats, pr.proxyRegistered)
	})
	return pr
}

func (p *PrometheusRecorder) IncAttempt(trigger, intent string, result ResultLabel) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(trigger, intent, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveCheckoutDuration(d time.Duration) {
	if p == nil || p.checkoutDuration == nil {
		return
	}
	p.checkoutDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncProxyRegistration(success bool) {
	if p == nil || p.registrations == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.registrations.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncProxyRetry() {
	if p == nil || p.proxyRetries == nil {
		return
	}
	p.proxyRetries.Inc()
}

func (p *PrometheusRecorder) IncHeartbeat(success bool) {
	if p == nil || p.heartbeats == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.heartbeats.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) SetProxyRegistered(registered bool) {
	if p == nil || p.proxyRegistered == nil {
		return
	}
	if registered {
		p.proxyRegistered.Set(1)
	} else {
		p.proxyRegistered.Set(0)
	}
}
