package netinfo

import (
	"log/slog"
	"sync"
)

// Observer detects network attachment changes between polls.
//
// It does no scheduling of its own: the daemon drives Poll from a periodic
// job, and the injected emit callback decides what a change means (publish a
// bus event, fire a check-in trigger). Keeping the timer outside makes the
// change detection trivially testable.
type Observer struct {
	prober Prober
	emit   func(previous, current Info)

	mu      sync.Mutex
	known   bool
	current Info
}

// NewObserver creates an observer around the given prober. emit is invoked
// for every detected change; it may be nil.
func NewObserver(prober Prober, emit func(previous, current Info)) *Observer {
	return &Observer{prober: prober, emit: emit}
}

// Current returns the latest observed attachment, probing on first use.
func (o *Observer) Current() (Info, error) {
	o.mu.Lock()
	if o.known {
		info := o.current
		o.mu.Unlock()
		return info, nil
	}
	o.mu.Unlock()
	return o.Poll()
}

// Poll queries the prober and reports a change if the attachment differs
// from the last observation. A probe failure keeps the previous observation.
func (o *Observer) Poll() (Info, error) {
	info, err := o.prober.Current()
	if err != nil {
		slog.Warn("Network probe failed", "error", err)
		o.mu.Lock()
		prev := o.current
		o.mu.Unlock()
		return prev, err
	}

	o.mu.Lock()
	prev := o.current
	first := !o.known
	o.known = true
	o.current = info
	o.mu.Unlock()

	if !first && !prev.Equal(info) && o.emit != nil {
		o.emit(prev, info)
	}
	return info, nil
}
