// Package rtt tracks a per-connection round-trip-time estimate so the
// router can apply a half-RTT correction to client-pushed sync timestamps.
// The exponential-weighted-average shape, including the 0.85 weighting
// factor, is grounded on the niketsu reference's Latency/updateRtt
// (other_examples/036c40b3_sevenautumns-niketsu__server-src-communication.go.go):
// each new sample is blended into the running estimate rather than
// replacing it outright, so one slow ping doesn't whipsaw the correction.
package rtt

import (
	"sync"
	"time"
)

// weightingFactor favors the existing estimate over the newest sample,
// matching niketsu's WEIGHTING_FACTOR.
const weightingFactor = 0.85

// Tracker holds one connection's rolling RTT estimate.
type Tracker struct {
	mu  sync.Mutex
	rtt time.Duration
}

// NewTracker returns a Tracker with a zero initial estimate, so HalfRTT is
// 0 until the first sample arrives.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update blends a newly measured round trip into the running estimate.
func (t *Tracker) Update(sample time.Duration) {
	if sample < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rtt == 0 {
		t.rtt = sample
		return
	}
	t.rtt = time.Duration(float64(t.rtt)*weightingFactor + float64(sample)*(1-weightingFactor))
}

// Estimate returns the current round-trip-time estimate.
func (t *Tracker) Estimate() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rtt
}

// HalfRTT returns half the current estimate, the one-way correction
// applied to a client-pushed timestamp.
func (t *Tracker) HalfRTT() time.Duration {
	return t.Estimate() / 2
}
