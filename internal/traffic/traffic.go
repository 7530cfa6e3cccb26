// Package traffic keeps a sliding window of how weather requests were answered.
package traffic

import (
	"sync"
	"time"
)

// Outcome is how a single weather request was answered.
type Outcome int

const (
	Live        Outcome = iota // fetched from a provider
	Cached                     // served from the reading cache
	Stale                      // every provider failed; served the stored reading
	Unavailable                // no provider and no stored reading
	Denied                     // rejected by the rate limiter
	numOutcomes
)

// String returns the metric-style label for o.
func (o Outcome) String() string {
	switch o {
	case Live:
		return "live"
	case Cached:
		return "cache"
	case Stale:
		return "stale"
	case Unavailable:
		return "unavailable"
	case Denied:
		return "denied"
	}
	return "unknown"
}

// DefaultMaxAge bounds how long outcomes are retained.
const DefaultMaxAge = 5 * time.Minute

var defaultTracker = NewTracker(DefaultMaxAge, nil)

// Record records o on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// Snapshot returns the process-wide counts within window.
func Snapshot(window time.Duration) Counts {
	return defaultTracker.Counts(window)
}

// Reset clears the process-wide tracker. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Counts holds outcome totals over a window.
type Counts struct {
	Live        int
	Cached      int
	Stale       int
	Unavailable int
	Denied      int
}

// Served is the number of requests that reached the service layer (denials excluded).
func (c Counts) Served() int {
	return c.Live + c.Cached + c.Stale + c.Unavailable
}

// Fallback is the number of requests answered without a live or cached reading.
func (c Counts) Fallback() int {
	return c.Stale + c.Unavailable
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker maintains a time-ordered window of outcomes.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	maxAge time.Duration
	events []event
}

// NewTracker returns a Tracker retaining outcomes for maxAge. now may be nil.
func NewTracker(maxAge time.Duration, now func() time.Time) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now, maxAge: maxAge}
}

// Record appends o at the current time and prunes entries older than maxAge.
func (t *Tracker) Record(o Outcome) {
	if o < 0 || o >= numOutcomes {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Counts returns totals for outcomes recorded within window of now.
func (t *Tracker) Counts(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)

	var c Counts
	// Events are appended in time order, so walk back until the cutoff.
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.outcome {
		case Live:
			c.Live++
		case Cached:
			c.Cached++
		case Stale:
			c.Stale++
		case Unavailable:
			c.Unavailable++
		case Denied:
			c.Denied++
		}
	}
	return c
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
