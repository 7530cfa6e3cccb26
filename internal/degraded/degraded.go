// Package degraded decides whether the service is answering mostly from its
// fallback path (stored readings or nothing at all) rather than live providers.
package degraded

import (
	"time"

	"github.com/kjstillabower/weather-failover/internal/traffic"
)

// Status is the serving state reported by readiness.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Policy configures the fallback-share threshold.
type Policy struct {
	Window       time.Duration // 0 means 60s
	ThresholdPct int           // 0 means 50
	MinRequests  int           // below this many served requests the status is always healthy
}

// Report is the outcome of one evaluation.
type Report struct {
	Status      Status  `json:"status"`
	Served      int     `json:"served"`
	Fallback    int     `json:"fallback"`
	FallbackPct float64 `json:"fallbackPct"`
}

func (p Policy) withDefaults() Policy {
	if p.Window <= 0 {
		p.Window = 60 * time.Second
	}
	if p.ThresholdPct <= 0 {
		p.ThresholdPct = 50
	}
	if p.MinRequests < 1 {
		p.MinRequests = 1
	}
	return p
}

// Evaluate applies p to c.
func Evaluate(c traffic.Counts, p Policy) Report {
	p = p.withDefaults()
	r := Report{Status: StatusHealthy, Served: c.Served(), Fallback: c.Fallback()}
	if r.Served == 0 {
		return r
	}
	r.FallbackPct = float64(r.Fallback) * 100 / float64(r.Served)
	if r.Served >= p.MinRequests && r.Fallback*100 >= p.ThresholdPct*r.Served {
		r.Status = StatusDegraded
	}
	return r
}

// Current evaluates p against the process-wide traffic window.
func Current(p Policy) Report {
	p = p.withDefaults()
	return Evaluate(traffic.Snapshot(p.Window), p)
}
