package degraded

import (
	"testing"
	"time"

	"github.com/kjstillabower/weather-failover/internal/traffic"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		counts traffic.Counts
		policy Policy
		want   Status
		pct    float64
	}{
		{"no traffic", traffic.Counts{}, Policy{}, StatusHealthy, 0},
		{"all live", traffic.Counts{Live: 10}, Policy{}, StatusHealthy, 0},
		{"cache hits are healthy", traffic.Counts{Cached: 8, Live: 2}, Policy{}, StatusHealthy, 0},
		{"half stale hits default threshold", traffic.Counts{Live: 5, Stale: 5}, Policy{}, StatusDegraded, 50},
		{"unavailable counts as fallback", traffic.Counts{Live: 1, Unavailable: 3}, Policy{}, StatusDegraded, 75},
		{"below custom threshold", traffic.Counts{Live: 8, Stale: 2}, Policy{ThresholdPct: 30}, StatusHealthy, 20},
		{"denials ignored", traffic.Counts{Live: 4, Denied: 100}, Policy{}, StatusHealthy, 0},
		{"min requests not reached", traffic.Counts{Stale: 2}, Policy{MinRequests: 5}, StatusHealthy, 100},
		{"min requests reached", traffic.Counts{Stale: 5}, Policy{MinRequests: 5}, StatusDegraded, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.counts, tt.policy)
			if got.Status != tt.want {
				t.Errorf("Status = %s, want %s (%+v)", got.Status, tt.want, got)
			}
			if got.FallbackPct != tt.pct {
				t.Errorf("FallbackPct = %v, want %v", got.FallbackPct, tt.pct)
			}
		})
	}
}

func TestCurrent_UsesProcessWindow(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)

	traffic.Record(traffic.Stale)
	traffic.Record(traffic.Unavailable)
	traffic.Record(traffic.Live)

	got := Current(Policy{Window: time.Minute})
	if got.Status != StatusDegraded || got.Served != 3 || got.Fallback != 2 {
		t.Errorf("Current() = %+v, want degraded with 2 of 3 fallback", got)
	}
}
