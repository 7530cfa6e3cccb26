package lifecycle

import (
	"sync"
	"testing"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetShuttingDown_Toggle(t *testing.T) {
	defer SetShuttingDown(false)
	for _, want := range []bool{true, false, true} {
		SetShuttingDown(want)
		if got := IsShuttingDown(); got != want {
			t.Errorf("IsShuttingDown() = %v after SetShuttingDown(%v)", got, want)
		}
	}
}

// TestShuttingDown_ConcurrentReaders runs readiness-style reads against a
// shutdown write; run with -race.
func TestShuttingDown_ConcurrentReaders(t *testing.T) {
	defer SetShuttingDown(false)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = IsShuttingDown()
		}()
	}
	SetShuttingDown(true)
	wg.Wait()
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true)")
	}
}
