package ratelimit

import (
	"testing"
	"time"
)

func TestFallbackLimiter_AdmitsUpToCeiling(t *testing.T) {
	f := NewFallbackLimiter(time.Minute)

	for i := 0; i < 3; i++ {
		d := f.Check("caller-1", 3)
		if !d.Allowed {
			t.Fatalf("request %d: Allowed = false, want true", i+1)
		}
	}

	d := f.Check("caller-1", 3)
	if d.Allowed {
		t.Error("4th request within ceiling 3: Allowed = true, want false")
	}
}

func TestFallbackLimiter_SeparateCallersIndependent(t *testing.T) {
	f := NewFallbackLimiter(time.Minute)

	f.Check("a", 1)
	d := f.Check("b", 1)
	if !d.Allowed {
		t.Error("caller b should not be affected by caller a's usage")
	}
}

func TestFallbackLimiter_WindowExpiry(t *testing.T) {
	f := NewFallbackLimiter(10 * time.Millisecond)

	d := f.Check("caller-1", 1)
	if !d.Allowed {
		t.Fatal("first request: Allowed = false, want true")
	}

	d = f.Check("caller-1", 1)
	if d.Allowed {
		t.Fatal("second request before window expiry: Allowed = true, want false")
	}

	time.Sleep(20 * time.Millisecond)

	d = f.Check("caller-1", 1)
	if !d.Allowed {
		t.Error("request after window expiry: Allowed = false, want true")
	}
}

func TestFallbackLimiter_SweepEvictsExpiredCallers(t *testing.T) {
	f := NewFallbackLimiter(10 * time.Millisecond)
	f.Check("caller-1", 5)

	time.Sleep(20 * time.Millisecond)
	f.Sweep()

	f.mu.Lock()
	_, exists := f.byKey["caller-1"]
	f.mu.Unlock()

	if exists {
		t.Error("Sweep() did not evict caller with no timestamps in-window")
	}
}
