package cost

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

type memStore struct {
	counters map[string][2]float64
}

func newMemStore() *memStore {
	return &memStore{counters: make(map[string][2]float64)}
}

func (s *memStore) SaveCostCounter(ctx context.Context, period string, calls int, cost float64) error {
	s.counters[period] = [2]float64{float64(calls), cost}
	return nil
}

func (s *memStore) LoadCostCounter(ctx context.Context, period string) (int, float64, bool, error) {
	v, ok := s.counters[period]
	if !ok {
		return 0, 0, false, nil
	}
	return int(v[0]), v[1], true, nil
}

func TestCallCeilingPerScan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerScan = 3
	c := New(cfg, nil)

	for i := 0; i < 3; i++ {
		ok, reason := c.CanMakeCall(0.01)
		if !ok {
			t.Fatalf("call %d denied early: %s", i+1, reason)
		}
		c.RecordCall(1000, 500, nil)
	}

	// Recording the ceiling-hitting call also latches degradation.
	if ok, _ := c.CanMakeCall(0.01); ok {
		t.Fatal("fourth call allowed past a 3-call ceiling")
	}

	c.ResetScanStats()
	if ok, reason := c.CanMakeCall(0.01); !ok {
		t.Errorf("call denied after scan reset: %s", reason)
	}
}

func TestCeilingDenialReason(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerScan = 3
	c := New(cfg, nil)
	c.scanCalls = 3

	ok, reason := c.CanMakeCall(0.01)
	if ok {
		t.Fatal("call allowed at the scan ceiling")
	}
	if !strings.Contains(reason, "scan call ceiling reached (3)") {
		t.Errorf("got denial reason %q", reason)
	}
}

func TestMonthlyCallCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerMonth = 2
	c := New(cfg, nil)

	for i := 0; i < 2; i++ {
		if ok, reason := c.CanMakeCall(0.01); !ok {
			t.Fatalf("call %d denied early: %s", i+1, reason)
		}
		c.RecordCall(1000, 500, nil)
	}

	// The month counter survives a scan reset, so a new scan stays denied.
	c.ResetScanStats()
	ok, reason := c.CanMakeCall(0.01)
	if ok {
		t.Fatal("call allowed past a 2-call monthly ceiling")
	}
	if !strings.Contains(reason, "monthly call ceiling reached (2)") {
		t.Errorf("got denial reason %q", reason)
	}
}

func TestDegradationLatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeFallback
	cfg.MaxCostPerScan = 1.0
	c := New(cfg, nil)

	over := 1.5
	c.RecordCall(0, 0, &over)

	if !c.Degraded() {
		t.Fatal("controller did not degrade after blowing the scan budget")
	}
	if ok, reason := c.CanMakeCall(0.01); ok || !strings.Contains(reason, "degraded") {
		t.Errorf("degraded controller allowed a call (reason %q)", reason)
	}

	// Further recorded calls never un-set the latch.
	small := 0.01
	c.RecordCall(0, 0, &small)
	if !c.Degraded() {
		t.Error("a later RecordCall cleared the degradation latch")
	}

	// The latch clears only on a new scan window.
	c.ResetScanStats()
	if c.Degraded() {
		t.Error("degradation survived a scan reset")
	}
	if ok, _ := c.CanMakeCall(0.01); !ok {
		t.Error("call denied after the latch was cleared")
	}
}

func TestAlertLadder(t *testing.T) {
	tests := []struct {
		name string
		cost float64
		want AlertLevel
	}{
		{name: "below threshold", cost: 0.5, want: AlertNormal},
		{name: "warning at threshold", cost: 0.85, want: AlertWarning},
		{name: "critical near budget", cost: 0.96, want: AlertCritical},
		{name: "exceeded", cost: 1.2, want: AlertExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxCostPerScan = 1.0
			c := New(cfg, nil)

			spent := tt.cost
			c.RecordCall(0, 0, &spent)
			if got := c.UsageReport().Alert; got != tt.want {
				t.Errorf("alert after $%.2f = %s, want %s", tt.cost, got, tt.want)
			}
		})
	}
}

func TestRulesOnlyAndUnlimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeRulesOnly
	c := New(cfg, nil)
	if ok, reason := c.CanMakeCall(0.01); ok || !strings.Contains(reason, "rules-only") {
		t.Errorf("rules-only mode allowed a call (reason %q)", reason)
	}

	cfg = DefaultConfig()
	cfg.Mode = ModeUnlimited
	cfg.MaxCallsPerScan = 1
	c = New(cfg, nil)
	c.RecordCall(1000, 500, nil)
	c.RecordCall(1000, 500, nil)
	if ok, reason := c.CanMakeCall(0.01); !ok {
		t.Errorf("unlimited mode denied a call: %s", reason)
	}
}

func TestComputeCost(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)
	c.RecordCall(1_000_000, 1_000_000, nil)

	want := cfg.InputCostPerMTok + cfg.OutputCostPerMTok
	if got := c.UsageReport().ScanCost; math.Abs(got-want) > 1e-9 {
		t.Errorf("cost for 1M+1M tokens = %v, want %v", got, want)
	}
}

func TestWindowRotation(t *testing.T) {
	c := New(DefaultConfig(), nil)
	current := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	c.rotate(current)

	c.RecordCall(1000, 500, nil)
	snap := c.UsageReport()
	if snap.DayCalls != 1 || snap.MonthCalls != 1 {
		t.Fatalf("got day=%d month=%d calls, want 1/1", snap.DayCalls, snap.MonthCalls)
	}

	// Crossing midnight into February resets both windows but not the
	// scan counters.
	current = time.Date(2026, 2, 1, 0, 30, 0, 0, time.UTC)
	snap = c.UsageReport()
	if snap.DayCalls != 0 || snap.MonthCalls != 0 {
		t.Errorf("got day=%d month=%d calls after rotation, want 0/0", snap.DayCalls, snap.MonthCalls)
	}
	if snap.ScanCalls != 1 {
		t.Errorf("scan counter was reset by window rotation: %d", snap.ScanCalls)
	}
}

func TestCounterPersistence(t *testing.T) {
	store := newMemStore()
	c := New(DefaultConfig(), store)
	c.RecordCall(2000, 1000, nil)
	c.RecordCall(2000, 1000, nil)

	// A second controller over the same store inherits the day and month
	// windows but starts a fresh scan.
	c2 := New(DefaultConfig(), store)
	snap := c2.UsageReport()
	if snap.DayCalls != 2 || snap.MonthCalls != 2 {
		t.Errorf("got day=%d month=%d calls after reload, want 2/2", snap.DayCalls, snap.MonthCalls)
	}
	if snap.ScanCalls != 0 {
		t.Errorf("scan counter leaked across controllers: %d", snap.ScanCalls)
	}
}
