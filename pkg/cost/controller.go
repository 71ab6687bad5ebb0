package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sweepguard/sweepguard/internal/utils"
)

// Mode selects how strictly AI spending is governed.
type Mode string

const (
	// ModeUnlimited never denies a call.
	ModeUnlimited Mode = "unlimited"
	// ModeBudget enforces the configured ceilings.
	ModeBudget Mode = "budget"
	// ModeFallback enforces ceilings and degrades to rules-only
	// classification once any ceiling is breached.
	ModeFallback Mode = "fallback"
	// ModeRulesOnly disables AI calls entirely.
	ModeRulesOnly Mode = "rules_only"
)

// AlertLevel tracks how close the current scan is to its budget.
type AlertLevel string

const (
	AlertNormal   AlertLevel = "normal"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertExceeded AlertLevel = "exceeded"
)

// Config holds the spending ceilings and token rates.
type Config struct {
	Mode Mode

	MaxCallsPerScan  int
	MaxCostPerScan   float64
	MaxCallsPerDay   int
	MaxCostPerDay    float64
	MaxCallsPerMonth int
	MaxCostPerMonth  float64

	// USD per one million tokens.
	InputCostPerMTok  float64
	OutputCostPerMTok float64

	// AlertThreshold is the per-scan budget usage ratio that raises a
	// warning.
	AlertThreshold float64
}

// DefaultConfig returns the stock ceilings.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeBudget,
		MaxCallsPerScan:   100,
		MaxCostPerScan:    2.0,
		MaxCallsPerDay:    1000,
		MaxCostPerDay:     10.0,
		MaxCallsPerMonth:  10000,
		MaxCostPerMonth:   50.0,
		InputCostPerMTok:  0.14,
		OutputCostPerMTok: 0.28,
		AlertThreshold:    0.8,
	}
}

// Store persists day and month counters across runs. Persistence is
// best-effort; failures are logged and never block a call.
type Store interface {
	SaveCostCounter(ctx context.Context, period string, calls int, cost float64) error
	LoadCostCounter(ctx context.Context, period string) (calls int, cost float64, ok bool, err error)
}

// Snapshot is a point-in-time view of the controller state.
type Snapshot struct {
	Mode Mode

	ScanCalls  int
	ScanCost   float64
	DayCalls   int
	DayCost    float64
	MonthCalls int
	MonthCost  float64

	InputTokens  int64
	OutputTokens int64

	Degraded bool
	Alert    AlertLevel
}

// Controller tracks AI call spending across scan, day and month windows
// and gates new calls against the configured ceilings. All counters sit
// behind one mutex; the controller is shared by concurrent
// classification workers.
type Controller struct {
	mu  sync.Mutex
	cfg Config

	scanCalls int
	scanCost  float64

	dayKey   string
	dayCalls int
	dayCost  float64

	monthKey   string
	monthCalls int
	monthCost  float64

	inputTokens  int64
	outputTokens int64

	degraded bool
	alert    AlertLevel

	store Store
	now   func() time.Time
}

// New builds a controller, reloading day and month counters from the
// store when one is given.
func New(cfg Config, store Store) *Controller {
	if cfg.Mode == "" {
		cfg.Mode = ModeBudget
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 0.8
	}
	c := &Controller{
		cfg:   cfg,
		alert: AlertNormal,
		store: store,
		now:   time.Now,
	}
	c.rotate(c.now())
	c.reload()
	return c
}

// CanMakeCall reports whether one more AI call fits the ceilings, and if
// not, why.
func (c *Controller) CanMakeCall(estimatedCost float64) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotate(c.now())

	if c.cfg.Mode == ModeRulesOnly {
		return false, "AI disabled (rules-only mode)"
	}
	if c.degraded {
		return false, "degraded to rule-only classification after a budget breach"
	}
	if c.cfg.Mode == ModeUnlimited {
		return true, ""
	}

	if c.cfg.MaxCallsPerScan > 0 && c.scanCalls >= c.cfg.MaxCallsPerScan {
		return false, fmt.Sprintf("scan call ceiling reached (%d)", c.cfg.MaxCallsPerScan)
	}
	if c.cfg.MaxCostPerScan > 0 && c.scanCost+estimatedCost > c.cfg.MaxCostPerScan {
		return false, fmt.Sprintf("scan budget reached ($%.2f)", c.cfg.MaxCostPerScan)
	}
	if c.cfg.MaxCallsPerDay > 0 && c.dayCalls >= c.cfg.MaxCallsPerDay {
		return false, fmt.Sprintf("daily call ceiling reached (%d)", c.cfg.MaxCallsPerDay)
	}
	if c.cfg.MaxCostPerDay > 0 && c.dayCost+estimatedCost > c.cfg.MaxCostPerDay {
		return false, fmt.Sprintf("daily budget reached ($%.2f)", c.cfg.MaxCostPerDay)
	}
	if c.cfg.MaxCallsPerMonth > 0 && c.monthCalls >= c.cfg.MaxCallsPerMonth {
		return false, fmt.Sprintf("monthly call ceiling reached (%d)", c.cfg.MaxCallsPerMonth)
	}
	if c.cfg.MaxCostPerMonth > 0 && c.monthCost+estimatedCost > c.cfg.MaxCostPerMonth {
		return false, fmt.Sprintf("monthly budget reached ($%.2f)", c.cfg.MaxCostPerMonth)
	}
	return true, ""
}

// RecordCall books a completed AI call. When actualCost is nil the cost
// is derived from the configured per-token rates.
func (c *Controller) RecordCall(inputTokens, outputTokens int, actualCost *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotate(c.now())

	callCost := c.computeCost(inputTokens, outputTokens)
	if actualCost != nil {
		callCost = *actualCost
	}

	c.scanCalls++
	c.scanCost += callCost
	c.dayCalls++
	c.dayCost += callCost
	c.monthCalls++
	c.monthCost += callCost
	c.inputTokens += int64(inputTokens)
	c.outputTokens += int64(outputTokens)

	c.checkLimits()
	c.persist()
}

// ResetScanStats clears the per-scan window, the degradation latch and
// the alert level. Called at the start of every scan.
func (c *Controller) ResetScanStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanCalls = 0
	c.scanCost = 0
	c.degraded = false
	c.alert = AlertNormal
}

// UsageReport returns the current counters.
func (c *Controller) UsageReport() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotate(c.now())
	return Snapshot{
		Mode:         c.cfg.Mode,
		ScanCalls:    c.scanCalls,
		ScanCost:     c.scanCost,
		DayCalls:     c.dayCalls,
		DayCost:      c.dayCost,
		MonthCalls:   c.monthCalls,
		MonthCost:    c.monthCost,
		InputTokens:  c.inputTokens,
		OutputTokens: c.outputTokens,
		Degraded:     c.degraded,
		Alert:        c.alert,
	}
}

// Degraded reports whether the controller has latched into rule-only
// classification.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Controller) computeCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*c.cfg.InputCostPerMTok +
		float64(outputTokens)/1e6*c.cfg.OutputCostPerMTok
}

// checkLimits re-evaluates ceilings after a recorded call. The
// degradation latch flips at most once per scan window.
func (c *Controller) checkLimits() {
	breached := false
	switch {
	case c.cfg.MaxCallsPerScan > 0 && c.scanCalls >= c.cfg.MaxCallsPerScan:
		breached = true
	case c.cfg.MaxCostPerScan > 0 && c.scanCost >= c.cfg.MaxCostPerScan:
		breached = true
	case c.cfg.MaxCallsPerDay > 0 && c.dayCalls >= c.cfg.MaxCallsPerDay:
		breached = true
	case c.cfg.MaxCostPerDay > 0 && c.dayCost >= c.cfg.MaxCostPerDay:
		breached = true
	case c.cfg.MaxCallsPerMonth > 0 && c.monthCalls >= c.cfg.MaxCallsPerMonth:
		breached = true
	case c.cfg.MaxCostPerMonth > 0 && c.monthCost >= c.cfg.MaxCostPerMonth:
		breached = true
	}

	if breached && !c.degraded && (c.cfg.Mode == ModeBudget || c.cfg.Mode == ModeFallback) {
		c.degraded = true
		utils.Log.Warnf("cost ceiling reached after %d scan calls ($%.4f); degrading to rule-only classification", c.scanCalls, c.scanCost)
	}

	if c.cfg.MaxCostPerScan > 0 {
		ratio := c.scanCost / c.cfg.MaxCostPerScan
		switch {
		case ratio >= 1.0:
			c.alert = AlertExceeded
		case ratio >= 0.95:
			c.alert = AlertCritical
		case ratio >= c.cfg.AlertThreshold:
			c.alert = AlertWarning
		default:
			c.alert = AlertNormal
		}
	}
}

// rotate resets the day and month windows when the wall clock crosses a
// boundary.
func (c *Controller) rotate(now time.Time) {
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")
	if c.dayKey != day {
		c.dayKey = day
		c.dayCalls = 0
		c.dayCost = 0
	}
	if c.monthKey != month {
		c.monthKey = month
		c.monthCalls = 0
		c.monthCost = 0
	}
}

func (c *Controller) reload() {
	if c.store == nil {
		return
	}
	ctx := context.Background()
	if calls, costVal, ok, err := c.store.LoadCostCounter(ctx, "day:"+c.dayKey); err != nil {
		utils.Log.Warnf("loading daily cost counter failed: %v", err)
	} else if ok {
		c.dayCalls = calls
		c.dayCost = costVal
	}
	if calls, costVal, ok, err := c.store.LoadCostCounter(ctx, "month:"+c.monthKey); err != nil {
		utils.Log.Warnf("loading monthly cost counter failed: %v", err)
	} else if ok {
		c.monthCalls = calls
		c.monthCost = costVal
	}
}

func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	ctx := context.Background()
	if err := c.store.SaveCostCounter(ctx, "day:"+c.dayKey, c.dayCalls, c.dayCost); err != nil {
		utils.Log.Warnf("saving daily cost counter failed: %v", err)
	}
	if err := c.store.SaveCostCounter(ctx, "month:"+c.monthKey, c.monthCalls, c.monthCost); err != nil {
		utils.Log.Warnf("saving monthly cost counter failed: %v", err)
	}
}
