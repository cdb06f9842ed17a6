package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

const defaultWindowSampleLimit = 10

type TrendResult struct {
	Parameter     model.Parameter
	HasTrend      bool
	Direction     model.TrendDirection
	ChangeRate    float64
	PreviousValue float64
	CurrentValue  float64
	Samples       int
	WindowMinutes int
}

// TrendAnalyzer compares a value against the earliest sample inside the trend window.
type TrendAnalyzer struct {
	readings storage.ReadingStore
	limit    int
	// readings stamped slightly ahead of the server clock still count
	lookahead time.Duration
	now       func() time.Time
}

func NewTrendAnalyzer(readings storage.ReadingStore, limit int, lookahead time.Duration) *TrendAnalyzer {
	if limit <= 0 {
		limit = defaultWindowSampleLimit
	}
	return &TrendAnalyzer{readings: readings, limit: limit, lookahead: lookahead, now: time.Now}
}

func (a *TrendAnalyzer) Analyze(ctx context.Context, deviceID string, p model.Parameter, current float64, cfg model.TrendConfig) (TrendResult, error) {
	res := TrendResult{Parameter: p, CurrentValue: current, Direction: model.TrendStable, WindowMinutes: cfg.TimeWindowMinutes}
	if !cfg.Enabled || a.readings == nil {
		return res, nil
	}
	now := a.now().UTC()
	samples, err := a.readings.ReadingsInWindow(ctx, deviceID, now.Add(-cfg.Window()), now.Add(a.lookahead), a.limit)
	if err != nil {
		return res, fmt.Errorf("read trend window for %s: %w", deviceID, err)
	}
	res.Samples = len(samples)
	if len(samples) < 2 {
		return res, nil
	}
	earliest := samples[0].Values.Get(p)
	res.PreviousValue = earliest
	rate, ok := ChangeRate(earliest, current)
	if !ok {
		return res, nil
	}
	if math.Abs(rate) < cfg.ThresholdPercentage {
		return res, nil
	}
	res.HasTrend = true
	res.ChangeRate = math.Abs(rate)
	if rate > 0 {
		res.Direction = model.TrendIncreasing
	} else {
		res.Direction = model.TrendDecreasing
	}
	return res, nil
}

// ChangeRate returns the signed percentage change from earliest to current. It reports
// false when earliest is zero or the result is not finite.
func ChangeRate(earliest, current float64) (float64, bool) {
	if earliest == 0 {
		return 0, false
	}
	rate := (current - earliest) * 100 / earliest
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, false
	}
	return rate, true
}

// TrendSeverity maps an absolute change rate onto a severity.
func TrendSeverity(changeRate float64) model.Severity {
	switch {
	case changeRate > 30:
		return model.SeverityCritical
	case changeRate > 20:
		return model.SeverityWarning
	default:
		return model.SeverityAdvisory
	}
}
