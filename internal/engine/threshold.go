package engine

import "aquaguard/internal/model"

// Bound names which side of a band was crossed.
type Bound string

const (
	BoundMax Bound = "max"
	BoundMin Bound = "min"
)

type ThresholdResult struct {
	Parameter model.Parameter
	Value     float64
	Exceeded  bool
	Severity  model.Severity
	Threshold float64
	Bound     Bound
	Unit      string
}

// EvaluateThreshold checks critical bounds before warning bounds and, within a tier,
// the max bound before the min bound. Only the first violated bound is reported.
func EvaluateThreshold(p model.Parameter, value float64, cfg model.ThresholdConfig) ThresholdResult {
	res := ThresholdResult{Parameter: p, Value: value, Unit: cfg.Unit}
	checks := []struct {
		limit    *float64
		bound    Bound
		severity model.Severity
	}{
		{cfg.CriticalMax, BoundMax, model.SeverityCritical},
		{cfg.CriticalMin, BoundMin, model.SeverityCritical},
		{cfg.WarningMax, BoundMax, model.SeverityWarning},
		{cfg.WarningMin, BoundMin, model.SeverityWarning},
	}
	for _, c := range checks {
		if c.limit == nil {
			continue
		}
		if (c.bound == BoundMax && value > *c.limit) || (c.bound == BoundMin && value < *c.limit) {
			res.Exceeded = true
			res.Severity = c.severity
			res.Threshold = *c.limit
			res.Bound = c.bound
			return res
		}
	}
	return res
}
