package engine

import (
	"testing"

	"aquaguard/internal/model"
)

func TestEvaluateThresholdDefaults(t *testing.T) {
	defaults := model.DefaultEvaluationConfig()
	cases := []struct {
		name      string
		param     model.Parameter
		value     float64
		exceeded  bool
		severity  model.Severity
		threshold float64
		bound     Bound
	}{
		{"ph critical high", model.ParameterPH, 9.2, true, model.SeverityCritical, 9.0, BoundMax},
		{"ph warning low", model.ParameterPH, 5.8, true, model.SeverityWarning, 6.0, BoundMin},
		{"ph critical low", model.ParameterPH, 5.0, true, model.SeverityCritical, 5.5, BoundMin},
		{"ph normal", model.ParameterPH, 7.2, false, "", 0, ""},
		{"tds warning", model.ParameterTDS, 600, true, model.SeverityWarning, 500, BoundMax},
		{"tds critical", model.ParameterTDS, 1200, true, model.SeverityCritical, 1000, BoundMax},
		{"tds at warning max", model.ParameterTDS, 500, false, "", 0, ""},
		{"turbidity warning", model.ParameterTurbidity, 7, true, model.SeverityWarning, 5, BoundMax},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := EvaluateThreshold(tc.param, tc.value, defaults.Thresholds[tc.param])
			if res.Exceeded != tc.exceeded {
				t.Fatalf("exceeded = %v, want %v", res.Exceeded, tc.exceeded)
			}
			if !tc.exceeded {
				return
			}
			if res.Severity != tc.severity || res.Threshold != tc.threshold || res.Bound != tc.bound {
				t.Fatalf("got %s/%v/%s, want %s/%v/%s", res.Severity, res.Threshold, res.Bound, tc.severity, tc.threshold, tc.bound)
			}
		})
	}
}

func TestEvaluateThresholdMissingBounds(t *testing.T) {
	max := 10.0
	res := EvaluateThreshold(model.ParameterTDS, -50, model.ThresholdConfig{WarningMax: &max})
	if res.Exceeded {
		t.Fatalf("unset min bound must not be checked")
	}
	res = EvaluateThreshold(model.ParameterTDS, 11, model.ThresholdConfig{WarningMax: &max})
	if !res.Exceeded || res.Severity != model.SeverityWarning {
		t.Fatalf("expected warning, got %+v", res)
	}
}
