package model

func bound(v float64) *float64 {
	return &v
}

// DefaultEvaluationConfig returns the built-in thresholds used when no override document exists.
func DefaultEvaluationConfig() EvaluationConfig {
	return EvaluationConfig{
		Thresholds: map[Parameter]ThresholdConfig{
			ParameterTDS: {
				WarningMin:  bound(0),
				WarningMax:  bound(500),
				CriticalMin: bound(0),
				CriticalMax: bound(1000),
				Unit:        "ppm",
			},
			ParameterPH: {
				WarningMin:  bound(6.0),
				WarningMax:  bound(8.5),
				CriticalMin: bound(5.5),
				CriticalMax: bound(9.0),
				Unit:        "",
			},
			ParameterTurbidity: {
				WarningMin:  bound(0),
				WarningMax:  bound(5),
				CriticalMin: bound(0),
				CriticalMax: bound(10),
				Unit:        "NTU",
			},
		},
		Trend: TrendConfig{
			Enabled:             true,
			ThresholdPercentage: 15,
			TimeWindowMinutes:   30,
		},
	}
}

// ThresholdDocument is the optional override stored in the settings store. Parameters that are
// absent, and a nil Trend, keep the underlying configuration.
type ThresholdDocument struct {
	Thresholds map[Parameter]ThresholdConfig `json:"thresholds,omitempty"`
	Trend      *TrendConfig                  `json:"trend,omitempty"`
}

func (c EvaluationConfig) Apply(doc ThresholdDocument) EvaluationConfig {
	out := EvaluationConfig{
		Thresholds: make(map[Parameter]ThresholdConfig, len(Parameters)),
		Trend:      c.Trend,
	}
	for p, tc := range c.Thresholds {
		out.Thresholds[p] = tc
	}
	for p, tc := range doc.Thresholds {
		if p.Valid() {
			out.Thresholds[p] = tc
		}
	}
	if doc.Trend != nil {
		out.Trend = *doc.Trend
	}
	return out
}
