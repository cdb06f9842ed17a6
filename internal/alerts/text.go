package alerts

import (
	"fmt"
	"strconv"

	"aquaguard/internal/engine"
	"aquaguard/internal/model"
)

func formatValue(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if unit == "" {
		return s
	}
	return s + " " + unit
}

func severityWord(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "critical"
	case model.SeverityWarning:
		return "warning"
	case model.SeverityAdvisory:
		return "advisory"
	}
	return string(s)
}

func thresholdMessage(deviceName string, res engine.ThresholdResult) string {
	side := "above"
	limit := "maximum"
	if res.Bound == engine.BoundMin {
		side = "below"
		limit = "minimum"
	}
	return fmt.Sprintf("%s at %s is %s, %s the %s %s of %s.",
		res.Parameter.Label(),
		deviceName,
		formatValue(res.Value, res.Unit),
		side,
		severityWord(res.Severity),
		limit,
		formatValue(res.Threshold, res.Unit),
	)
}

func trendMessage(deviceName string, res engine.TrendResult) string {
	return fmt.Sprintf("%s at %s is %s rapidly: %.1f%% change within %d minutes (from %s to %s).",
		res.Parameter.Label(),
		deviceName,
		res.Direction,
		res.ChangeRate,
		res.WindowMinutes,
		formatValue(res.PreviousValue, ""),
		formatValue(res.CurrentValue, ""),
	)
}

// RecommendedAction returns the operator guidance for an alert kind.
func RecommendedAction(alertType model.AlertType, severity model.Severity, direction model.TrendDirection) string {
	if alertType == model.AlertTypeTrend {
		verb := "change"
		switch direction {
		case model.TrendIncreasing:
			verb = "rise"
		case model.TrendDecreasing:
			verb = "drop"
		}
		return fmt.Sprintf("Investigate the cause of the rapid %s and check the sensor calibration.", verb)
	}
	switch severity {
	case model.SeverityCritical:
		return "Investigate immediately. Consider shutting down the affected supply until the cause is found."
	case model.SeverityWarning:
		return "Monitor closely and schedule an on-site inspection within 24 hours."
	case model.SeverityAdvisory:
		return "Note for the next regular maintenance visit."
	}
	return "Review the reading."
}
