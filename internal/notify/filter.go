package notify

import (
	"time"

	"aquaguard/internal/model"
)

// Eligible returns the recipients that should hear about alert at now. now must already
// be in the recipients' local time zone.
func Eligible(alert model.Alert, prefs []model.RecipientPreference, now time.Time) []model.RecipientPreference {
	out := make([]model.RecipientPreference, 0, len(prefs))
	for _, p := range prefs {
		if Matches(alert, p, now) {
			out = append(out, p)
		}
	}
	return out
}

func Matches(alert model.Alert, p model.RecipientPreference, now time.Time) bool {
	if !p.NotificationsEnabled {
		return false
	}
	if !containsSeverity(p.Severities, alert.Severity) {
		return false
	}
	if len(p.Parameters) > 0 && !containsParameter(p.Parameters, alert.Parameter) {
		return false
	}
	if len(p.Devices) > 0 && !containsString(p.Devices, alert.DeviceID) {
		return false
	}
	return !InQuietHours(p, now)
}

func containsSeverity(set []model.Severity, s model.Severity) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsParameter(set []model.Parameter, p model.Parameter) bool {
	for _, v := range set {
		if v == p {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
