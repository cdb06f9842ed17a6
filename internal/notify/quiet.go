package notify

import (
	"strconv"
	"strings"
	"time"

	"aquaguard/internal/model"
)

// InQuietHours compares only the hour of day. The window is [start, end) and does not
// wrap midnight: a 22:00-06:00 window never matches.
func InQuietHours(p model.RecipientPreference, now time.Time) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	start, ok := parseHour(p.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := parseHour(p.QuietHoursEnd)
	if !ok {
		return false
	}
	hour := now.Hour()
	return start <= hour && hour < end
}

// parseHour accepts "HH", "H:MM" and "HH:MM".
func parseHour(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 24 {
		return 0, false
	}
	return h, true
}
