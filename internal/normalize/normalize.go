package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"aquaguard/internal/model"
)

var ErrMissingField = errors.New("missing field")

// Fields is a reading as extracted from a wire payload, before any type conversion.
type Fields struct {
	DeviceID  string
	TDS       string
	PH        string
	Turbidity string
	Timestamp string
	Extras    map[string]string
	Raw       string
}

// Normalize converts extracted fields into a Reading. A missing timestamp is left zero so
// the engine stamps the reading with server time.
func Normalize(fields Fields, loc *time.Location) (model.Reading, error) {
	device := strings.TrimSpace(fields.DeviceID)
	if device == "" {
		return model.Reading{}, fmt.Errorf("deviceId: %w", ErrMissingField)
	}
	if loc == nil {
		loc = time.UTC
	}

	var values model.ParameterValues
	var err error
	if values.TDS, err = parseValue(model.ParameterTDS, fields.TDS); err != nil {
		return model.Reading{}, err
	}
	if values.PH, err = parseValue(model.ParameterPH, fields.PH); err != nil {
		return model.Reading{}, err
	}
	if values.Turbidity, err = parseValue(model.ParameterTurbidity, fields.Turbidity); err != nil {
		return model.Reading{}, err
	}

	var ts time.Time
	if strings.TrimSpace(fields.Timestamp) != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Reading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	return model.Reading{DeviceID: device, Values: values, Timestamp: ts}, nil
}

func parseValue(p model.Parameter, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s: %w", p, ErrMissingField)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: value %q is not finite", p, raw)
	}
	return v, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts epoch milliseconds (the device default), epoch seconds, and
// RFC 3339 or SQL-style layouts. Layouts without a zone are read in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

// parseUnix treats 13+ digit values as milliseconds.
func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
