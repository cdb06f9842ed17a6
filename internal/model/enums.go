package model

import (
	"fmt"
	"strings"
)

type Parameter string

const (
	ParameterTDS       Parameter = "tds"
	ParameterPH        Parameter = "ph"
	ParameterTurbidity Parameter = "turbidity"
)

// Parameters lists every monitored parameter in evaluation order.
var Parameters = []Parameter{ParameterTDS, ParameterPH, ParameterTurbidity}

func (p Parameter) Valid() bool {
	switch p {
	case ParameterTDS, ParameterPH, ParameterTurbidity:
		return true
	}
	return false
}

// Label is the human-readable name used in notifications.
func (p Parameter) Label() string {
	switch p {
	case ParameterTDS:
		return "TDS"
	case ParameterPH:
		return "pH"
	case ParameterTurbidity:
		return "Turbidity"
	}
	return string(p)
}

func ParseParameter(s string) (Parameter, error) {
	p := Parameter(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown parameter %q", s)
	}
	return p, nil
}

func (p *Parameter) UnmarshalText(text []byte) error {
	v, err := ParseParameter(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type Severity string

const (
	SeverityAdvisory Severity = "advisory"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityAdvisory, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

func (s Severity) Rank() int {
	switch s {
	case SeverityAdvisory:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return v, nil
}

// UnmarshalText accepts any letter case, so "Critical" and "critical" decode alike.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return v, nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type AlertType string

const (
	AlertTypeThreshold AlertType = "threshold"
	AlertTypeTrend     AlertType = "trend"
)

func (t AlertType) Valid() bool {
	return t == AlertTypeThreshold || t == AlertTypeTrend
}

type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceUnknown     DeviceStatus = "unknown"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceOnline, DeviceOffline, DeviceMaintenance, DeviceUnknown:
		return true
	}
	return false
}

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)
