package model

import (
	"math"
	"time"
)

// ParameterValues holds one sample of every monitored water-quality parameter.
type ParameterValues struct {
	TDS       float64 `json:"tds"`
	PH        float64 `json:"ph"`
	Turbidity float64 `json:"turbidity"`
}

func (v ParameterValues) Get(p Parameter) float64 {
	switch p {
	case ParameterTDS:
		return v.TDS
	case ParameterPH:
		return v.PH
	case ParameterTurbidity:
		return v.Turbidity
	}
	return math.NaN()
}

type Reading struct {
	DeviceID  string          `json:"deviceId"`
	Values    ParameterValues `json:"parameterValues"`
	Timestamp time.Time       `json:"timestamp"`
}

type DeviceInfo struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Location string       `json:"location,omitempty"`
	Status   DeviceStatus `json:"status"`
	LastSeen time.Time    `json:"lastSeen,omitempty"`
}

// DisplayName falls back to the id when no name is registered.
func (d DeviceInfo) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// ThresholdConfig bounds are optional; a nil bound is never checked.
type ThresholdConfig struct {
	WarningMin  *float64 `json:"warningMin,omitempty" yaml:"warning_min,omitempty"`
	WarningMax  *float64 `json:"warningMax,omitempty" yaml:"warning_max,omitempty"`
	CriticalMin *float64 `json:"criticalMin,omitempty" yaml:"critical_min,omitempty"`
	CriticalMax *float64 `json:"criticalMax,omitempty" yaml:"critical_max,omitempty"`
	Unit        string   `json:"unit" yaml:"unit"`
}

type TrendConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	ThresholdPercentage float64 `json:"thresholdPercentage" yaml:"threshold_percentage"`
	TimeWindowMinutes   int     `json:"timeWindowMinutes" yaml:"time_window_minutes"`
}

func (c TrendConfig) Window() time.Duration {
	return time.Duration(c.TimeWindowMinutes) * time.Minute
}

// EvaluationConfig is the threshold document: one band per parameter plus the global trend rule.
type EvaluationConfig struct {
	Thresholds map[Parameter]ThresholdConfig `json:"thresholds" yaml:"thresholds"`
	Trend      TrendConfig                   `json:"trend" yaml:"trend"`
}

type Alert struct {
	ID                   string         `json:"id"`
	DeviceID             string         `json:"deviceId"`
	DeviceName           string         `json:"deviceName"`
	Parameter            Parameter      `json:"parameter"`
	AlertType            AlertType      `json:"alertType"`
	Severity             Severity       `json:"severity"`
	Status               Status         `json:"status"`
	CurrentValue         float64        `json:"currentValue"`
	ThresholdValue       *float64       `json:"thresholdValue,omitempty"`
	TrendDirection       TrendDirection `json:"trendDirection,omitempty"`
	Message              string         `json:"message"`
	RecommendedAction    string         `json:"recommendedAction"`
	CreatedAt            time.Time      `json:"createdAt"`
	AcknowledgedAt       *time.Time     `json:"acknowledgedAt,omitempty"`
	ResolvedAt           *time.Time     `json:"resolvedAt,omitempty"`
	NotifiedRecipientIDs []string       `json:"notifiedRecipientIds"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// DedupeKey identifies the slot an Active alert occupies; only one Active alert may hold it.
func (a Alert) DedupeKey() string {
	return a.DeviceID + "|" + string(a.Parameter) + "|" + string(a.AlertType)
}

func (a Alert) WasNotified(recipientID string) bool {
	for _, id := range a.NotifiedRecipientIDs {
		if id == recipientID {
			return true
		}
	}
	return false
}

type RecipientPreference struct {
	RecipientID          string      `json:"recipientId"`
	ContactAddress       string      `json:"contactAddress"`
	NotificationsEnabled bool        `json:"notificationsEnabled"`
	Severities           []Severity  `json:"severities"`
	Parameters           []Parameter `json:"parameters"`
	Devices              []string    `json:"devices"`
	QuietHoursEnabled    bool        `json:"quietHoursEnabled"`
	QuietHoursStart      string      `json:"quietHoursStart,omitempty"`
	QuietHoursEnd        string      `json:"quietHoursEnd,omitempty"`
}

type ScoreComponent struct {
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

type HealthComponents struct {
	Infra   ScoreComponent `json:"infra"`
	Devices ScoreComponent `json:"devices"`
	Alerts  ScoreComponent `json:"alerts"`
}

type HealthScoreResult struct {
	OverallScore int              `json:"overallScore"`
	Status       HealthStatus     `json:"status"`
	Components   HealthComponents `json:"components"`
	ComputedAt   time.Time        `json:"computedAt"`
}
