package health

import (
	"math"
	"time"

	"aquaguard/internal/model"
)

const (
	InfraWeight  = 0.6
	DeviceWeight = 0.2
	AlertWeight  = 0.2
)

// AlertScore maps one alert to its contribution to the alert component.
func AlertScore(a model.Alert) float64 {
	switch a.Status {
	case model.StatusResolved:
		return 100
	case model.StatusAcknowledged:
		return 60
	case model.StatusActive:
		switch a.Severity {
		case model.SeverityAdvisory:
			return 100
		case model.SeverityWarning:
			return 50
		case model.SeverityCritical:
			return 0
		}
	}
	return 100
}

func DeviceScore(devices []model.DeviceInfo) float64 {
	if len(devices) == 0 {
		return 100
	}
	online := 0
	for _, d := range devices {
		if d.Status == model.DeviceOnline {
			online++
		}
	}
	return math.Round(100 * float64(online) / float64(len(devices)))
}

func AlertsScore(alerts []model.Alert) float64 {
	if len(alerts) == 0 {
		return 100
	}
	var sum float64
	for _, a := range alerts {
		sum += AlertScore(a)
	}
	return sum / float64(len(alerts))
}

func StatusFor(score int) model.HealthStatus {
	switch {
	case score >= 90:
		return model.HealthHealthy
	case score >= 60:
		return model.HealthDegraded
	default:
		return model.HealthUnhealthy
	}
}

// Compute is pure: the same snapshots always produce the same result.
func Compute(infra float64, devices []model.DeviceInfo, alerts []model.Alert, now time.Time) model.HealthScoreResult {
	infra = clamp(infra)
	device := clamp(DeviceScore(devices))
	alert := clamp(AlertsScore(alerts))

	overall := int(math.Round(InfraWeight*infra + DeviceWeight*device + AlertWeight*alert))
	return model.HealthScoreResult{
		OverallScore: overall,
		Status:       StatusFor(overall),
		Components: model.HealthComponents{
			Infra:   component(infra, InfraWeight),
			Devices: component(device, DeviceWeight),
			Alerts:  component(alert, AlertWeight),
		},
		ComputedAt: now.UTC(),
	}
}

func component(score, weight float64) model.ScoreComponent {
	return model.ScoreComponent{Score: score, Weight: weight, Contribution: score * weight}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
