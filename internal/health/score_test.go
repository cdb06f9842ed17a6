package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

func devices(online, total int) []model.DeviceInfo {
	out := make([]model.DeviceInfo, 0, total)
	for i := 0; i < total; i++ {
		status := model.DeviceOffline
		if i < online {
			status = model.DeviceOnline
		}
		out = append(out, model.DeviceInfo{ID: string(rune('a' + i)), Status: status})
	}
	return out
}

func TestComputeWeightedScore(t *testing.T) {
	res := Compute(100, devices(8, 10), nil, time.Now())
	if res.OverallScore != 96 {
		t.Fatalf("expected 96, got %d", res.OverallScore)
	}
	if res.Status != model.HealthHealthy {
		t.Fatalf("expected healthy, got %s", res.Status)
	}
	if res.Components.Devices.Score != 80 || res.Components.Alerts.Score != 100 {
		t.Fatalf("unexpected components %+v", res.Components)
	}
}

func TestAlertScore(t *testing.T) {
	cases := []struct {
		status   model.Status
		severity model.Severity
		want     float64
	}{
		{model.StatusResolved, model.SeverityCritical, 100},
		{model.StatusAcknowledged, model.SeverityCritical, 60},
		{model.StatusActive, model.SeverityAdvisory, 100},
		{model.StatusActive, model.SeverityWarning, 50},
		{model.StatusActive, model.SeverityCritical, 0},
		{model.Status("bogus"), model.SeverityCritical, 100},
	}
	for _, tc := range cases {
		got := AlertScore(model.Alert{Status: tc.status, Severity: tc.severity})
		if got != tc.want {
			t.Fatalf("%s/%s: expected %v, got %v", tc.status, tc.severity, tc.want, got)
		}
	}
}

func TestComputeClampsAndBands(t *testing.T) {
	res := Compute(250, nil, nil, time.Now())
	if res.OverallScore != 100 || res.Components.Infra.Score != 100 {
		t.Fatalf("expected infra clamped to 100, got %+v", res)
	}
	res = Compute(-5, devices(0, 4), []model.Alert{{Status: model.StatusActive, Severity: model.SeverityCritical}}, time.Now())
	if res.OverallScore != 0 || res.Status != model.HealthUnhealthy {
		t.Fatalf("expected 0/unhealthy, got %d/%s", res.OverallScore, res.Status)
	}
	if StatusFor(90) != model.HealthHealthy || StatusFor(89) != model.HealthDegraded || StatusFor(60) != model.HealthDegraded || StatusFor(59) != model.HealthUnhealthy {
		t.Fatalf("unexpected status bands")
	}
}

type failingInfra struct{}

func (failingInfra) InfraScore(context.Context) (float64, error) { return 0, errors.New("no /proc") }

func TestServiceInfraFailureScoresZero(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	_ = store.RecordSeen(ctx, "dev-1", time.Now())

	res, err := NewService(failingInfra{}, store, store, nil).Compute(ctx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Components.Infra.Score != 0 || res.OverallScore != 40 {
		t.Fatalf("expected infra 0 and overall 40, got %+v", res)
	}
	if res.Status != model.HealthUnhealthy {
		t.Fatalf("expected unhealthy, got %s", res.Status)
	}
}
