package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

func seedAlert(t *testing.T, store *storage.Memory) string {
	t.Helper()
	a := model.Alert{
		ID:        "a1",
		DeviceID:  "dev-1",
		Parameter: model.ParameterPH,
		AlertType: model.AlertTypeThreshold,
		Severity:  model.SeverityCritical,
		Status:    model.StatusActive,
		CreatedAt: time.Now(),
	}
	if err := store.CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return a.ID
}

func TestAcknowledgeThenResolve(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	id := seedAlert(t, store)
	l := NewLifecycle(store, nil)

	a, err := l.Acknowledge(ctx, id)
	if err != nil || a.Status != model.StatusAcknowledged || a.AcknowledgedAt == nil {
		t.Fatalf("acknowledge: %+v err=%v", a, err)
	}
	again, err := l.Acknowledge(ctx, id)
	if err != nil || !again.AcknowledgedAt.Equal(*a.AcknowledgedAt) {
		t.Fatalf("repeat acknowledge must be a no-op: %+v err=%v", again, err)
	}
	a, err = l.Resolve(ctx, id)
	if err != nil || a.Status != model.StatusResolved || a.ResolvedAt == nil {
		t.Fatalf("resolve: %+v err=%v", a, err)
	}
	if _, err := l.Resolve(ctx, id); err != nil {
		t.Fatalf("repeat resolve must be a no-op: %v", err)
	}
	if _, err := l.Acknowledge(ctx, id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestResolveDirectly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	id := seedAlert(t, store)
	a, err := NewLifecycle(store, nil).Resolve(ctx, id)
	if err != nil || a.Status != model.StatusResolved {
		t.Fatalf("resolve: %+v err=%v", a, err)
	}
}

func TestLifecycleUnknownAlert(t *testing.T) {
	_, err := NewLifecycle(storage.NewMemory(0), nil).Acknowledge(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to model.Status
		changed  bool
		invalid  bool
	}{
		{model.StatusActive, model.StatusAcknowledged, true, false},
		{model.StatusActive, model.StatusResolved, true, false},
		{model.StatusAcknowledged, model.StatusResolved, true, false},
		{model.StatusAcknowledged, model.StatusAcknowledged, false, false},
		{model.StatusAcknowledged, model.StatusActive, false, true},
		{model.StatusResolved, model.StatusAcknowledged, false, true},
		{model.StatusResolved, model.StatusActive, false, true},
	}
	for _, tc := range cases {
		changed, err := CanTransition(tc.from, tc.to)
		if changed != tc.changed || errors.Is(err, ErrInvalidTransition) != tc.invalid {
			t.Fatalf("%s->%s: changed=%v err=%v", tc.from, tc.to, changed, err)
		}
	}
}
