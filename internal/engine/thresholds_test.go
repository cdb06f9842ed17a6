package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

type brokenSettings struct{ calls int }

func (b *brokenSettings) GetSetting(context.Context, string) ([]byte, error) {
	b.calls++
	return nil, errors.New("connection refused")
}

func (b *brokenSettings) PutSetting(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestThresholdSourceFallsBackOnFetchFailure(t *testing.T) {
	settings := &brokenSettings{}
	src := NewThresholdSource(settings, nil, time.Minute, nil)
	cfg := src.Current(context.Background())
	if *cfg.Thresholds[model.ParameterPH].CriticalMax != 9.0 {
		t.Fatalf("expected built-in ph bounds, got %+v", cfg.Thresholds[model.ParameterPH])
	}
	src.Current(context.Background())
	if settings.calls != 1 {
		t.Fatalf("expected cached result within ttl, fetched %d times", settings.calls)
	}
}

func TestThresholdSourceAppliesStoredDocument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	src := NewThresholdSource(store, nil, time.Hour, nil)
	if src.Current(ctx).Trend.ThresholdPercentage != 15 {
		t.Fatalf("expected default trend threshold")
	}
	trend := model.TrendConfig{Enabled: true, ThresholdPercentage: 25, TimeWindowMinutes: 60}
	if err := SaveDocument(ctx, store, model.ThresholdDocument{Trend: &trend}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if src.Current(ctx).Trend.ThresholdPercentage != 15 {
		t.Fatalf("expected cached config before invalidate")
	}
	src.Invalidate()
	if got := src.Current(ctx).Trend; got.ThresholdPercentage != 25 || got.TimeWindowMinutes != 60 {
		t.Fatalf("override not applied: %+v", got)
	}
}

func TestSaveDocumentValidates(t *testing.T) {
	store := storage.NewMemory(0)
	doc := model.ThresholdDocument{Thresholds: map[model.Parameter]model.ThresholdConfig{"chlorine": {}}}
	if err := SaveDocument(context.Background(), store, doc); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	bad := model.TrendConfig{Enabled: true}
	if err := SaveDocument(context.Background(), store, model.ThresholdDocument{Trend: &bad}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument for trend, got %v", err)
	}
}
