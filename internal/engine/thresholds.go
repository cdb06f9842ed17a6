package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aquaguard/internal/logging"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

// SettingsKey is where the threshold override document lives in the settings store.
const SettingsKey = "thresholds"

var ErrInvalidDocument = errors.New("invalid threshold document")

// ThresholdSource serves the evaluation config: the stored override document layered over
// the base config, cached for ttl. Fetch failures fall back to the base config.
type ThresholdSource struct {
	settings storage.SettingsStore
	base     func() model.EvaluationConfig
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	cached    model.EvaluationConfig
	fetchedAt time.Time
	valid     bool
}

func NewThresholdSource(settings storage.SettingsStore, base func() model.EvaluationConfig, ttl time.Duration, logger *slog.Logger) *ThresholdSource {
	if base == nil {
		base = model.DefaultEvaluationConfig
	}
	return &ThresholdSource{
		settings: settings,
		base:     base,
		ttl:      ttl,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

func (s *ThresholdSource) Current(ctx context.Context) model.EvaluationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.valid && s.ttl > 0 && now.Sub(s.fetchedAt) < s.ttl {
		return s.cached
	}
	cfg := s.base()
	if s.settings != nil {
		doc, err := LoadDocument(ctx, s.settings)
		switch {
		case err == nil:
			cfg = cfg.Apply(doc)
		case errors.Is(err, storage.ErrNotFound):
		default:
			s.logger.Warn("threshold config fetch failed, using defaults", "err", err)
		}
	}
	s.cached = cfg
	s.fetchedAt = now
	s.valid = true
	return cfg
}

// Invalidate forces the next Current call to refetch.
func (s *ThresholdSource) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

func LoadDocument(ctx context.Context, settings storage.SettingsStore) (model.ThresholdDocument, error) {
	raw, err := settings.GetSetting(ctx, SettingsKey)
	if err != nil {
		return model.ThresholdDocument{}, err
	}
	var doc model.ThresholdDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.ThresholdDocument{}, fmt.Errorf("decode threshold document: %w", err)
	}
	return doc, nil
}

func SaveDocument(ctx context.Context, settings storage.SettingsStore, doc model.ThresholdDocument) error {
	for p := range doc.Thresholds {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown parameter %q", ErrInvalidDocument, p)
		}
	}
	if doc.Trend != nil && doc.Trend.Enabled && (doc.Trend.ThresholdPercentage <= 0 || doc.Trend.TimeWindowMinutes <= 0) {
		return fmt.Errorf("%w: trend thresholdPercentage and timeWindowMinutes must be positive", ErrInvalidDocument)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return settings.PutSetting(ctx, SettingsKey, raw)
}
