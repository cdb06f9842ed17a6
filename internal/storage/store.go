package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aquaguard/internal/config"
	"aquaguard/internal/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrActiveAlertExists = errors.New("active alert already exists for device, parameter and type")
	ErrStatusConflict    = errors.New("alert status changed concurrently")
)

type AlertFilter struct {
	DeviceID   string
	Statuses   []model.Status
	Severities []model.Severity
	Since      time.Time
	Limit      int
}

func (f AlertFilter) matches(a model.Alert) bool {
	if f.DeviceID != "" && a.DeviceID != f.DeviceID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, a.Severity) {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// AlertStore persists alerts. CreateAlert is a conditional write: it fails with
// ErrActiveAlertExists when an active alert already occupies the same DedupeKey.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert model.Alert) error
	GetAlert(ctx context.Context, id string) (model.Alert, error)
	FindActive(ctx context.Context, deviceID string, parameter model.Parameter, alertType model.AlertType) (model.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	AddNotifiedRecipients(ctx context.Context, alertID string, recipientIDs []string) error
	TransitionAlert(ctx context.Context, alertID string, from, to model.Status, at time.Time) error
}

// ReadingStore returns readings oldest first; limit <= 0 means no limit.
type ReadingStore interface {
	SaveReading(ctx context.Context, r model.Reading) error
	ReadingsInWindow(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]model.Reading, error)
}

type DeviceRegistry interface {
	GetDevice(ctx context.Context, id string) (model.DeviceInfo, error)
	ListDevices(ctx context.Context) ([]model.DeviceInfo, error)
	UpdateDeviceStatus(ctx context.Context, id string, status model.DeviceStatus) error
	UpsertDevice(ctx context.Context, d model.DeviceInfo) error
	RecordSeen(ctx context.Context, id string, at time.Time) error
}

type PreferenceStore interface {
	ListRecipients(ctx context.Context) ([]model.RecipientPreference, error)
	UpsertRecipient(ctx context.Context, p model.RecipientPreference) error
	DeleteRecipient(ctx context.Context, id string) error
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error
}

// ClaimStore holds short-lived keys shared by every process on the same store: the
// sweep's escalation ledger and in-flight notification sends. A non-positive ttl holds
// the key until Release.
type ClaimStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Store interface {
	AlertStore
	ReadingStore
	DeviceRegistry
	PreferenceStore
	SettingsStore
	ClaimStore
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(0), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func containsStatus(list []model.Status, s model.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSeverity(list []model.Severity, s model.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// mergeIDs returns the union of existing and extra, preserving first-seen order.
func mergeIDs(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, list := range [][]string{existing, extra} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
