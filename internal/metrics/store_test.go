package metrics

import (
	"testing"
	"time"

	"aquaguard/internal/model"
)

func TestStoreSilentSince(t *testing.T) {
	s := NewStore(10)
	now := time.Now().UTC()
	s.Update(model.Reading{DeviceID: "old"}, now.Add(-30*time.Minute))
	s.Update(model.Reading{DeviceID: "fresh"}, now)
	silent := s.SilentSince(now.Add(-15 * time.Minute))
	if len(silent) != 1 || silent[0] != "old" {
		t.Fatalf("expected only old to be silent, got %v", silent)
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	now := time.Now().UTC()
	s.Update(model.Reading{DeviceID: "a"}, now.Add(-3*time.Minute))
	s.Update(model.Reading{DeviceID: "b"}, now.Add(-2*time.Minute))
	s.Update(model.Reading{DeviceID: "c"}, now)
	if _, _, ok := s.Get("a"); ok {
		t.Fatalf("expected a to be evicted")
	}
	if len(s.GetAll()) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(s.GetAll()))
	}
}
