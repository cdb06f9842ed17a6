package dedupe

import (
	"context"
	"testing"
	"time"
)

func TestCacheSeenWithinTTL(t *testing.T) {
	c := NewCache()
	now := time.Now()
	if c.Seen("k", now, time.Second) {
		t.Fatalf("first sighting must not be a duplicate")
	}
	if !c.Seen("k", now.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("expected duplicate inside ttl")
	}
	if c.Seen("k", now.Add(3*time.Second), time.Second) {
		t.Fatalf("expected key to expire after ttl")
	}
}

func TestCacheAcquireWithoutTTLHoldsUntilRelease(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	base := time.Now()
	c.now = func() time.Time { return base }
	ok, _ := c.Acquire(ctx, "escalated:a1", 0)
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	c.now = func() time.Time { return base.Add(365 * 24 * time.Hour) }
	if ok, _ := c.Acquire(ctx, "escalated:a1", 0); ok {
		t.Fatalf("key without ttl must stay held")
	}
	_ = c.Release(ctx, "escalated:a1")
	if ok, _ := c.Acquire(ctx, "escalated:a1", 0); !ok {
		t.Fatalf("expected acquire after release")
	}
}
