package cache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*SlotsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSlotsCache(rdb, logger, 30*time.Second), mr
}

func TestSlotsCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "p1", "q1"); ok {
		t.Fatal("expected miss before any Set")
	}

	payload := []byte(`[{"start":"2026-03-02T09:00:00Z"}]`)
	c.Set(ctx, "p1", "q1", payload)

	got, ok := c.Get(ctx, "p1", "q1")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mangled: %s", got)
	}

	// Different query under the same provider is its own entry.
	if _, ok := c.Get(ctx, "p1", "q2"); ok {
		t.Fatal("different query must miss")
	}
}

func TestSlotsCache_InvalidateDropsProviderEntries(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "p1", "q1", []byte("a"))
	c.Set(ctx, "p2", "q1", []byte("b"))

	c.Invalidate(ctx, "p1")

	if _, ok := c.Get(ctx, "p1", "q1"); ok {
		t.Fatal("invalidated provider must miss")
	}
	if got, ok := c.Get(ctx, "p2", "q1"); !ok || string(got) != "b" {
		t.Fatalf("other providers must keep their entries, got %q ok=%v", got, ok)
	}

	// A fresh Set after invalidation lands under the new version.
	c.Set(ctx, "p1", "q1", []byte("c"))
	if got, ok := c.Get(ctx, "p1", "q1"); !ok || string(got) != "c" {
		t.Fatalf("expected rewrite to hit, got %q ok=%v", got, ok)
	}
}

func TestSlotsCache_EntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "p1", "q1", []byte("a"))
	mr.FastForward(time.Minute)

	if _, ok := c.Get(ctx, "p1", "q1"); ok {
		t.Fatal("entry must expire after the TTL")
	}
}

func TestSlotsCache_FailsOpenWhenRedisIsDown(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "p1", "q1", []byte("a"))
	mr.Close()

	if _, ok := c.Get(ctx, "p1", "q1"); ok {
		t.Fatal("dead backend must read as a miss, not an error")
	}
	// Writes against a dead backend must not panic either.
	c.Set(ctx, "p1", "q1", []byte("b"))
	c.Invalidate(ctx, "p1")
}
