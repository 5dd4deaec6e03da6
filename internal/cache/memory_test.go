package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	ctx := context.Background()

	if err := c.Set(ctx, "a", 1, time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := c.Set(ctx, "b", 2, time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := c.MGet(ctx, "a", "b", "missing")
	if err != nil {
		t.Fatalf("mget failed: %v", err)
	}
	if len(got) != 2 || got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("unexpected mget result: %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("expected missing key to be absent, not zero")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	ctx := context.Background()

	if err := c.Set(ctx, "a", 1, time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	got, err := c.MGet(ctx, "a")
	if err != nil {
		t.Fatalf("mget failed: %v", err)
	}
	if _, ok := got["a"]; ok {
		t.Fatalf("expected deleted key to be absent")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	ctx := context.Background()

	if err := c.Set(ctx, "a", 1, time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	got, err := c.MGet(ctx, "a")
	if err != nil {
		t.Fatalf("mget failed: %v", err)
	}
	if _, ok := got["a"]; ok {
		t.Fatalf("expected expired key to be absent")
	}
}
