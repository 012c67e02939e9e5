package backpressure

import (
	"context"
	"testing"
	"time"
)

func TestRequestPermissionImmediateUnderThreshold(t *testing.T) {
	c := New(Config{MaxPending: 10, RatePerSecond: 1000, Burst: 10})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.RequestPermission(ctx, "op-1", 1); err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected pending=1, got %d", c.Pending())
	}
	c.ReleasePermission("op-1", true)
	if c.Pending() != 0 {
		t.Fatalf("expected pending=0 after release, got %d", c.Pending())
	}
}

func TestRequestPermissionThrottlesOverThreshold(t *testing.T) {
	c := New(Config{MaxPending: 1, RatePerSecond: 5, Burst: 1})
	ctx := context.Background()

	if err := c.RequestPermission(ctx, "op-1", 1); err != nil {
		t.Fatalf("RequestPermission op-1: %v", err)
	}
	// op-2 is over MaxPending and takes the limiter's single burst token.
	if err := c.RequestPermission(ctx, "op-2", 1); err != nil {
		t.Fatalf("RequestPermission op-2: %v", err)
	}

	start := time.Now()
	if err := c.RequestPermission(ctx, "op-3", 1); err != nil {
		t.Fatalf("RequestPermission op-3: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected throttled admission to wait, took %v", elapsed)
	}
	c.ReleasePermission("op-1", true)
	c.ReleasePermission("op-2", true)
	c.ReleasePermission("op-3", true)
}

func TestRequestPermissionRespectsContextCancellation(t *testing.T) {
	c := New(Config{MaxPending: 1, RatePerSecond: 0.001, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := c.RequestPermission(ctx, "first", 1); err != nil {
		t.Fatalf("first RequestPermission should be admitted under MaxPending: %v", err)
	}
	if err := c.RequestPermission(ctx, "second", 1); err != nil {
		t.Fatalf("second RequestPermission should consume the burst token: %v", err)
	}
	if err := c.RequestPermission(ctx, "third", 1); err == nil {
		t.Fatal("expected context deadline error for throttled third request")
	}
}
