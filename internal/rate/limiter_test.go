package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestMemoryStoreWindowSemantics(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := store.Hit(ctx, "k", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if count != i {
			t.Fatalf("hit %d: count = %d", i, count)
		}
	}

	// A new window opens once the old one elapses.
	now = now.Add(time.Minute + time.Second)
	count, err := store.Hit(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count after window elapsed = %d, want 1", count)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	ttl, err := store.TTL(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ttl != NoActiveWindow {
		t.Fatalf("TTL for missing key = %v, want NoActiveWindow", ttl)
	}

	if _, err := store.Hit(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(20 * time.Second)
	ttl, err = store.TTL(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ttl != 40*time.Second {
		t.Fatalf("TTL = %v, want 40s", ttl)
	}
}

func TestLimiterBudget(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, err := limiter.IsExceeded(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if exceeded {
			t.Fatalf("hit %d within budget reported exceeded", i+1)
		}
	}
	exceeded, err := limiter.IsExceeded(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !exceeded {
		t.Fatal("hit beyond budget not reported exceeded")
	}

	remaining, err := limiter.Remaining(ctx, "k", 3)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Fatalf("Remaining = %d, want 0", remaining)
	}
}

func TestCheckPolicy(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	ctx := context.Background()
	p := Policy{Scope: "login", Max: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		if err := limiter.CheckPolicy(ctx, p, "10.0.0.1"); err != nil {
			t.Fatalf("hit %d: %v", i+1, err)
		}
	}
	if err := limiter.CheckPolicy(ctx, p, "10.0.0.1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("err = %v, want ErrLimited", err)
	}
	// Other identities keep their own budget.
	if err := limiter.CheckPolicy(ctx, p, "10.0.0.2"); err != nil {
		t.Fatalf("second identity throttled: %v", err)
	}

	if err := limiter.ResetPolicy(ctx, p, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.CheckPolicy(ctx, p, "10.0.0.1"); err != nil {
		t.Fatalf("post-reset hit rejected: %v", err)
	}
}

func TestCheckPolicyDisabled(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	if err := limiter.CheckPolicy(ctx, Policy{Scope: "off", Max: 0, Window: time.Minute}, "x"); err != nil {
		t.Fatalf("zero-max policy must never limit: %v", err)
	}
	if err := limiter.CheckPolicy(ctx, Policy{Scope: "on", Max: 1, Window: time.Minute}, ""); err != nil {
		t.Fatalf("empty identity must bypass: %v", err)
	}
}

func TestRedisStoreHitAndExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := store.Hit(ctx, "k", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if count != i {
			t.Fatalf("hit %d: count = %d", i, count)
		}
	}

	ttl, err := store.TTL(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("TTL = %v, want within (0, 1m]", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	count, err := store.Hit(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count after redis expiry = %d, want 1", count)
	}
}

func TestRedisStoreMissingKey(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("Count = %d, want 0", count)
	}

	ttl, err := store.TTL(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ttl != NoActiveWindow {
		t.Fatalf("TTL = %v, want NoActiveWindow", ttl)
	}
}

func TestRedisStoreReset(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if _, err := store.Hit(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.Reset(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	count, err := store.Count(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count after reset = %d", count)
	}
}
