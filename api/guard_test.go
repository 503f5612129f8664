package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newGuardFixture(t *testing.T, ttl time.Duration) (*RedisMoveGuard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisMoveGuard(client, ttl), mr
}

func TestMoveGuardSerializesPerVisit(t *testing.T) {
	guard, _ := newGuardFixture(t, time.Minute)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = guard.Acquire(ctx, "v1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("second acquire for the same visit must be denied")
	}

	// A different visit is unaffected.
	ok, err = guard.Acquire(ctx, "v2")
	if err != nil || !ok {
		t.Fatalf("other visit acquire: ok=%v err=%v", ok, err)
	}

	if err := guard.Release(ctx, "v1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = guard.Acquire(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestMoveGuardExpires(t *testing.T) {
	guard, mr := newGuardFixture(t, time.Second)
	ctx := context.Background()

	if ok, _ := guard.Acquire(ctx, "v1"); !ok {
		t.Fatalf("first acquire denied")
	}
	mr.FastForward(2 * time.Second)
	ok, err := guard.Acquire(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("acquire after TTL expiry: ok=%v err=%v", ok, err)
	}
}
