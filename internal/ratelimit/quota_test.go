package ratelimit

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRenderQuota_NilRedisAllows(t *testing.T) {
	q := NewRenderQuota(nil, nil)
	res, err := q.Reserve(context.Background(), "ip:10.0.0.1", 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed {
		t.Error("expected allowed without redis")
	}
	if res.Reserved != 0 {
		t.Errorf("nothing should be counted without redis, reserved %d", res.Reserved)
	}
	if err := q.Release(context.Background(), "ip:10.0.0.1", 5); err != nil {
		t.Errorf("release without redis: %v", err)
	}
}

func TestRenderQuota_ZeroLimitDisables(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	q := NewRenderQuota(rdb, nil)
	res, err := q.Reserve(context.Background(), "ip:10.0.0.1", 1000, 0)
	if err != nil || !res.Allowed || res.Reserved != 0 {
		t.Fatalf("expected a zero limit to allow without counting, got %+v, %v", res, err)
	}
}

func TestRenderQuota_UnreachableRedisFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	fixed := time.Date(2026, 3, 14, 22, 30, 0, 0, time.UTC)
	q := NewRenderQuota(rdb, nil)
	q.now = func() time.Time { return fixed }

	res, err := q.Reserve(context.Background(), "key:abc", 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed {
		t.Error("expected fail-open on redis error")
	}
	if res.Reserved != 0 {
		t.Errorf("a failed reserve must not report counted renders, got %d", res.Reserved)
	}
	if want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC); !res.ResetAt.Equal(want) {
		t.Errorf("reset at %s, want %s", res.ResetAt, want)
	}
	if err := q.Release(context.Background(), "key:abc", 1); err == nil {
		t.Error("expected release to surface the redis error")
	}
}

func TestRenderQuota_KeyIsPerUTCDay(t *testing.T) {
	q := NewRenderQuota(nil, nil)
	seoul := time.FixedZone("KST", 9*60*60)
	late := time.Date(2026, 3, 15, 8, 0, 0, 0, seoul) // 2026-03-14 23:00 UTC
	if got := q.key("ip:10.0.0.1", late); got != "wava:renders:daily:ip:10.0.0.1:2026-03-14" {
		t.Errorf("unexpected key %q", got)
	}
	if got := endOfDay(late); !got.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected end of day %s", got)
	}
}

func integrationRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("WAVA_REDIS_ADDR_INTEGRATION")
	if addr == "" {
		t.Skip("set WAVA_REDIS_ADDR_INTEGRATION to run Redis integration tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRenderQuota_Integration_ConcurrentReservesStayWithinLimit(t *testing.T) {
	rdb := integrationRedis(t)
	ctx := context.Background()
	q := NewRenderQuota(rdb, nil)
	client := "test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { rdb.Del(ctx, q.key(client, q.now())) })

	const limit = 10
	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := q.Reserve(ctx, client, 1, limit)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if res.Allowed {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != limit {
		t.Errorf("granted %d reservations, want %d", got, limit)
	}
	used, err := rdb.Get(ctx, q.key(client, q.now())).Int64()
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if used != limit {
		t.Errorf("counter = %d, denied reservations must be rolled back", used)
	}
}

func TestRenderQuota_Integration_ReleaseReturnsUnusedRenders(t *testing.T) {
	rdb := integrationRedis(t)
	ctx := context.Background()
	q := NewRenderQuota(rdb, nil)
	client := "test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { rdb.Del(ctx, q.key(client, q.now())) })

	res, err := q.Reserve(ctx, client, 4, 5)
	if err != nil || !res.Allowed || res.Reserved != 4 {
		t.Fatalf("reserve 4 of 5 = %+v, %v", res, err)
	}
	if res, _ := q.Reserve(ctx, client, 2, 5); res.Allowed {
		t.Fatal("reserving past the limit should be denied")
	}

	// Three of the four renders failed.
	if err := q.Release(ctx, client, 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = q.Reserve(ctx, client, 4, 5)
	if err != nil || !res.Allowed || res.Used != 5 {
		t.Errorf("reserve after release = %+v, %v", res, err)
	}

	if err := q.Release(ctx, client, 100); err != nil {
		t.Fatalf("over-release: %v", err)
	}
	if n, err := rdb.Exists(ctx, q.key(client, q.now())).Result(); err != nil || n != 0 {
		t.Errorf("counter should be cleared rather than go negative, exists=%d err=%v", n, err)
	}
}
