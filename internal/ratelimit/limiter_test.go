package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLimiter_NilRedis_FailOpen(t *testing.T) {
	l := NewLimiter(nil, nil)
	for i := 0; i < 100; i++ {
		result, err := l.Check(context.Background(), "req:10.0.0.1", 10, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("expected allowed on check %d", i)
		}
		if result.Remaining != 9 {
			t.Fatalf("expected remaining=9, got %d", result.Remaining)
		}
	}
}

func TestLimiter_UnreachableRedis_FailOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(rdb, nil)
	l.now = func() time.Time { return fixed }

	result, err := l.Check(context.Background(), "req:10.0.0.1", 5, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 5 {
		t.Errorf("expected fail-open result, got %+v", result)
	}
	if !result.ResetAt.Equal(fixed.Add(time.Minute)) {
		t.Errorf("ResetAt = %v", result.ResetAt)
	}
}
