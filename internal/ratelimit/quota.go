package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaResult is the outcome of a daily render quota check.
type QuotaResult struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time

	// Reserved is how many renders were actually counted, and so how many
	// Release may give back. It is zero when the quota was not consulted.
	Reserved int64
}

// RenderQuota counts image predictions per client per UTC day.
type RenderQuota struct {
	rdb    redis.UniversalClient
	now    func() time.Time
	logger *slog.Logger
}

// NewRenderQuota creates a quota tracker. A nil client allows everything.
func NewRenderQuota(rdb redis.UniversalClient, logger *slog.Logger) *RenderQuota {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderQuota{rdb: rdb, now: time.Now, logger: logger}
}

func (q *RenderQuota) key(client string, now time.Time) string {
	return fmt.Sprintf("wava:renders:daily:%s:%s", client, now.UTC().Format("2006-01-02"))
}

func endOfDay(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// KEYS[1] = daily counter key
// ARGV[1] = renders wanted
// ARGV[2] = limit
// ARGV[3] = TTL seconds
// Returns {used, allowed}. A denied reservation leaves the counter untouched.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local want = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local used = redis.call('INCRBY', key, want)
redis.call('EXPIRE', key, tonumber(ARGV[3]))
if used > limit then
    redis.call('DECRBY', key, want)
    return {used - want, 0}
end
return {used, 1}
`)

// KEYS[1] = daily counter key
// ARGV[1] = renders to give back
var releaseScript = redis.NewScript(`
local left = redis.call('DECRBY', KEYS[1], tonumber(ARGV[1]))
if left <= 0 then
    redis.call('DEL', KEYS[1])
    return 0
end
return left
`)

// Reserve takes want renders from the client's daily allowance. The
// increment and the limit check happen in one script, so concurrent requests
// cannot overshoot the limit together. Redis failures fail open.
func (q *RenderQuota) Reserve(ctx context.Context, client string, want, limit int64) (QuotaResult, error) {
	now := q.now()
	res := QuotaResult{Allowed: true, Limit: limit, ResetAt: endOfDay(now)}
	if q.rdb == nil || limit <= 0 || want <= 0 {
		return res, nil
	}

	ttl := int64((endOfDay(now).Sub(now.UTC()) + time.Hour).Seconds())
	out, err := reserveScript.Run(ctx, q.rdb, []string{q.key(client, now)}, want, limit, ttl).Int64Slice()
	if err != nil {
		q.logger.Warn("render quota reserve failed, allowing request", "client", client, "error", err)
		return res, nil
	}
	if len(out) < 2 {
		return QuotaResult{}, fmt.Errorf("render quota script returned %d values", len(out))
	}
	res.Used = out[0]
	res.Allowed = out[1] == 1
	if res.Allowed {
		res.Reserved = want
	}
	return res, nil
}

// Release gives n reserved renders back, e.g. the images a request never
// produced. The counter never drops below zero.
func (q *RenderQuota) Release(ctx context.Context, client string, n int64) error {
	if q.rdb == nil || n <= 0 {
		return nil
	}
	return releaseScript.Run(ctx, q.rdb, []string{q.key(client, q.now())}, n).Err()
}
