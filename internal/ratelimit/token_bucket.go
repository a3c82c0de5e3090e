package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are stored in thousandths so the script can return integers;
// Redis truncates Lua floats in replies.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2]) * 1000
local cost = tonumber(ARGV[3]) * 1000
local ttl = tonumber(ARGV[4])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "milli", "ts")
local milli = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now

local elapsed = math.max(0, now - ts)
milli = math.min(burst, milli + elapsed * rate)

local allowed = 0
local wait = 0
if milli >= cost then
  allowed = 1
  milli = milli - cost
else
  wait = math.ceil((cost - milli) / rate)
end

redis.call("HSET", KEYS[1], "milli", math.floor(milli), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(milli), wait}
`

var (
	errBucketUnconfigured = errors.New("rate limiter not configured")
	errBucketArgs         = errors.New("rate limiter requires a key, positive rate and burst")
)

// Limit is a refill rate in tokens per second and a bucket size.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) valid() bool { return l.Rate > 0 && l.Burst > 0 }

// ttl keeps an idle bucket around for twice the time it takes to refill.
func (l Limit) ttl() time.Duration {
	if !l.valid() {
		return time.Second
	}
	return time.Duration(math.Max(1, math.Ceil(2*float64(l.Burst)/l.Rate))) * time.Second
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed bucket shared by every replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(takeScript)}
}

// Take removes cost tokens from the bucket at key if they are available.
func (t *TokenBucket) Take(ctx context.Context, key string, limit Limit, cost int) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, errBucketUnconfigured
	}
	if key == "" || !limit.valid() {
		return Decision{}, errBucketArgs
	}
	if cost <= 0 {
		cost = 1
	}

	// Tokens per second is the same number as thousandths per millisecond.
	res, err := t.script.Run(ctx, t.client, []string{key},
		limit.Rate, limit.Burst, cost, limit.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, errors.New("unexpected rate limit script reply")
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1] / 1000),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
