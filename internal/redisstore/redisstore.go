// Package redisstore backs the rate limiter counters and the refresh token
// revocation list with Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any Redis failure.
var ErrUnavailable = errors.New("redis unavailable")

// incrScript increments KEYS[1], starts the window on the first hit and
// returns {count, pttl}. A key that lost its TTL is given one again.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Counter is a fixed-window counter.
type Counter struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewCounter returns a counter that namespaces keys with prefix.
func NewCounter(rdb redis.UniversalClient, prefix string) *Counter {
	return &Counter{rdb: rdb, prefix: prefix}
}

// Increment atomically adds one to key and returns the count and remaining window.
func (c *Counter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrScript.Run(ctx, c.rdb, []string{c.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// Reset drops key.
func (c *Counter) Reset(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevocationList stores revoked token ids until they would have expired anyway.
type RevocationList struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRevocationList returns a list that namespaces keys with prefix.
func NewRevocationList(rdb redis.UniversalClient, prefix string) *RevocationList {
	return &RevocationList{rdb: rdb, prefix: prefix, now: time.Now}
}

// Revoke adds jti and reports whether this call added it. Already expired
// tokens are kept for a second so concurrent rotations still see them.
func (r *RevocationList) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(r.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	added, err := r.rdb.SetNX(ctx, r.prefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return added, nil
}

// IsRevoked reports whether jti is in the list.
func (r *RevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Pinger adapts a client to the readiness probe.
type Pinger struct{ rdb redis.UniversalClient }

// NewPinger wraps rdb.
func NewPinger(rdb redis.UniversalClient) Pinger { return Pinger{rdb: rdb} }

func (p Pinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
