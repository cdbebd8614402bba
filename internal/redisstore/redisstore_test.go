package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestCounterFixedWindow(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewCounter(rdb, "casa:")
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, ttl, err := c.Increment(ctx, "rl:magic_link:email:a@example.com", time.Hour)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
		if ttl <= 0 || ttl > time.Hour {
			t.Fatalf("unexpected ttl %v", ttl)
		}
	}
	if !mr.Exists("casa:rl:magic_link:email:a@example.com") {
		t.Fatalf("expected prefixed key")
	}

	mr.FastForward(time.Hour + time.Second)
	n, _, err := c.Increment(ctx, "rl:magic_link:email:a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected window to restart, got %d", n)
	}

	if err := c.Reset(ctx, "rl:magic_link:email:a@example.com"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if mr.Exists("casa:rl:magic_link:email:a@example.com") {
		t.Fatalf("expected key removed")
	}
}

func TestCounterReportsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()
	c := NewCounter(rdb, "")
	if _, _, err := c.Increment(context.Background(), "k", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRevocationListFirstWriterWins(t *testing.T) {
	mr, rdb := newRedis(t)
	r := NewRevocationList(rdb, "revoked:")
	ctx := context.Background()
	until := time.Now().Add(24 * time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := r.Revoke(ctx, "jti-1", until)
			if err != nil {
				t.Errorf("Revoke: %v", err)
				return
			}
			if added {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}

	revoked, err := r.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
	if ttl := mr.TTL("revoked:jti-1"); ttl <= 23*time.Hour {
		t.Fatalf("expected ttl close to token lifetime, got %v", ttl)
	}

	mr.FastForward(25 * time.Hour)
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatalf("entry should lapse with the token")
	}
}
