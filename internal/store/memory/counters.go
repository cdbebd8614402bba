package memory

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	expires time.Time
}

// Counter is a fixed-window counter kept in process memory.
type Counter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]window
}

// NewCounter returns a counter driven by now; nil means time.Now.
func NewCounter(now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{now: now, windows: map[string]window{}}
}

// Increment adds one to key and returns the count and the time left in the window.
func (c *Counter) Increment(_ context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.expires) {
		w = window{expires: now.Add(d)}
	}
	w.count++
	c.windows[key] = w
	return w.count, w.expires.Sub(now), nil
}

// Reset clears key.
func (c *Counter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.windows, key)
	c.mu.Unlock()
	return nil
}

// RevocationList is an in-memory set of revoked token ids.
type RevocationList struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
}

// NewRevocationList returns an empty list driven by now; nil means time.Now.
func NewRevocationList(now func() time.Time) *RevocationList {
	if now == nil {
		now = time.Now
	}
	return &RevocationList{now: now, entries: map[string]time.Time{}}
}

// Revoke adds jti until the given time and reports whether it was newly added.
func (r *RevocationList) Revoke(_ context.Context, jti string, until time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exp, ok := r.entries[jti]; ok && r.now().Before(exp) {
		return false, nil
	}
	r.entries[jti] = until
	return true, nil
}

// IsRevoked reports whether jti is in the list and its entry has not lapsed.
func (r *RevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.entries[jti]
	if !ok {
		return false, nil
	}
	if !r.now().Before(exp) {
		delete(r.entries, jti)
		return false, nil
	}
	return true, nil
}
