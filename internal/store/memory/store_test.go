package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx auth.Store) error {
		if err := tx.Users().Create(ctx, &auth.User{ID: "u1", Email: "a@example.com"}); err != nil {
			return err
		}
		if _, err := tx.Users().FindByEmail(ctx, "a@example.com"); err != nil {
			t.Fatalf("read own write: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.CountUsers() != 0 {
		t.Fatalf("rolled back transaction left %d users", s.CountUsers())
	}
}

func TestWithinTxCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.WithinTx(ctx, func(tx auth.Store) error {
		if err := tx.Tenants().Create(ctx, &auth.Tenant{ID: "t1", Name: "Acme"}); err != nil {
			return err
		}
		return tx.Memberships().Create(ctx, &auth.Membership{ID: "m1", UserID: "u1", TenantID: "t1", Role: auth.RoleAdmin, IsActive: true})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if _, err := s.Tenants().FindByName(ctx, "Acme"); err != nil {
		t.Fatalf("tenant not committed: %v", err)
	}
	if s.CountMemberships() != 1 {
		t.Fatalf("expected 1 membership, got %d", s.CountMemberships())
	}
}

func TestUniqueConstraints(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Users().Create(ctx, &auth.User{ID: "u1", Email: "a@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Users().Create(ctx, &auth.User{ID: "u2", Email: "a@example.com"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict on email, got %v", err)
	}
	m := &auth.Membership{ID: "m1", UserID: "u1", TenantID: "t1", Role: auth.RoleClient}
	if err := s.Memberships().Create(ctx, m); err != nil {
		t.Fatalf("membership: %v", err)
	}
	m2 := &auth.Membership{ID: "m2", UserID: "u1", TenantID: "t1", Role: auth.RoleEmployee}
	if err := s.Memberships().Create(ctx, m2); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict on pair, got %v", err)
	}
}

func TestConsumeIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := &auth.MagicLinkToken{ID: "l1", Email: "a@example.com", TokenHash: "h1", Purpose: auth.PurposeLogin, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := s.MagicLinks().Create(ctx, tok); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MagicLinks().Consume(ctx, "l1", now); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := s.MagicLinks().Consume(ctx, "l1", now); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expected second consume to fail, got %v", err)
	}
}

func TestInvalidateLiveOnlyTouchesMatchingPurpose(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	for i, p := range []auth.Purpose{auth.PurposeLogin, auth.PurposeLogin, auth.PurposeRegister} {
		tok := &auth.MagicLinkToken{ID: string(rune('a' + i)), Email: "a@example.com", TokenHash: string(rune('a' + i)), Purpose: p, ExpiresAt: now.Add(time.Hour)}
		if err := s.MagicLinks().Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	n, err := s.MagicLinks().InvalidateLive(ctx, "a@example.com", auth.PurposeLogin, now)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 invalidated, got %d (%v)", n, err)
	}
	reg, _ := s.MagicLinks().FindByHash(ctx, "c")
	if reg.ConsumedAt != nil {
		t.Fatalf("register token should stay live")
	}
}

func TestSessionsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	for i, id := range []string{"s1", "s2", "s3"} {
		sess := &auth.Session{ID: id, UserID: "u1", IsActive: true, LastActivityAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Sessions().Create(ctx, sess); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := s.Sessions().Deactivate(ctx, "u2", "s1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("foreign deactivate should be not found, got %v", err)
	}
	if err := s.Sessions().Deactivate(ctx, "u1", "s2"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	list, err := s.Sessions().ListActive(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "s3" || list[1].ID != "s1" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestCounterWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCounter(func() time.Time { return now })
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		n, ttl, _ := c.Increment(ctx, "k", time.Hour)
		if n != int64(i) || ttl != time.Hour {
			t.Fatalf("hit %d: got %d ttl %v", i, n, ttl)
		}
	}
	now = now.Add(time.Hour)
	if n, _, _ := c.Increment(ctx, "k", time.Hour); n != 1 {
		t.Fatalf("window should restart, got %d", n)
	}
}

func TestRevokeReportsFirstWriterOnly(t *testing.T) {
	r := NewRevocationList(nil)
	ctx := context.Background()
	until := time.Now().Add(time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := r.Revoke(ctx, "jti", until)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if revoked, _ := r.IsRevoked(ctx, "jti"); !revoked {
		t.Fatalf("jti should be revoked")
	}
}
