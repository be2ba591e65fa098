package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

func newTestManager(t *testing.T) (*Manager, func(time.Time)) {
	t.Helper()
	store := NewMemoryStore()
	mgr := NewManager(store, nil, Config{MaxConcurrentPerUser: 2, IdleTTL: time.Hour, MaxTTL: 2 * time.Hour}, nil)
	now := time.Now()
	mgr.expiry.SetNowFunc(func() time.Time { return now })
	return mgr, func(t time.Time) { now = t }
}

func testUser(id string) *models.UserContext {
	return &models.UserContext{UserID: id}
}

func TestCreateSessionEnforcesMaxConcurrent(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	u := testUser("u1")

	if _, err := mgr.Create(ctx, u, models.AgentPersonal, models.ModeChat, models.PrivacyPrivate); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Create(ctx, u, models.AgentPersonal, models.ModeChat, models.PrivacyPrivate); err != nil {
		t.Fatal(err)
	}
	_, err := mgr.Create(ctx, u, models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)
	if orcherr.KindOf(err) != orcherr.KindTooManySessions {
		t.Fatalf("kind = %v, want TooManySessions", orcherr.KindOf(err))
	}
}

func TestCreateResumeEndNetZero(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	u := testUser("u1")

	s, err := mgr.Create(ctx, u, models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Resume(ctx, s.SessionID, u); err != nil {
		t.Fatal(err)
	}
	if err := mgr.End(ctx, s.SessionID, u, "done"); err != nil {
		t.Fatal(err)
	}
	active, _ := mgr.store.ActiveSessionIDs(ctx, u.UserID)
	if len(active) != 0 {
		t.Fatalf("active sessions after end = %d, want 0", len(active))
	}
}

func TestResumeRejectsWrongOwner(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	s, _ := mgr.Create(ctx, testUser("u1"), models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)

	_, err := mgr.Resume(ctx, s.SessionID, testUser("u2"))
	if orcherr.KindOf(err) != orcherr.KindSessionNotFound {
		t.Fatalf("kind = %v, want SessionNotFound", orcherr.KindOf(err))
	}
}

func TestResumeBoundaryAtExpiry(t *testing.T) {
	mgr, setNow := newTestManager(t)
	ctx := context.Background()
	u := testUser("u1")
	s, _ := mgr.Create(ctx, u, models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)

	setNow(s.ExpiresAt.Add(-time.Millisecond))
	if _, err := mgr.Resume(ctx, s.SessionID, u); err != nil {
		t.Fatalf("expected resume to succeed just before expiry: %v", err)
	}

	setNow(s.ExpiresAt.Add(time.Millisecond))
	_, err := mgr.Resume(ctx, s.SessionID, u)
	if orcherr.KindOf(err) != orcherr.KindSessionExpired {
		t.Fatalf("kind = %v, want SessionExpired just after expiry", orcherr.KindOf(err))
	}
}

func TestTouchExtendsButNeverPastMaxTTL(t *testing.T) {
	mgr, setNow := newTestManager(t)
	ctx := context.Background()
	s, _ := mgr.Create(ctx, testUser("u1"), models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)

	setNow(s.CreatedAt.Add(90 * time.Minute)) // past idle_ttl(1h) but within max_ttl(2h)
	mgr.Touch(ctx, s.SessionID)

	got, _ := mgr.store.Get(ctx, s.SessionID)
	hardCap := s.CreatedAt.Add(2 * time.Hour)
	if got.ExpiresAt.After(hardCap) {
		t.Fatalf("expires_at %v extended past max_ttl %v", got.ExpiresAt, hardCap)
	}
}

func TestGarbageCollectTerminatesExpired(t *testing.T) {
	mgr, setNow := newTestManager(t)
	ctx := context.Background()
	s, _ := mgr.Create(ctx, testUser("u1"), models.AgentPersonal, models.ModeChat, models.PrivacyPrivate)

	setNow(s.ExpiresAt.Add(time.Second))
	n, err := mgr.GarbageCollect(ctx)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v, want 1 terminated", n, err)
	}
	got, _ := mgr.store.Get(ctx, s.SessionID)
	if got.Status != models.StatusExpired {
		t.Fatalf("status = %v, want expired", got.Status)
	}
}

func TestEphemeralSessionsPurgedOnEnd(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	u := testUser("u1")
	s, _ := mgr.Create(ctx, u, models.AgentPersonal, models.ModeChat, models.PrivacyEphemeral)

	if err := mgr.End(ctx, s.SessionID, u, "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.store.Get(ctx, s.SessionID); err != ErrSessionNotFound {
		t.Fatalf("expected ephemeral session purged on end, got err=%v", err)
	}
}
