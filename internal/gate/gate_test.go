package gate

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/resilience"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

func userWithPerm(tags ...string) *models.UserContext {
	perms := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		perms[t] = struct{}{}
	}
	return &models.UserContext{UserID: "u1", Permissions: perms}
}

func TestCheckDeniesMissingPermission(t *testing.T) {
	g := NewGate(nil, nil, QuotaLimits{}, nil, nil)
	err := g.Check(context.Background(), Request{User: userWithPerm(), Operation: OpBasicChat})
	if orcherr.KindOf(err) != orcherr.KindPermissionDenied {
		t.Fatalf("kind = %v, want PermissionDenied", orcherr.KindOf(err))
	}
}

func TestCheckAllowsWithPermission(t *testing.T) {
	g := NewGate(nil, nil, QuotaLimits{}, nil, nil)
	err := g.Check(context.Background(), Request{User: userWithPerm("ai:basic_chat"), Operation: OpBasicChat})
	if err != nil {
		t.Fatalf("unexpected denial: %v", err)
	}
}

func TestCheckDeniesOverQuota(t *testing.T) {
	kv := store.NewMemoryStore()
	g := NewGate(nil, nil, QuotaLimits{HourlyLimit: 1, DailyLimit: 100}, kv, nil)
	u := userWithPerm("ai:basic_chat")

	if err := g.Check(context.Background(), Request{User: u, Operation: OpBasicChat}); err != nil {
		t.Fatalf("first request should be admitted: %v", err)
	}
	err := g.Check(context.Background(), Request{User: u, Operation: OpBasicChat})
	if orcherr.KindOf(err) != orcherr.KindQuotaExceeded {
		t.Fatalf("kind = %v, want QuotaExceeded on the second request", orcherr.KindOf(err))
	}
}

func TestCheckDeniesRateLimited(t *testing.T) {
	limiter := resilience.NewUserLimiter(1, 1)
	g := NewGate(nil, limiter, QuotaLimits{}, nil, nil)
	u := userWithPerm("ai:basic_chat")

	if err := g.Check(context.Background(), Request{User: u, Operation: OpBasicChat}); err != nil {
		t.Fatalf("first request should be admitted: %v", err)
	}
	err := g.Check(context.Background(), Request{User: u, Operation: OpBasicChat})
	if orcherr.KindOf(err) != orcherr.KindRateLimited {
		t.Fatalf("kind = %v, want RateLimited on the immediate second request", orcherr.KindOf(err))
	}
}

func TestCheckFamilySharedRequiresMembership(t *testing.T) {
	g := NewGate(nil, nil, QuotaLimits{}, nil, nil)
	u := userWithPerm("ai:basic_chat")
	session := &models.Session{PrivacyMode: models.PrivacyFamilyShared}

	err := g.Check(context.Background(), Request{User: u, Operation: OpBasicChat, Session: session, FamilyID: "fam1"})
	if orcherr.KindOf(err) != orcherr.KindPermissionDenied {
		t.Fatalf("kind = %v, want PermissionDenied for a non-member", orcherr.KindOf(err))
	}

	u.Memberships = map[string]struct{}{"fam1": {}}
	if err := g.Check(context.Background(), Request{User: u, Operation: OpBasicChat, Session: session, FamilyID: "fam1"}); err != nil {
		t.Fatalf("member should be admitted: %v", err)
	}
}

type recordingAudit struct {
	kinds []string
}

func (r *recordingAudit) Record(ctx context.Context, kind, userID, detail string) {
	r.kinds = append(r.kinds, kind)
}

func TestCheckAuditsOnDenial(t *testing.T) {
	audit := &recordingAudit{}
	g := NewGate(nil, nil, QuotaLimits{}, nil, audit)
	_ = g.Check(context.Background(), Request{User: userWithPerm(), Operation: OpBasicChat})
	if len(audit.kinds) != 1 || audit.kinds[0] != "PermissionDenied" {
		t.Fatalf("audit.kinds = %v, want [PermissionDenied]", audit.kinds)
	}
}
