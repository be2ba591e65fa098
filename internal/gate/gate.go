// Package gate implements the Permission/Quota Gate: the four-step
// admission pipeline (permission, rate limit, quota, privacy mode) that
// guards every orchestrator entry point, per spec.md §4.3.
package gate

import (
	"context"
	"strconv"
	"time"

	"github.com/haasonsaas/nexus/internal/resilience"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// Operation names one of the orchestrator's guarded entry points.
type Operation string

const (
	OpBasicChat       Operation = "basic_chat"
	OpVoice           Operation = "voice"
	OpFamilyManagement Operation = "family_management"
	OpAdmin           Operation = "admin"
	OpToolExecution   Operation = "tool_execution"
)

// PermissionTable maps an Operation to the permission tag a user must
// carry to perform it. Grounded on internal/multiagent/types.go's
// per-agent permission_requirements concept, folded here into an
// operation-keyed table — the gate guards the operation itself; the
// Agent Registry separately checks an agent kind's own requirement.
type PermissionTable map[Operation]string

// DefaultPermissionTable matches the tags named in spec.md §4.3.
func DefaultPermissionTable() PermissionTable {
	return PermissionTable{
		OpBasicChat:        "ai:basic_chat",
		OpVoice:            "ai:voice",
		OpFamilyManagement: "ai:family_management",
		OpAdmin:            "ai:admin",
		OpToolExecution:    "ai:basic_chat",
	}
}

// QuotaLimits configures the hourly/daily admission ceilings.
type QuotaLimits struct {
	HourlyLimit int64 // default 100
	DailyLimit  int64 // default 1000
}

func (q QuotaLimits) withDefaults() QuotaLimits {
	if q.HourlyLimit <= 0 {
		q.HourlyLimit = 100
	}
	if q.DailyLimit <= 0 {
		q.DailyLimit = 1000
	}
	return q
}

// AuditEmitter is the subset of the audit logger the gate needs, kept as
// an interface so gate does not import internal/audit directly.
type AuditEmitter interface {
	Record(ctx context.Context, kind, userID, detail string)
}

// Request is the input to Check.
type Request struct {
	User      *models.UserContext
	Operation Operation
	AgentKind models.AgentKind
	Session   *models.Session // nil when no session exists yet (e.g. create_session)
	FamilyID  string          // the family referenced by a family_shared operation
}

// Gate implements the four-step admission pipeline.
type Gate struct {
	perms   PermissionTable
	limiter *resilience.UserLimiter
	quota   QuotaLimits
	kv      store.Store
	audit   AuditEmitter
}

// NewGate constructs a Gate. limiter, kv, and audit may be nil: a nil
// limiter/kv skips that step (useful in tests), a nil audit simply
// drops denial records.
func NewGate(perms PermissionTable, limiter *resilience.UserLimiter, quota QuotaLimits, kv store.Store, audit AuditEmitter) *Gate {
	if perms == nil {
		perms = DefaultPermissionTable()
	}
	return &Gate{perms: perms, limiter: limiter, quota: quota.withDefaults(), kv: kv, audit: audit}
}

// Check runs the permission, rate-limit, quota, and privacy-mode steps
// in order, stopping at the first denial. Denials are audited and never
// retried by the caller.
func (g *Gate) Check(ctx context.Context, req Request) error {
	if err := g.checkPermission(req); err != nil {
		g.deny(ctx, "PermissionDenied", req)
		return err
	}
	if err := g.checkRateLimit(req); err != nil {
		g.deny(ctx, "RateLimited", req)
		return err
	}
	if err := g.checkQuota(ctx, req); err != nil {
		g.deny(ctx, "QuotaExceeded", req)
		return err
	}
	if err := g.checkPrivacy(req); err != nil {
		g.deny(ctx, "PermissionDenied", req)
		return err
	}
	return nil
}

func (g *Gate) checkPermission(req Request) error {
	tag, ok := g.perms[req.Operation]
	if !ok {
		return nil
	}
	if !req.User.HasPermission(tag) {
		return orcherr.New(orcherr.KindPermissionDenied, "gate.permission",
			"you don't have permission to do that").WithRecoveryHint("contact an administrator")
	}
	return nil
}

func (g *Gate) checkRateLimit(req Request) error {
	if g.limiter == nil || req.User == nil {
		return nil
	}
	if !g.limiter.Allow(req.User.UserID) {
		return orcherr.New(orcherr.KindRateLimited, "gate.ratelimit",
			"you're sending requests too quickly").WithRecoveryHint("wait a moment and try again")
	}
	return nil
}

// checkQuota reads the hourly/daily counters, denying if either is
// already at its ceiling, and increments both only on admission — per
// spec.md §4.3's "incremented on successful admission" — with expiries
// anchored to the current hour/day boundary rather than a rolling
// window from first use.
func (g *Gate) checkQuota(ctx context.Context, req Request) error {
	if g.kv == nil || req.User == nil {
		return nil
	}
	now := time.Now()
	hourlyKey := store.KeyQuotaHourly(req.User.UserID)
	dailyKey := store.KeyQuotaDaily(req.User.UserID)

	if n, err := g.peek(ctx, hourlyKey); err == nil && n >= g.quota.HourlyLimit {
		return orcherr.New(orcherr.KindQuotaExceeded, "gate.quota",
			"you've reached your hourly usage limit").WithRecoveryHint("try again next hour")
	}
	if n, err := g.peek(ctx, dailyKey); err == nil && n >= g.quota.DailyLimit {
		return orcherr.New(orcherr.KindQuotaExceeded, "gate.quota",
			"you've reached your daily usage limit").WithRecoveryHint("try again tomorrow")
	}

	if _, err := g.kv.Increment(ctx, hourlyKey, 1, untilNextHour(now)); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "gate.quota", "could not record usage", err)
	}
	if _, err := g.kv.Increment(ctx, dailyKey, 1, untilNextDay(now)); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "gate.quota", "could not record usage", err)
	}
	return nil
}

func (g *Gate) peek(ctx context.Context, key string) (int64, error) {
	b, err := g.kv.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n, nil
}

// checkPrivacy validates the operation against the session's privacy
// mode, e.g. family_shared requires the user be a member of the
// referenced family.
func (g *Gate) checkPrivacy(req Request) error {
	if req.Session == nil {
		return nil
	}
	if req.Session.PrivacyMode == models.PrivacyFamilyShared {
		if req.FamilyID == "" || !req.User.IsMember(req.FamilyID) {
			return orcherr.New(orcherr.KindPermissionDenied, "gate.privacy",
				"this session is shared with a family you're not a member of")
		}
	}
	return nil
}

func (g *Gate) deny(ctx context.Context, kind string, req Request) {
	if g.audit == nil {
		return
	}
	userID := ""
	if req.User != nil {
		userID = req.User.UserID
	}
	g.audit.Record(ctx, kind, userID, string(req.Operation))
}

func untilNextHour(now time.Time) time.Duration {
	next := now.Truncate(time.Hour).Add(time.Hour)
	return next.Sub(now)
}

func untilNextDay(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}

// Quota returns a read-only snapshot of a user's current counters, for
// observability and the orchestrator's status surface.
func (g *Gate) Quota(ctx context.Context, userID string) (models.QuotaCounters, error) {
	qc := models.QuotaCounters{UserID: userID, HourlyLimit: g.quota.HourlyLimit, DailyLimit: g.quota.DailyLimit}
	if g.kv == nil {
		return qc, nil
	}
	now := time.Now()
	if n, err := g.peek(ctx, store.KeyQuotaHourly(userID)); err == nil {
		qc.Hourly = n
	}
	qc.HourlyResetAt = now.Add(untilNextHour(now))
	if n, err := g.peek(ctx, store.KeyQuotaDaily(userID)); err == nil {
		qc.Daily = n
	}
	qc.DailyResetAt = now.Add(untilNextDay(now))
	return qc, nil
}
