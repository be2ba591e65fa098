package sessions

import (
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ExpiryPolicy computes session expiry per spec.md §4.4: idle_ttl extends
// expires_at on every touch, bounded by a hard max_ttl measured from
// creation. Grounded on the teacher's SessionExpiry (injectable nowFunc
// for deterministic tests), simplified from the teacher's per-channel
// daily/idle reset-mode table to the single idle/max TTL pair spec.md
// names — the per-channel reset concept doesn't survive because channel
// routing is an out-of-scope external collaborator here.
type ExpiryPolicy struct {
	IdleTTL time.Duration // default 24h
	MaxTTL  time.Duration // default 72h
	nowFunc func() time.Time
}

// NewExpiryPolicy builds a policy with the given TTLs, defaulting to
// spec.md's 24h/72h pair when zero.
func NewExpiryPolicy(idleTTL, maxTTL time.Duration) *ExpiryPolicy {
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	if maxTTL <= 0 {
		maxTTL = 72 * time.Hour
	}
	return &ExpiryPolicy{IdleTTL: idleTTL, MaxTTL: maxTTL, nowFunc: time.Now}
}

// SetNowFunc overrides the clock for deterministic tests.
func (p *ExpiryPolicy) SetNowFunc(fn func() time.Time) { p.nowFunc = fn }

func (p *ExpiryPolicy) now() time.Time {
	if p.nowFunc != nil {
		return p.nowFunc()
	}
	return time.Now()
}

// NextExpiry computes the new expires_at for a touch at "now", extending
// up to IdleTTL from now but never past createdAt+MaxTTL.
func (p *ExpiryPolicy) NextExpiry(createdAt time.Time) time.Time {
	now := p.now()
	candidate := now.Add(p.IdleTTL)
	hardCap := createdAt.Add(p.MaxTTL)
	if candidate.After(hardCap) {
		return hardCap
	}
	return candidate
}

// IsExpired reports whether the session's expires_at has passed.
func (p *ExpiryPolicy) IsExpired(s *models.Session) bool {
	if s == nil {
		return true
	}
	return !p.now().Before(s.ExpiresAt)
}

// InitialExpiry computes expires_at for a freshly created session,
// satisfying the invariant expires_at >= created_at + default_ttl.
func (p *ExpiryPolicy) InitialExpiry(createdAt time.Time) time.Time {
	candidate := createdAt.Add(p.IdleTTL)
	hardCap := createdAt.Add(p.MaxTTL)
	if candidate.After(hardCap) {
		return hardCap
	}
	return candidate
}
