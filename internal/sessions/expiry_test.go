package sessions

import (
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestInitialExpiryRespectsMaxTTL(t *testing.T) {
	p := NewExpiryPolicy(24*time.Hour, 1*time.Hour) // idle longer than max
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := p.InitialExpiry(created)
	want := created.Add(1 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIsExpiredBoundary(t *testing.T) {
	p := NewExpiryPolicy(time.Hour, 2*time.Hour)
	fixed := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	p.SetNowFunc(func() time.Time { return fixed })

	s := &models.Session{ExpiresAt: fixed.Add(time.Nanosecond)}
	if p.IsExpired(s) {
		t.Fatal("session expiring one nanosecond in the future must not be expired yet")
	}
	s.ExpiresAt = fixed
	if !p.IsExpired(s) {
		t.Fatal("session expiring exactly now must be expired")
	}
}
