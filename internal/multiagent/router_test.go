package multiagent

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

func TestRouteExplicitKindWins(t *testing.T) {
	r := NewRouter(DefaultRegistry())
	def, err := r.Route(context.Background(), models.AgentSecurity, "what's the weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Kind != models.AgentSecurity {
		t.Fatalf("kind = %v, want Security", def.Kind)
	}
}

func TestRouteExplicitUnknownKindFails(t *testing.T) {
	r := NewRouter(DefaultRegistry())
	_, err := r.Route(context.Background(), models.AgentKind("bogus"), "hi")
	if orcherr.KindOf(err) != orcherr.KindValidationError {
		t.Fatalf("kind = %v, want ValidationError", orcherr.KindOf(err))
	}
}

func TestRouteClassifiesByKeyword(t *testing.T) {
	r := NewRouter(DefaultRegistry())
	def, err := r.Route(context.Background(), "", "I'd like to buy a new laptop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Kind != models.AgentCommerce {
		t.Fatalf("kind = %v, want Commerce", def.Kind)
	}
}

func TestRouteFallsBackToPersonalWhenNoKeywordMatches(t *testing.T) {
	r := NewRouter(DefaultRegistry())
	def, err := r.Route(context.Background(), "", "tell me a joke")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Kind != models.AgentPersonal {
		t.Fatalf("kind = %v, want Personal fallback", def.Kind)
	}
}

func TestRouteTieBreaksByPriority(t *testing.T) {
	r := NewRouter(DefaultRegistry())
	// "security" hits Security's trigger; "admin" also hits Security's
	// trigger — both words land on the same highest-priority agent, so
	// this exercises the equal-score-keeps-first-seen tie-break path
	// rather than genuinely competing kinds.
	def, err := r.Route(context.Background(), "", "security admin review")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Kind != models.AgentSecurity {
		t.Fatalf("kind = %v, want Security", def.Kind)
	}
}

func TestSwitchResolvesDestinationAndBuildsEvent(t *testing.T) {
	r := NewRouter(DefaultRegistry())
	def, evt, err := r.Switch("sess-1", models.AgentPersonal, models.AgentCommerce, "user asked to shop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Kind != models.AgentCommerce {
		t.Fatalf("kind = %v, want Commerce", def.Kind)
	}
	if evt.SessionID != "sess-1" || evt.FromKind != models.AgentPersonal || evt.ToKind != models.AgentCommerce {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestSwitchUnknownDestinationFails(t *testing.T) {
	r := NewRouter(DefaultRegistry())
	_, _, err := r.Switch("sess-1", models.AgentPersonal, models.AgentKind("bogus"), "x")
	if orcherr.KindOf(err) != orcherr.KindValidationError {
		t.Fatalf("kind = %v, want ValidationError", orcherr.KindOf(err))
	}
}
