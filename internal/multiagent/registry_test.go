package multiagent

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestDefaultRegistryHasAllSixKinds(t *testing.T) {
	r := DefaultRegistry()
	for _, kind := range []models.AgentKind{
		models.AgentFamily, models.AgentPersonal, models.AgentWorkspace,
		models.AgentCommerce, models.AgentSecurity, models.AgentVoice,
	} {
		if r.Get(kind) == nil {
			t.Fatalf("registry missing agent kind %q", kind)
		}
	}
}

func TestDefaultRegistryOrdersByDescendingPriority(t *testing.T) {
	r := DefaultRegistry()
	all := r.All()
	for i := 1; i < len(all); i++ {
		if all[i].Priority > all[i-1].Priority {
			t.Fatalf("registry.All() not sorted by descending priority at index %d: %d > %d", i, all[i].Priority, all[i-1].Priority)
		}
	}
}

func TestToolAllowlistMatchesDefinition(t *testing.T) {
	r := DefaultRegistry()
	allowed := r.ToolAllowlist(models.AgentCommerce)
	if _, ok := allowed["catalog_search"]; !ok {
		t.Fatalf("expected catalog_search in Commerce allowlist, got %v", allowed)
	}
	if _, ok := allowed["reboot_system"]; ok {
		t.Fatalf("Commerce should not have reboot_system in its allowlist")
	}
}

func TestToolAllowlistUnknownKindReturnsNil(t *testing.T) {
	r := DefaultRegistry()
	if allowed := r.ToolAllowlist(models.AgentKind("bogus")); allowed != nil {
		t.Fatalf("expected nil allowlist for unknown kind, got %v", allowed)
	}
}
