package tools

import (
	"errors"
	"testing"

	"github.com/haasonsaas/reviewd/pkg/models"
)

func selectorFixture(t *testing.T) (*Registry, *Selector) {
	t.Helper()
	r := NewRegistry()
	for _, id := range []string{"lint-go", "lint-go-fast", "sec-scan", "generic"} {
		r.Register(newFakeTool(id, []models.AgentRole{models.RoleCodeQuality, models.RoleSecurity}, nil))
	}
	return r, NewSelector(r)
}

func selectorContext(role models.AgentRole, lang string, sizeBytes int64) *models.AnalysisContext {
	return &models.AnalysisContext{
		Role: role,
		Repository: &models.Repository{
			ID:              "r1",
			Provider:        models.ProviderGitHub,
			Owner:           "acme",
			Name:            "api",
			PrimaryLanguage: lang,
			SizeBytes:       sizeBytes,
		},
	}
}

func TestSelectorConfigureRejectsUnknownTool(t *testing.T) {
	_, s := selectorFixture(t)
	err := s.Configure(SelectionKey{Role: models.RoleCodeQuality}, Selection{Primary: []string{"ghost"}})
	if err == nil {
		t.Fatal("Configure accepted an unregistered tool")
	}
	err = s.Configure(SelectionKey{Role: models.RoleCodeQuality}, Selection{})
	if err == nil {
		t.Fatal("Configure accepted an empty primary set")
	}
}

func TestSelectorLookupChain(t *testing.T) {
	_, s := selectorFixture(t)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.Configure(SelectionKey{}, Selection{Primary: []string{"generic"}}))
	must(s.Configure(SelectionKey{Role: models.RoleCodeQuality}, Selection{Primary: []string{"lint-go"}}))
	must(s.Configure(SelectionKey{Role: models.RoleCodeQuality, Language: "Go"}, Selection{Primary: []string{"lint-go-fast"}}))
	must(s.Configure(
		SelectionKey{Role: models.RoleCodeQuality, Language: "Go", Size: models.SizeLarge},
		Selection{Primary: []string{"lint-go", "lint-go-fast"}, Fallbacks: []string{"generic"}},
	))

	tests := []struct {
		name string
		ac   *models.AnalysisContext
		want []string
	}{
		{"exact row", selectorContext(models.RoleCodeQuality, "Go", 200<<20), []string{"lint-go", "lint-go-fast"}},
		{"role+language row", selectorContext(models.RoleCodeQuality, "Go", 1<<20), []string{"lint-go-fast"}},
		{"role default", selectorContext(models.RoleCodeQuality, "Rust", 1<<20), []string{"lint-go"}},
		{"universal default", selectorContext(models.RoleSecurity, "Rust", 1<<20), []string{"generic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := s.Resolve(tt.ac)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if len(sel.Primary) != len(tt.want) {
				t.Fatalf("Primary = %v, want %v", sel.Primary, tt.want)
			}
			for i, id := range tt.want {
				if sel.Primary[i] != id {
					t.Errorf("Primary = %v, want %v", sel.Primary, tt.want)
					break
				}
			}
		})
	}
}

func TestSelectorNoConfiguration(t *testing.T) {
	_, s := selectorFixture(t)
	_, err := s.Resolve(selectorContext(models.RoleSecurity, "Go", 0))
	if !errors.Is(err, ErrNoConfiguration) {
		t.Errorf("expected ErrNoConfiguration, got %v", err)
	}
}

func TestSelectorOverride(t *testing.T) {
	_, s := selectorFixture(t)
	if err := s.Configure(SelectionKey{Role: models.RoleCodeQuality}, Selection{
		Primary:   []string{"lint-go"},
		Fallbacks: []string{"generic"},
	}); err != nil {
		t.Fatal(err)
	}

	ac := selectorContext(models.RoleCodeQuality, "Go", 0)
	ac.ToolOverrides = map[string]string{"primary": "sec-scan"}
	sel, err := s.Resolve(ac)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(sel.Primary) != 1 || sel.Primary[0] != "sec-scan" {
		t.Errorf("override not applied: %v", sel.Primary)
	}
	if len(sel.Fallbacks) != 1 || sel.Fallbacks[0] != "generic" {
		t.Errorf("stored fallbacks not kept: %v", sel.Fallbacks)
	}

	ac.ToolOverrides["primary"] = "ghost"
	if _, err := s.Resolve(ac); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("unregistered override: expected ErrToolUnavailable, got %v", err)
	}
}

func TestSelectorToolsSkipsUnregistered(t *testing.T) {
	r, s := selectorFixture(t)
	if err := s.Configure(SelectionKey{Role: models.RoleCodeQuality}, Selection{
		Primary:   []string{"lint-go", "sec-scan"},
		Fallbacks: []string{"generic"},
	}); err != nil {
		t.Fatal(err)
	}
	r.Unregister("sec-scan")

	sel, err := s.Resolve(selectorContext(models.RoleCodeQuality, "Go", 0))
	if err != nil {
		t.Fatal(err)
	}
	primary, fallbacks := s.Tools(sel)
	if len(primary) != 1 || primary[0].Descriptor().ID != "lint-go" {
		t.Errorf("primary = %v", ids(primary))
	}
	if len(fallbacks) != 1 || fallbacks[0].Descriptor().ID != "generic" {
		t.Errorf("fallbacks = %v", ids(fallbacks))
	}
}
