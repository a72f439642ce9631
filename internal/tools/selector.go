package tools

import (
	"fmt"
	"sync"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// SelectionKey addresses a stored selector configuration row. Empty
// Language or Size fields act as wildcards at their tier of the lookup
// chain.
type SelectionKey struct {
	Role     models.AgentRole
	Language string
	Size     models.SizeBucket
}

// Selection names the primary tool set and the ordered fallback set for a
// resolved context.
type Selection struct {
	Primary   []string
	Fallbacks []string
}

// Selector resolves which tools run for a given (role, language, size)
// context. Lookup order: per-request override, exact stored row, role
// default, universal default. The selector never fabricates
// configuration: with no matching row it returns ErrNoConfiguration.
type Selector struct {
	mu       sync.RWMutex
	rows     map[SelectionKey]Selection
	registry *Registry
}

// NewSelector creates a selector backed by the given registry.
func NewSelector(registry *Registry) *Selector {
	return &Selector{
		rows:     make(map[SelectionKey]Selection),
		registry: registry,
	}
}

// Configure stores a selection row. Every referenced tool must be
// registered.
func (s *Selector) Configure(key SelectionKey, sel Selection) error {
	if len(sel.Primary) == 0 {
		return fmt.Errorf("selection for role %q has no primary tools", key.Role)
	}
	for _, id := range append(append([]string{}, sel.Primary...), sel.Fallbacks...) {
		if _, ok := s.registry.Get(id); !ok {
			return fmt.Errorf("selection references unregistered tool %q", id)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = Selection{
		Primary:   append([]string(nil), sel.Primary...),
		Fallbacks: append([]string(nil), sel.Fallbacks...),
	}
	return nil
}

// Resolve returns the selection for an analysis context. A per-request
// override (ToolOverrides["primary"]) replaces the primary set and keeps
// the stored fallbacks.
func (s *Selector) Resolve(ac *models.AnalysisContext) (Selection, error) {
	if ac == nil || ac.Repository == nil {
		return Selection{}, fmt.Errorf("resolve: %w", ErrNoConfiguration)
	}

	if override := ac.ToolOverrides["primary"]; override != "" {
		if _, ok := s.registry.Get(override); !ok {
			return Selection{}, fmt.Errorf("override tool %q: %w", override, ErrToolUnavailable)
		}
		sel := Selection{Primary: []string{override}}
		if stored, err := s.lookup(ac); err == nil {
			sel.Fallbacks = stored.Fallbacks
		}
		return sel, nil
	}

	return s.lookup(ac)
}

func (s *Selector) lookup(ac *models.AnalysisContext) (Selection, error) {
	lang := ac.Repository.PrimaryLanguage
	size := ac.Repository.SizeBucket()

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := []SelectionKey{
		{Role: ac.Role, Language: lang, Size: size},
		{Role: ac.Role, Language: lang},
		{Role: ac.Role},
		{},
	}
	for _, key := range chain {
		if sel, ok := s.rows[key]; ok {
			return sel, nil
		}
	}
	return Selection{}, fmt.Errorf("role %q language %q size %q: %w", ac.Role, lang, size, ErrNoConfiguration)
}

// Tools materializes a selection into primary and fallback tool slices,
// skipping ids that are no longer registered.
func (s *Selector) Tools(sel Selection) (primary []Tool, fallbacks []Tool) {
	for _, id := range sel.Primary {
		if tool, ok := s.registry.Get(id); ok {
			primary = append(primary, tool)
		}
	}
	for _, id := range sel.Fallbacks {
		if tool, ok := s.registry.Get(id); ok {
			fallbacks = append(fallbacks, tool)
		}
	}
	return primary, fallbacks
}
