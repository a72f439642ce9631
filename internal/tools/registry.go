package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// universalLanguage indexes tools that accept every language.
const universalLanguage = "*"

// healthCheckTimeout bounds each liveness probe.
const healthCheckTimeout = 2 * time.Second

// Registry is the catalog of registered analyzers. It maintains three
// indices (id, role, language) that are updated together under one lock
// so readers never observe partial registration.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]Tool
	byRole     map[models.AgentRole]map[string]bool
	byLanguage map[string]map[string]bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]Tool),
		byRole:     make(map[models.AgentRole]map[string]bool),
		byLanguage: make(map[string]map[string]bool),
	}
}

// Register adds a tool to all indices in one step. Registration is
// idempotent by id: re-registering replaces the prior entry.
func (r *Registry) Register(tool Tool) {
	desc := tool.Descriptor()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[desc.ID]; exists {
		r.removeLocked(desc.ID)
	}

	r.byID[desc.ID] = tool
	for _, role := range desc.SupportedRoles {
		if r.byRole[role] == nil {
			r.byRole[role] = make(map[string]bool)
		}
		r.byRole[role][desc.ID] = true
	}
	if desc.Universal() {
		if r.byLanguage[universalLanguage] == nil {
			r.byLanguage[universalLanguage] = make(map[string]bool)
		}
		r.byLanguage[universalLanguage][desc.ID] = true
	} else {
		for _, lang := range desc.SupportedLanguages {
			if r.byLanguage[lang] == nil {
				r.byLanguage[lang] = make(map[string]bool)
			}
			r.byLanguage[lang][desc.ID] = true
		}
	}
}

// Unregister removes a tool from all indices.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) {
	delete(r.byID, id)
	for _, ids := range r.byRole {
		delete(ids, id)
	}
	for _, ids := range r.byLanguage {
		delete(ids, id)
	}
}

// Get returns a tool by id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byID[id]
	return tool, ok
}

// ToolsForRole returns the tools registered for a role, sorted by id.
func (r *Registry) ToolsForRole(role models.AgentRole) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byRole[role])
}

// ToolsForLanguage returns the tools accepting a language, including
// universal tools, sorted by id.
func (r *Registry) ToolsForLanguage(lang string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[string]bool, len(r.byLanguage[lang])+len(r.byLanguage[universalLanguage]))
	for id := range r.byLanguage[lang] {
		ids[id] = true
	}
	for id := range r.byLanguage[universalLanguage] {
		ids[id] = true
	}
	return r.collectLocked(ids)
}

// Compatible returns the tools whose role, languages, and requirements all
// admit the context.
func (r *Registry) Compatible(ac *models.AnalysisContext) []Tool {
	if ac == nil {
		return nil
	}
	langs := map[string]bool{}
	if ac.PR != nil {
		for _, l := range ac.PR.Languages() {
			langs[l] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for id := range r.byRole[ac.Role] {
		tool := r.byID[id]
		if tool == nil {
			continue
		}
		desc := tool.Descriptor()
		if len(langs) > 0 && !desc.Universal() {
			supported := false
			for lang := range langs {
				if desc.SupportsLanguage(lang) {
					supported = true
					break
				}
			}
			if !supported {
				continue
			}
		}
		if !CanAnalyze(desc, ac) {
			continue
		}
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor().ID < out[j].Descriptor().ID
	})
	return out
}

// IDs returns all registered tool ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VerifyRoleCoverage checks that every role in the given set has at least
// two registered tools, so selection can degrade to a fallback.
func (r *Registry) VerifyRoleCoverage(roles ...models.AgentRole) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range roles {
		if len(r.byRole[role]) < 2 {
			return ErrRoleUnderprovisioned
		}
	}
	return nil
}

// HealthCheck probes every registered tool and returns a map of tool id
// to probe error (nil on success). Each probe is bounded to 2 seconds.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	toolsCopy := make(map[string]Tool, len(r.byID))
	for id, tool := range r.byID {
		toolsCopy[id] = tool
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(toolsCopy))
	for id, tool := range toolsCopy {
		probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		results[id] = tool.HealthCheck(probeCtx)
		cancel()
	}
	return results
}

func (r *Registry) collectLocked(ids map[string]bool) []Tool {
	out := make([]Tool, 0, len(ids))
	for id := range ids {
		if tool := r.byID[id]; tool != nil {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor().ID < out[j].Descriptor().ID
	})
	return out
}
