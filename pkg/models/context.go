package models

import "fmt"

// AgentRole names the review perspective a tool is invoked under.
type AgentRole string

const (
	RoleCodeQuality  AgentRole = "code-quality"
	RoleSecurity     AgentRole = "security"
	RoleArchitecture AgentRole = "architecture"
	RoleDependencies AgentRole = "dependencies"
	RolePatterns     AgentRole = "patterns"
)

// Roles lists every review perspective.
func Roles() []AgentRole {
	return []AgentRole{RoleCodeQuality, RoleSecurity, RoleArchitecture, RoleDependencies, RolePatterns}
}

// UserContext carries the identity and permissions of the requesting user.
type UserContext struct {
	UserID      string   `json:"user_id"`
	OrgID       string   `json:"org_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// AnalysisContext is the input to every tool invocation. It is owned by the
// single run that produced it and discarded on run completion.
type AnalysisContext struct {
	Role          AgentRole         `json:"role"`
	PR            *PullRequest      `json:"pr,omitempty"`
	Repository    *Repository       `json:"repository"`
	User          UserContext       `json:"user"`
	ToolOverrides map[string]string `json:"tool_overrides,omitempty"`
}

// Validate enforces the context invariants: a repository is required and
// deleted files never carry content.
func (c *AnalysisContext) Validate() error {
	if c.Repository == nil {
		return fmt.Errorf("analysis context missing repository")
	}
	if c.PR != nil {
		for _, f := range c.PR.Files {
			if f.ChangeType == ChangeDeleted && f.Content != "" {
				return fmt.Errorf("deleted file %s carries content", f.Path)
			}
		}
	}
	return nil
}
