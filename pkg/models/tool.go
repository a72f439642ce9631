package models

import "time"

// ToolKind distinguishes tool execution variants.
type ToolKind string

const (
	// ToolInProcess tools run inside the orchestrator process.
	ToolInProcess ToolKind = "in_process"

	// ToolHostedServer tools run as external long-lived processes managed
	// by the tool manager.
	ToolHostedServer ToolKind = "hosted_server"
)

// ToolMode describes the tool's process lifecycle.
type ToolMode string

const (
	ModePersistent ToolMode = "persistent"
	ModeOnDemand   ToolMode = "on_demand"
)

// ToolRequirements describes the constraints a tool places on its input.
type ToolRequirements struct {
	MinFiles         int           `json:"min_files,omitempty"`
	MaxFiles         int           `json:"max_files,omitempty"`
	AllowedFileTypes []string      `json:"allowed_file_types,omitempty"`
	Mode             ToolMode      `json:"mode,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	AuthKind         string        `json:"auth_kind,omitempty"`
}

// ToolDescriptor identifies a registered analyzer and its capabilities.
// Empty SupportedLanguages marks a universal tool.
type ToolDescriptor struct {
	ID                 string           `json:"id"`
	Kind               ToolKind         `json:"kind"`
	Version            string           `json:"version,omitempty"`
	Capabilities       []string         `json:"capabilities,omitempty"`
	Requirements       ToolRequirements `json:"requirements"`
	SupportedRoles     []AgentRole      `json:"supported_roles,omitempty"`
	SupportedLanguages []string         `json:"supported_languages,omitempty"`
}

// Universal reports whether the tool accepts every language.
func (d ToolDescriptor) Universal() bool {
	return len(d.SupportedLanguages) == 0
}

// SupportsRole reports whether the tool serves the given role.
func (d ToolDescriptor) SupportsRole(role AgentRole) bool {
	for _, r := range d.SupportedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether the tool accepts the given language.
func (d ToolDescriptor) SupportsLanguage(lang string) bool {
	if d.Universal() {
		return true
	}
	for _, l := range d.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// Error codes recorded on failed tool results.
const (
	ErrCodeTimeout     = "TIMEOUT"
	ErrCodeCancelled   = "CANCELLED"
	ErrCodeMalformed   = "MALFORMED_OUTPUT"
	ErrCodeUnavailable = "UNAVAILABLE"
	ErrCodeInternal    = "INTERNAL"
)

// ToolError describes why a tool attempt failed.
type ToolError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return e.Code + ": " + e.Message
}

// ToolResult is the outcome of a single tool attempt. Every attempt yields
// exactly one result, success or failure.
type ToolResult struct {
	ToolID     string             `json:"tool_id"`
	Success    bool               `json:"success"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMs int64              `json:"duration_ms"`
	Findings   []Finding          `json:"findings,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Error      *ToolError         `json:"error,omitempty"`
}
