package models

// FailedTool records a tool that could not produce findings.
type FailedTool struct {
	ToolID string     `json:"tool_id"`
	Error  *ToolError `json:"error,omitempty"`
}

// ConsolidatedResult is the fused output of a set of tool attempts.
// It is produced even when every tool failed.
type ConsolidatedResult struct {
	Findings        []Finding          `json:"findings"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	ToolsSucceeded  []string           `json:"tools_succeeded,omitempty"`
	ToolsFailed     []FailedTool       `json:"tools_failed,omitempty"`
	TotalDurationMs int64              `json:"total_duration_ms"`
}

// CriticalCount returns the number of critical findings.
func (r *ConsolidatedResult) CriticalCount() int {
	count := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			count++
		}
	}
	return count
}

// SeverityCounts returns the issue distribution by severity.
func (r *ConsolidatedResult) SeverityCounts() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}
