package models

// FindingKind classifies what a finding represents.
type FindingKind string

const (
	FindingIssue      FindingKind = "issue"
	FindingSuggestion FindingKind = "suggestion"
	FindingInfo       FindingKind = "info"
	FindingMetric     FindingKind = "metric"
)

// Severity ranks findings. The order is total:
// critical > high > medium > low > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns the numeric rank of a severity; unknown severities rank
// below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Finding is a single observation emitted by a tool.
type Finding struct {
	Kind        FindingKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Category    string      `json:"category"`
	Message     string      `json:"message"`
	File        string      `json:"file,omitempty"`
	Line        int         `json:"line,omitempty"`
	Column      int         `json:"column,omitempty"`
	RuleID      string      `json:"rule_id,omitempty"`
	AutoFixable bool        `json:"auto_fixable,omitempty"`
	Fix         string      `json:"fix,omitempty"`
}
