package consolidate

import (
	"testing"

	"github.com/haasonsaas/reviewd/pkg/models"
)

func ok(toolID string, findings ...models.Finding) models.ToolResult {
	return models.ToolResult{ToolID: toolID, Success: true, Findings: findings, DurationMs: 100}
}

func TestMergeDeduplicatesKeepingHigherSeverity(t *testing.T) {
	dupLow := models.Finding{
		Kind: models.FindingIssue, Severity: models.SeverityLow,
		Category: "sql-injection", File: "db.go", Line: 42, Message: "unsanitized input",
	}
	dupHigh := dupLow
	dupHigh.Severity = models.SeverityCritical
	other := models.Finding{
		Kind: models.FindingIssue, Severity: models.SeverityMedium,
		Category: "sql-injection", File: "db.go", Line: 43, Message: "unsanitized input",
	}

	result := Merge([]models.ToolResult{
		ok("scan-a", dupLow, other),
		ok("scan-b", dupHigh),
	})

	if len(result.Findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(result.Findings))
	}
	if result.Findings[0].Severity != models.SeverityCritical {
		t.Errorf("duplicate kept severity %s, want critical", result.Findings[0].Severity)
	}
}

func TestMergeEqualSeverityKeepsEarlierArrival(t *testing.T) {
	first := models.Finding{
		Kind: models.FindingIssue, Severity: models.SeverityHigh,
		Category: "complexity", File: "big.go", Line: 1, Message: "too complex",
		RuleID: "from-first",
	}
	second := first
	second.RuleID = "from-second"

	result := Merge([]models.ToolResult{ok("a", first), ok("b", second)})
	if len(result.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(result.Findings))
	}
	if result.Findings[0].RuleID != "from-first" {
		t.Errorf("tie broke toward later arrival: %s", result.Findings[0].RuleID)
	}
}

func TestMergeGlobalFindingsCollapse(t *testing.T) {
	global := models.Finding{
		Kind: models.FindingSuggestion, Severity: models.SeverityInfo,
		Category: "change-size", Message: "large change",
	}
	result := Merge([]models.ToolResult{ok("a", global), ok("b", global)})
	if len(result.Findings) != 1 {
		t.Errorf("file-less duplicates did not collapse: %d findings", len(result.Findings))
	}
}

func TestMergeMetricNamespacing(t *testing.T) {
	result := Merge([]models.ToolResult{
		{ToolID: "diffscan", Success: true, Metrics: map[string]float64{"lines_added": 12}},
		{ToolID: "lint", Success: true, Metrics: map[string]float64{"lines_added": 7}},
	})
	if result.Metrics["diffscan.lines_added"] != 12 || result.Metrics["lint.lines_added"] != 7 {
		t.Errorf("metrics not namespaced: %v", result.Metrics)
	}
}

func TestMergeSummaryMetrics(t *testing.T) {
	result := Merge([]models.ToolResult{
		ok("a"),
		{ToolID: "b", Success: false, Error: &models.ToolError{Code: models.ErrCodeTimeout, Message: "deadline", Recoverable: true}},
		ok("c"),
		{ToolID: "d", Success: false, Error: &models.ToolError{Code: models.ErrCodeInternal, Message: "boom"}},
	})

	checks := map[string]float64{
		"tools.total":       4,
		"tools.succeeded":   2,
		"tools.failed":      2,
		"tools.successRate": 0.5,
	}
	for name, want := range checks {
		if got := result.Metrics[name]; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	if len(result.ToolsFailed) != 2 {
		t.Errorf("ToolsFailed = %d, want 2", len(result.ToolsFailed))
	}
}

func TestMergeAllToolsFailed(t *testing.T) {
	result := Merge([]models.ToolResult{
		{ToolID: "a", Success: false, Error: &models.ToolError{Code: models.ErrCodeTimeout, Message: "deadline"}},
		{ToolID: "b", Success: false, Error: &models.ToolError{Code: models.ErrCodeUnavailable, Message: "down"}},
	})
	if result == nil {
		t.Fatal("no result produced for an all-failed batch")
	}
	if len(result.Findings) != 0 {
		t.Errorf("findings = %d, want 0", len(result.Findings))
	}
	if len(result.ToolsFailed) != 2 {
		t.Errorf("ToolsFailed = %d, want 2", len(result.ToolsFailed))
	}
	if result.Metrics["tools.successRate"] != 0 {
		t.Errorf("successRate = %v, want 0", result.Metrics["tools.successRate"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	input := []models.ToolResult{
		ok("a", models.Finding{Kind: models.FindingIssue, Severity: models.SeverityHigh, Category: "x", File: "f.go", Line: 3, Message: "m"}),
		{ToolID: "b", Success: false, Error: &models.ToolError{Code: models.ErrCodeInternal, Message: "boom"}},
	}
	first := Merge(input)
	second := Merge(input)
	if len(first.Findings) != len(second.Findings) ||
		first.Metrics["tools.successRate"] != second.Metrics["tools.successRate"] {
		t.Error("Merge is not deterministic over the same input")
	}
}

func TestCombineDeduplicatesAcrossParts(t *testing.T) {
	dup := models.Finding{
		Kind: models.FindingIssue, Severity: models.SeverityMedium,
		Category: "coupling", File: "svc.go", Line: 10, Message: "cyclic import",
	}
	higher := dup
	higher.Severity = models.SeverityHigh

	a := Merge([]models.ToolResult{ok("arch", dup)})
	b := Merge([]models.ToolResult{ok("quality", higher)})
	combined := Combine(a, b)

	if len(combined.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(combined.Findings))
	}
	if combined.Findings[0].Severity != models.SeverityHigh {
		t.Errorf("combined severity = %s, want high", combined.Findings[0].Severity)
	}
	if combined.Metrics["tools.total"] != 2 || combined.Metrics["tools.successRate"] != 1 {
		t.Errorf("summary metrics = %v", combined.Metrics)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		findings []models.Finding
		want     float64
	}{
		{"clean", nil, 100},
		{"one critical", []models.Finding{{Severity: models.SeverityCritical}}, 85},
		{"mixed", []models.Finding{
			{Severity: models.SeverityHigh},
			{Severity: models.SeverityMedium},
			{Severity: models.SeverityLow},
		}, 88},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &models.ConsolidatedResult{Findings: tt.findings}
			if got := Score(result); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}

	many := make([]models.Finding, 20)
	for i := range many {
		many[i] = models.Finding{Severity: models.SeverityCritical}
	}
	if got := Score(&models.ConsolidatedResult{Findings: many}); got != 0 {
		t.Errorf("Score floor = %v, want 0", got)
	}
}

func TestDistributionOrder(t *testing.T) {
	result := &models.ConsolidatedResult{Findings: []models.Finding{
		{Severity: models.SeverityLow},
		{Severity: models.SeverityCritical},
		{Severity: models.SeverityLow},
	}}
	dist := Distribution(result)
	if len(dist) != 2 {
		t.Fatalf("distribution rows = %d, want 2", len(dist))
	}
	if dist[0].Severity != models.SeverityCritical || dist[0].Count != 1 {
		t.Errorf("dist[0] = %+v", dist[0])
	}
	if dist[1].Severity != models.SeverityLow || dist[1].Count != 2 {
		t.Errorf("dist[1] = %+v", dist[1])
	}
}
