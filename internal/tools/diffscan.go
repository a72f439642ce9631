package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// DiffScan is a minimal in-process analyzer. It inspects PR diffs for
// added debug statements and oversized changes, and reports change-volume
// metrics. It exists so every role can carry a second tool without
// pulling external linters into the orchestrator, and it doubles as the
// reference implementation of the tool contract.
type DiffScan struct {
	id    string
	roles []models.AgentRole
}

// NewDiffScan creates a diffscan tool serving the given roles.
func NewDiffScan(roles ...models.AgentRole) *DiffScan {
	if len(roles) == 0 {
		roles = models.Roles()
	}
	return &DiffScan{id: "diffscan", roles: roles}
}

// Descriptor implements Tool.
func (d *DiffScan) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		ID:             d.id,
		Kind:           models.ToolInProcess,
		Version:        "1",
		Capabilities:   []string{"diff-metrics", "debug-statements"},
		SupportedRoles: d.roles,
		Requirements: models.ToolRequirements{
			Mode:    models.ModeOnDemand,
			Timeout: 10 * time.Second,
		},
	}
}

// HealthCheck implements Tool; an in-process tool is always live.
func (d *DiffScan) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// debugMarkers flag added lines that look like leftover debugging.
var debugMarkers = []string{
	"console.log(",
	"fmt.Println(",
	"print(",
	"debugger",
	"TODO(remove)",
}

// largeChangeLines is the added-line count above which a PR gets a
// reviewability suggestion.
const largeChangeLines = 800

// Execute implements Tool.
func (d *DiffScan) Execute(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
	started := time.Now()
	result := &models.ToolResult{
		ToolID:    d.id,
		StartedAt: started,
		Metrics:   map[string]float64{},
	}

	var added, removed int
	for _, f := range filesOf(ac) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, line := range strings.Split(f.Diff, "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				added++
				for _, marker := range debugMarkers {
					if strings.Contains(line, marker) {
						result.Findings = append(result.Findings, models.Finding{
							Kind:     models.FindingIssue,
							Severity: models.SeverityLow,
							Category: "debug-statement",
							Message:  fmt.Sprintf("added line contains %q", marker),
							File:     f.Path,
						})
						break
					}
				}
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				removed++
			}
		}
	}

	if added > largeChangeLines {
		result.Findings = append(result.Findings, models.Finding{
			Kind:     models.FindingSuggestion,
			Severity: models.SeverityInfo,
			Category: "change-size",
			Message:  fmt.Sprintf("%d added lines; consider splitting the change", added),
		})
	}

	result.Metrics["lines_added"] = float64(added)
	result.Metrics["lines_removed"] = float64(removed)
	result.Metrics["files_changed"] = float64(len(filesOf(ac)))
	result.Success = true
	result.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}

func filesOf(ac *models.AnalysisContext) []models.File {
	if ac == nil || ac.PR == nil {
		return nil
	}
	var files []models.File
	for _, f := range ac.PR.Files {
		if f.ChangeType != models.ChangeDeleted {
			files = append(files, f)
		}
	}
	return files
}
