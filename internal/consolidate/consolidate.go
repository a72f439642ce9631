// Package consolidate fuses the results of one tool batch into a single
// deduplicated result.
package consolidate

import (
	"fmt"
	"sort"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// globalFile stands in for findings that are not tied to a file.
const globalFile = "<global>"

// dedupKey identifies a finding for duplicate collapse. Severity is
// deliberately excluded: two tools reporting the same observation at
// different severities are one finding at the higher severity.
type dedupKey struct {
	kind     models.FindingKind
	category string
	file     string
	line     int
	message  string
}

func keyOf(f models.Finding) dedupKey {
	file := f.File
	if file == "" {
		file = globalFile
	}
	return dedupKey{
		kind:     f.Kind,
		category: f.Category,
		file:     file,
		line:     f.Line,
		message:  f.Message,
	}
}

// Merge fuses tool results in arrival order into a ConsolidatedResult.
// Duplicate findings keep the higher severity; on equal severity the
// earlier arrival wins. Tool metrics are namespaced as <toolID>.<metric>,
// and the summary metrics tools.total, tools.succeeded, tools.failed, and
// tools.successRate are always present. Merge is a pure function: calling
// it twice on the same input yields the same output.
func Merge(results []models.ToolResult) *models.ConsolidatedResult {
	out := &models.ConsolidatedResult{
		Findings: []models.Finding{},
		Metrics:  make(map[string]float64),
	}

	seen := make(map[dedupKey]int) // key -> index into out.Findings
	for _, res := range results {
		out.TotalDurationMs += res.DurationMs

		if !res.Success {
			out.ToolsFailed = append(out.ToolsFailed, models.FailedTool{
				ToolID: res.ToolID,
				Error:  res.Error,
			})
			continue
		}
		out.ToolsSucceeded = append(out.ToolsSucceeded, res.ToolID)

		for _, f := range res.Findings {
			key := keyOf(f)
			if idx, ok := seen[key]; ok {
				if f.Severity.Rank() > out.Findings[idx].Severity.Rank() {
					out.Findings[idx] = f
				}
				continue
			}
			seen[key] = len(out.Findings)
			out.Findings = append(out.Findings, f)
		}

		for name, value := range res.Metrics {
			out.Metrics[fmt.Sprintf("%s.%s", res.ToolID, name)] = value
		}
	}

	total := len(results)
	succeeded := len(out.ToolsSucceeded)
	out.Metrics["tools.total"] = float64(total)
	out.Metrics["tools.succeeded"] = float64(succeeded)
	out.Metrics["tools.failed"] = float64(len(out.ToolsFailed))
	if total > 0 {
		out.Metrics["tools.successRate"] = float64(succeeded) / float64(total)
	} else {
		out.Metrics["tools.successRate"] = 0
	}

	return out
}

// Combine fuses already-consolidated parts into one result, applying the
// same dedup rules across part boundaries. Summary metrics are recomputed
// from the combined tool sets; namespaced tool metrics pass through.
func Combine(parts ...*models.ConsolidatedResult) *models.ConsolidatedResult {
	out := &models.ConsolidatedResult{
		Findings: []models.Finding{},
		Metrics:  make(map[string]float64),
	}

	seen := make(map[dedupKey]int)
	for _, part := range parts {
		if part == nil {
			continue
		}
		out.TotalDurationMs += part.TotalDurationMs
		out.ToolsSucceeded = append(out.ToolsSucceeded, part.ToolsSucceeded...)
		out.ToolsFailed = append(out.ToolsFailed, part.ToolsFailed...)
		for _, f := range part.Findings {
			key := keyOf(f)
			if idx, ok := seen[key]; ok {
				if f.Severity.Rank() > out.Findings[idx].Severity.Rank() {
					out.Findings[idx] = f
				}
				continue
			}
			seen[key] = len(out.Findings)
			out.Findings = append(out.Findings, f)
		}
		for name, value := range part.Metrics {
			if name == "tools.total" || name == "tools.succeeded" || name == "tools.failed" || name == "tools.successRate" {
				continue
			}
			out.Metrics[name] = value
		}
	}

	total := len(out.ToolsSucceeded) + len(out.ToolsFailed)
	out.Metrics["tools.total"] = float64(total)
	out.Metrics["tools.succeeded"] = float64(len(out.ToolsSucceeded))
	out.Metrics["tools.failed"] = float64(len(out.ToolsFailed))
	if total > 0 {
		out.Metrics["tools.successRate"] = float64(len(out.ToolsSucceeded)) / float64(total)
	} else {
		out.Metrics["tools.successRate"] = 0
	}
	return out
}

// Score derives a 0-100 repository health score from a consolidated
// result. A clean result scores 100; each finding subtracts a
// severity-weighted penalty.
func Score(result *models.ConsolidatedResult) float64 {
	penalty := 0.0
	for _, f := range result.Findings {
		switch f.Severity {
		case models.SeverityCritical:
			penalty += 15
		case models.SeverityHigh:
			penalty += 8
		case models.SeverityMedium:
			penalty += 3
		case models.SeverityLow:
			penalty += 1
		default:
			penalty += 0.5
		}
	}
	score := 100 - penalty
	if score < 0 {
		score = 0
	}
	return score
}

// Distribution summarizes findings per severity in rank order, highest
// first. Severities with no findings are omitted.
func Distribution(result *models.ConsolidatedResult) []SeverityCount {
	counts := result.SeverityCounts()
	out := make([]SeverityCount, 0, len(counts))
	for sev, n := range counts {
		out = append(out, SeverityCount{Severity: sev, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// SeverityCount is one row of a severity distribution.
type SeverityCount struct {
	Severity models.Severity `json:"severity"`
	Count    int             `json:"count"`
}
