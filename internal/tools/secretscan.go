package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// SecretScan flags likely hardcoded credentials in added lines. Together
// with diffscan it keeps two in-process tools behind every role, so
// selection can always degrade to a fallback.
type SecretScan struct {
	id    string
	roles []models.AgentRole
}

// NewSecretScan creates a secretscan tool serving the given roles.
func NewSecretScan(roles ...models.AgentRole) *SecretScan {
	if len(roles) == 0 {
		roles = models.Roles()
	}
	return &SecretScan{id: "secretscan", roles: roles}
}

// Descriptor implements Tool.
func (s *SecretScan) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		ID:             s.id,
		Kind:           models.ToolInProcess,
		Version:        "1",
		Capabilities:   []string{"secret-detection"},
		SupportedRoles: s.roles,
		Requirements: models.ToolRequirements{
			Mode:    models.ModeOnDemand,
			Timeout: 10 * time.Second,
		},
	}
}

// HealthCheck implements Tool; an in-process tool is always live.
func (s *SecretScan) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// secretPatterns pair a matcher with the severity of a hit. High-confidence
// key material is critical; generic credential assignments are high.
var secretPatterns = []struct {
	re       *regexp.Regexp
	severity models.Severity
	label    string
}{
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), models.SeverityCritical, "AWS access key"},
	{regexp.MustCompile(`-----BEGIN (RSA|EC|DSA|OPENSSH) PRIVATE KEY-----`), models.SeverityCritical, "private key"},
	{regexp.MustCompile(`(?i)(api[_-]?key|secret|token|passw(or)?d)\s*[:=]\s*["'][^"']{8,}["']`), models.SeverityHigh, "credential assignment"},
}

// Execute implements Tool.
func (s *SecretScan) Execute(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
	started := time.Now()
	result := &models.ToolResult{
		ToolID:    s.id,
		StartedAt: started,
		Metrics:   map[string]float64{},
	}

	found := 0
	for _, f := range filesOf(ac) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, line := range strings.Split(f.Diff, "\n") {
			if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
				continue
			}
			for _, p := range secretPatterns {
				if p.re.MatchString(line) {
					found++
					result.Findings = append(result.Findings, models.Finding{
						Kind:     models.FindingIssue,
						Severity: p.severity,
						Category: "hardcoded-secret",
						Message:  fmt.Sprintf("added line appears to contain a %s", p.label),
						File:     f.Path,
					})
					break
				}
			}
		}
	}

	result.Metrics["secrets_found"] = float64(found)
	result.Success = true
	result.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}
