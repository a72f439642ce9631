// Package tools defines the analyzer capability interface, the registry
// with role and language indices, per-context tool selection, and the
// lifecycle manager for hosted-server tools.
package tools

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/reviewd/pkg/models"
)

var (
	// ErrToolUnavailable marks a tool whose health check or spawn failed.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrNoConfiguration is surfaced when the selector finds no matching
	// configuration row for a context.
	ErrNoConfiguration = errors.New("no configuration for context")

	// ErrRoleUnderprovisioned rejects registry mutations that would leave
	// a role with fewer than two tools.
	ErrRoleUnderprovisioned = errors.New("role requires at least two registered tools")
)

// Tool is the capability interface every analyzer implements, whether it
// runs in-process or as a hosted server.
type Tool interface {
	// Descriptor returns the tool's identity and requirements.
	Descriptor() models.ToolDescriptor

	// Execute runs the analysis. File paths in the context have already
	// been rewritten into the isolated workspace.
	Execute(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error)

	// HealthCheck probes liveness; it must return within 2 seconds.
	HealthCheck(ctx context.Context) error
}

// CanAnalyze reports whether a descriptor's requirements admit the given
// context: file-count bounds and allowed file types, evaluated over the
// PR's non-deleted files.
func CanAnalyze(desc models.ToolDescriptor, ac *models.AnalysisContext) bool {
	if ac == nil {
		return false
	}
	var files []models.File
	if ac.PR != nil {
		for _, f := range ac.PR.Files {
			if f.ChangeType != models.ChangeDeleted {
				files = append(files, f)
			}
		}
	}
	req := desc.Requirements
	if req.MinFiles > 0 && len(files) < req.MinFiles {
		return false
	}
	if req.MaxFiles > 0 && len(files) > req.MaxFiles {
		return false
	}
	if len(req.AllowedFileTypes) > 0 {
		matched := false
		for _, f := range files {
			ext := strings.TrimPrefix(filepath.Ext(f.Path), ".")
			for _, allowed := range req.AllowedFileTypes {
				if strings.EqualFold(ext, allowed) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
