package models

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies the hosting service a repository lives on.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
)

// SizeBucket classifies repositories by total size for tool selection.
type SizeBucket string

const (
	SizeSmall  SizeBucket = "small"
	SizeMedium SizeBucket = "medium"
	SizeLarge  SizeBucket = "large"
)

// Repository is the unit of analysis. It is created on first observation
// and updated on metadata refresh; the core never destroys it.
type Repository struct {
	ID              string           `json:"id"`
	Provider        Provider         `json:"provider"`
	Owner           string           `json:"owner"`
	Name            string           `json:"name"`
	URL             string           `json:"url"`
	Private         bool             `json:"private"`
	IsProduction    bool             `json:"is_production,omitempty"`
	PrimaryLanguage string           `json:"primary_language,omitempty"`
	Languages       map[string]int64 `json:"languages,omitempty"` // language -> bytes
	SizeBytes       int64            `json:"size_bytes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// FullName returns the owner/name identifier.
func (r *Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// SizeBucket classifies the repository by stored size.
// Thresholds: <10MB small, <100MB medium, else large.
func (r *Repository) SizeBucket() SizeBucket {
	switch {
	case r.SizeBytes < 10<<20:
		return SizeSmall
	case r.SizeBytes < 100<<20:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// Validate checks required identity fields.
func (r *Repository) Validate() error {
	if strings.TrimSpace(string(r.Provider)) == "" {
		return fmt.Errorf("repository provider is required")
	}
	if strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("repository owner and name are required")
	}
	return nil
}

// ActivityMetrics summarizes recent development activity for cadence scoring.
type ActivityMetrics struct {
	CommitsLastWeek  int     `json:"commits_last_week"`
	CommitsLastMonth int     `json:"commits_last_month"`
	ActiveDevs       int     `json:"active_devs"`
	OpenPRs          int     `json:"open_prs"`
	MergeFrequency   float64 `json:"merge_frequency"` // merges per week
}

// Score computes the weighted activity score used for cadence assignment.
func (m ActivityMetrics) Score() float64 {
	return 4*float64(m.CommitsLastWeek) +
		float64(m.CommitsLastMonth) +
		10*float64(m.ActiveDevs) +
		5*float64(m.OpenPRs) +
		3*m.MergeFrequency
}
