package models

import (
	"fmt"
	"time"
)

// Cadence is the recurrence frequency assigned to a repository.
type Cadence string

const (
	CadenceEvery6h  Cadence = "every6h"
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceMonthly  Cadence = "monthly"
	CadenceOnDemand Cadence = "on_demand"
)

// SchedulePriority ranks schedules for operator attention.
type SchedulePriority string

const (
	PriorityCritical SchedulePriority = "critical"
	PriorityHigh     SchedulePriority = "high"
	PriorityMedium   SchedulePriority = "medium"
	PriorityLow      SchedulePriority = "low"
	PriorityMinimal  SchedulePriority = "minimal"
)

var priorityRank = map[SchedulePriority]int{
	PriorityCritical: 4,
	PriorityHigh:     3,
	PriorityMedium:   2,
	PriorityLow:      1,
	PriorityMinimal:  0,
}

// Rank returns the numeric rank of a priority.
func (p SchedulePriority) Rank() int {
	return priorityRank[p]
}

// Raise returns the priority one level up, capped at critical.
func (p SchedulePriority) Raise() SchedulePriority {
	switch p {
	case PriorityMinimal:
		return PriorityLow
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// Schedule is the per-repository analysis cadence assignment.
type Schedule struct {
	ID                   string           `json:"id"`
	RepositoryID         string           `json:"repository_id"`
	RepositoryURL        string           `json:"repository_url"`
	Cadence              Cadence          `json:"cadence"`
	CronExpr             string           `json:"cron_expr,omitempty"`
	Priority             SchedulePriority `json:"priority"`
	Reason               string           `json:"reason,omitempty"`
	MayBeDisabled        bool             `json:"may_be_disabled"`
	IsActive             bool             `json:"is_active"`
	EnabledTools         []string         `json:"enabled_tools,omitempty"`
	NotificationChannels []string         `json:"notification_channels,omitempty"`
	LastRunAt            time.Time        `json:"last_run_at,omitempty"`
	NextRunAt            time.Time        `json:"next_run_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Validate enforces the schedule invariants: on-demand schedules carry no
// cron expression and are inactive; critical schedules cannot be disabled.
func (s *Schedule) Validate() error {
	if s.RepositoryURL == "" {
		return fmt.Errorf("schedule missing repository url")
	}
	if s.Cadence == CadenceOnDemand {
		if s.CronExpr != "" {
			return fmt.Errorf("on-demand schedule must not carry a cron expression")
		}
		if s.IsActive {
			return fmt.Errorf("on-demand schedule must be inactive")
		}
	}
	if s.Priority == PriorityCritical && s.MayBeDisabled {
		return fmt.Errorf("critical schedule may not be disableable")
	}
	return nil
}

// RunStatus is the outcome of one schedule-triggered run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunError   RunStatus = "error"
)

// ScheduleRun records one execution of a schedule.
type ScheduleRun struct {
	ID            string    `json:"id"`
	ScheduleID    string    `json:"schedule_id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	Status        RunStatus `json:"status"`
	FindingsCount int       `json:"findings_count"`
	CriticalCount int       `json:"critical_count"`
	DurationMs    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
}
