// Package schedule assigns analysis cadences to repositories and runs the
// dispatch loop that fires them.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// Cron expressions for each cadence, all UTC.
const (
	cronEvery6h    = "0 */6 * * *"
	cronDailyEarly = "0 2 * * *"
	cronDaily      = "0 3 * * *"
	cronWeeklyMon  = "0 3 * * 1"
	cronMonthly1st = "0 3 1 * *"
)

// Activity score thresholds for cadence assignment.
const (
	scoreDaily   = 80
	scoreWeekly  = 40
	scoreMonthly = 10
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Assignment is the outcome of cadence evaluation.
type Assignment struct {
	Cadence       models.Cadence
	CronExpr      string
	Priority      models.SchedulePriority
	Reason        string
	MayBeDisabled bool
	IsActive      bool
}

// Assign evaluates the cadence rules top-down; the first matching rule
// wins. It is called on every analysis completion.
func Assign(repo *models.Repository, result *models.ConsolidatedResult, activity models.ActivityMetrics) Assignment {
	if result != nil {
		if criticals := result.CriticalCount(); criticals > 0 {
			return Assignment{
				Cadence:       models.CadenceEvery6h,
				CronExpr:      cronEvery6h,
				Priority:      models.PriorityCritical,
				Reason:        fmt.Sprintf("%d critical findings require close monitoring", criticals),
				MayBeDisabled: false,
				IsActive:      true,
			}
		}
	}

	if repo != nil && repo.IsProduction {
		return Assignment{
			Cadence:       models.CadenceDaily,
			CronExpr:      cronDailyEarly,
			Priority:      models.PriorityHigh,
			Reason:        "production repository",
			MayBeDisabled: true,
			IsActive:      true,
		}
	}

	score := activity.Score()
	switch {
	case score > scoreDaily:
		return Assignment{
			Cadence:       models.CadenceDaily,
			CronExpr:      cronDaily,
			Priority:      models.PriorityHigh,
			Reason:        fmt.Sprintf("high activity (score %.0f)", score),
			MayBeDisabled: true,
			IsActive:      true,
		}
	case score > scoreWeekly:
		return Assignment{
			Cadence:       models.CadenceWeekly,
			CronExpr:      cronWeeklyMon,
			Priority:      models.PriorityMedium,
			Reason:        fmt.Sprintf("moderate activity (score %.0f)", score),
			MayBeDisabled: true,
			IsActive:      true,
		}
	case score > scoreMonthly:
		return Assignment{
			Cadence:       models.CadenceMonthly,
			CronExpr:      cronMonthly1st,
			Priority:      models.PriorityLow,
			Reason:        fmt.Sprintf("low activity (score %.0f)", score),
			MayBeDisabled: true,
			IsActive:      true,
		}
	default:
		return Assignment{
			Cadence:       models.CadenceOnDemand,
			Priority:      models.PriorityMinimal,
			Reason:        fmt.Sprintf("inactive repository (score %.0f)", score),
			MayBeDisabled: true,
			IsActive:      false,
		}
	}
}

// Apply writes an assignment onto a schedule and recomputes NextRunAt.
func (a Assignment) Apply(s *models.Schedule, now time.Time) error {
	s.Cadence = a.Cadence
	s.CronExpr = a.CronExpr
	s.Priority = a.Priority
	s.Reason = a.Reason
	s.MayBeDisabled = a.MayBeDisabled
	s.IsActive = a.IsActive
	if !a.IsActive || a.CronExpr == "" {
		s.NextRunAt = time.Time{}
		return s.Validate()
	}
	next, err := NextRun(a.CronExpr, now)
	if err != nil {
		return err
	}
	s.NextRunAt = next
	return s.Validate()
}

// NextRun computes the next UTC firing instant for a cron expression.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched.Next(after.UTC()), nil
}

// TierFor maps a cadence to the analysis tier its ticks run.
// every6h schedules watch for regressions with quick scans, daily runs a
// full comprehensive pass, and weekly/monthly fire all targeted
// perspectives. On-demand schedules never fire.
func TierFor(cadence models.Cadence) string {
	switch cadence {
	case models.CadenceEvery6h:
		return "quick"
	case models.CadenceDaily:
		return "comprehensive"
	case models.CadenceWeekly, models.CadenceMonthly:
		return "targeted"
	default:
		return ""
	}
}
