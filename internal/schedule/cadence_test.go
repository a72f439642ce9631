package schedule

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/reviewd/pkg/models"
)

func criticalResult(n int) *models.ConsolidatedResult {
	findings := make([]models.Finding, n)
	for i := range findings {
		findings[i] = models.Finding{
			Kind: models.FindingIssue, Severity: models.SeverityCritical,
			Category: "secrets", Message: "hardcoded credential", Line: i + 1,
		}
	}
	return &models.ConsolidatedResult{Findings: findings}
}

func TestAssignCriticalEscalates(t *testing.T) {
	// Even a production repo with high activity: criticals win.
	repo := &models.Repository{IsProduction: true}
	activity := models.ActivityMetrics{CommitsLastWeek: 50, ActiveDevs: 10}

	a := Assign(repo, criticalResult(2), activity)
	if a.Cadence != models.CadenceEvery6h || a.Priority != models.PriorityCritical {
		t.Errorf("assignment = %+v", a)
	}
	if a.MayBeDisabled {
		t.Error("critical schedule may be disabled")
	}
	if a.CronExpr != "0 */6 * * *" {
		t.Errorf("cron = %q", a.CronExpr)
	}
	if !strings.Contains(a.Reason, "critical") {
		t.Errorf("reason = %q, want mention of criticals", a.Reason)
	}
}

func TestAssignProduction(t *testing.T) {
	a := Assign(&models.Repository{IsProduction: true}, &models.ConsolidatedResult{}, models.ActivityMetrics{})
	if a.Cadence != models.CadenceDaily || a.Priority != models.PriorityHigh {
		t.Errorf("assignment = %+v", a)
	}
	if a.CronExpr != "0 2 * * *" {
		t.Errorf("cron = %q, want daily 02:00 UTC", a.CronExpr)
	}
}

func TestAssignActivityTiers(t *testing.T) {
	tests := []struct {
		name     string
		activity models.ActivityMetrics
		cadence  models.Cadence
		priority models.SchedulePriority
		cron     string
	}{
		{
			// 4*20 + 30 + 10*2 + 5*1 + 3*1 = 138
			"high activity", models.ActivityMetrics{CommitsLastWeek: 20, CommitsLastMonth: 30, ActiveDevs: 2, OpenPRs: 1, MergeFrequency: 1},
			models.CadenceDaily, models.PriorityHigh, "0 3 * * *",
		},
		{
			// 4*10 + 5 = 45
			"moderate activity", models.ActivityMetrics{CommitsLastWeek: 10, CommitsLastMonth: 5},
			models.CadenceWeekly, models.PriorityMedium, "0 3 * * 1",
		},
		{
			// 10*1 + 5*1 = 15
			"low activity", models.ActivityMetrics{ActiveDevs: 1, OpenPRs: 1},
			models.CadenceMonthly, models.PriorityLow, "0 3 1 * *",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assign(&models.Repository{}, &models.ConsolidatedResult{}, tt.activity)
			if a.Cadence != tt.cadence || a.Priority != tt.priority || a.CronExpr != tt.cron {
				t.Errorf("assignment = %+v, want %s/%s/%s", a, tt.cadence, tt.priority, tt.cron)
			}
			if !a.IsActive {
				t.Error("active cadence marked inactive")
			}
		})
	}
}

func TestAssignInactiveRepository(t *testing.T) {
	a := Assign(&models.Repository{}, &models.ConsolidatedResult{}, models.ActivityMetrics{})
	if a.Cadence != models.CadenceOnDemand || a.Priority != models.PriorityMinimal {
		t.Errorf("assignment = %+v", a)
	}
	if a.IsActive {
		t.Error("on-demand schedule marked active")
	}
	if a.CronExpr != "" {
		t.Errorf("on-demand cron = %q, want empty", a.CronExpr)
	}
}

func TestAssignThresholdBoundaries(t *testing.T) {
	// Score exactly 10 is not "> 10": stays on demand.
	a := Assign(&models.Repository{}, nil, models.ActivityMetrics{ActiveDevs: 1})
	if a.Cadence != models.CadenceOnDemand {
		t.Errorf("score 10 assigned %s, want on_demand", a.Cadence)
	}
	// Score 11 crosses into monthly.
	a = Assign(&models.Repository{}, nil, models.ActivityMetrics{ActiveDevs: 1, CommitsLastMonth: 1})
	if a.Cadence != models.CadenceMonthly {
		t.Errorf("score 11 assigned %s, want monthly", a.Cadence)
	}
}

func TestApplyComputesNextRun(t *testing.T) {
	now := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC) // a Monday
	sched := &models.Schedule{RepositoryURL: "https://github.com/acme/api"}

	a := Assign(&models.Repository{IsProduction: true}, nil, models.ActivityMetrics{})
	if err := a.Apply(sched, now); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	if !sched.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", sched.NextRunAt, want)
	}
}

func TestApplyOnDemandClearsNextRun(t *testing.T) {
	sched := &models.Schedule{
		RepositoryURL: "https://github.com/acme/api",
		NextRunAt:     time.Now(),
	}
	a := Assign(&models.Repository{}, nil, models.ActivityMetrics{})
	if err := a.Apply(sched, time.Now()); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !sched.NextRunAt.IsZero() {
		t.Error("on-demand schedule kept a next-run instant")
	}
	if err := sched.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestCadenceMonotonicOnEscalation(t *testing.T) {
	// A weekly schedule that starts reporting criticals never becomes
	// less frequent.
	before := Assign(&models.Repository{}, &models.ConsolidatedResult{}, models.ActivityMetrics{CommitsLastWeek: 12})
	if before.Cadence != models.CadenceWeekly {
		t.Fatalf("setup: cadence = %s", before.Cadence)
	}
	after := Assign(&models.Repository{}, criticalResult(1), models.ActivityMetrics{CommitsLastWeek: 12})
	if after.Cadence != models.CadenceEvery6h {
		t.Errorf("escalated cadence = %s, want every6h", after.Cadence)
	}
}

func TestTierFor(t *testing.T) {
	tests := map[models.Cadence]string{
		models.CadenceEvery6h:  "quick",
		models.CadenceDaily:    "comprehensive",
		models.CadenceWeekly:   "targeted",
		models.CadenceMonthly:  "targeted",
		models.CadenceOnDemand: "",
	}
	for cadence, want := range tests {
		if got := TierFor(cadence); got != want {
			t.Errorf("TierFor(%s) = %q, want %q", cadence, got, want)
		}
	}
}
