// Package engagement holds the pure scoring rules behind step progress:
// the 0–100 engagement score, the auto-completion predicate, the daily
// streak and the display-only progress percentage. Nothing here touches
// storage or the wall clock; callers pass "now" in.
package engagement

import (
	"math"
	"time"

	"pathway-backend/internal/models"
)

const (
	// AutoCompleteScore is the engagement score at which a step completes itself.
	AutoCompleteScore = 70
	// AutoCompleteMinutes is the accumulated time that completes a step.
	AutoCompleteMinutes = 120

	pointsPerHour     = 20.0
	maxTimePoints     = 40.0
	pointsPerResource = 15.0
	maxResourcePoints = 30.0

	displayFullMinutes = 180.0
)

const day = 24 * time.Hour

// recency steps, checked in order; anything older scores 0.
var recencySteps = []struct {
	within time.Duration
	points float64
}{
	{1 * day, 30},
	{3 * day, 25},
	{7 * day, 20},
	{14 * day, 15},
	{30 * day, 10},
}

// Score computes the engagement score of p as of now. Time is counted in
// minutes: one hour is worth 20 points up to 40, each distinct resource 15
// up to 30, and recency of the last activity up to 30.
func Score(p models.StepProgress, now time.Time) int {
	total := TimePoints(p.TimeSpentMinutes) +
		ResourcePoints(len(p.ResourcesViewed)) +
		RecencyPoints(p.LastActivity, now)

	score := int(math.Round(total))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func TimePoints(minutes int) float64 {
	if minutes <= 0 {
		return 0
	}
	return math.Min(float64(minutes)/60*pointsPerHour, maxTimePoints)
}

func ResourcePoints(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(float64(n)*pointsPerResource, maxResourcePoints)
}

// RecencyPoints scores how recently the step was touched. A zero
// lastActivity has never been touched and scores nothing.
func RecencyPoints(lastActivity, now time.Time) float64 {
	if lastActivity.IsZero() {
		return 0
	}
	age := now.Sub(lastActivity)
	for _, s := range recencySteps {
		if age < s.within {
			return s.points
		}
	}
	return 0
}

// Trigger names the branch of the predicate that fired.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerScore      Trigger = "score"
	TriggerResources  Trigger = "all_resources"
	TriggerTime       Trigger = "time"
	TriggerSubmission Trigger = "submission"
)

// ShouldAutoComplete reports whether p qualifies for automatic completion.
// A completed step never qualifies again. def may be nil; without a
// resource list the viewed-everything branch is skipped.
func ShouldAutoComplete(p models.StepProgress, def *models.StepDefinition) bool {
	return AutoCompleteTrigger(p, def) != TriggerNone
}

func AutoCompleteTrigger(p models.StepProgress, def *models.StepDefinition) Trigger {
	if p.Completed {
		return TriggerNone
	}
	switch {
	case p.EngagementScore >= AutoCompleteScore:
		return TriggerScore
	case def != nil && len(def.Resources) > 0 && len(p.ResourcesViewed) >= len(def.Resources):
		return TriggerResources
	case p.TimeSpentMinutes >= AutoCompleteMinutes:
		return TriggerTime
	case p.Submissions > 0:
		return TriggerSubmission
	}
	return TriggerNone
}

// Complete performs the one-way transition to completed. It returns false
// when the step was already complete, leaving every field untouched.
func Complete(p *models.StepProgress, now time.Time, auto bool) bool {
	if p.Completed {
		return false
	}
	p.Completed = true
	p.AutoCompleted = auto
	if p.CompletedAt == nil {
		t := now
		p.CompletedAt = &t
	}
	return true
}

// ProgressPercentage is the dashboard figure. It weighs time against a
// three-hour target and is deliberately not the auto-completion score.
func ProgressPercentage(p models.StepProgress) int {
	timeShare := math.Min(math.Max(float64(p.TimeSpentMinutes), 0)/displayFullMinutes, 1) * 0.4
	resourceShare := 0.0
	if len(p.ResourcesViewed) > 0 {
		resourceShare = 0.3
	}
	scoreShare := float64(p.EngagementScore) / 100 * 0.3
	return int(math.Round((timeShare + resourceShare + scoreShare) * 100))
}
