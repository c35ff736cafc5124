package models

import (
	"time"

	"github.com/google/uuid"
)

// StepProgress is one learner's engagement record for one roadmap step.
type StepProgress struct {
	UserID           uuid.UUID  `json:"user_id"`
	StepID           string     `json:"step_id"`
	Year             int        `json:"year"`
	Completed        bool       `json:"completed"`
	AutoCompleted    bool       `json:"auto_completed"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	LastActivity     time.Time  `json:"last_activity"`
	TimeSpentMinutes int        `json:"time_spent_minutes"`
	ResourcesViewed  []string   `json:"resources_viewed"`
	Submissions      int        `json:"submissions"`
	EngagementScore  int        `json:"engagement_score"`
	Version          int64      `json:"-"`
}

// NewStepProgress returns an empty record for a step that has never been touched.
func NewStepProgress(userID uuid.UUID, stepID string) *StepProgress {
	return &StepProgress{
		UserID:          userID,
		StepID:          stepID,
		ResourcesViewed: []string{},
	}
}

func (p *StepProgress) HasResource(url string) bool {
	for _, r := range p.ResourcesViewed {
		if r == url {
			return true
		}
	}
	return false
}

// AddResource inserts url into the viewed set and reports whether it was new.
func (p *StepProgress) AddResource(url string) bool {
	if p.HasResource(url) {
		return false
	}
	p.ResourcesViewed = append(p.ResourcesViewed, url)
	return true
}

// Clone returns a deep copy so stores can hand out records without aliasing.
func (p *StepProgress) Clone() *StepProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.ResourcesViewed = append([]string{}, p.ResourcesViewed...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ClampYear keeps an academic year inside 1–4. Zero means unknown and is kept.
func ClampYear(year int) int {
	switch {
	case year <= 0:
		return 0
	case year > 4:
		return 4
	default:
		return year
	}
}

// StepEngagement is the read-only snapshot served to dashboards.
type StepEngagement struct {
	StepID             string `json:"step_id"`
	EngagementScore    int    `json:"engagement_score"`
	TimeSpent          int    `json:"time_spent"`
	ResourcesViewed    int    `json:"resources_viewed"`
	Completed          bool   `json:"completed"`
	AutoCompleted      bool   `json:"auto_completed"`
	ProgressPercentage int    `json:"progress_percentage"`
}

type TimeSpentResult struct {
	WasAutoCompleted bool `json:"was_auto_completed"`
	EngagementScore  int  `json:"engagement_score"`
	TotalTimeSpent   int  `json:"total_time_spent"`
}

type ResourceViewResult struct {
	WasAutoCompleted bool `json:"was_auto_completed"`
	EngagementScore  int  `json:"engagement_score"`
	ResourcesViewed  int  `json:"resources_viewed"`
}

type SubmissionResult struct {
	WasAutoCompleted bool           `json:"was_auto_completed"`
	SubmissionType   SubmissionKind `json:"submission_type"`
}

type ManualCompletionResult struct {
	StepID            string `json:"step_id"`
	Completed         bool   `json:"completed"`
	ManuallyCompleted bool   `json:"manually_completed"`
}

type ResetResult struct {
	StepID string `json:"step_id"`
	Reset  bool   `json:"reset"`
}

type LoginResult struct {
	LoginCount    int `json:"login_count"`
	CurrentStreak int `json:"current_streak"`
}
