package models

import (
	"time"

	"github.com/google/uuid"
)

// LearningStats aggregates a learner's activity across every step.
// Counters only ever grow; resetting a step does not roll them back.
type LearningStats struct {
	UserID                  uuid.UUID  `json:"user_id"`
	TotalTimeSpent          int        `json:"total_time_spent"`
	StepsCompleted          int        `json:"steps_completed"`
	ResourcesViewed         int        `json:"resources_viewed"`
	TotalCodeSubmissions    int        `json:"total_code_submissions"`
	TotalProjectSubmissions int        `json:"total_project_submissions"`
	CurrentStreak           int        `json:"current_streak"`
	LongestStreak           int        `json:"longest_streak"`
	LoginCount              int        `json:"login_count"`
	AverageEngagement       float64    `json:"average_engagement"`
	LastActive              *time.Time `json:"last_active"`
}

func NewLearningStats(userID uuid.UUID) *LearningStats {
	return &LearningStats{UserID: userID}
}

func (s *LearningStats) Clone() *LearningStats {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastActive != nil {
		t := *s.LastActive
		c.LastActive = &t
	}
	return &c
}
