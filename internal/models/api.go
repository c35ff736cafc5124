package models

import (
	"time"

	"github.com/google/uuid"
)

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	WSStepCompleted = "step_completed"
	WSStreakUpdated = "streak_updated"
	WSStatsSnapshot = "stats_snapshot"
)

type StepCompletedEvent struct {
	StepID          string `json:"step_id"`
	AutoCompleted   bool   `json:"auto_completed"`
	EngagementScore int    `json:"engagement_score"`
}

type StreakUpdatedEvent struct {
	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`
}

// EngagementEvent is the queued form of a tracker call, produced by the
// batch ingest endpoint and consumed by the worker pool.
type EngagementEvent struct {
	Type         string             `json:"type"` // "time_spent" | "resource_view" | "submission" | "complete" | "login"
	UserID       uuid.UUID          `json:"user_id"`
	StepID       string             `json:"step_id,omitempty"`
	Minutes      float64            `json:"minutes,omitempty"`
	ResourceURL  string             `json:"resource_url,omitempty"`
	ResourceType string             `json:"resource_type,omitempty"`
	Submission   *SubmissionPayload `json:"submission,omitempty"`
	Client       string             `json:"client,omitempty"`
	Step         *StepDefinition    `json:"step,omitempty"`
	QueuedAt     time.Time          `json:"queued_at"`
	Attempts     int                `json:"attempts,omitempty"`
}

const (
	EventTimeSpent    = "time_spent"
	EventResourceView = "resource_view"
	EventSubmission   = "submission"
	EventComplete     = "complete"
	EventLogin        = "login"
)

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}
