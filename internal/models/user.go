package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the slice of the account record the tracker needs: identity for
// existence checks and contact details for streak reminders.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ReminderCandidate is a user whose streak will lapse without activity today.
type ReminderCandidate struct {
	UserID        uuid.UUID
	Email         string
	FullName      string
	CurrentStreak int
	LastActive    time.Time
	LastSentAtRaw string
}
