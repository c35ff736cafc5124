package repository

import (
	"errors"

	"github.com/google/uuid"

	"pathway-backend/internal/models"
)

// ErrConflict is returned when a record changed between load and save.
// The whole unit of work may be retried.
var ErrConflict = errors.New("concurrent update conflict")

// Unit is one atomic read-modify-write over a user's stats and, when a step
// is named, that step's progress. Stores load both records, hand the Unit
// to a callback and persist everything only if the callback succeeds.
type Unit struct {
	UserID   uuid.UUID
	Progress *models.StepProgress // nil when the unit has no step
	Stats    *models.LearningStats
	// Created is true when Progress did not exist before this unit.
	Created bool

	entries []models.ActivityLogEntry
}

func newUnit(userID uuid.UUID, stepID string, progress *models.StepProgress, stats *models.LearningStats) *Unit {
	u := &Unit{UserID: userID, Progress: progress, Stats: stats}
	if stepID != "" && u.Progress == nil {
		u.Progress = models.NewStepProgress(userID, stepID)
		u.Created = true
	}
	if u.Stats == nil {
		u.Stats = models.NewLearningStats(userID)
	}
	return u
}

// Append queues an activity entry to be written with the unit.
func (u *Unit) Append(e models.ActivityLogEntry) {
	u.entries = append(u.entries, e)
}

func (u *Unit) Entries() []models.ActivityLogEntry {
	return u.entries
}
