package engagement

import (
	"time"

	"pathway-backend/internal/models"
)

// UpdateStreak advances the daily streak for activity at now and stamps
// LastActive. Days are calendar days in now's location. It reports whether
// the current streak grew.
func UpdateStreak(s *models.LearningStats, now time.Time) bool {
	before := s.CurrentStreak
	today := startOfDay(now)

	if s.LastActive == nil || s.LastActive.IsZero() {
		s.CurrentStreak = 1
	} else {
		last := startOfDay(s.LastActive.In(now.Location()))
		switch {
		case !last.Before(today):
			// same day, or a clock that ran backwards
		case last.Equal(today.AddDate(0, 0, -1)):
			s.CurrentStreak++
		default:
			s.CurrentStreak = 1
		}
	}

	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
	t := now
	s.LastActive = &t
	return s.CurrentStreak > before
}

// StreakAtRisk reports whether the learner was last active yesterday and has
// not yet been active today.
func StreakAtRisk(lastActive, now time.Time) bool {
	if lastActive.IsZero() {
		return false
	}
	today := startOfDay(now)
	last := startOfDay(lastActive.In(now.Location()))
	return last.Equal(today.AddDate(0, 0, -1))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
