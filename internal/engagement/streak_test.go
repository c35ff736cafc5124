package engagement

import (
	"testing"
	"time"

	"pathway-backend/internal/models"
)

func at(t time.Time) *time.Time { return &t }

func TestUpdateStreak_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		stats       models.LearningStats
		wantCurrent int
		wantLongest int
		wantGrew    bool
	}{
		{
			name:        "first ever activity",
			stats:       models.LearningStats{},
			wantCurrent: 1, wantLongest: 1, wantGrew: true,
		},
		{
			name:        "active yesterday",
			stats:       models.LearningStats{CurrentStreak: 4, LongestStreak: 6, LastActive: at(now.Add(-20 * time.Hour))},
			wantCurrent: 5, wantLongest: 6, wantGrew: true,
		},
		{
			name:        "yesterday extends longest",
			stats:       models.LearningStats{CurrentStreak: 6, LongestStreak: 6, LastActive: at(now.AddDate(0, 0, -1))},
			wantCurrent: 7, wantLongest: 7, wantGrew: true,
		},
		{
			name:        "five days ago resets",
			stats:       models.LearningStats{CurrentStreak: 9, LongestStreak: 9, LastActive: at(now.AddDate(0, 0, -5))},
			wantCurrent: 1, wantLongest: 9, wantGrew: false,
		},
		{
			name:        "same day repeat",
			stats:       models.LearningStats{CurrentStreak: 3, LongestStreak: 5, LastActive: at(now.Add(-2 * time.Hour))},
			wantCurrent: 3, wantLongest: 5, wantGrew: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.stats
			grew := UpdateStreak(&s, now)

			if s.CurrentStreak != tc.wantCurrent {
				t.Errorf("expected current streak %d, got %d", tc.wantCurrent, s.CurrentStreak)
			}
			if s.LongestStreak != tc.wantLongest {
				t.Errorf("expected longest streak %d, got %d", tc.wantLongest, s.LongestStreak)
			}
			if grew != tc.wantGrew {
				t.Errorf("expected grew=%v, got %v", tc.wantGrew, grew)
			}
			if s.LastActive == nil || !s.LastActive.Equal(now) {
				t.Errorf("expected last active to be stamped with now")
			}
			if s.LongestStreak < s.CurrentStreak {
				t.Errorf("longest streak %d below current %d", s.LongestStreak, s.CurrentStreak)
			}
		})
	}
}

func TestUpdateStreak_UsesCalendarDays(t *testing.T) {
	// 23:50 yesterday to 00:10 today is twenty minutes but a new day.
	lateYesterday := time.Date(2026, 4, 14, 23, 50, 0, 0, time.UTC)
	earlyToday := time.Date(2026, 4, 15, 0, 10, 0, 0, time.UTC)

	s := models.LearningStats{CurrentStreak: 2, LongestStreak: 2, LastActive: at(lateYesterday)}
	UpdateStreak(&s, earlyToday)
	if s.CurrentStreak != 3 {
		t.Fatalf("expected streak to extend across midnight, got %d", s.CurrentStreak)
	}
}

func TestUpdateStreak_RespectsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 20:00 UTC on the 14th is already the 15th in UTC+5.
	last := time.Date(2026, 4, 14, 20, 0, 0, 0, time.UTC)
	current := time.Date(2026, 4, 15, 10, 0, 0, 0, loc)

	s := models.LearningStats{CurrentStreak: 2, LongestStreak: 2, LastActive: at(last)}
	UpdateStreak(&s, current)
	if s.CurrentStreak != 2 {
		t.Fatalf("expected same local day to keep streak at 2, got %d", s.CurrentStreak)
	}
}

func TestStreakAtRisk(t *testing.T) {
	if !StreakAtRisk(now.AddDate(0, 0, -1), now) {
		t.Errorf("yesterday should be at risk")
	}
	if StreakAtRisk(now.Add(-time.Hour), now) {
		t.Errorf("today should not be at risk")
	}
	if StreakAtRisk(now.AddDate(0, 0, -3), now) {
		t.Errorf("already broken streak should not be at risk")
	}
	if StreakAtRisk(time.Time{}, now) {
		t.Errorf("never active should not be at risk")
	}
}
