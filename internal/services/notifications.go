package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pathway-backend/internal/clock"
	"pathway-backend/internal/engagement"
	"pathway-backend/internal/logger"
	"pathway-backend/internal/models"
)

const (
	streakReminderLastSentKey = "streak_reminders_last_sent_at"
	streakReminderInterval    = 20 * time.Hour
	notificationPollInterval  = 1 * time.Hour
)

type reminderStore interface {
	ListStreakReminderCandidates(ctx context.Context, from, to time.Time, lastSentKey string) ([]models.ReminderCandidate, error)
	SetNotificationTimestamp(ctx context.Context, userID uuid.UUID, key string, at time.Time) error
}

type reminderMailer interface {
	SendStreakReminderEmail(to, fullName string, currentStreak int) error
}

// ReminderScheduler emails learners whose streak ends tonight unless they
// do something today.
type ReminderScheduler struct {
	users    reminderStore
	email    reminderMailer
	clock    clock.Clock
	log      *logger.Logger
	stopChan chan struct{}
}

func NewReminderScheduler(users reminderStore, email reminderMailer, clk clock.Clock, log *logger.Logger) *ReminderScheduler {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReminderScheduler{
		users:    users,
		email:    email,
		clock:    clk,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (s *ReminderScheduler) Start() {
	if s.users == nil || s.email == nil {
		return
	}

	go s.loop(s.sendStreakReminders)

	s.log.Info("reminder scheduler started", "interval", notificationPollInterval.String())
}

func (s *ReminderScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *ReminderScheduler) loop(runFn func(ctx context.Context, now time.Time) int) {
	// Run on startup as well as by interval.
	runFn(context.Background(), s.clock.Now())

	ticker := time.NewTicker(notificationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			runFn(context.Background(), s.clock.Now())
		}
	}
}

// sendStreakReminders mails every opted-in learner last active yesterday
// and returns how many were sent.
func (s *ReminderScheduler) sendStreakReminders(ctx context.Context, now time.Time) int {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)

	candidates, err := s.users.ListStreakReminderCandidates(ctx, yesterday, today, streakReminderLastSentKey)
	if err != nil {
		s.log.Error("streak reminders: failed to list candidates", "error", err)
		return 0
	}

	sent := 0
	for _, c := range candidates {
		if !engagement.StreakAtRisk(c.LastActive, now) {
			continue
		}
		if !shouldSendByLastSent(c.LastSentAtRaw, streakReminderInterval, now) {
			continue
		}

		if err := s.email.SendStreakReminderEmail(c.Email, c.FullName, c.CurrentStreak); err != nil {
			s.log.Warn("streak reminders: failed to send", "user_id", c.UserID, "error", err)
			continue
		}
		sent++

		if err := s.users.SetNotificationTimestamp(ctx, c.UserID, streakReminderLastSentKey, now); err != nil {
			s.log.Warn("streak reminders: failed to persist last sent at", "user_id", c.UserID, "error", err)
		}
	}
	return sent
}

func shouldSendByLastSent(lastSentRaw string, minInterval time.Duration, now time.Time) bool {
	if lastSentRaw == "" {
		return true
	}

	lastSentAt, err := time.Parse(time.RFC3339, lastSentRaw)
	if err != nil {
		return true
	}

	return now.Sub(lastSentAt) >= minInterval
}
