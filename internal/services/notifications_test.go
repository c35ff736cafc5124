package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"pathway-backend/internal/clock"
	"pathway-backend/internal/models"
)

func TestShouldSendByLastSent(t *testing.T) {
	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

	if !shouldSendByLastSent("", 24*time.Hour, now) {
		t.Fatalf("expected empty last-sent value to allow sending")
	}

	if !shouldSendByLastSent("not-a-date", 24*time.Hour, now) {
		t.Fatalf("expected invalid timestamp to allow sending")
	}

	recent := now.Add(-2 * time.Hour).Format(time.RFC3339)
	if shouldSendByLastSent(recent, 24*time.Hour, now) {
		t.Fatalf("expected recent send timestamp to block sending")
	}

	old := now.Add(-48 * time.Hour).Format(time.RFC3339)
	if !shouldSendByLastSent(old, 24*time.Hour, now) {
		t.Fatalf("expected old send timestamp to allow sending")
	}
}

type stubReminderStore struct {
	candidates []models.ReminderCandidate
	listErr    error
	from, to   time.Time
	stamped    map[uuid.UUID]time.Time
}

func (s *stubReminderStore) ListStreakReminderCandidates(ctx context.Context, from, to time.Time, lastSentKey string) ([]models.ReminderCandidate, error) {
	s.from, s.to = from, to
	return s.candidates, s.listErr
}

func (s *stubReminderStore) SetNotificationTimestamp(ctx context.Context, userID uuid.UUID, key string, at time.Time) error {
	if s.stamped == nil {
		s.stamped = make(map[uuid.UUID]time.Time)
	}
	s.stamped[userID] = at
	return nil
}

type stubMailer struct {
	sentTo []string
	failOn string
}

func (m *stubMailer) SendStreakReminderEmail(to, fullName string, currentStreak int) error {
	if to == m.failOn {
		return errors.New("smtp down")
	}
	m.sentTo = append(m.sentTo, to)
	return nil
}

func TestSendStreakReminders(t *testing.T) {
	now := time.Date(2026, 4, 15, 18, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	atRisk := models.ReminderCandidate{UserID: uuid.New(), Email: "a@example.com", CurrentStreak: 4, LastActive: yesterday}
	recentlyMailed := models.ReminderCandidate{
		UserID: uuid.New(), Email: "b@example.com", CurrentStreak: 2, LastActive: yesterday,
		LastSentAtRaw: now.Add(-3 * time.Hour).Format(time.RFC3339),
	}
	activeToday := models.ReminderCandidate{UserID: uuid.New(), Email: "c@example.com", CurrentStreak: 7, LastActive: now.Add(-time.Hour)}
	failing := models.ReminderCandidate{UserID: uuid.New(), Email: "d@example.com", CurrentStreak: 3, LastActive: yesterday}

	store := &stubReminderStore{candidates: []models.ReminderCandidate{atRisk, recentlyMailed, activeToday, failing}}
	mailer := &stubMailer{failOn: "d@example.com"}
	s := NewReminderScheduler(store, mailer, &clock.Fixed{T: now}, nil)

	sent := s.sendStreakReminders(context.Background(), now)
	if sent != 1 {
		t.Fatalf("expected 1 reminder, got %d", sent)
	}
	if len(mailer.sentTo) != 1 || mailer.sentTo[0] != "a@example.com" {
		t.Fatalf("unexpected recipients: %v", mailer.sentTo)
	}
	if _, ok := store.stamped[atRisk.UserID]; !ok {
		t.Errorf("expected last-sent timestamp for mailed user")
	}
	if _, ok := store.stamped[failing.UserID]; ok {
		t.Errorf("failed send must not be stamped")
	}

	wantFrom := time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)
	if !store.from.Equal(wantFrom) || !store.to.Equal(wantFrom.AddDate(0, 0, 1)) {
		t.Errorf("expected window [%v, %v), got [%v, %v)", wantFrom, wantFrom.AddDate(0, 0, 1), store.from, store.to)
	}
}

func TestSendStreakReminders_ListFailure(t *testing.T) {
	store := &stubReminderStore{listErr: errors.New("db down")}
	mailer := &stubMailer{}
	s := NewReminderScheduler(store, mailer, nil, nil)

	if sent := s.sendStreakReminders(context.Background(), time.Now()); sent != 0 {
		t.Fatalf("expected nothing sent, got %d", sent)
	}
}

func TestReminderSchedulerStopIsIdempotent(t *testing.T) {
	s := NewReminderScheduler(nil, nil, nil, nil)
	s.Stop()
	s.Stop()
}
