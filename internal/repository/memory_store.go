package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"pathway-backend/internal/models"
)

type stepKey struct {
	userID uuid.UUID
	stepID string
}

// MemoryStore keeps everything in process. A single mutex serialises units
// of work, which is enough for tests and single-instance development.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]models.User
	steps    map[stepKey]*models.StepProgress
	stats    map[uuid.UUID]*models.LearningStats
	activity map[uuid.UUID][]models.ActivityLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]models.User),
		steps:    make(map[stepKey]*models.StepProgress),
		stats:    make(map[uuid.UUID]*models.LearningStats),
		activity: make(map[uuid.UUID][]models.ActivityLogEntry),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.IsActive = true
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, userID uuid.UUID, stepID string, fn func(*Unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var progress *models.StepProgress
	if stepID != "" {
		progress = s.steps[stepKey{userID, stepID}].Clone()
	}
	u := newUnit(userID, stepID, progress, s.stats[userID].Clone())

	if err := fn(u); err != nil {
		return err
	}

	if u.Progress != nil {
		u.Progress.Version++
		s.steps[stepKey{userID, stepID}] = u.Progress.Clone()
	}
	s.stats[userID] = u.Stats.Clone()
	s.activity[userID] = append(s.activity[userID], u.Entries()...)
	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps[stepKey{userID, stepID}].Clone(), nil
}

func (s *MemoryStore) ListSteps(ctx context.Context, userID uuid.UUID, year int) ([]*models.StepProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.StepProgress, 0)
	for k, p := range s.steps {
		if k.userID != userID || (year != 0 && p.Year != year) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out, nil
}

func (s *MemoryStore) DeleteStep(ctx context.Context, userID uuid.UUID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, stepKey{userID, stepID})
	return nil
}

func (s *MemoryStore) GetStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[userID].Clone(), nil
}

func (s *MemoryStore) AverageEngagement(ctx context.Context, userID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum, n int
	for k, p := range s.steps {
		if k.userID == userID {
			sum += p.EngagementScore
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum) / float64(n), nil
}

func (s *MemoryStore) ListActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.activity[userID]
	out := make([]models.ActivityLogEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
