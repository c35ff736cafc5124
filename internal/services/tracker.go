package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pathway-backend/internal/clock"
	"pathway-backend/internal/engagement"
	"pathway-backend/internal/logger"
	"pathway-backend/internal/models"
	"pathway-backend/internal/repository"
)

const (
	maxConflictAttempts = 3
	maxMinutesPerReport = 24 * 60

	DefaultActivityLimit = 50
	MaxActivityLimit     = 200
)

// ProgressStore is the persistence surface the tracker needs. Mutate must
// apply the callback's changes atomically or not at all.
type ProgressStore interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
	Mutate(ctx context.Context, userID uuid.UUID, stepID string, fn func(*repository.Unit) error) error
	GetStep(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepProgress, error)
	ListSteps(ctx context.Context, userID uuid.UUID, year int) ([]*models.StepProgress, error)
	DeleteStep(ctx context.Context, userID uuid.UUID, stepID string) error
	GetStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error)
	AverageEngagement(ctx context.Context, userID uuid.UUID) (float64, error)
	ListActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.ActivityLogEntry, error)
}

type StepCatalog interface {
	Lookup(stepID string) (*models.StepDefinition, bool)
}

type EventPublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

// Tracker records learner engagement on roadmap steps and keeps the
// per-user learning stats in step with it.
type Tracker struct {
	store   ProgressStore
	catalog StepCatalog
	clock   clock.Clock
	pub     EventPublisher
	log     *logger.Logger
}

func NewTracker(store ProgressStore, catalog StepCatalog, clk clock.Clock, log *logger.Logger) *Tracker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{store: store, catalog: catalog, clock: clk, log: log}
}

// SetPublisher enables realtime notifications. Without one, events are
// only persisted.
func (t *Tracker) SetPublisher(pub EventPublisher) {
	t.pub = pub
}

// outcome is what an event changed beyond the counters.
type outcome struct {
	stepID     string
	completed  bool
	streakGrew bool
	score      int
	current    int
	longest    int
}

func (t *Tracker) requireUser(ctx context.Context, op string, userID uuid.UUID) error {
	exists, err := t.store.UserExists(ctx, userID)
	if err != nil {
		t.log.Error("user lookup failed", "op", op, "user_id", userID, "error", err)
		return &OperationError{Op: op, Err: err}
	}
	if !exists {
		return userNotFound()
	}
	return nil
}

// mutate runs fn as one unit of work, retrying on version conflicts. fn is
// called again with a fresh unit on every attempt and must not keep state
// outside of it except its own result variables.
func (t *Tracker) mutate(ctx context.Context, op string, userID uuid.UUID, stepID string, fn func(u *repository.Unit, now time.Time) error) error {
	if err := t.requireUser(ctx, op, userID); err != nil {
		return err
	}

	var err error
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		now := t.clock.Now()
		err = t.store.Mutate(ctx, userID, stepID, func(u *repository.Unit) error {
			return fn(u, now)
		})
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		t.log.Warn("engagement update conflicted, retrying", "op", op, "user_id", userID, "step_id", stepID, "attempt", attempt)
	}
	if err != nil {
		t.log.Error("engagement update failed", "op", op, "user_id", userID, "step_id", stepID, "error", err)
		return &OperationError{Op: op, Err: err}
	}
	return nil
}

func (t *Tracker) definition(stepID string, given *models.StepDefinition) *models.StepDefinition {
	if given != nil {
		return given
	}
	if t.catalog == nil {
		return nil
	}
	def, ok := t.catalog.Lookup(stepID)
	if !ok {
		return nil
	}
	return def
}

// begin stamps a freshly created step record.
func begin(u *repository.Unit, def *models.StepDefinition, now time.Time) {
	if !u.Created {
		return
	}
	u.Progress.StartedAt = now
	if def != nil {
		u.Progress.Year = models.ClampYear(def.Year)
	}
}

// settle finishes every step event: it stamps activity, rescores the step,
// advances the streak and completes the step if the predicate now holds.
func settle(u *repository.Unit, def *models.StepDefinition, now time.Time) outcome {
	p := u.Progress
	p.LastActivity = now
	p.EngagementScore = engagement.Score(*p, now)

	o := outcome{stepID: p.StepID}
	o.streakGrew = engagement.UpdateStreak(u.Stats, now)

	if trigger := engagement.AutoCompleteTrigger(*p, def); trigger != engagement.TriggerNone {
		if engagement.Complete(p, now, true) {
			u.Stats.StepsCompleted++
			u.Append(models.NewActivityEntry(u.UserID, p.StepID, models.CompletionPayload{
				Auto:    true,
				Score:   p.EngagementScore,
				Trigger: string(trigger),
			}, now))
			o.completed = true
		}
	}

	o.score = p.EngagementScore
	o.current = u.Stats.CurrentStreak
	o.longest = u.Stats.LongestStreak
	return o
}

// publish pushes realtime updates. Failures are logged; the event is
// already persisted.
func (t *Tracker) publish(ctx context.Context, userID uuid.UUID, o outcome, auto bool) {
	if t.pub == nil {
		return
	}
	if o.completed {
		msg := models.WSMessage{Type: models.WSStepCompleted, Payload: models.StepCompletedEvent{
			StepID:          o.stepID,
			AutoCompleted:   auto,
			EngagementScore: o.score,
		}}
		if err := t.pub.Publish(ctx, userID, msg); err != nil {
			t.log.Warn("failed to publish step completion", "user_id", userID, "step_id", o.stepID, "error", err)
		}
	}
	if o.streakGrew {
		msg := models.WSMessage{Type: models.WSStreakUpdated, Payload: models.StreakUpdatedEvent{
			CurrentStreak: o.current,
			LongestStreak: o.longest,
		}}
		if err := t.pub.Publish(ctx, userID, msg); err != nil {
			t.log.Warn("failed to publish streak update", "user_id", userID, "error", err)
		}
	}
}

// clampMinutes turns a reported duration into whole minutes. Garbage and
// negative values count as zero.
func clampMinutes(minutes float64) int {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return 0
	}
	if minutes > maxMinutesPerReport {
		return maxMinutesPerReport
	}
	return int(math.Round(minutes))
}

func (t *Tracker) RecordTimeSpent(ctx context.Context, userID uuid.UUID, stepID string, minutes float64, step *models.StepDefinition) (*models.TimeSpentResult, error) {
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return nil, &ValidationError{Fields: map[string]string{"step_id": "Step ID is required"}}
	}
	added := clampMinutes(minutes)
	def := t.definition(stepID, step)

	var result models.TimeSpentResult
	var o outcome
	err := t.mutate(ctx, "record time spent", userID, stepID, func(u *repository.Unit, now time.Time) error {
		begin(u, def, now)
		u.Progress.TimeSpentMinutes += added
		u.Stats.TotalTimeSpent += added
		u.Append(models.NewActivityEntry(userID, stepID, models.TimeSpentPayload{Minutes: added}, now))

		o = settle(u, def, now)
		result = models.TimeSpentResult{
			WasAutoCompleted: o.completed,
			EngagementScore:  u.Progress.EngagementScore,
			TotalTimeSpent:   u.Progress.TimeSpentMinutes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.publish(ctx, userID, o, true)
	return &result, nil
}

func (t *Tracker) RecordResourceView(ctx context.Context, userID uuid.UUID, stepID, resourceURL, resourceType string, step *models.StepDefinition) (*models.ResourceViewResult, error) {
	stepID = strings.TrimSpace(stepID)
	resourceURL = strings.TrimSpace(resourceURL)
	fields := map[string]string{}
	if stepID == "" {
		fields["step_id"] = "Step ID is required"
	}
	if resourceURL == "" {
		fields["resource_url"] = "Resource URL is required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	def := t.definition(stepID, step)

	var result models.ResourceViewResult
	var o outcome
	err := t.mutate(ctx, "record resource view", userID, stepID, func(u *repository.Unit, now time.Time) error {
		begin(u, def, now)
		first := u.Progress.AddResource(resourceURL)
		// the global counter counts every view, repeats included
		u.Stats.ResourcesViewed++
		u.Append(models.NewActivityEntry(userID, stepID, models.ResourceViewPayload{
			URL:          resourceURL,
			ResourceType: resourceType,
			FirstView:    first,
		}, now))

		o = settle(u, def, now)
		result = models.ResourceViewResult{
			WasAutoCompleted: o.completed,
			EngagementScore:  u.Progress.EngagementScore,
			ResourcesViewed:  len(u.Progress.ResourcesViewed),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.publish(ctx, userID, o, true)
	return &result, nil
}

func (t *Tracker) RecordSubmission(ctx context.Context, userID uuid.UUID, stepID string, kind models.SubmissionKind, meta models.SubmissionPayload, step *models.StepDefinition) (*models.SubmissionResult, error) {
	stepID = strings.TrimSpace(stepID)
	fields := map[string]string{}
	if stepID == "" {
		fields["step_id"] = "Step ID is required"
	}
	if !kind.Valid() {
		fields["type"] = "Submission type must be code or project"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	meta.Kind = kind
	def := t.definition(stepID, step)

	var result models.SubmissionResult
	var o outcome
	err := t.mutate(ctx, "record submission", userID, stepID, func(u *repository.Unit, now time.Time) error {
		begin(u, def, now)
		u.Progress.Submissions++
		if kind == models.SubmissionProject {
			u.Stats.TotalProjectSubmissions++
		} else {
			u.Stats.TotalCodeSubmissions++
		}
		u.Append(models.NewActivityEntry(userID, stepID, meta, now))

		o = settle(u, def, now)
		result = models.SubmissionResult{WasAutoCompleted: o.completed, SubmissionType: kind}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.publish(ctx, userID, o, true)
	return &result, nil
}

// MarkCompletedManually completes a step on the learner's say-so. The step
// is pinned to a score of 100 until its next event rescores it. Marking an
// already completed step is logged again but counted once.
func (t *Tracker) MarkCompletedManually(ctx context.Context, userID uuid.UUID, stepID string) (*models.ManualCompletionResult, error) {
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return nil, &ValidationError{Fields: map[string]string{"step_id": "Step ID is required"}}
	}
	def := t.definition(stepID, nil)

	var o outcome
	err := t.mutate(ctx, "mark step as completed", userID, stepID, func(u *repository.Unit, now time.Time) error {
		begin(u, def, now)
		p := u.Progress
		transitioned := engagement.Complete(p, now, false)
		if transitioned {
			u.Stats.StepsCompleted++
		}
		p.AutoCompleted = false
		p.EngagementScore = 100
		p.LastActivity = now
		u.Append(models.NewActivityEntry(userID, stepID, models.CompletionPayload{Auto: false, Score: 100}, now))

		o = outcome{
			stepID:     stepID,
			completed:  transitioned,
			streakGrew: engagement.UpdateStreak(u.Stats, now),
			score:      100,
			current:    u.Stats.CurrentStreak,
			longest:    u.Stats.LongestStreak,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.publish(ctx, userID, o, false)
	return &models.ManualCompletionResult{StepID: stepID, Completed: true, ManuallyCompleted: true}, nil
}

// ResetStepProgress drops the step record. Stats keep everything the step
// contributed.
func (t *Tracker) ResetStepProgress(ctx context.Context, userID uuid.UUID, stepID string) (*models.ResetResult, error) {
	const op = "reset step progress"
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return nil, &ValidationError{Fields: map[string]string{"step_id": "Step ID is required"}}
	}
	if err := t.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}
	if err := t.store.DeleteStep(ctx, userID, stepID); err != nil {
		t.log.Error("step reset failed", "user_id", userID, "step_id", stepID, "error", err)
		return nil, &OperationError{Op: op, Err: err}
	}
	return &models.ResetResult{StepID: stepID, Reset: true}, nil
}

func (t *Tracker) GetStepEngagement(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepEngagement, error) {
	const op = "get step engagement"
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return nil, &ValidationError{Fields: map[string]string{"step_id": "Step ID is required"}}
	}
	if err := t.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}
	p, err := t.store.GetStep(ctx, userID, stepID)
	if err != nil {
		t.log.Error("step lookup failed", "user_id", userID, "step_id", stepID, "error", err)
		return nil, &OperationError{Op: op, Err: err}
	}
	if p == nil {
		return &models.StepEngagement{StepID: stepID}, nil
	}
	return &models.StepEngagement{
		StepID:             stepID,
		EngagementScore:    p.EngagementScore,
		TimeSpent:          p.TimeSpentMinutes,
		ResourcesViewed:    len(p.ResourcesViewed),
		Completed:          p.Completed,
		AutoCompleted:      p.AutoCompleted,
		ProgressPercentage: engagement.ProgressPercentage(*p),
	}, nil
}

func (t *Tracker) RecordLogin(ctx context.Context, userID uuid.UUID, client string) (*models.LoginResult, error) {
	var result models.LoginResult
	var o outcome
	err := t.mutate(ctx, "record login", userID, "", func(u *repository.Unit, now time.Time) error {
		u.Stats.LoginCount++
		u.Append(models.NewActivityEntry(userID, "", models.LoginPayload{Client: client}, now))
		o = outcome{
			streakGrew: engagement.UpdateStreak(u.Stats, now),
			current:    u.Stats.CurrentStreak,
			longest:    u.Stats.LongestStreak,
		}
		result = models.LoginResult{LoginCount: u.Stats.LoginCount, CurrentStreak: u.Stats.CurrentStreak}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.publish(ctx, userID, o, false)
	return &result, nil
}

func (t *Tracker) GetLearningStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error) {
	const op = "get learning stats"
	if err := t.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}

	var stats *models.LearningStats
	var avg float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = t.store.GetStats(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		avg, err = t.store.AverageEngagement(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		t.log.Error("stats lookup failed", "user_id", userID, "error", err)
		return nil, &OperationError{Op: op, Err: err}
	}

	if stats == nil {
		stats = models.NewLearningStats(userID)
	}
	stats.AverageEngagement = math.Round(avg*100) / 100
	return stats, nil
}

func (t *Tracker) ListActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.ActivityLogEntry, error) {
	const op = "list activity"
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	if err := t.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}
	entries, err := t.store.ListActivity(ctx, userID, limit)
	if err != nil {
		t.log.Error("activity lookup failed", "user_id", userID, "error", err)
		return nil, &OperationError{Op: op, Err: err}
	}
	return entries, nil
}

func (t *Tracker) ListStepProgress(ctx context.Context, userID uuid.UUID, year int) ([]*models.StepProgress, error) {
	const op = "list step progress"
	if year < 0 || year > 4 {
		return nil, &ValidationError{Fields: map[string]string{"year": "Year must be between 1 and 4"}}
	}
	if err := t.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}
	steps, err := t.store.ListSteps(ctx, userID, year)
	if err != nil {
		t.log.Error("step listing failed", "user_id", userID, "year", year, "error", err)
		return nil, &OperationError{Op: op, Err: err}
	}
	return steps, nil
}

// Apply dispatches a queued event to the matching tracker operation.
func (t *Tracker) Apply(ctx context.Context, ev models.EngagementEvent) (interface{}, error) {
	switch ev.Type {
	case models.EventTimeSpent:
		return t.RecordTimeSpent(ctx, ev.UserID, ev.StepID, ev.Minutes, ev.Step)
	case models.EventResourceView:
		return t.RecordResourceView(ctx, ev.UserID, ev.StepID, ev.ResourceURL, ev.ResourceType, ev.Step)
	case models.EventSubmission:
		if ev.Submission == nil {
			return nil, &ValidationError{Fields: map[string]string{"submission": "Submission is required"}}
		}
		return t.RecordSubmission(ctx, ev.UserID, ev.StepID, ev.Submission.Kind, *ev.Submission, ev.Step)
	case models.EventComplete:
		return t.MarkCompletedManually(ctx, ev.UserID, ev.StepID)
	case models.EventLogin:
		return t.RecordLogin(ctx, ev.UserID, ev.Client)
	default:
		return nil, &ValidationError{Fields: map[string]string{"type": "Unknown event type"}}
	}
}
