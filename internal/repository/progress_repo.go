package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pathway-backend/internal/models"
)

// ProgressRepo is the Postgres store. Each unit of work runs in one
// transaction holding row locks on the stats row and then the step row, so
// concurrent events for the same learner serialise instead of overwriting
// each other.
type ProgressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

const stepColumns = `user_id, step_id, year, completed, auto_completed, started_at, completed_at,
	last_activity, time_spent_minutes, resources_viewed, submissions, engagement_score, version`

const statsColumns = `user_id, total_time_spent, steps_completed, resources_viewed, total_code_submissions,
	total_project_submissions, current_streak, longest_streak, login_count, last_active`

type scanner interface {
	Scan(dest ...any) error
}

func scanStep(row scanner) (*models.StepProgress, error) {
	p := &models.StepProgress{}
	err := row.Scan(
		&p.UserID, &p.StepID, &p.Year, &p.Completed, &p.AutoCompleted, &p.StartedAt, &p.CompletedAt,
		&p.LastActivity, &p.TimeSpentMinutes, &p.ResourcesViewed, &p.Submissions, &p.EngagementScore, &p.Version,
	)
	if err != nil {
		return nil, err
	}
	if p.ResourcesViewed == nil {
		p.ResourcesViewed = []string{}
	}
	return p, nil
}

func scanStats(row scanner) (*models.LearningStats, error) {
	s := &models.LearningStats{}
	err := row.Scan(
		&s.UserID, &s.TotalTimeSpent, &s.StepsCompleted, &s.ResourcesViewed, &s.TotalCodeSubmissions,
		&s.TotalProjectSubmissions, &s.CurrentStreak, &s.LongestStreak, &s.LoginCount, &s.LastActive,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *ProgressRepo) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND is_active = TRUE)", userID).Scan(&exists)
	return exists, err
}

func (r *ProgressRepo) Mutate(ctx context.Context, userID uuid.UUID, stepID string, fn func(*Unit) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "INSERT INTO learning_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID); err != nil {
		return fmt.Errorf("failed to create learning stats: %w", err)
	}

	stats, err := scanStats(tx.QueryRow(ctx, "SELECT "+statsColumns+" FROM learning_stats WHERE user_id = $1 FOR UPDATE", userID))
	if err != nil {
		return fmt.Errorf("failed to lock learning stats: %w", err)
	}

	var progress *models.StepProgress
	if stepID != "" {
		progress, err = scanStep(tx.QueryRow(ctx,
			"SELECT "+stepColumns+" FROM step_progress WHERE user_id = $1 AND step_id = $2 FOR UPDATE", userID, stepID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to lock step progress: %w", err)
		}
	}

	u := newUnit(userID, stepID, progress, stats)
	if err := fn(u); err != nil {
		return err
	}

	if u.Progress != nil {
		if err := upsertStep(ctx, tx, u.Progress); err != nil {
			return err
		}
	}
	if err := updateStats(ctx, tx, u.Stats); err != nil {
		return err
	}
	for _, e := range u.Entries() {
		if err := insertActivity(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit engagement update: %w", err)
	}
	return nil
}

func upsertStep(ctx context.Context, tx pgx.Tx, p *models.StepProgress) error {
	p.Version++
	_, err := tx.Exec(ctx, `
		INSERT INTO step_progress (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, step_id) DO UPDATE
		SET year = EXCLUDED.year,
			completed = EXCLUDED.completed,
			auto_completed = EXCLUDED.auto_completed,
			completed_at = COALESCE(step_progress.completed_at, EXCLUDED.completed_at),
			last_activity = EXCLUDED.last_activity,
			time_spent_minutes = EXCLUDED.time_spent_minutes,
			resources_viewed = EXCLUDED.resources_viewed,
			submissions = EXCLUDED.submissions,
			engagement_score = EXCLUDED.engagement_score,
			version = EXCLUDED.version
	`, p.UserID, p.StepID, p.Year, p.Completed, p.AutoCompleted, p.StartedAt, p.CompletedAt,
		p.LastActivity, p.TimeSpentMinutes, p.ResourcesViewed, p.Submissions, p.EngagementScore, p.Version)
	if err != nil {
		return fmt.Errorf("failed to save step progress: %w", err)
	}
	return nil
}

func updateStats(ctx context.Context, tx pgx.Tx, s *models.LearningStats) error {
	_, err := tx.Exec(ctx, `
		UPDATE learning_stats
		SET total_time_spent = $2,
			steps_completed = $3,
			resources_viewed = $4,
			total_code_submissions = $5,
			total_project_submissions = $6,
			current_streak = $7,
			longest_streak = $8,
			login_count = $9,
			last_active = $10,
			updated_at = NOW()
		WHERE user_id = $1
	`, s.UserID, s.TotalTimeSpent, s.StepsCompleted, s.ResourcesViewed, s.TotalCodeSubmissions,
		s.TotalProjectSubmissions, s.CurrentStreak, s.LongestStreak, s.LoginCount, s.LastActive)
	if err != nil {
		return fmt.Errorf("failed to save learning stats: %w", err)
	}
	return nil
}

func insertActivity(ctx context.Context, tx pgx.Tx, e models.ActivityLogEntry) error {
	meta := []byte("{}")
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode activity metadata: %w", err)
		}
		meta = b
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO activity_log (id, user_id, action, step_id, resource_id, duration_minutes, metadata_json, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
	`, e.ID, e.UserID, string(e.Action), e.StepID, e.ResourceID, e.Duration, meta, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (r *ProgressRepo) GetStep(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepProgress, error) {
	p, err := scanStep(r.pool.QueryRow(ctx,
		"SELECT "+stepColumns+" FROM step_progress WHERE user_id = $1 AND step_id = $2", userID, stepID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *ProgressRepo) ListSteps(ctx context.Context, userID uuid.UUID, year int) ([]*models.StepProgress, error) {
	query := "SELECT " + stepColumns + " FROM step_progress WHERE user_id = $1"
	args := []interface{}{userID}
	if year != 0 {
		query += " AND year = $2"
		args = append(args, year)
	}
	query += " ORDER BY step_id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make([]*models.StepProgress, 0)
	for rows.Next() {
		p, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, p)
	}
	return steps, rows.Err()
}

func (r *ProgressRepo) DeleteStep(ctx context.Context, userID uuid.UUID, stepID string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM step_progress WHERE user_id = $1 AND step_id = $2", userID, stepID)
	return err
}

func (r *ProgressRepo) GetStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error) {
	s, err := scanStats(r.pool.QueryRow(ctx, "SELECT "+statsColumns+" FROM learning_stats WHERE user_id = $1", userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *ProgressRepo) AverageEngagement(ctx context.Context, userID uuid.UUID) (float64, error) {
	var avg float64
	err := r.pool.QueryRow(ctx,
		"SELECT COALESCE(AVG(engagement_score), 0)::float8 FROM step_progress WHERE user_id = $1", userID).Scan(&avg)
	return avg, err
}

// listActivityQuery returns newest first. seq breaks timestamp ties in
// insert order.
const listActivityQuery = `
	SELECT id, user_id, action, step_id, resource_id, duration_minutes, metadata_json, created_at
	FROM activity_log
	WHERE user_id = $1
	ORDER BY created_at DESC, seq DESC
	LIMIT $2
`

func (r *ProgressRepo) ListActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.ActivityLogEntry, error) {
	rows, err := r.pool.Query(ctx, listActivityQuery, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.ActivityLogEntry, 0)
	for rows.Next() {
		var (
			e          models.ActivityLogEntry
			action     string
			stepID     *string
			resourceID *string
			meta       []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &stepID, &resourceID, &e.Duration, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = models.ActivityAction(action)
		if stepID != nil {
			e.StepID = *stepID
		}
		if resourceID != nil {
			e.ResourceID = *resourceID
		}
		payload, err := models.DecodeActivityPayload(e.Action, meta, json.Unmarshal)
		if err != nil {
			return nil, fmt.Errorf("activity %s: %w", e.ID, err)
		}
		e.Metadata = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
