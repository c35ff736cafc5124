package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"pathway-backend/internal/models"
)

// StreakRemindersKey is the notification preference that opts a user in.
const StreakRemindersKey = "streak_reminders"

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.IsActive = true

	return r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, full_name)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, user.ID, user.Email, user.FullName).Scan(&user.CreatedAt)
}

func (r *UserRepo) SetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, notifications_json, updated_at)
		VALUES (
			$1,
			jsonb_build_object($2::text, to_jsonb($3::boolean)),
			NOW()
		)
		ON CONFLICT (user_id) DO UPDATE
		SET notifications_json = COALESCE(user_settings.notifications_json, '{}'::jsonb) ||
			jsonb_build_object($2::text, to_jsonb($3::boolean)),
			updated_at = NOW()
	`, userID, key, enabled)
	return err
}

func (r *UserRepo) SetNotificationTimestamp(ctx context.Context, userID uuid.UUID, key string, at time.Time) error {
	formatted := at.UTC().Format(time.RFC3339)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, notifications_json, updated_at)
		VALUES (
			$1,
			jsonb_build_object($2::text, to_jsonb($3::text)),
			NOW()
		)
		ON CONFLICT (user_id) DO UPDATE
		SET notifications_json = COALESCE(user_settings.notifications_json, '{}'::jsonb) ||
			jsonb_build_object($2::text, to_jsonb($3::text)),
			updated_at = NOW()
	`, userID, key, formatted)
	return err
}

// ListStreakReminderCandidates returns opted-in learners whose last activity
// falls in [from, to), i.e. the previous calendar day.
func (r *UserRepo) ListStreakReminderCandidates(ctx context.Context, from, to time.Time, lastSentKey string) ([]models.ReminderCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			u.id,
			u.email,
			u.full_name,
			ls.current_streak,
			ls.last_active,
			COALESCE(us.notifications_json->>$4, '') AS last_sent_at
		FROM users u
		JOIN learning_stats ls ON ls.user_id = u.id
		LEFT JOIN user_settings us ON us.user_id = u.id
		WHERE u.is_active = TRUE
		  AND ls.current_streak > 0
		  AND ls.last_active >= $1
		  AND ls.last_active < $2
		  AND COALESCE((
			CASE
				WHEN LOWER(COALESCE(us.notifications_json->>$3, '')) IN ('true', 'false')
				THEN (us.notifications_json->>$3)::boolean
				ELSE false
			END
		  ), false) = TRUE
	`, from, to, StreakRemindersKey, lastSentKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]models.ReminderCandidate, 0)
	for rows.Next() {
		var c models.ReminderCandidate
		if scanErr := rows.Scan(
			&c.UserID,
			&c.Email,
			&c.FullName,
			&c.CurrentStreak,
			&c.LastActive,
			&c.LastSentAtRaw,
		); scanErr != nil {
			return nil, scanErr
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}
