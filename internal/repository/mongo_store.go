package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pathway-backend/internal/models"
)

// MongoStore keeps progress as documents. Every unit of work runs in one
// multi-document transaction, so the deployment must be a replica set or a
// sharded cluster. Step documents carry a version and are replaced only if
// the version is unchanged since load; stats counters are applied as $inc
// deltas so concurrent units add up instead of overwriting each other.
type MongoStore struct {
	users *mongo.Collection
	docs  *collectionWriter

	writer unitWriter
	inTx   txRunner
}

// unitWriter holds the reads and writes of one Mutate call.
type unitWriter interface {
	loadStep(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepProgress, error)
	loadStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error)
	saveStep(ctx context.Context, p *models.StepProgress, prevVersion int64, created bool) error
	// applyStats reserves n activity sequence numbers and returns the last.
	applyStats(ctx context.Context, before, after *models.LearningStats, n int) (int64, error)
	insertActivity(ctx context.Context, entries []models.ActivityLogEntry, lastSeq int64) error
}

// txRunner runs fn in a transaction. Nothing fn wrote survives if it fails.
type txRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	docs := &collectionWriter{
		steps:    db.Collection("step_progress"),
		stats:    db.Collection("learning_stats"),
		activity: db.Collection("activity_log"),
	}
	return &MongoStore{
		users:  db.Collection("users"),
		docs:   docs,
		writer: docs,
		inTx:   sessionTx(client),
	}
}

func sessionTx(client *mongo.Client) txRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		sess, err := client.StartSession()
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer sess.EndSession(ctx)

		_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(sc)
		})
		return err
	}
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	FullName  string    `bson:"full_name"`
	IsActive  bool      `bson:"is_active"`
	CreatedAt time.Time `bson:"created_at"`
}

type stepDoc struct {
	ID               string     `bson:"_id"`
	UserID           string     `bson:"user_id"`
	StepID           string     `bson:"step_id"`
	Year             int        `bson:"year"`
	Completed        bool       `bson:"completed"`
	AutoCompleted    bool       `bson:"auto_completed"`
	StartedAt        time.Time  `bson:"started_at"`
	CompletedAt      *time.Time `bson:"completed_at,omitempty"`
	LastActivity     time.Time  `bson:"last_activity"`
	TimeSpentMinutes int        `bson:"time_spent_minutes"`
	ResourcesViewed  []string   `bson:"resources_viewed"`
	Submissions      int        `bson:"submissions"`
	EngagementScore  int        `bson:"engagement_score"`
	Version          int64      `bson:"version"`
}

type statsDoc struct {
	ID                      string     `bson:"_id"`
	TotalTimeSpent          int        `bson:"total_time_spent"`
	StepsCompleted          int        `bson:"steps_completed"`
	ResourcesViewed         int        `bson:"resources_viewed"`
	TotalCodeSubmissions    int        `bson:"total_code_submissions"`
	TotalProjectSubmissions int        `bson:"total_project_submissions"`
	CurrentStreak           int        `bson:"current_streak"`
	LongestStreak           int        `bson:"longest_streak"`
	LoginCount              int        `bson:"login_count"`
	LastActive              *time.Time `bson:"last_active"`
	ActivitySeq             int64      `bson:"activity_seq"`
}

type activityDoc struct {
	ID         string    `bson:"_id"`
	UserID     string    `bson:"user_id"`
	Action     string    `bson:"action"`
	StepID     string    `bson:"step_id,omitempty"`
	ResourceID string    `bson:"resource_id,omitempty"`
	Duration   *int      `bson:"duration,omitempty"`
	Metadata   bson.Raw  `bson:"metadata"`
	Timestamp  time.Time `bson:"timestamp"`
	Seq        int64     `bson:"seq"`
}

func stepDocID(userID, stepID string) string {
	return userID + ":" + stepID
}

func toStepDoc(p *models.StepProgress) stepDoc {
	uid := p.UserID.String()
	return stepDoc{
		ID:               stepDocID(uid, p.StepID),
		UserID:           uid,
		StepID:           p.StepID,
		Year:             p.Year,
		Completed:        p.Completed,
		AutoCompleted:    p.AutoCompleted,
		StartedAt:        p.StartedAt,
		CompletedAt:      p.CompletedAt,
		LastActivity:     p.LastActivity,
		TimeSpentMinutes: p.TimeSpentMinutes,
		ResourcesViewed:  p.ResourcesViewed,
		Submissions:      p.Submissions,
		EngagementScore:  p.EngagementScore,
		Version:          p.Version,
	}
}

func (d stepDoc) model() (*models.StepProgress, error) {
	uid, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("step %s: bad user id: %w", d.ID, err)
	}
	resources := d.ResourcesViewed
	if resources == nil {
		resources = []string{}
	}
	return &models.StepProgress{
		UserID:           uid,
		StepID:           d.StepID,
		Year:             d.Year,
		Completed:        d.Completed,
		AutoCompleted:    d.AutoCompleted,
		StartedAt:        d.StartedAt,
		CompletedAt:      d.CompletedAt,
		LastActivity:     d.LastActivity,
		TimeSpentMinutes: d.TimeSpentMinutes,
		ResourcesViewed:  resources,
		Submissions:      d.Submissions,
		EngagementScore:  d.EngagementScore,
		Version:          d.Version,
	}, nil
}

func (d statsDoc) model(userID uuid.UUID) *models.LearningStats {
	return &models.LearningStats{
		UserID:                  userID,
		TotalTimeSpent:          d.TotalTimeSpent,
		StepsCompleted:          d.StepsCompleted,
		ResourcesViewed:         d.ResourcesViewed,
		TotalCodeSubmissions:    d.TotalCodeSubmissions,
		TotalProjectSubmissions: d.TotalProjectSubmissions,
		CurrentStreak:           d.CurrentStreak,
		LongestStreak:           d.LongestStreak,
		LoginCount:              d.LoginCount,
		LastActive:              d.LastActive,
	}
}

// EnsureIndexes creates the secondary indexes the queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("failed to index users: %w", err)
	}
	if _, err := s.docs.steps.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "year", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to index step progress: %w", err)
	}
	if _, err := s.docs.activity.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}},
	}); err != nil {
		return fmt.Errorf("failed to index activity log: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.IsActive = true
	user.CreatedAt = time.Now().UTC()

	_, err := s.users.InsertOne(ctx, userDoc{
		ID:        user.ID.String(),
		Email:     user.Email,
		FullName:  user.FullName,
		IsActive:  true,
		CreatedAt: user.CreatedAt,
	})
	return err
}

func (s *MongoStore) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := s.users.CountDocuments(ctx,
		bson.M{"_id": userID.String(), "is_active": true},
		options.Count().SetLimit(1))
	return n > 0, err
}

func (s *MongoStore) Mutate(ctx context.Context, userID uuid.UUID, stepID string, fn func(*Unit) error) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.mutateUnit(ctx, userID, stepID, fn)
	})
}

// mutateUnit may run more than once when the driver retries a transient
// transaction error; each run starts from a fresh load.
func (s *MongoStore) mutateUnit(ctx context.Context, userID uuid.UUID, stepID string, fn func(*Unit) error) error {
	var progress *models.StepProgress
	var prevVersion int64
	if stepID != "" {
		p, err := s.writer.loadStep(ctx, userID, stepID)
		if err != nil {
			return fmt.Errorf("failed to load step progress: %w", err)
		}
		if p != nil {
			progress = p
			prevVersion = p.Version
		}
	}

	stats, err := s.writer.loadStats(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load learning stats: %w", err)
	}
	before := models.NewLearningStats(userID)
	if stats != nil {
		before = stats.Clone()
	}

	u := newUnit(userID, stepID, progress, stats)
	if err := fn(u); err != nil {
		return err
	}

	if u.Progress != nil {
		if err := s.writer.saveStep(ctx, u.Progress, prevVersion, u.Created); err != nil {
			return err
		}
	}
	entries := u.Entries()
	lastSeq, err := s.writer.applyStats(ctx, before, u.Stats, len(entries))
	if err != nil {
		return err
	}
	return s.writer.insertActivity(ctx, entries, lastSeq)
}

type collectionWriter struct {
	steps    *mongo.Collection
	stats    *mongo.Collection
	activity *mongo.Collection
}

func (w *collectionWriter) loadStep(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepProgress, error) {
	var doc stepDoc
	err := w.steps.FindOne(ctx, bson.M{"_id": stepDocID(userID.String(), stepID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (w *collectionWriter) loadStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error) {
	var doc statsDoc
	err := w.stats.FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.model(userID), nil
}

func (w *collectionWriter) saveStep(ctx context.Context, p *models.StepProgress, prevVersion int64, created bool) error {
	p.Version = prevVersion + 1
	doc := toStepDoc(p)

	if created {
		_, err := w.steps.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("failed to insert step progress: %w", err)
		}
		return nil
	}

	res, err := w.steps.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": prevVersion}, doc)
	if err != nil {
		return fmt.Errorf("failed to save step progress: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (w *collectionWriter) applyStats(ctx context.Context, before, after *models.LearningStats, n int) (int64, error) {
	update := bson.M{
		"$inc": bson.M{
			"total_time_spent":          after.TotalTimeSpent - before.TotalTimeSpent,
			"steps_completed":           after.StepsCompleted - before.StepsCompleted,
			"resources_viewed":          after.ResourcesViewed - before.ResourcesViewed,
			"total_code_submissions":    after.TotalCodeSubmissions - before.TotalCodeSubmissions,
			"total_project_submissions": after.TotalProjectSubmissions - before.TotalProjectSubmissions,
			"login_count":               after.LoginCount - before.LoginCount,
			"activity_seq":              n,
		},
		"$max": bson.M{"longest_streak": after.LongestStreak},
		"$set": bson.M{
			"current_streak": after.CurrentStreak,
			"last_active":    after.LastActive,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.M{"activity_seq": 1})

	var doc statsDoc
	err := w.stats.FindOneAndUpdate(ctx, bson.M{"_id": after.UserID.String()}, update, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to save learning stats: %w", err)
	}
	return doc.ActivitySeq, nil
}

// insertActivity numbers entries in unit order, ending at lastSeq.
func (w *collectionWriter) insertActivity(ctx context.Context, entries []models.ActivityLogEntry, lastSeq int64) error {
	if len(entries) == 0 {
		return nil
	}
	first := lastSeq - int64(len(entries)) + 1
	docs := make([]interface{}, 0, len(entries))
	for i, e := range entries {
		var meta bson.Raw
		if e.Metadata != nil {
			b, err := bson.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode activity metadata: %w", err)
			}
			meta = b
		}
		docs = append(docs, activityDoc{
			ID:         e.ID.String(),
			UserID:     e.UserID.String(),
			Action:     string(e.Action),
			StepID:     e.StepID,
			ResourceID: e.ResourceID,
			Duration:   e.Duration,
			Metadata:   meta,
			Timestamp:  e.Timestamp,
			Seq:        first + int64(i),
		})
	}
	if _, err := w.activity.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *MongoStore) GetStep(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepProgress, error) {
	return s.docs.loadStep(ctx, userID, stepID)
}

func (s *MongoStore) ListSteps(ctx context.Context, userID uuid.UUID, year int) ([]*models.StepProgress, error) {
	filter := bson.M{"user_id": userID.String()}
	if year != 0 {
		filter["year"] = year
	}
	cur, err := s.docs.steps.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "step_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []stepDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	steps := make([]*models.StepProgress, 0, len(docs))
	for _, d := range docs {
		p, err := d.model()
		if err != nil {
			return nil, err
		}
		steps = append(steps, p)
	}
	return steps, nil
}

func (s *MongoStore) DeleteStep(ctx context.Context, userID uuid.UUID, stepID string) error {
	_, err := s.docs.steps.DeleteOne(ctx, bson.M{"_id": stepDocID(userID.String(), stepID)})
	return err
}

func (s *MongoStore) GetStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error) {
	return s.docs.loadStats(ctx, userID)
}

func (s *MongoStore) AverageEngagement(ctx context.Context, userID uuid.UUID) (float64, error) {
	cur, err := s.docs.steps.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID.String()}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$engagement_score"}}},
		}}},
	})
	if err != nil {
		return 0, err
	}
	var out []struct {
		Avg float64 `bson:"avg"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].Avg, nil
}

func (s *MongoStore) ListActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.ActivityLogEntry, error) {
	cur, err := s.docs.activity.Find(ctx,
		bson.M{"user_id": userID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []activityDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	entries := make([]models.ActivityLogEntry, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("activity %s: bad id: %w", d.ID, err)
		}
		e := models.ActivityLogEntry{
			ID:         id,
			UserID:     userID,
			Action:     models.ActivityAction(d.Action),
			StepID:     d.StepID,
			ResourceID: d.ResourceID,
			Duration:   d.Duration,
			Timestamp:  d.Timestamp,
		}
		if len(d.Metadata) > 0 {
			payload, err := models.DecodeActivityPayload(e.Action, d.Metadata, bson.Unmarshal)
			if err != nil {
				return nil, fmt.Errorf("activity %s: %w", d.ID, err)
			}
			e.Metadata = payload
		}
		entries = append(entries, e)
	}
	return entries, nil
}
