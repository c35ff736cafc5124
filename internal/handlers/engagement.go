package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pathway-backend/internal/logger"
	"pathway-backend/internal/middleware"
	"pathway-backend/internal/models"
	"pathway-backend/internal/repository"
)

const (
	maxBodyBytes     = 64 << 10
	maxEventsPerPost = 100
)

type engagementTracker interface {
	RecordTimeSpent(ctx context.Context, userID uuid.UUID, stepID string, minutes float64, step *models.StepDefinition) (*models.TimeSpentResult, error)
	RecordResourceView(ctx context.Context, userID uuid.UUID, stepID, resourceURL, resourceType string, step *models.StepDefinition) (*models.ResourceViewResult, error)
	RecordSubmission(ctx context.Context, userID uuid.UUID, stepID string, kind models.SubmissionKind, meta models.SubmissionPayload, step *models.StepDefinition) (*models.SubmissionResult, error)
	MarkCompletedManually(ctx context.Context, userID uuid.UUID, stepID string) (*models.ManualCompletionResult, error)
	ResetStepProgress(ctx context.Context, userID uuid.UUID, stepID string) (*models.ResetResult, error)
	GetStepEngagement(ctx context.Context, userID uuid.UUID, stepID string) (*models.StepEngagement, error)
	RecordLogin(ctx context.Context, userID uuid.UUID, client string) (*models.LoginResult, error)
	GetLearningStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error)
	ListActivity(ctx context.Context, userID uuid.UUID, limit int) ([]models.ActivityLogEntry, error)
	ListStepProgress(ctx context.Context, userID uuid.UUID, year int) ([]*models.StepProgress, error)
	Apply(ctx context.Context, ev models.EngagementEvent) (interface{}, error)
}

// EventQueue accepts events for asynchronous processing.
type EventQueue interface {
	Enqueue(ctx context.Context, events ...models.EngagementEvent) error
}

type reminderSettings interface {
	SetNotificationSetting(ctx context.Context, userID uuid.UUID, key string, enabled bool) error
}

type EngagementHandler struct {
	tracker   engagementTracker
	queue     EventQueue
	reminders reminderSettings
	log       *logger.Logger
}

func NewEngagementHandler(tracker engagementTracker, log *logger.Logger) *EngagementHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EngagementHandler{tracker: tracker, log: log}
}

// WithQueue routes batch events through q. Without a queue they are applied
// inline.
func (h *EngagementHandler) WithQueue(q EventQueue) *EngagementHandler {
	h.queue = q
	return h
}

func (h *EngagementHandler) WithReminderSettings(s reminderSettings) *EngagementHandler {
	h.reminders = s
	return h
}

// flexMinutes accepts a JSON number or a numeric string. Anything else reads
// as zero, matching how the tracker treats garbage durations.
type flexMinutes float64

func (m *flexMinutes) UnmarshalJSON(data []byte) error {
	*m = 0
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*m = flexMinutes(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*m = flexMinutes(v)
		}
	}
	return nil
}

type timeSpentRequest struct {
	Minutes flexMinutes            `json:"minutes"`
	Step    *models.StepDefinition `json:"step"`
}

type resourceViewRequest struct {
	ResourceURL  string                 `json:"resource_url"`
	ResourceType string                 `json:"resource_type"`
	Step         *models.StepDefinition `json:"step"`
}

type submissionRequest struct {
	Type     models.SubmissionKind  `json:"type"`
	RepoURL  string                 `json:"repo_url"`
	Notes    string                 `json:"notes"`
	Language string                 `json:"language"`
	Step     *models.StepDefinition `json:"step"`
}

type loginRequest struct {
	Client string `json:"client"`
}

type reminderRequest struct {
	Enabled *bool `json:"enabled"`
}

type eventRequest struct {
	Type         string                    `json:"type"`
	StepID       string                    `json:"step_id"`
	Minutes      flexMinutes               `json:"minutes"`
	ResourceURL  string                    `json:"resource_url"`
	ResourceType string                    `json:"resource_type"`
	Submission   *models.SubmissionPayload `json:"submission"`
	Client       string                    `json:"client"`
	Step         *models.StepDefinition    `json:"step"`
}

type batchRequest struct {
	Events []eventRequest `json:"events"`
}

// decodeJSON reads a strict JSON body. An empty body is allowed when
// optional is set.
func decodeJSON(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *EngagementHandler) invalidBody(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
}

func (h *EngagementHandler) RecordTime(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req timeSpentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.invalidBody(w, r)
		return
	}

	res, err := h.tracker.RecordTimeSpent(r.Context(), userID, chi.URLParam(r, "stepID"), float64(req.Minutes), req.Step)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *EngagementHandler) RecordResource(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req resourceViewRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.invalidBody(w, r)
		return
	}

	res, err := h.tracker.RecordResourceView(r.Context(), userID, chi.URLParam(r, "stepID"), req.ResourceURL, req.ResourceType, req.Step)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *EngagementHandler) RecordSubmission(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req submissionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.invalidBody(w, r)
		return
	}

	meta := models.SubmissionPayload{RepoURL: req.RepoURL, Notes: req.Notes, Language: req.Language}
	res, err := h.tracker.RecordSubmission(r.Context(), userID, chi.URLParam(r, "stepID"), req.Type, meta, req.Step)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (h *EngagementHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	res, err := h.tracker.MarkCompletedManually(r.Context(), userID, chi.URLParam(r, "stepID"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *EngagementHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	res, err := h.tracker.ResetStepProgress(r.Context(), userID, chi.URLParam(r, "stepID"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *EngagementHandler) GetStep(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	res, err := h.tracker.GetStepEngagement(r.Context(), userID, chi.URLParam(r, "stepID"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *EngagementHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"year": "Year must be a number"}, r))
			return
		}
		year = v
	}

	steps, err := h.tracker.ListStepProgress(r.Context(), userID, year)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, steps)
}

func (h *EngagementHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	stats, err := h.tracker.GetLearningStats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (h *EngagementHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"limit": "Limit must be a positive number"}, r))
			return
		}
		limit = v
	}

	entries, err := h.tracker.ListActivity(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (h *EngagementHandler) Login(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req loginRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.invalidBody(w, r)
		return
	}

	res, err := h.tracker.RecordLogin(r.Context(), userID, req.Client)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *EngagementHandler) SetReminders(w http.ResponseWriter, r *http.Request) {
	if h.reminders == nil {
		writeJSON(w, http.StatusNotImplemented, errorResp("NOT_SUPPORTED", "Streak reminders are not available", r))
		return
	}
	userID := middleware.GetUserID(r.Context())
	var req reminderRequest
	if err := decodeJSON(r, &req, false); err != nil || req.Enabled == nil {
		h.invalidBody(w, r)
		return
	}

	if err := h.reminders.SetNotificationSetting(r.Context(), userID, repository.StreakRemindersKey, *req.Enabled); err != nil {
		h.log.Error("failed to save reminder setting", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to update reminder setting", r))
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"streak_reminders": *req.Enabled})
}

// Events accepts a batch of engagement events from the client. With a queue
// they are processed by the worker pool; without one they are applied in
// order before responding.
func (h *EngagementHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req batchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.invalidBody(w, r)
		return
	}
	if len(req.Events) == 0 || len(req.Events) > maxEventsPerPost {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"events": "Between 1 and 100 events are required"}, r))
		return
	}

	now := time.Now().UTC()
	events := make([]models.EngagementEvent, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, models.EngagementEvent{
			Type:         e.Type,
			UserID:       userID,
			StepID:       e.StepID,
			Minutes:      float64(e.Minutes),
			ResourceURL:  e.ResourceURL,
			ResourceType: e.ResourceType,
			Submission:   e.Submission,
			Client:       e.Client,
			Step:         e.Step,
			QueuedAt:     now,
		})
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(r.Context(), events...); err != nil {
			h.log.Error("failed to enqueue events", "user_id", userID, "count", len(events), "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResp("QUEUE_UNAVAILABLE", "Failed to queue events", r))
			return
		}
		writeData(w, http.StatusAccepted, map[string]int{"queued": len(events)})
		return
	}

	for _, ev := range events {
		if _, err := h.tracker.Apply(r.Context(), ev); err != nil {
			handleServiceError(w, r, h.log, err)
			return
		}
	}
	writeData(w, http.StatusOK, map[string]int{"processed": len(events)})
}
