package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActivityAction string

const (
	ActionViewedResource    ActivityAction = "viewed_resource"
	ActionCompletedStep     ActivityAction = "completed_step"
	ActionLoggedIn          ActivityAction = "logged_in"
	ActionCodeSubmission    ActivityAction = "code_submission"
	ActionProjectSubmission ActivityAction = "project_submission"
	ActionTimeSpent         ActivityAction = "time_spent"
)

type SubmissionKind string

const (
	SubmissionCode    SubmissionKind = "code"
	SubmissionProject SubmissionKind = "project"
)

func (k SubmissionKind) Valid() bool {
	return k == SubmissionCode || k == SubmissionProject
}

// Action maps a submission kind to its log action.
func (k SubmissionKind) Action() ActivityAction {
	if k == SubmissionProject {
		return ActionProjectSubmission
	}
	return ActionCodeSubmission
}

// ActivityPayload is the typed metadata attached to a log entry. Each
// action has exactly one payload type.
type ActivityPayload interface {
	Action() ActivityAction
}

type TimeSpentPayload struct {
	Minutes int `json:"minutes" bson:"minutes"`
}

type ResourceViewPayload struct {
	URL          string `json:"url" bson:"url"`
	ResourceType string `json:"resource_type,omitempty" bson:"resource_type,omitempty"`
	FirstView    bool   `json:"first_view" bson:"first_view"`
}

type SubmissionPayload struct {
	Kind     SubmissionKind `json:"kind" bson:"kind"`
	RepoURL  string         `json:"repo_url,omitempty" bson:"repo_url,omitempty"`
	Notes    string         `json:"notes,omitempty" bson:"notes,omitempty"`
	Language string         `json:"language,omitempty" bson:"language,omitempty"`
}

type CompletionPayload struct {
	Auto    bool   `json:"auto" bson:"auto"`
	Score   int    `json:"score" bson:"score"`
	Trigger string `json:"trigger,omitempty" bson:"trigger,omitempty"`
}

type LoginPayload struct {
	Client string `json:"client,omitempty" bson:"client,omitempty"`
}

func (TimeSpentPayload) Action() ActivityAction    { return ActionTimeSpent }
func (ResourceViewPayload) Action() ActivityAction { return ActionViewedResource }
func (p SubmissionPayload) Action() ActivityAction { return p.Kind.Action() }
func (CompletionPayload) Action() ActivityAction   { return ActionCompletedStep }
func (LoginPayload) Action() ActivityAction        { return ActionLoggedIn }

// ActivityLogEntry is one append-only event in a learner's history.
type ActivityLogEntry struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	Action     ActivityAction  `json:"action"`
	StepID     string          `json:"step_id,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Duration   *int            `json:"duration,omitempty"`
	Metadata   ActivityPayload `json:"metadata"`
}

// NewActivityEntry stamps an entry whose action is taken from the payload.
func NewActivityEntry(userID uuid.UUID, stepID string, payload ActivityPayload, at time.Time) ActivityLogEntry {
	e := ActivityLogEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    payload.Action(),
		StepID:    stepID,
		Timestamp: at,
		Metadata:  payload,
	}
	switch p := payload.(type) {
	case TimeSpentPayload:
		d := p.Minutes
		e.Duration = &d
	case ResourceViewPayload:
		e.ResourceID = p.URL
	}
	return e
}

func (e ActivityLogEntry) MarshalJSON() ([]byte, error) {
	type alias ActivityLogEntry
	if e.Metadata != nil && e.Metadata.Action() != e.Action {
		return nil, fmt.Errorf("activity %s: metadata is for %s", e.Action, e.Metadata.Action())
	}
	return json.Marshal(alias(e))
}

func (e *ActivityLogEntry) UnmarshalJSON(data []byte) error {
	type alias ActivityLogEntry
	var raw struct {
		alias
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ActivityLogEntry(raw.alias)
	e.Metadata = nil
	if len(raw.Metadata) == 0 || string(raw.Metadata) == "null" {
		return nil
	}
	payload, err := DecodeActivityPayload(e.Action, raw.Metadata, json.Unmarshal)
	if err != nil {
		return err
	}
	e.Metadata = payload
	return nil
}

// DecodeActivityPayload decodes raw metadata into the payload type owned by
// action. unmarshal is json.Unmarshal or bson.Unmarshal depending on the store.
func DecodeActivityPayload(action ActivityAction, raw []byte, unmarshal func([]byte, interface{}) error) (ActivityPayload, error) {
	switch action {
	case ActionTimeSpent:
		var p TimeSpentPayload
		err := unmarshal(raw, &p)
		return p, err
	case ActionViewedResource:
		var p ResourceViewPayload
		err := unmarshal(raw, &p)
		return p, err
	case ActionCodeSubmission, ActionProjectSubmission:
		var p SubmissionPayload
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Kind.Action() != action || !p.Kind.Valid() {
			return nil, fmt.Errorf("activity %s: submission kind %q does not match", action, p.Kind)
		}
		return p, nil
	case ActionCompletedStep:
		var p CompletionPayload
		err := unmarshal(raw, &p)
		return p, err
	case ActionLoggedIn:
		var p LoginPayload
		err := unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown activity action %q", action)
	}
}
