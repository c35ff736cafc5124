package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewActivityEntry_DerivesActionAndFields(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	userID := uuid.New()

	e := NewActivityEntry(userID, "dsa-arrays", TimeSpentPayload{Minutes: 25}, at)
	if e.Action != ActionTimeSpent {
		t.Fatalf("expected action time_spent, got %s", e.Action)
	}
	if e.Duration == nil || *e.Duration != 25 {
		t.Fatalf("expected duration 25, got %v", e.Duration)
	}

	e = NewActivityEntry(userID, "dsa-arrays", ResourceViewPayload{URL: "https://example.com/a"}, at)
	if e.ResourceID != "https://example.com/a" {
		t.Fatalf("expected resource id to be the url, got %q", e.ResourceID)
	}

	e = NewActivityEntry(userID, "dsa-arrays", SubmissionPayload{Kind: SubmissionProject}, at)
	if e.Action != ActionProjectSubmission {
		t.Fatalf("expected project_submission, got %s", e.Action)
	}
}

func TestActivityLogEntry_JSONDispatchesOnAction(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	in := NewActivityEntry(uuid.New(), "web-html", CompletionPayload{Auto: true, Score: 72, Trigger: "score"}, at)

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out ActivityLogEntry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	payload, ok := out.Metadata.(CompletionPayload)
	if !ok {
		t.Fatalf("expected CompletionPayload, got %T", out.Metadata)
	}
	if !payload.Auto || payload.Score != 72 || payload.Trigger != "score" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestActivityLogEntry_RejectsMismatchedPayload(t *testing.T) {
	e := ActivityLogEntry{Action: ActionLoggedIn, Metadata: TimeSpentPayload{Minutes: 3}}
	if _, err := json.Marshal(e); err == nil {
		t.Fatalf("expected marshal to fail for mismatched payload")
	}

	raw := `{"action":"code_submission","metadata":{"kind":"project"}}`
	var out ActivityLogEntry
	err := json.Unmarshal([]byte(raw), &out)
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected kind mismatch error, got %v", err)
	}
}

func TestStepProgress_AddResourceDeduplicates(t *testing.T) {
	p := NewStepProgress(uuid.New(), "s1")
	if !p.AddResource("a") {
		t.Fatalf("first add should report new")
	}
	if p.AddResource("a") {
		t.Fatalf("second add should report duplicate")
	}
	if len(p.ResourcesViewed) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(p.ResourcesViewed))
	}
}

func TestClampYear(t *testing.T) {
	tests := []struct{ in, want int }{{-1, 0}, {0, 0}, {1, 1}, {4, 4}, {7, 4}}
	for _, tc := range tests {
		if got := ClampYear(tc.in); got != tc.want {
			t.Errorf("ClampYear(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
