package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pathway-backend/internal/models"
	"pathway-backend/internal/services"
)

// The hub carries tracker notifications when Redis is not configured.
var _ services.EventPublisher = (*Hub)(nil)

type stubParser struct {
	userID uuid.UUID
}

func (s stubParser) ParseUserID(token string) (uuid.UUID, error) {
	if token != "good" {
		return uuid.Nil, errors.New("bad token")
	}
	return s.userID, nil
}

type stubStats struct{}

func (stubStats) GetLearningStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error) {
	return &models.LearningStats{CurrentStreak: 4, StepsCompleted: 2}, nil
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestHandleWebSocket_RejectsBadToken(t *testing.T) {
	hub := NewHub(nil, stubParser{userID: uuid.New()}, nil, "", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	for _, token := range []string{"", "bad"} {
		_, resp, err := dial(t, srv, token)
		if err == nil {
			t.Fatalf("token %q: expected dial failure", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %+v", token, resp)
		}
	}
}

func TestHandleWebSocket_SnapshotAndLocalPublish(t *testing.T) {
	userID := uuid.New()
	hub := NewHub(nil, stubParser{userID: userID}, stubStats{}, "", nil)
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := dial(t, srv, "good")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != models.WSStatsSnapshot {
		t.Fatalf("expected stats snapshot first, got %q", msg.Type)
	}
	if hub.ConnectionCount(userID) != 1 {
		t.Fatalf("expected one registered connection, got %d", hub.ConnectionCount(userID))
	}

	err = hub.Publish(context.Background(), userID, models.WSMessage{Type: models.WSStepCompleted, Payload: map[string]string{"step_id": "go-basics"}})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Type != models.WSStepCompleted {
		t.Fatalf("expected step_completed, got %q", msg.Type)
	}
}

func TestHandleWebSocket_UnregistersOnClose(t *testing.T) {
	userID := uuid.New()
	hub := NewHub(nil, stubParser{userID: userID}, stubStats{}, "", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := dial(t, srv, "good")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readMessage(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(userID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(nil, stubParser{}, nil, "http://localhost:5173/", nil)
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := hub.upgrader.CheckOrigin(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}
