package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"pathway-backend/internal/logger"
	"pathway-backend/internal/models"
	"pathway-backend/internal/services"
)

const writeWait = 10 * time.Second

type tokenParser interface {
	ParseUserID(token string) (uuid.UUID, error)
}

type statsProvider interface {
	GetLearningStats(ctx context.Context, userID uuid.UUID) (*models.LearningStats, error)
}

// Hub relays per-user engagement updates from Redis pub/sub to the
// learner's open sockets. One subscription is held per connected user.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	writeMu     map[*websocket.Conn]*sync.Mutex
	cancelFuncs map[uuid.UUID]context.CancelFunc

	redisClient *redis.Client
	auth        tokenParser
	stats       statsProvider
	upgrader    websocket.Upgrader
	log         *logger.Logger
}

func NewHub(redisClient *redis.Client, auth tokenParser, stats statsProvider, frontendURL string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	allowed := strings.TrimRight(frontendURL, "/")
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		writeMu:     make(map[*websocket.Conn]*sync.Mutex),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		redisClient: redisClient,
		auth:        auth,
		stats:       stats,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed == "" || allowed == "*" || origin == allowed
			},
		},
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on websocket requests, so the token
	// travels as a query parameter.
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := h.auth.ParseUserID(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	h.registerConnection(userID, conn)
	h.sendSnapshot(r.Context(), userID, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(userID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// sendSnapshot greets a new socket with the learner's current stats so the
// dashboard does not need a separate fetch.
func (h *Hub) sendSnapshot(ctx context.Context, userID uuid.UUID, conn *websocket.Conn) {
	if h.stats == nil {
		return
	}
	stats, err := h.stats.GetLearningStats(ctx, userID)
	if err != nil {
		h.log.Debug("no stats snapshot for socket", "user_id", userID, "error", err)
		return
	}
	data, err := json.Marshal(models.WSMessage{Type: models.WSStatsSnapshot, Payload: stats})
	if err != nil {
		return
	}
	h.write(conn, data)
}

func (h *Hub) registerConnection(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[userID] = append(h.connections[userID], conn)
	h.writeMu[conn] = &sync.Mutex{}

	// Start pub/sub subscription if this is the first connection for this user
	if len(h.connections[userID]) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[userID] = cancel
		go h.subscribeToPubSub(ctx, userID)
	}

	h.log.Debug("websocket connected", "user_id", userID, "connections", len(h.connections[userID]))
}

func (h *Hub) unregisterConnection(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()
	delete(h.writeMu, conn)

	conns := h.connections[userID]
	for i, c := range conns {
		if c == conn {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// If no more connections, cancel pub/sub
	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
		if cancel, ok := h.cancelFuncs[userID]; ok {
			cancel()
			delete(h.cancelFuncs, userID)
		}
	}

	h.log.Debug("websocket disconnected", "user_id", userID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, userID uuid.UUID) {
	channel := services.UserChannel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(userID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) {
	h.mu.RLock()
	mu := h.writeMu[conn]
	h.mu.RUnlock()
	if mu == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Debug("websocket write failed", "error", err)
	}
}

func (h *Hub) broadcast(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	conns := append([]*websocket.Conn(nil), h.connections[userID]...)
	h.mu.RUnlock()

	for _, conn := range conns {
		h.write(conn, data)
	}
}

// Publish delivers a message to the user's sockets on this instance only.
// It stands in for the Redis publisher on single-instance deployments.
func (h *Hub) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	h.broadcast(userID, data)
	return nil
}

// ConnectionCount reports how many sockets a user has open here.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// Close drops every socket and subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.connections {
		for _, c := range conns {
			c.Close()
		}
		if cancel, ok := h.cancelFuncs[userID]; ok {
			cancel()
		}
	}
	h.connections = make(map[uuid.UUID][]*websocket.Conn)
	h.writeMu = make(map[*websocket.Conn]*sync.Mutex)
	h.cancelFuncs = make(map[uuid.UUID]context.CancelFunc)
}
