package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pathway-backend/internal/models"
)

// UserChannel is the pub/sub channel the websocket hub subscribes to for
// one user.
func UserChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

// RedisPublisher fans tracker events out to every server instance.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, UserChannel(userID), data).Err()
}
