package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pathway-backend/internal/models"
)

const EventQueueName = "queue:engagement-events"

// RedisQueue is a FIFO list of JSON encoded events.
type RedisQueue struct {
	redis *redis.Client
	name  string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{redis: client, name: EventQueueName}
}

func (q *RedisQueue) Enqueue(ctx context.Context, events ...models.EngagementEvent) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		values = append(values, string(data))
	}
	return q.redis.RPush(ctx, q.name, values...).Err()
}

// Pop blocks up to timeout for the next event. ok is false on timeout.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	result, err := q.redis.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(result) < 2 {
		return "", false, nil
	}
	return result[1], true, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, q.name).Result()
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out short-lived SETNX locks.
type RedisLocker struct {
	redis *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{redis: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.redis, []string{key}, token).Err()
}
