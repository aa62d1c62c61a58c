package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "classroom:"
	eventTTL      = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPubSub implements RedisPublisher and RedisSubscriber using Redis pub/sub.
// Messages published by this instance are not delivered back to it; the hub already broadcast them locally.
type RedisPubSub struct {
	client *redis.Client
	origin string
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for classroom events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, origin: uuid.NewString(), logger: logger}
}

// PublishClassroomEvent publishes an event to the classroom's Redis channel.
func (r *RedisPubSub) PublishClassroomEvent(classroomID uuid.UUID, event string, payload []byte) error {
	body, err := encodeRedisPayload(r.origin, event, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+classroomID.String(), body).Err()
}

// SubscribeClassroom subscribes to a classroom's Redis channel and calls handler for each message from other instances.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeClassroom(classroomID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + classroomID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	_, err = pubsub.Receive(ctx)
	if err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, data, ok := decodeRedisPayload(r.origin, []byte(msg.Payload))
				if !ok {
					continue
				}
				handler(event, data)
			}
		}
	}()
	cancel = func() { cancelCtx() }
	return cancel, nil
}

func encodeRedisPayload(origin, event string, payload []byte) ([]byte, error) {
	return json.Marshal(redisPayload{Origin: origin, Event: event, Data: payload, At: time.Now().Unix()})
}

// decodeRedisPayload returns ok=false for malformed messages and for messages from self.
func decodeRedisPayload(self string, body []byte) (event string, data []byte, ok bool) {
	var p redisPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Event == "" {
		return "", nil, false
	}
	if p.Origin == self {
		return "", nil, false
	}
	return p.Event, p.Data, true
}
