package whiteboard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kinderly/liveclass/pkg/redis"
)

const keyPrefix = "whiteboard:"

// SnapshotStore persists board snapshots. Load returns ok=false when nothing is stored.
type SnapshotStore interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context, classroomID uuid.UUID) (Snapshot, bool, error)
}

// RedisStore keeps snapshots in Redis with a TTL so boards of finished classes expire.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis snapshot store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Save writes the snapshot and refreshes its TTL.
func (r *RedisStore) Save(ctx context.Context, s Snapshot) error {
	return r.client.SetJSON(ctx, keyPrefix+s.ClassroomID.String(), s, r.ttl)
}

// Load reads the snapshot of a classroom.
func (r *RedisStore) Load(ctx context.Context, classroomID uuid.UUID) (Snapshot, bool, error) {
	var s Snapshot
	err := r.client.GetJSON(ctx, keyPrefix+classroomID.String(), &s)
	if errors.Is(err, redis.ErrMiss) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

// Delete removes the snapshot of a classroom.
func (r *RedisStore) Delete(ctx context.Context, classroomID uuid.UUID) error {
	return r.client.Del(ctx, keyPrefix+classroomID.String()).Err()
}
