package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voluntapp/postulaciones-service/internal/domain"
)

const pendingKeyPrefix = "postulaciones:pending:"

// RedisPendingStore keeps confirmations in Redis with a TTL, so stale dialogs
// expire on their own and multiple service instances share pending state.
type RedisPendingStore struct {
	client *redis.Client
}

func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

// Put implements PendingStore.
func (r *RedisPendingStore) Put(ctx context.Context, pc PendingConfirmation) error {
	payload, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("failed to marshal pending confirmation: %w", err)
	}
	ttl := time.Until(pc.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	err = r.client.Set(ctx, pendingKeyPrefix+pc.Token, payload, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store pending confirmation: %w", err)
	}
	return nil
}

// Take implements PendingStore.
func (r *RedisPendingStore) Take(ctx context.Context, token string) (PendingConfirmation, error) {
	payload, err := r.client.GetDel(ctx, pendingKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingConfirmation{}, domain.ErrConfirmationNotFound
		}
		return PendingConfirmation{}, fmt.Errorf("failed to take pending confirmation: %w", err)
	}
	var pc PendingConfirmation
	if err := json.Unmarshal(payload, &pc); err != nil {
		return PendingConfirmation{}, fmt.Errorf("failed to unmarshal pending confirmation: %w", err)
	}
	return pc, nil
}
