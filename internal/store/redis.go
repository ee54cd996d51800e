package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helpdeskai/support-platform/internal/model"
)

const (
	bucketKeyPrefix      = "ratelimit:bucket:"
	presenceKeyPrefix    = "presence:user:"
	presenceCompanyIndex = "presence:company:"

	// Buckets untouched for this long are dropped via key TTL; the sweep
	// job covers the same contract for the in-memory store.
	bucketTTL = 24 * time.Hour

	txRetries = 5
)

// Redis implements PresenceStore and RateLimitStore on top of go-redis.
// Bucket updates use WATCH transactions so concurrent read-modify-write
// cycles against the same key cannot lose updates.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed store for volatile state.
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// GetBucket returns a rate-limit bucket, or ErrNotFound.
func (r *Redis) GetBucket(ctx context.Context, key string) (*model.RateLimitBucket, error) {
	data, err := r.client.Get(ctx, bucketKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	var bucket model.RateLimitBucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return nil, fmt.Errorf("failed to decode bucket: %w", err)
	}
	return &bucket, nil
}

// UpdateBucket applies fn atomically via an optimistic WATCH transaction.
func (r *Redis) UpdateBucket(ctx context.Context, key string, fn func(*model.RateLimitBucket) error) (*model.RateLimitBucket, error) {
	redisKey := bucketKeyPrefix + key

	var result *model.RateLimitBucket
	txn := func(tx *redis.Tx) error {
		working := &model.RateLimitBucket{Key: key}
		data, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if err := json.Unmarshal(data, working); err != nil {
				return fmt.Errorf("failed to decode bucket: %w", err)
			}
		}

		if err := fn(working); err != nil {
			return err
		}

		payload, err := json.Marshal(working)
		if err != nil {
			return fmt.Errorf("failed to encode bucket: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, bucketTTL)
			return nil
		})
		if err == nil {
			result = working
		}
		return err
	}

	for i := 0; i < txRetries; i++ {
		err := r.client.Watch(ctx, txn, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("bucket update contention on %s", key)
}

// SweepBuckets removes buckets untouched since before the cutoff. Key TTLs
// already bound storage; this keeps the sweep contract observable.
func (r *Redis) SweepBuckets(ctx context.Context, cutoff time.Time) (int, error) {
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := r.client.Scan(ctx, cursor, bucketKeyPrefix+"*", 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan buckets: %w", err)
		}

		for _, redisKey := range keys {
			data, err := r.client.Get(ctx, redisKey).Bytes()
			if err != nil {
				continue
			}
			var bucket model.RateLimitBucket
			if err := json.Unmarshal(data, &bucket); err != nil {
				continue
			}
			if bucket.UpdatedAt.Before(cutoff) {
				if r.client.Del(ctx, redisKey).Err() == nil {
					deleted++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// UpsertPresence stores a presence record with a TTL matching its expiry.
func (r *Redis) UpsertPresence(ctx context.Context, p *model.Presence) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}

	ttl := time.Until(p.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, presenceKeyPrefix+p.UserID, payload, ttl)
	pipe.SAdd(ctx, presenceCompanyIndex+p.CompanyID, p.UserID)
	pipe.Expire(ctx, presenceCompanyIndex+p.CompanyID, bucketTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store presence: %w", err)
	}
	return nil
}

// GetPresence returns the presence record for a user.
func (r *Redis) GetPresence(ctx context.Context, userID string) (*model.Presence, error) {
	data, err := r.client.Get(ctx, presenceKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var p model.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	return &p, nil
}

// ListPresenceByCompany returns live presence records for a company and
// lazily trims index members whose records have expired.
func (r *Redis) ListPresenceByCompany(ctx context.Context, companyID string) ([]model.Presence, error) {
	indexKey := presenceCompanyIndex + companyID
	userIDs, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence index: %w", err)
	}

	var out []model.Presence
	for _, userID := range userIDs {
		p, err := r.GetPresence(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			r.client.SRem(ctx, indexKey, userID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// DeleteExpiredPresence trims dead index entries. Record expiry itself is
// handled by key TTLs.
func (r *Redis) DeleteExpiredPresence(ctx context.Context, now time.Time, limit int) (int, error) {
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := r.client.Scan(ctx, cursor, presenceCompanyIndex+"*", 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan presence indexes: %w", err)
		}

		for _, indexKey := range keys {
			userIDs, err := r.client.SMembers(ctx, indexKey).Result()
			if err != nil {
				continue
			}
			for _, userID := range userIDs {
				if limit > 0 && deleted >= limit {
					return deleted, nil
				}
				exists, err := r.client.Exists(ctx, presenceKeyPrefix+userID).Result()
				if err == nil && exists == 0 {
					if r.client.SRem(ctx, indexKey, userID).Err() == nil {
						deleted++
					}
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}
