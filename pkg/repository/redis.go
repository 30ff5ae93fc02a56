package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/go-redis/redis/v8"
)

const (
	defaultOrderCacheTTL = 10 * time.Minute
	orderVersionTTL      = 24 * time.Hour
)

// RedisRepository caches order read models. Stock counters are never cached.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(cfg *config.RedisConfig, ttl time.Duration) *RedisRepository {
	return NewRedisRepositoryFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}), ttl)
}

func NewRedisRepositoryFromClient(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = defaultOrderCacheTTL
	}
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func orderKey(owner models.OwnerID, orderID string) string {
	return fmt.Sprintf("order:%s:%s", owner, orderID)
}

func orderVersionKey(owner models.OwnerID, orderID string) string {
	return orderKey(owner, orderID) + ":version"
}

func (r *RedisRepository) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// OrderVersion returns the invalidation counter of an order, zero if it was never bumped.
// Read it before loading the order from the database and pass it to CacheOrder.
func (r *RedisRepository) OrderVersion(ctx context.Context, owner models.OwnerID, orderID string) (int64, error) {
	version, err := r.client.Get(ctx, orderVersionKey(owner, orderID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// CacheOrder stores order only while its version still equals version. It reports false
// when the order was invalidated after the version was read.
func (r *RedisRepository) CacheOrder(ctx context.Context, order *models.Order, version int64) (bool, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return false, err
	}

	versionKey := orderVersionKey(order.OwnerID, order.ID)
	stored := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, orderKey(order.OwnerID, order.ID), data, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return stored, err
}

// GetCachedOrder returns false without error on a cache miss.
func (r *RedisRepository) GetCachedOrder(ctx context.Context, owner models.OwnerID, orderID string) (*models.Order, bool, error) {
	var order models.Order
	found, err := r.getJSON(ctx, orderKey(owner, orderID), &order)
	if err != nil || !found {
		return nil, false, err
	}
	return &order, true, nil
}

// InvalidateOrder bumps the order's version and drops the cached copy in one transaction, so
// a reader that loaded the order before the change can no longer store it.
func (r *RedisRepository) InvalidateOrder(ctx context.Context, owner models.OwnerID, orderID string) error {
	versionKey := orderVersionKey(owner, orderID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, orderVersionTTL)
		pipe.Del(ctx, orderKey(owner, orderID))
		return nil
	})
	return err
}
