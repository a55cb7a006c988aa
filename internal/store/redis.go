package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

const defaultPrefix = "pdfbaba:"

// Redis stores every artifact as a JSON value and indexes expiry in a
// sorted set scored by expires_at in unix milliseconds.
type Redis struct {
	client *redis.Client
	prefix string
}

func OpenRedis(ctx context.Context, cfg model.Redis) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(id string) string { return r.prefix + "artifact:" + id }

func (r *Redis) expiryKey() string { return r.prefix + "expiry" }

func (r *Redis) Put(ctx context.Context, a model.Artifact) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(a.ID), b, 0)
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{
			Score:  float64(a.ExpiresAt.UnixMilli()),
			Member: a.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (r *Redis) Claim(ctx context.Context, id string) (model.Artifact, error) {
	b, err := r.client.GetDel(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Artifact{}, ErrNotFound
	}
	if err != nil {
		return model.Artifact{}, fmt.Errorf("redis getdel: %w", err)
	}
	if err := r.client.ZRem(ctx, r.expiryKey(), id).Err(); err != nil {
		return model.Artifact{}, fmt.Errorf("redis zrem: %w", err)
	}
	var a model.Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return model.Artifact{}, fmt.Errorf("decoding artifact %s: %w", id, err)
	}
	return a, nil
}

func (r *Redis) TakeExpired(ctx context.Context, now time.Time) ([]model.Artifact, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	var expired []model.Artifact
	for _, id := range ids {
		a, err := r.Claim(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			// downloaded meanwhile
			_ = r.client.ZRem(ctx, r.expiryKey(), id).Err()
			continue
		case err != nil:
			return expired, err
		}
		expired = append(expired, a)
	}
	return expired, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
