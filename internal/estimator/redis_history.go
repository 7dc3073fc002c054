package estimator

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// RedisHistory keeps rates in a Redis list so several daemons can share them.
type RedisHistory struct {
	client *redis.Client
	key    string
}

// NewRedisHistory stores rates under key.
func NewRedisHistory(client *redis.Client, key string) *RedisHistory {
	return &RedisHistory{client: client, key: key}
}

// Append pushes rate and trims the list to the newest limit entries.
func (h *RedisHistory) Append(ctx context.Context, rate float64, limit int) error {
	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, h.key, strconv.FormatFloat(rate, 'f', -1, 64))
	if limit > 0 {
		pipe.LTrim(ctx, h.key, int64(-limit), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append rate to %s: %w", h.key, err)
	}
	return nil
}

// Rates returns the stored rates, oldest first. Unparseable entries are
// skipped.
func (h *RedisHistory) Rates(ctx context.Context) ([]float64, error) {
	values, err := h.client.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read rates from %s: %w", h.key, err)
	}
	rates := make([]float64, 0, len(values))
	for _, value := range values {
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

// Close releases the client.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}
