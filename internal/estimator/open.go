package estimator

import (
	"context"
	"io"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bindery/internal/config"
	"bindery/internal/logging"
)

// Open builds the estimator selected by cfg. A redis backend that cannot be
// reached falls back to the rate cache file. The returned closer releases the
// backend and is never nil.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Estimator, io.Closer) {
	if logger == nil {
		logger = logging.NewNop()
	}
	est := cfg.Estimator
	var history History = NewFileHistory(cfg.RateCachePath(), logger)
	var closer io.Closer = nopCloser{}

	if est.Backend == config.EstimatorBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:        est.RedisAddr,
			Password:    est.RedisPassword,
			DB:          est.RedisDB,
			DialTimeout: 2 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, historyTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			logging.WarnWithContext(logger, "redis unavailable, using rate cache file", "estimator_redis_unavailable",
				logging.String("redis_addr", est.RedisAddr),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check estimator.redis_addr"),
				logging.String(logging.FieldImpact, "conversion history is local to this host"),
			)
		} else {
			redisHistory := NewRedisHistory(client, est.RedisKey)
			history = redisHistory
			closer = redisHistory
			logger.Info("estimator history in redis", logging.String("redis_addr", est.RedisAddr))
		}
	}
	return New(history, est.HistoryLength, est.DefaultRate, logger), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
