package db

import (
	"github.com/KLayOnStudio/dojogo-sub000/internal/config"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis builds the client backing the finalize-summary cache.
// Redis is optional: without an address the ingestion service falls back
// to recomputing summaries from SQL on every repeat finalize.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
