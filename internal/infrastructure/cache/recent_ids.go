package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

const recentIDPrefix = "streambot:seen:"

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RecentIDStore comparte el historial de IDs vistos entre procesos con SETNX + TTL.
type RecentIDStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   2,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewStorageError("failed to connect to redis", "ping", err)
	}

	util.OrNop(logger).Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}

func NewRecentIDStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RecentIDStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RecentIDStore{client: client, ttl: ttl, logger: util.OrNop(logger)}
}

// MarkSeen falla abierto: si redis no responde el evento se procesa igual.
func (s *RecentIDStore) MarkSeen(ctx context.Context, key string) bool {
	ok, err := s.client.SetNX(ctx, recentIDPrefix+key, 1, s.ttl).Result()
	if err != nil {
		s.logger.Warn("cache: setnx failed, treating as first seen", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

func (s *RecentIDStore) Close() error {
	return s.client.Close()
}
