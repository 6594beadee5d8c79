package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/infra"
)

// NonceStore держит challenge входа через кошелек. Один адрес — один живой nonce.
type NonceStore struct {
	rdb redis.UniversalClient
}

func NewNonceStore(rdb redis.UniversalClient) *NonceStore {
	return &NonceStore{rdb: rdb}
}

// Save перезаписывает предыдущий nonce адреса.
func (s *NonceStore) Save(ctx context.Context, address, nonce string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, infra.RedisKeyNonce(address), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("redis: save nonce: %w", err)
	}
	return nil
}

// Consume атомарно забирает nonce (GETDEL). Пустая строка — nonce нет или истек.
func (s *NonceStore) Consume(ctx context.Context, address string) (string, error) {
	nonce, err := s.rdb.GetDel(ctx, infra.RedisKeyNonce(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: consume nonce: %w", err)
	}
	return nonce, nil
}
