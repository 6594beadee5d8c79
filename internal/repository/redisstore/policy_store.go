package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
	"github.com/xela07ax/agentpay/internal/policy"
	"go.uber.org/zap"
)

const defaultCASAttempts = 100

// PolicyStore — policy.Store поверх Redis.
// Политика лежит JSON-строкой, владелец держит список ID. Update — оптимистичная
// транзакция WATCH/MULTI, повторяемая при конфликте.
type PolicyStore struct {
	rdb      redis.UniversalClient
	attempts uint
	logger   *zap.Logger
}

var _ policy.Store = (*PolicyStore)(nil)

func NewPolicyStore(rdb redis.UniversalClient, logger *zap.Logger) *PolicyStore {
	return &PolicyStore{
		rdb:      rdb,
		attempts: defaultCASAttempts,
		logger:   logger.Named("redis-policy-store"),
	}
}

func (s *PolicyStore) Put(ctx context.Context, ownerKey string, p domain.AgentPolicy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode policy %s: %w", p.ID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, infra.RedisKeyPolicy(p.ID), raw, 0)
		pipe.RPush(ctx, infra.RedisKeyOwnerPolicies(ownerKey), p.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put policy %s: %w", p.ID, err)
	}
	return nil
}

func (s *PolicyStore) ListByOwner(ctx context.Context, ownerKey string) ([]domain.AgentPolicy, error) {
	ids, err := s.rdb.LRange(ctx, infra.RedisKeyOwnerPolicies(ownerKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list policy ids of %s: %w", ownerKey, err)
	}
	out := make([]domain.AgentPolicy, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = infra.RedisKeyPolicy(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load policies of %s: %w", ownerKey, err)
	}

	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// ID в списке без тела: запись удалили руками
			s.logger.Warn("dangling policy id", zap.String("owner", ownerKey), zap.String("policy_id", ids[i]))
			continue
		}
		var p domain.AgentPolicy
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("redis: decode policy %s: %w", ids[i], err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PolicyStore) FindByOwnerAndAgent(ctx context.Context, ownerKey, agentAddress string, activeOnly bool) (*domain.AgentPolicy, error) {
	list, err := s.ListByOwner(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	return policy.FindIn(list, agentAddress, activeOnly), nil
}

func (s *PolicyStore) Update(ctx context.Context, ownerKey, policyID string, fn func(p *domain.AgentPolicy) error) (*domain.AgentPolicy, error) {
	key := infra.RedisKeyPolicy(policyID)

	var (
		result *domain.AgentPolicy
		// fnErr — ошибка колбэка (отказ и т.п.), ее не ретраим и отдаем как есть
		fnErr error
	)

	txf := func(tx *redis.Tx) error {
		result, fnErr = nil, nil

		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			fnErr = fmt.Errorf("redis: policy %s: %w", policyID, domain.ErrPolicyNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		var p domain.AgentPolicy
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode policy %s: %w", policyID, err)
		}
		if p.OwnerAddress != ownerKey {
			fnErr = fmt.Errorf("redis: policy %s of owner %s: %w", policyID, ownerKey, domain.ErrPolicyNotFound)
			return nil
		}

		if err := fn(&p); err != nil {
			fnErr = err
			return nil
		}

		updated, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode policy %s: %w", policyID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = &p
		return nil
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.RetryIf(func(err error) bool { return errors.Is(err, redis.TxFailedErr) }),
		// Короткая задержка с джиттером: конкуренты одной политики расходятся по времени
		retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
			return time.Duration(1+rand.IntN(int(min(n, 10))+1)) * time.Millisecond
		}),
		retry.LastErrorOnly(true),
	)
	if err := r.Do(func() error { return s.rdb.Watch(ctx, txf, key) }); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Warn("policy update gave up after conflicts", zap.String("policy_id", policyID), zap.Uint("attempts", s.attempts))
		}
		return nil, fmt.Errorf("redis: update policy %s: %w", policyID, err)
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return result, nil
}
