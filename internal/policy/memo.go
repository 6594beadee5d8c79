package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

// memoEntry — политика под собственным мьютексом. Так два Authorize по разным
// политикам не мешают друг другу, а по одной — сериализуются.
type memoEntry struct {
	id     string // не меняется после создания
	mu     sync.Mutex
	policy domain.AgentPolicy
}

// MemoStore реализует Store в памяти процесса.
// Данные живут до рестарта: для прода есть redis/postgres реализации того же интерфейса.
type MemoStore struct {
	mu sync.RWMutex
	// Индекс: owner -> политики в порядке добавления
	byOwner map[string][]*memoEntry

	logger *zap.Logger
}

func NewMemoStore(logger *zap.Logger) *MemoStore {
	return &MemoStore{
		byOwner: make(map[string][]*memoEntry),
		logger:  logger.Named("memo-store"),
	}
}

func (s *MemoStore) Put(_ context.Context, ownerKey string, p domain.AgentPolicy) error {
	s.mu.Lock()
	s.byOwner[ownerKey] = append(s.byOwner[ownerKey], &memoEntry{id: p.ID, policy: p.Clone()})
	count := len(s.byOwner[ownerKey])
	s.mu.Unlock()

	s.logger.Debug("policy stored", zap.String("owner", ownerKey), zap.String("id", p.ID), zap.Int("owner_policies", count))
	return nil
}

func (s *MemoStore) ListByOwner(_ context.Context, ownerKey string) ([]domain.AgentPolicy, error) {
	entries := s.entries(ownerKey)

	// Гарантируем [] вместо nil для фронтенда
	out := make([]domain.AgentPolicy, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.policy.Clone())
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoStore) FindByOwnerAndAgent(ctx context.Context, ownerKey, agentAddress string, activeOnly bool) (*domain.AgentPolicy, error) {
	list, _ := s.ListByOwner(ctx, ownerKey)
	return FindIn(list, agentAddress, activeOnly), nil
}

func (s *MemoStore) Update(_ context.Context, ownerKey, policyID string, fn func(p *domain.AgentPolicy) error) (*domain.AgentPolicy, error) {
	var target *memoEntry
	for _, e := range s.entries(ownerKey) {
		if e.id == policyID {
			target = e
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("memo: policy %s: %w", policyID, domain.ErrPolicyNotFound)
	}

	// Check-then-act под одной блокировкой: проверки и списание dailySpent неделимы
	target.mu.Lock()
	defer target.mu.Unlock()

	working := target.policy.Clone()
	if err := fn(&working); err != nil {
		return nil, err
	}
	target.policy = working

	committed := working.Clone()
	return &committed, nil
}

// entries копирует срез указателей под RLock, дальше работаем без глобальной блокировки.
func (s *MemoStore) entries(ownerKey string) []*memoEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*memoEntry(nil), s.byOwner[ownerKey]...)
}
