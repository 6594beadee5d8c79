package policy

import (
	"context"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
)

// Store — хранилище политик, ключ — нормализованный адрес владельца.
// Реализации: MemoStore (RAM), redisstore.PolicyStore, postgres.PolicyRepo.
type Store interface {
	// Put добавляет политику в конец списка владельца.
	Put(ctx context.Context, ownerKey string, p domain.AgentPolicy) error

	// ListByOwner возвращает копии политик в порядке добавления. Неизвестный владелец — пустой список.
	ListByOwner(ctx context.Context, ownerKey string) ([]domain.AgentPolicy, error)

	// FindByOwnerAndAgent возвращает первое совпадение или (nil, nil), если ничего не нашли.
	FindByOwnerAndAgent(ctx context.Context, ownerKey, agentAddress string, activeOnly bool) (*domain.AgentPolicy, error)

	// Update атомарно применяет fn к одной политике. Если fn вернула ошибку — ничего не пишется,
	// и эта ошибка возвращается как есть.
	Update(ctx context.Context, ownerKey, policyID string, fn func(p *domain.AgentPolicy) error) (*domain.AgentPolicy, error)
}

// Clock позволяет тестам управлять временем.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FindIn — общий линейный поиск для всех реализаций Store.
func FindIn(list []domain.AgentPolicy, agentAddress string, activeOnly bool) *domain.AgentPolicy {
	for i := range list {
		p := &list[i]
		if activeOnly && !p.IsActive {
			continue
		}
		if p.MatchesAgent(agentAddress) {
			c := p.Clone()
			return &c
		}
	}
	return nil
}
