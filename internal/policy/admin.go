package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

// Admin — операции жизненного цикла политик, доступные владельцу.
type Admin struct {
	store  Store
	clock  Clock
	window DailyWindow
	logger *zap.Logger
}

func NewAdmin(store Store, clock Clock, window DailyWindow, logger *zap.Logger) *Admin {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Admin{
		store:  store,
		clock:  clock,
		window: window,
		logger: logger.Named("policy-admin"),
	}
}

// Create валидирует ввод и сохраняет новую активную политику с нулевым счетчиком.
func (a *Admin) Create(ctx context.Context, in domain.CreatePolicyInput) (*domain.AgentPolicy, error) {
	owner, err := domain.ParseAddress("ownerAddress", in.OwnerAddress)
	if err != nil {
		return nil, err
	}
	agent, err := domain.ParseAddress("agentAddress", in.AgentAddress)
	if err != nil {
		return nil, err
	}
	maxPerTx, err := domain.ParseAmount("maxAmountPerTx", in.MaxAmountPerTx)
	if err != nil {
		return nil, err
	}
	maxDaily, err := domain.ParseAmount("maxDailyAmount", in.MaxDailyAmount)
	if err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(in.AllowedRecipients))
	for i, r := range in.AllowedRecipients {
		addr, err := domain.ParseAddress(fmt.Sprintf("allowedRecipients[%d]", i), r)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, addr)
	}

	now := a.clock.Now()
	var expiresAt *time.Time
	if in.DurationDays != nil {
		days := *in.DurationDays
		if days < 0 || math.IsNaN(days) || math.IsInf(days, 0) {
			return nil, domain.NewValidationError("durationDays", "must be a non-negative number")
		}
		// 0 — как и отсутствие поля: бессрочно
		if days > 0 {
			t := now.Add(time.Duration(days * float64(24*time.Hour)))
			expiresAt = &t
		}
	}

	p := domain.AgentPolicy{
		ID:                "agent-" + uuid.NewString(),
		AgentAddress:      agent,
		OwnerAddress:      owner,
		MaxAmountPerTx:    maxPerTx,
		MaxDailyAmount:    maxDaily,
		DailySpent:        decimal.Zero,
		WindowStartedAt:   a.window.Start(now),
		AllowedRecipients: recipients,
		IsActive:          true,
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
	}

	if err := a.store.Put(ctx, owner, p); err != nil {
		return nil, fmt.Errorf("policy admin: store policy: %w", err)
	}

	a.logger.Info("agent policy created",
		zap.String("policy_id", p.ID),
		zap.String("owner", owner),
		zap.String("agent", agent),
		zap.String("max_per_tx", maxPerTx.String()),
		zap.String("max_daily", maxDaily.String()),
		zap.Int("recipients", len(recipients)))
	return &p, nil
}

// Revoke выключает все политики пары owner+agent. Отзыв окончательный.
// ErrPolicyNotFound — если для пары нет ни одной политики (активной или нет).
func (a *Admin) Revoke(ctx context.Context, ownerAddress, agentAddress string) error {
	owner := domain.NormalizeAddress(ownerAddress)
	list, err := a.store.ListByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("policy admin: list policies: %w", err)
	}

	matched, revoked := 0, 0
	for _, p := range list {
		if !p.MatchesAgent(agentAddress) {
			continue
		}
		matched++
		if !p.IsActive {
			continue
		}
		if _, err := a.store.Update(ctx, owner, p.ID, func(cur *domain.AgentPolicy) error {
			cur.IsActive = false
			return nil
		}); err != nil {
			return fmt.Errorf("policy admin: revoke %s: %w", p.ID, err)
		}
		revoked++
	}
	if matched == 0 {
		return domain.ErrPolicyNotFound
	}

	a.logger.Info("agent revoked",
		zap.String("owner", owner),
		zap.String("agent", domain.NormalizeAddress(agentAddress)),
		zap.Int("policies_revoked", revoked))
	return nil
}

// GetPolicy первая политика пары без учета активности (для экранов статуса).
func (a *Admin) GetPolicy(ctx context.Context, ownerAddress, agentAddress string) (*domain.AgentPolicy, error) {
	p, err := a.store.FindByOwnerAndAgent(ctx, domain.NormalizeAddress(ownerAddress), agentAddress, false)
	if err != nil {
		return nil, fmt.Errorf("policy admin: find policy: %w", err)
	}
	if p == nil {
		return nil, domain.ErrPolicyNotFound
	}
	return p, nil
}

// ListActive только активные политики владельца, в порядке создания.
func (a *Admin) ListActive(ctx context.Context, ownerAddress string) ([]domain.AgentPolicy, error) {
	list, err := a.store.ListByOwner(ctx, domain.NormalizeAddress(ownerAddress))
	if err != nil {
		return nil, fmt.Errorf("policy admin: list policies: %w", err)
	}
	active := make([]domain.AgentPolicy, 0, len(list))
	for _, p := range list {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

// Status политика + вычисляемые флаги. Окно учитывается без записи в хранилище.
func (a *Admin) Status(ctx context.Context, ownerAddress, agentAddress string) (*domain.PolicyStatus, error) {
	p, err := a.GetPolicy(ctx, ownerAddress, agentAddress)
	if err != nil {
		return nil, err
	}
	now := a.clock.Now()
	view := a.window.Effective(*p, now)
	return &domain.PolicyStatus{
		Policy:         view,
		IsActive:       view.IsActive,
		IsExpired:      view.IsExpiredAt(now),
		RemainingDaily: view.RemainingDaily(),
	}, nil
}
