package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

// Authorizer — привратник одного платежа агента. Hot Path сервиса.
type Authorizer struct {
	store  Store
	clock  Clock
	window DailyWindow
	logger *zap.Logger
}

func NewAuthorizer(store Store, clock Clock, window DailyWindow, logger *zap.Logger) *Authorizer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Authorizer{
		store:  store,
		clock:  clock,
		window: window,
		logger: logger.Named("authorizer"),
	}
}

// Authorize проверяет платеж по политике и при успехе списывает сумму со счетчика окна.
// Порядок проверок фиксирован: от "агент вообще допущен?" до "разрешен ли этот получатель".
// Отказ возвращается как *domain.Denial; любая другая ошибка — сбой хранилища.
func (a *Authorizer) Authorize(ctx context.Context, req domain.PaymentRequest) (*domain.Authorization, error) {
	owner := domain.NormalizeAddress(req.OwnerAddress)

	// 1. Активная политика для пары owner+agent
	found, err := a.store.FindByOwnerAndAgent(ctx, owner, req.AgentAddress, true)
	if err != nil {
		return nil, fmt.Errorf("authorizer: lookup policy: %w", err)
	}
	if found == nil {
		return nil, &domain.Denial{Kind: domain.DenialAgentNotAuthorized}
	}

	now := a.clock.Now()
	// Шаги 2-6 выполняются внутри атомарного Update: параллельный Authorize по той же
	// политике не может проверить лимит по устаревшему dailySpent
	committed, err := a.store.Update(ctx, owner, found.ID, func(p *domain.AgentPolicy) error {
		now = a.clock.Now()
		return a.check(p, req, now)
	})
	if err != nil {
		if _, ok := domain.AsDenial(err); ok {
			a.logger.Info("payment denied",
				zap.String("owner", owner),
				zap.String("agent", domain.NormalizeAddress(req.AgentAddress)),
				zap.String("policy_id", found.ID),
				zap.Error(err))
			return nil, err
		}
		return nil, fmt.Errorf("authorizer: commit policy %s: %w", found.ID, err)
	}

	return &domain.Authorization{
		PolicyID:       committed.ID,
		RemainingDaily: committed.RemainingDaily(),
		MaxPerTx:       committed.MaxAmountPerTx,
		DailySpent:     committed.DailySpent,
		AuthorizedAt:   now,
	}, nil
}

// check мутирует p только если все проверки пройдены.
func (a *Authorizer) check(p *domain.AgentPolicy, req domain.PaymentRequest, now time.Time) error {
	// Политику могли отозвать между поиском и блокировкой
	if !p.IsActive {
		return &domain.Denial{Kind: domain.DenialAgentNotAuthorized, PolicyID: p.ID}
	}

	// 2. Срок действия (граница включительная)
	if p.IsExpiredAt(now) {
		expiredAt := *p.ExpiresAt
		return &domain.Denial{Kind: domain.DenialPolicyExpired, PolicyID: p.ID, ExpiredAt: &expiredAt}
	}

	// 3. Лимит на одну транзакцию
	if req.Amount.GreaterThan(p.MaxAmountPerTx) {
		limit, requested := p.MaxAmountPerTx, req.Amount
		return &domain.Denial{Kind: domain.DenialPerTxLimitExceeded, PolicyID: p.ID, Limit: &limit, Requested: &requested}
	}

	// 4. Дневной лимит. Окно прокручиваем на копии: сброс сохранится только вместе со списанием
	windowed := p.Clone()
	a.window.Roll(&windowed, now)
	projected := windowed.DailySpent.Add(req.Amount)
	if projected.GreaterThan(windowed.MaxDailyAmount) {
		limit, requested, spent := windowed.MaxDailyAmount, req.Amount, windowed.DailySpent
		return &domain.Denial{Kind: domain.DenialDailyLimitExceeded, PolicyID: p.ID, Limit: &limit, Requested: &requested, DailySpent: &spent}
	}

	// 5. Whitelist получателей (пустой — без ограничений)
	if !p.AllowsRecipient(req.RecipientAddress) {
		return &domain.Denial{Kind: domain.DenialRecipientNotWhitelisted, PolicyID: p.ID, Recipient: domain.NormalizeAddress(req.RecipientAddress)}
	}

	// 6. Commit
	p.DailySpent = projected
	p.WindowStartedAt = windowed.WindowStartedAt
	return nil
}
