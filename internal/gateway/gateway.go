package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xela07ax/agentpay/internal/audit"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

// PolicyAuthorizer — то, что шлюзу нужно от policy.Authorizer.
type PolicyAuthorizer interface {
	Authorize(ctx context.Context, req domain.PaymentRequest) (*domain.Authorization, error)
}

// PolicyAdmin — то, что HTTP-слою нужно от policy.Admin.
type PolicyAdmin interface {
	Create(ctx context.Context, in domain.CreatePolicyInput) (*domain.AgentPolicy, error)
	Revoke(ctx context.Context, ownerAddress, agentAddress string) error
	ListActive(ctx context.Context, ownerAddress string) ([]domain.AgentPolicy, error)
	Status(ctx context.Context, ownerAddress, agentAddress string) (*domain.PolicyStatus, error)
}

// PaymentGateway — хост вокруг авторизатора: валидирует запрос, собирает инструкцию
// перевода, журналирует каждое решение и пишет метрики. Одинаков для HTTP и gRPC.
type PaymentGateway struct {
	authorizer PolicyAuthorizer
	journal    audit.Recorder
	metrics    *Metrics
	logger     *zap.Logger
}

func NewPaymentGateway(authorizer PolicyAuthorizer, journal audit.Recorder, metrics *Metrics, logger *zap.Logger) *PaymentGateway {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &PaymentGateway{
		authorizer: authorizer,
		journal:    journal,
		metrics:    metrics,
		logger:     logger.Named("gateway"),
	}
}

// Execute проверяет платеж агента и возвращает инструкцию для on-chain исполнения.
// Отказ политики — *domain.Denial, некорректный ввод — *domain.ValidationError.
func (g *PaymentGateway) Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.TransferInstruction, error) {
	start := time.Now()
	event := audit.DecisionEvent{
		TraceID:   TraceIDFromContext(ctx),
		Transport: transportFromContext(ctx),
		Owner:     domain.NormalizeAddress(req.OwnerAddress),
		Agent:     domain.NormalizeAddress(req.AgentAddress),
		Recipient: domain.NormalizeAddress(req.RecipientAddress),
		Token:     domain.NormalizeAddress(req.TokenAddress),
		Amount:    strings.TrimSpace(req.Amount),
		Timestamp: start.UTC(),
	}

	instr, auth, err := g.execute(ctx, req)

	event.DurationMs = time.Since(start).Milliseconds()
	kind := ""
	switch d, isDenial := domain.AsDenial(err); {
	case err == nil:
		event.Outcome = audit.OutcomeApproved
		event.PolicyID = auth.PolicyID
	case isDenial:
		event.Outcome = audit.OutcomeDenied
		event.PolicyID = d.PolicyID
		event.DenialKind = string(d.Kind)
		event.Reason = d.Message()
		kind = string(d.Kind)
	default:
		event.Outcome = audit.OutcomeError
		event.Reason = err.Error()
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			kind = "VALIDATION"
		} else {
			kind = "INTERNAL"
			g.logger.Error("payment authorization failed",
				zap.String("trace_id", event.TraceID),
				zap.String("owner", event.Owner),
				zap.String("agent", event.Agent),
				zap.Error(err))
		}
	}

	g.journal.Record(event)
	g.metrics.DecisionsTotal.WithLabelValues(string(event.Outcome), kind).Inc()
	g.metrics.DecisionDuration.WithLabelValues(string(event.Outcome)).Observe(time.Since(start).Seconds())

	return instr, err
}

func (g *PaymentGateway) execute(ctx context.Context, req domain.ExecuteRequest) (*domain.TransferInstruction, *domain.Authorization, error) {
	if _, err := domain.ParseAddress("ownerAddress", req.OwnerAddress); err != nil {
		return nil, nil, err
	}
	if _, err := domain.ParseAddress("agentAddress", req.AgentAddress); err != nil {
		return nil, nil, err
	}
	if _, err := domain.ParseAddress("recipientAddress", req.RecipientAddress); err != nil {
		return nil, nil, err
	}
	if _, err := domain.ParseAddress("tokenAddress", req.TokenAddress); err != nil {
		return nil, nil, err
	}
	amount, err := domain.ParseAmount("amount", req.Amount)
	if err != nil {
		return nil, nil, err
	}

	auth, err := g.authorizer.Authorize(ctx, domain.PaymentRequest{
		OwnerAddress:     req.OwnerAddress,
		AgentAddress:     req.AgentAddress,
		RecipientAddress: req.RecipientAddress,
		Amount:           amount,
	})
	if err != nil {
		return nil, nil, err
	}

	return &domain.TransferInstruction{
		Owner:     strings.TrimSpace(req.OwnerAddress),
		Recipient: strings.TrimSpace(req.RecipientAddress),
		Token:     strings.TrimSpace(req.TokenAddress),
		Amount:    amount,
		Memo:      req.Memo,
		AgentPolicy: domain.AgentPolicyLimits{
			RemainingDaily: auth.RemainingDaily,
			MaxPerTx:       auth.MaxPerTx,
		},
	}, auth, nil
}
