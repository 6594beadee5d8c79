package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/agentpay/internal/audit"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/repository/postgres"
)

// DecisionReader — чтение журнала решений. Модель общая с пакетом audit.
type DecisionReader interface {
	FetchDecisions(ctx context.Context, f postgres.DecisionFilter) ([]audit.DecisionEvent, error)
}

type AuditService struct {
	repo DecisionReader
}

func NewAuditService(repo DecisionReader) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// DecisionQuery — что спрашивает принципал. AsAgent=false: решения по его политикам
// как владельца, иначе решения по его платежам как агента.
type DecisionQuery struct {
	Principal string
	AsAgent   bool
	Agent     string
	Outcome   string
	Limit     int
}

// FetchDecisions отдает только записи, где принципал — владелец или агент.
func (s *AuditService) FetchDecisions(ctx context.Context, q DecisionQuery) ([]audit.DecisionEvent, error) {
	f := postgres.DecisionFilter{Limit: q.Limit}

	if q.AsAgent {
		f.Agent = q.Principal
	} else {
		f.Owner = q.Principal
		if q.Agent != "" {
			agent, err := domain.ParseAddress("agent", q.Agent)
			if err != nil {
				return nil, err
			}
			f.Agent = agent
		}
	}

	switch audit.Outcome(q.Outcome) {
	case "", audit.OutcomeApproved, audit.OutcomeDenied, audit.OutcomeError:
		f.Outcome = q.Outcome
	default:
		return nil, domain.NewValidationError("outcome", "must be APPROVED, DENIED or ERROR")
	}

	logs, err := s.repo.FetchDecisions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch decisions: %w", err)
	}
	return logs, nil
}
