package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/agentpay/internal/audit"
)

// AuditRepo — audit.Sink, пишет журнал решений в agent_decisions.
type AuditRepo struct {
	pool *pgxpool.Pool
}

var _ audit.Sink = (*AuditRepo)(nil)

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице agent_decisions
	const numFields = 14
	var placeholders strings.Builder
	vals := make([]any, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", i*numFields+f)
		}
		placeholders.WriteString(")")

		vals = append(vals,
			e.ID, e.TraceID, e.Transport,
			e.Owner, e.Agent, e.Recipient, e.Token, e.Amount,
			e.PolicyID, string(e.Outcome), e.DenialKind, e.Reason,
			e.Timestamp, e.DurationMs,
		)
	}

	query := `INSERT INTO agent_decisions (id, trace_id, transport, owner, agent, recipient, token, amount,
		policy_id, outcome, denial_kind, reason, timestamp, duration_ms)
		VALUES ` + placeholders.String() + ` ON CONFLICT (id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write %d decisions: %w", len(events), err)
	}
	return nil
}

// DecisionFilter — выборка журнала для консоли. Пустые поля не фильтруют.
type DecisionFilter struct {
	Owner   string
	Agent   string
	Outcome string
	Limit   int
}

const maxDecisionsPage = 500

// FetchDecisions возвращает последние решения, новые первыми.
func (r *AuditRepo) FetchDecisions(ctx context.Context, f DecisionFilter) ([]audit.DecisionEvent, error) {
	if f.Limit <= 0 || f.Limit > maxDecisionsPage {
		f.Limit = maxDecisionsPage
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, trace_id, transport, owner, agent, recipient, token, amount,
		       policy_id, outcome, denial_kind, reason, timestamp, duration_ms
		FROM agent_decisions
		WHERE ($1::text = '' OR owner = $1)
		  AND ($2::text = '' OR agent = $2)
		  AND ($3::text = '' OR outcome = $3)
		ORDER BY timestamp DESC
		LIMIT $4`, f.Owner, f.Agent, f.Outcome, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch decisions: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.DecisionEvent, error) {
		var e audit.DecisionEvent
		var outcome string
		err := row.Scan(&e.ID, &e.TraceID, &e.Transport, &e.Owner, &e.Agent, &e.Recipient, &e.Token, &e.Amount,
			&e.PolicyID, &outcome, &e.DenialKind, &e.Reason, &e.Timestamp, &e.DurationMs)
		e.Outcome = audit.Outcome(outcome)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan decisions: %w", err)
	}
	return events, nil
}
