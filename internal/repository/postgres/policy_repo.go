package postgres

/*
Файл policy_repo.go — долговременное хранение политик агентов в PostgreSQL.
Суммы хранятся как NUMERIC и гоняются через text, чтобы не терять точность.
Списание дневного счетчика выполняется под SELECT ... FOR UPDATE.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/policy"
)

const policyColumns = `id, owner_address, agent_address,
	max_amount_per_tx::text, max_daily_amount::text, daily_spent::text,
	window_started_at, allowed_recipients, is_active, created_at, expires_at`

type PolicyRepo struct {
	pool *pgxpool.Pool
}

var _ policy.Store = (*PolicyRepo)(nil)

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

func (r *PolicyRepo) Put(ctx context.Context, ownerKey string, p domain.AgentPolicy) error {
	query := `
		INSERT INTO agent_policies (id, owner_address, agent_address,
			max_amount_per_tx, max_daily_amount, daily_spent,
			window_started_at, allowed_recipients, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, $11)`

	recipients := p.AllowedRecipients
	if recipients == nil {
		recipients = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		p.ID, ownerKey, p.AgentAddress,
		p.MaxAmountPerTx.String(), p.MaxDailyAmount.String(), p.DailySpent.String(),
		p.WindowStartedAt, recipients, p.IsActive, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create policy %s: %w", p.ID, err)
	}
	return nil
}

func (r *PolicyRepo) ListByOwner(ctx context.Context, ownerKey string) ([]domain.AgentPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM agent_policies WHERE owner_address = $1 ORDER BY seq`

	rows, err := r.pool.Query(ctx, query, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list policies: %w", err)
	}
	defer rows.Close()

	results := make([]domain.AgentPolicy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to list policies: %w", err)
	}
	return results, nil
}

// FindByOwnerAndAgent агент сравнивается без учета регистра; первый по seq.
func (r *PolicyRepo) FindByOwnerAndAgent(ctx context.Context, ownerKey, agentAddress string, activeOnly bool) (*domain.AgentPolicy, error) {
	query := `SELECT ` + policyColumns + `
		FROM agent_policies
		WHERE owner_address = $1 AND agent_address = lower($2) AND (NOT $3 OR is_active)
		ORDER BY seq
		LIMIT 1`

	p, err := scanPolicy(r.pool.QueryRow(ctx, query, ownerKey, agentAddress, activeOnly))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // не найдено — не ошибка
		}
		return nil, err
	}
	return p, nil
}

func (r *PolicyRepo) Update(ctx context.Context, ownerKey, policyID string, fn func(p *domain.AgentPolicy) error) (*domain.AgentPolicy, error) {
	var (
		result *domain.AgentPolicy
		fnErr  error
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + policyColumns + ` FROM agent_policies WHERE id = $1 AND owner_address = $2 FOR UPDATE`
		p, err := scanPolicy(tx.QueryRow(ctx, query, policyID, ownerKey))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: policy %s: %w", policyID, domain.ErrPolicyNotFound)
			}
			return err
		}

		if err := fn(p); err != nil {
			// откатываем транзакцию, ошибку колбэка отдаем без обертки
			fnErr = err
			return err
		}

		update := `
			UPDATE agent_policies
			SET daily_spent = $1::numeric, window_started_at = $2, is_active = $3
			WHERE id = $4`
		if _, err := tx.Exec(ctx, update, p.DailySpent.String(), p.WindowStartedAt, p.IsActive, policyID); err != nil {
			return fmt.Errorf("postgres: failed to update policy %s: %w", policyID, err)
		}
		result = p
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanPolicy(row pgx.Row) (*domain.AgentPolicy, error) {
	var (
		p                         domain.AgentPolicy
		maxPerTx, maxDaily, spent string
		expiresAt                 *time.Time
	)
	err := row.Scan(
		&p.ID, &p.OwnerAddress, &p.AgentAddress,
		&maxPerTx, &maxDaily, &spent,
		&p.WindowStartedAt, &p.AllowedRecipients, &p.IsActive, &p.CreatedAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: failed to scan policy: %w", err)
	}

	if p.MaxAmountPerTx, err = decimal.NewFromString(maxPerTx); err != nil {
		return nil, fmt.Errorf("postgres: policy %s max_amount_per_tx: %w", p.ID, err)
	}
	if p.MaxDailyAmount, err = decimal.NewFromString(maxDaily); err != nil {
		return nil, fmt.Errorf("postgres: policy %s max_daily_amount: %w", p.ID, err)
	}
	if p.DailySpent, err = decimal.NewFromString(spent); err != nil {
		return nil, fmt.Errorf("postgres: policy %s daily_spent: %w", p.ID, err)
	}

	p.WindowStartedAt = p.WindowStartedAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	if expiresAt != nil {
		t := expiresAt.UTC()
		p.ExpiresAt = &t
	}
	return &p, nil
}
