// Package policytest содержит общий набор проверок для любой реализации policy.Store.
package policytest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/policy"
	"go.uber.org/zap"
)

const (
	Owner     = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"
	Agent     = "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb"
	Recipient = "0xCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCcCc"
	Other     = "0xDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDd"
)

// Clock — управляемые часы для тестов.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t.UTC()} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Dec — decimal из строки, паникует на мусоре (только для тестов).
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// RunStoreSuite прогоняет контракт Store и свойства Authorize поверх конкретного бэкенда.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) policy.Store) {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (policy.Store, *Clock, *policy.Admin, *policy.Authorizer) {
		store := newStore(t)
		clock := NewClock(start)
		return store, clock,
			policy.NewAdmin(store, clock, policy.WindowCalendar, logger),
			policy.NewAuthorizer(store, clock, policy.WindowCalendar, logger)
	}

	t.Run("list keeps insertion order and unknown owner is empty", func(t *testing.T) {
		store, _, admin, _ := setup(t)

		empty, err := store.ListByOwner(ctx, "0x0000000000000000000000000000000000000000")
		require.NoError(t, err)
		assert.Empty(t, empty)

		first, err := admin.Create(ctx, domain.CreatePolicyInput{OwnerAddress: Owner, AgentAddress: Agent, MaxAmountPerTx: "10", MaxDailyAmount: "20"})
		require.NoError(t, err)
		second, err := admin.Create(ctx, domain.CreatePolicyInput{OwnerAddress: Owner, AgentAddress: Other, MaxAmountPerTx: "1", MaxDailyAmount: "2"})
		require.NoError(t, err)

		list, err := store.ListByOwner(ctx, domain.NormalizeAddress(Owner))
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)
		assert.True(t, list[0].MaxDailyAmount.Equal(Dec("20")))
	})

	t.Run("find is case-insensitive and honours activeOnly", func(t *testing.T) {
		store, _, admin, _ := setup(t)
		created, err := admin.Create(ctx, domain.CreatePolicyInput{OwnerAddress: Owner, AgentAddress: Agent, MaxAmountPerTx: "10", MaxDailyAmount: "20"})
		require.NoError(t, err)

		got, err := store.FindByOwnerAndAgent(ctx, domain.NormalizeAddress(Owner), "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", true)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created.ID, got.ID)

		require.NoError(t, admin.Revoke(ctx, Owner, Agent))

		got, err = store.FindByOwnerAndAgent(ctx, domain.NormalizeAddress(Owner), Agent, true)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = store.FindByOwnerAndAgent(ctx, domain.NormalizeAddress(Owner), Agent, false)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.IsActive)
	})

	t.Run("update error leaves record untouched", func(t *testing.T) {
		store, _, admin, _ := setup(t)
		created, err := admin.Create(ctx, domain.CreatePolicyInput{OwnerAddress: Owner, AgentAddress: Agent, MaxAmountPerTx: "10", MaxDailyAmount: "20"})
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = store.Update(ctx, created.OwnerAddress, created.ID, func(p *domain.AgentPolicy) error {
			p.DailySpent = Dec("19")
			p.IsActive = false
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := store.FindByOwnerAndAgent(ctx, created.OwnerAddress, Agent, false)
		require.NoError(t, err)
		assert.True(t, got.DailySpent.IsZero())
		assert.True(t, got.IsActive)
	})

	t.Run("update of unknown policy is not found", func(t *testing.T) {
		store, _, _, _ := setup(t)
		_, err := store.Update(ctx, domain.NormalizeAddress(Owner), "agent-missing", func(p *domain.AgentPolicy) error { return nil })
		require.ErrorIs(t, err, domain.ErrPolicyNotFound)
	})

	t.Run("sequential authorizations accumulate", func(t *testing.T) {
		store, _, admin, authz := setup(t)
		_, err := admin.Create(ctx, domain.CreatePolicyInput{OwnerAddress: Owner, AgentAddress: Agent, MaxAmountPerTx: "100", MaxDailyAmount: "100"})
		require.NoError(t, err)

		auth, err := authz.Authorize(ctx, payment("60"))
		require.NoError(t, err)
		assert.True(t, auth.DailySpent.Equal(Dec("60")))
		assert.True(t, auth.RemainingDaily.Equal(Dec("40")))

		_, err = authz.Authorize(ctx, payment("60"))
		assert.True(t, domain.IsDenial(err, domain.DenialDailyLimitExceeded))

		got, err := store.FindByOwnerAndAgent(ctx, domain.NormalizeAddress(Owner), Agent, true)
		require.NoError(t, err)
		assert.True(t, got.DailySpent.Equal(Dec("60")), "denial must not mutate dailySpent, got %s", got.DailySpent)
	})

	t.Run("concurrent authorizations never overspend", func(t *testing.T) {
		_, _, admin, authz := setup(t)
		_, err := admin.Create(ctx, domain.CreatePolicyInput{OwnerAddress: Owner, AgentAddress: Agent, MaxAmountPerTx: "100", MaxDailyAmount: "100"})
		require.NoError(t, err)

		const workers = 16
		amount := Dec("7.5") // 16 * 7.5 = 120 > 100
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := authz.Authorize(ctx, domain.PaymentRequest{
					OwnerAddress: Owner, AgentAddress: Agent, RecipientAddress: Recipient, Amount: amount,
				})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.True(t, domain.IsDenial(err, domain.DenialDailyLimitExceeded), "unexpected error: %v", err)
			}()
		}
		wg.Wait()

		total := amount.Mul(decimal.NewFromInt(int64(successes)))
		assert.True(t, total.LessThanOrEqual(Dec("100")), "overspent: %s", total)
		assert.Equal(t, 13, successes) // floor(100 / 7.5)

		status, err := admin.Status(ctx, Owner, Agent)
		require.NoError(t, err)
		assert.True(t, status.Policy.DailySpent.Equal(total))
	})
}

func payment(amount string) domain.PaymentRequest {
	return domain.PaymentRequest{
		OwnerAddress:     Owner,
		AgentAddress:     Agent,
		RecipientAddress: Recipient,
		Amount:           Dec(amount),
	}
}
