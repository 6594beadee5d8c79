package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AgentPolicy ограниченное право на траты, делегированное владельцем (Owner) адресу агента.
// Один владелец может иметь несколько политик для одного и того же агента.
type AgentPolicy struct {
	ID           string `json:"id"`
	AgentAddress string `json:"agent"` // всегда в нижнем регистре
	OwnerAddress string `json:"owner"` // ключ хранилища, тоже в нижнем регистре

	MaxAmountPerTx decimal.Decimal `json:"maxAmountPerTx"`
	MaxDailyAmount decimal.Decimal `json:"maxDailyAmount"`
	DailySpent     decimal.Decimal `json:"dailySpent"`
	// WindowStartedAt — начало текущего окна учета DailySpent (см. policy.DailyWindow)
	WindowStartedAt time.Time `json:"windowStartedAt"`

	// Пустой список означает "без ограничений", а не "запретить всё"
	AllowedRecipients []string `json:"allowedRecipients"`

	IsActive  bool       `json:"isActive"` // false после Revoke, обратного пути нет
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt"` // nil — бессрочная политика
}

// Clone возвращает независимую копию (хранилище никогда не отдает наружу свои указатели).
func (p AgentPolicy) Clone() AgentPolicy {
	c := p
	if p.AllowedRecipients != nil {
		c.AllowedRecipients = append([]string(nil), p.AllowedRecipients...)
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}

// IsExpiredAt граница включительная: политика с expiresAt == now уже истекла.
func (p *AgentPolicy) IsExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// IsUsableAt — активна и не истекла.
func (p *AgentPolicy) IsUsableAt(now time.Time) bool {
	return p.IsActive && !p.IsExpiredAt(now)
}

// AllowsRecipient проверяет whitelist без учета регистра.
func (p *AgentPolicy) AllowsRecipient(recipient string) bool {
	if len(p.AllowedRecipients) == 0 {
		return true
	}
	for _, r := range p.AllowedRecipients {
		if strings.EqualFold(r, recipient) {
			return true
		}
	}
	return false
}

// MatchesAgent сравнивает адрес агента без учета регистра.
func (p *AgentPolicy) MatchesAgent(agent string) bool {
	return strings.EqualFold(p.AgentAddress, agent)
}

// RemainingDaily сколько еще можно потратить в текущем окне.
func (p *AgentPolicy) RemainingDaily() decimal.Decimal {
	return p.MaxDailyAmount.Sub(p.DailySpent)
}

// CreatePolicyInput — входные данные PolicyAdmin.Create.
// OwnerAddress берется из аутентифицированного принципала, а не из тела запроса.
type CreatePolicyInput struct {
	OwnerAddress      string
	AgentAddress      string
	MaxAmountPerTx    string
	MaxDailyAmount    string
	AllowedRecipients []string
	DurationDays      *float64
}

// PolicyStatus — ответ для экранов статуса.
type PolicyStatus struct {
	Policy         AgentPolicy     `json:"policy"`
	IsActive       bool            `json:"isActive"`
	IsExpired      bool            `json:"isExpired"`
	RemainingDaily decimal.Decimal `json:"remainingDaily"`
}
