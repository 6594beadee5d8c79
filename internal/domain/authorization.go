package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest — предложенный агентом платеж, который нужно проверить по политике.
type PaymentRequest struct {
	OwnerAddress     string
	AgentAddress     string
	RecipientAddress string
	Amount           decimal.Decimal
}

// Authorization — успешный результат проверки. DailySpent уже списан.
type Authorization struct {
	PolicyID       string          `json:"policyId"`
	RemainingDaily decimal.Decimal `json:"remainingDaily"`
	MaxPerTx       decimal.Decimal `json:"maxPerTx"`
	DailySpent     decimal.Decimal `json:"dailySpent"`
	AuthorizedAt   time.Time       `json:"authorizedAt"`
}

// ExecuteRequest — запрос агента на исполнение платежа (HTTP /execute и gRPC).
// Amount — сырая десятичная строка, разбирается шлюзом, чтобы ошибка попала в журнал.
type ExecuteRequest struct {
	OwnerAddress     string
	AgentAddress     string
	RecipientAddress string
	TokenAddress     string
	Amount           string
	Memo             string
}

// AgentPolicyLimits прикладывается к инструкции, чтобы клиент видел остаток.
type AgentPolicyLimits struct {
	RemainingDaily decimal.Decimal `json:"remainingDaily"`
	MaxPerTx       decimal.Decimal `json:"maxPerTx"`
}

// TransferInstruction — данные для on-chain транзакции. Сама транзакция исполняется вне сервиса.
type TransferInstruction struct {
	Owner       string            `json:"owner"`
	Recipient   string            `json:"recipient"`
	Token       string            `json:"token"`
	Amount      decimal.Decimal   `json:"amount"`
	Memo        string            `json:"memo"`
	AgentPolicy AgentPolicyLimits `json:"agentPolicy"`
}
