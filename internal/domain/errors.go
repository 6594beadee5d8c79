package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPolicyNotFound    = errors.New("agent policy not found")
	ErrPrincipalMismatch = errors.New("authenticated principal does not match request")
)

// ValidationError — некорректный ввод. Состояние не меняется, повтор не поможет.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// DenialKind — причина отказа Authorize. Порядок констант совпадает с порядком проверок.
type DenialKind string

const (
	DenialAgentNotAuthorized      DenialKind = "AGENT_NOT_AUTHORIZED"
	DenialPolicyExpired           DenialKind = "POLICY_EXPIRED"
	DenialPerTxLimitExceeded      DenialKind = "PER_TX_LIMIT_EXCEEDED"
	DenialDailyLimitExceeded      DenialKind = "DAILY_LIMIT_EXCEEDED"
	DenialRecipientNotWhitelisted DenialKind = "RECIPIENT_NOT_WHITELISTED"
)

var denialMessages = map[DenialKind]string{
	DenialAgentNotAuthorized:      "Agent not authorized for this owner",
	DenialPolicyExpired:           "Agent policy expired",
	DenialPerTxLimitExceeded:      "Amount exceeds per-transaction limit",
	DenialDailyLimitExceeded:      "Amount exceeds daily limit",
	DenialRecipientNotWhitelisted: "Recipient not in whitelist",
}

// Denial — ожидаемый отказ, а не сбой. Несет достаточно деталей,
// чтобы клиент мог объяснить пользователю ПОЧЕМУ платеж отклонен.
type Denial struct {
	Kind     DenialKind `json:"kind"`
	PolicyID string     `json:"policyId,omitempty"`

	Limit      *decimal.Decimal `json:"limit,omitempty"`
	Requested  *decimal.Decimal `json:"requested,omitempty"`
	DailySpent *decimal.Decimal `json:"dailySpent,omitempty"`
	ExpiredAt  *time.Time       `json:"expiredAt,omitempty"`
	Recipient  string           `json:"recipient,omitempty"`
}

func (d *Denial) Error() string {
	return d.Message()
}

func (d *Denial) Message() string {
	if msg, ok := denialMessages[d.Kind]; ok {
		return msg
	}
	return string(d.Kind)
}

// AsDenial — короткий хелпер над errors.As.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// IsDenial проверяет конкретный вид отказа.
func IsDenial(err error, kind DenialKind) bool {
	d, ok := AsDenial(err)
	return ok && d.Kind == kind
}
