package audit

import "time"

// Outcome — итог решения по платежу.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeDenied   Outcome = "DENIED"
	OutcomeError    Outcome = "ERROR" // сбой хранилища или невалидный запрос
)

// DecisionEvent — одна запись журнала решений шлюза.
type DecisionEvent struct {
	ID        string `json:"id"`       // UUID события
	TraceID   string `json:"trace_id"` // Сквозной ID запроса (X-Trace-ID)
	Transport string `json:"transport"`

	Owner     string `json:"owner"`
	Agent     string `json:"agent"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`

	PolicyID   string  `json:"policy_id,omitempty"` // Какая политика разрешила или отклонила
	Outcome    Outcome `json:"outcome"`
	DenialKind string  `json:"denial_kind,omitempty"`
	Reason     string  `json:"reason,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
