package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type createPolicyRequest struct {
	OwnerAddress      string   `json:"ownerAddress"`
	AgentAddress      string   `json:"agentAddress"`
	MaxAmountPerTx    string   `json:"maxAmountPerTx"`
	MaxDailyAmount    string   `json:"maxDailyAmount"`
	AllowedRecipients []string `json:"allowedRecipients"`
	DurationDays      *float64 `json:"durationDays"`
}

type executeRequest struct {
	OwnerAddress     string `json:"ownerAddress"`
	RecipientAddress string `json:"recipientAddress"`
	TokenAddress     string `json:"tokenAddress"`
	Amount           string `json:"amount"`
	Memo             string `json:"memo"`
}

type revokeRequest struct {
	OwnerAddress string `json:"ownerAddress"`
	AgentAddress string `json:"agentAddress"`
}

// AgentHandler — HTTP-обвязка /api/agents.
type AgentHandler struct {
	admin   PolicyAdmin
	gateway *PaymentGateway
	metrics *Metrics
	logger  *zap.Logger
}

func NewAgentHandler(admin PolicyAdmin, gateway *PaymentGateway, metrics *Metrics, logger *zap.Logger) *AgentHandler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &AgentHandler{
		admin:   admin,
		gateway: gateway,
		metrics: metrics,
		logger:  logger.Named("agent-api"),
	}
}

// Create POST /api/agents/create. Владелец — субъект токена.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req createPolicyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !ownerMatches(req.OwnerAddress, principal) {
		h.writeError(w, r, fmt.Errorf("ownerAddress: %w", domain.ErrPrincipalMismatch))
		return
	}

	p, err := h.admin.Create(r.Context(), domain.CreatePolicyInput{
		OwnerAddress:      principal,
		AgentAddress:      req.AgentAddress,
		MaxAmountPerTx:    req.MaxAmountPerTx,
		MaxDailyAmount:    req.MaxDailyAmount,
		AllowedRecipients: req.AllowedRecipients,
		DurationDays:      req.DurationDays,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.PoliciesCreated.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"policy":  p,
		"message": "Agent policy created. Approve tokens on-chain to enable payments.",
	})
}

// List GET /api/agents/{ownerAddress}. Только свои политики.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerFromPath(w, r, "ownerAddress")
	if !ok {
		return
	}
	if !h.isPrincipal(r, owner) {
		h.writeError(w, r, domain.ErrPrincipalMismatch)
		return
	}

	list, err := h.admin.ListActive(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": list,
		"count":  len(list),
	})
}

// Execute POST /api/agents/execute. Агент — субъект токена.
func (h *AgentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req executeRequest
	if !h.decode(w, r, &req) {
		return
	}
	instr, err := h.gateway.Execute(r.Context(), domain.ExecuteRequest{
		OwnerAddress:     req.OwnerAddress,
		AgentAddress:     principal,
		RecipientAddress: req.RecipientAddress,
		TokenAddress:     req.TokenAddress,
		Amount:           req.Amount,
		Memo:             req.Memo,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"approved":    true,
		"transaction": instr,
		"message":     "Payment approved. Execute on-chain transaction.",
	})
}

// Revoke POST /api/agents/revoke. Отзывать может только владелец.
func (h *AgentHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req revokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !ownerMatches(req.OwnerAddress, principal) {
		h.writeError(w, r, fmt.Errorf("ownerAddress: %w", domain.ErrPrincipalMismatch))
		return
	}
	agent, err := domain.ParseAddress("agentAddress", req.AgentAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.admin.Revoke(r.Context(), principal, agent); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.PoliciesRevoked.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Agent revoked successfully",
	})
}

// Status GET /api/agents/policy/{ownerAddress}/{agentAddress}. Видят владелец и сам агент.
func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerFromPath(w, r, "ownerAddress")
	if !ok {
		return
	}
	agent, ok := h.ownerFromPath(w, r, "agentAddress")
	if !ok {
		return
	}
	if !h.isPrincipal(r, owner) && !h.isPrincipal(r, agent) {
		h.writeError(w, r, domain.ErrPrincipalMismatch)
		return
	}

	st, err := h.admin.Status(r.Context(), owner, agent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policy": st.Policy,
		"status": map[string]any{
			"isActive":       st.IsActive,
			"isExpired":      st.IsExpired,
			"remainingDaily": st.RemainingDaily,
		},
	})
}

// ownerMatches ownerAddress в теле необязателен, но если прислан, то должен совпасть с токеном.
func ownerMatches(bodyOwner, principal string) bool {
	return bodyOwner == "" || strings.EqualFold(strings.TrimSpace(bodyOwner), principal)
}

func (h *AgentHandler) ownerFromPath(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	addr, err := domain.ParseAddress(param, chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return addr, true
}

func (h *AgentHandler) isPrincipal(r *http.Request, addr string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	return ok && strings.EqualFold(principal, addr)
}

func (h *AgentHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, domain.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// writeError — единственное место, где ошибки домена превращаются в HTTP-статусы.
func (h *AgentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *domain.ValidationError
	switch d, isDenial := domain.AsDenial(err); {
	case isDenial:
		body := map[string]any{"error": d.Message(), "kind": d.Kind, "approved": false}
		if d.PolicyID != "" {
			body["policyId"] = d.PolicyID
		}
		if d.Limit != nil {
			body["limit"] = d.Limit
		}
		if d.Requested != nil {
			body["requested"] = d.Requested
		}
		if d.DailySpent != nil {
			body["dailySpent"] = d.DailySpent
		}
		if d.ExpiredAt != nil {
			body["expiredAt"] = d.ExpiredAt
		}
		if d.Recipient != "" {
			body["recipient"] = d.Recipient
		}
		writeJSON(w, http.StatusForbidden, body)
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Error(), "kind": "VALIDATION", "field": vErr.Field})
	case errors.Is(err, domain.ErrPrincipalMismatch):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error(), "kind": "PRINCIPAL_MISMATCH"})
	case errors.Is(err, domain.ErrPolicyNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Agent not found", "kind": "NOT_FOUND"})
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", TraceIDFromContext(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error", "kind": "INTERNAL"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
