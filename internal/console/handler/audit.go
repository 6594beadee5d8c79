package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/xela07ax/agentpay/internal/console/service"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
)

type AuditHandler struct {
	service *service.AuditService
	logger  *zap.Logger
}

func NewAuditHandler(s *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger.Named("audit-api")}
}

// GetLogs возвращает журнал решений принципала с поддержкой фильтрации
// GET /v1/decisions?role=owner|agent&agent=...&outcome=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized", "kind": "UNAUTHORIZED"})
		return
	}

	// Извлекаем фильтры из Query-параметров
	query := r.URL.Query()
	q := service.DecisionQuery{
		Principal: principal,
		AsAgent:   query.Get("role") == "agent",
		Agent:     query.Get("agent"),
		Outcome:   query.Get("outcome"),
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit: must be a positive integer", "kind": "VALIDATION", "field": "limit"})
			return
		}
		q.Limit = n
	}

	logs, err := h.service.FetchDecisions(r.Context(), q)
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Error(), "kind": "VALIDATION", "field": vErr.Field})
		return
	case err != nil:
		h.logger.Error("failed to fetch decisions", zap.String("principal", principal), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to fetch decisions", "kind": "INTERNAL"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": logs,
		"count":     len(logs),
	})
}
