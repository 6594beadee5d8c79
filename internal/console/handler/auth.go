package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/agentpay/internal/console/service"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 16 << 10

type AuthHandler struct {
	service *service.AuthService
	logger  *zap.Logger
}

func NewAuthHandler(s *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, logger: logger.Named("auth-api")}
}

// Nonce POST /auth/nonce {address}
func (h *AuthHandler) Nonce(w http.ResponseWriter, r *http.Request) {
	var req domain.NonceRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.service.Challenge(r.Context(), req.Address)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Login POST /auth/token {address, signature}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.SignInRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) writeError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Error(), "kind": "VALIDATION", "field": vErr.Field})
	case errors.Is(err, service.ErrInvalidCredentials):
		// не уточняем, что именно неверно (nonce или подпись)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized", "kind": "UNAUTHORIZED"})
	default:
		h.logger.Error("sign-in failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error", "kind": "INTERNAL"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request", "kind": "VALIDATION", "field": "body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
