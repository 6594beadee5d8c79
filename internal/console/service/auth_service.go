package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
)

// ErrInvalidCredentials — nonce нет, истек или подпись не от этого адреса.
// Клиенту причина не уточняется.
var ErrInvalidCredentials = errors.New("invalid credentials")

type NonceStore interface {
	Save(ctx context.Context, address, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, address string) (string, error)
}

type TokenIssuer interface {
	Issue(address string) (*domain.TokenResponse, error)
}

// AuthService — вход через кошелек: nonce -> personal_sign -> RS256 JWT.
type AuthService struct {
	nonces   NonceStore
	issuer   TokenIssuer
	nonceTTL time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewAuthService(nonces NonceStore, issuer TokenIssuer, nonceTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		nonces:   nonces,
		issuer:   issuer,
		nonceTTL: nonceTTL,
		now:      time.Now,
		logger:   logger.Named("auth"),
	}
}

// ChallengeMessage — текст, который кошелек подписывает через personal_sign.
func ChallengeMessage(address, nonce string) string {
	return fmt.Sprintf("Sign in to AgentPay\n\nAddress: %s\nNonce: %s", address, nonce)
}

// Challenge выдает новый nonce, предыдущий для адреса перестает работать.
func (s *AuthService) Challenge(ctx context.Context, address string) (*domain.NonceResponse, error) {
	addr, err := domain.ParseAddress("address", address)
	if err != nil {
		return nil, err
	}

	nonce := uuid.NewString()
	if err := s.nonces.Save(ctx, addr, nonce, s.nonceTTL); err != nil {
		return nil, fmt.Errorf("auth_service: %w", err)
	}

	return &domain.NonceResponse{
		Nonce:     nonce,
		Message:   ChallengeMessage(addr, nonce),
		ExpiresAt: s.now().UTC().Add(s.nonceTTL),
	}, nil
}

// GenerateToken проверяет подпись challenge и выпускает токен.
// Nonce забирается до проверки подписи: неудачная попытка его тоже сжигает.
func (s *AuthService) GenerateToken(ctx context.Context, req domain.SignInRequest) (*domain.TokenResponse, error) {
	addr, err := domain.ParseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	if req.Signature == "" {
		return nil, domain.NewValidationError("signature", "is required")
	}

	// 1. Одноразовый nonce (Источник правды — Redis)
	nonce, err := s.nonces.Consume(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("auth_service: %w", err)
	}
	if nonce == "" {
		s.logger.Warn("sign-in without live nonce", zap.String("address", addr))
		return nil, ErrInvalidCredentials
	}

	// 2. Подпись EIP-191 должна восстанавливаться в тот же адрес
	if err := auth.VerifyPersonalSign(addr, ChallengeMessage(addr, nonce), req.Signature); err != nil {
		s.logger.Warn("sign-in signature rejected", zap.String("address", addr), zap.Error(err))
		return nil, ErrInvalidCredentials
	}

	// 3. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token, err := s.issuer.Issue(addr)
	if err != nil {
		return nil, fmt.Errorf("auth_service: %w", err)
	}

	s.logger.Info("wallet signed in", zap.String("address", addr))
	return token, nil
}
