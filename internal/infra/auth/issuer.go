package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/domain"
)

// Issuer подписывает токены ЗАКРЫТЫМ КЛЮЧОМ (RS256). Живет только в консоли.
type Issuer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewIssuer(privateKey *rsa.PrivateKey, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{privateKey: privateKey, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue выпускает токен с sub = адрес кошелька.
func (i *Issuer) Issue(address string) (*domain.TokenResponse, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	address = domain.NormalizeAddress(address)

	claims := &domain.CustomClaims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   address,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(i.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.ttl.Seconds()),
	}, nil
}
