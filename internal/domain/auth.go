package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — принципал сервиса. Subject — адрес кошелька, подтвердившего подпись.
type CustomClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// NonceRequest первый шаг входа через кошелек
type NonceRequest struct {
	Address string `json:"address"`
}

type NonceResponse struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"` // Текст, который нужно подписать через personal_sign
	ExpiresAt time.Time `json:"expiresAt"`
}

// SignInRequest второй шаг: подпись challenge-сообщения
type SignInRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"` // 0x + 65 байт (r, s, v)
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}
