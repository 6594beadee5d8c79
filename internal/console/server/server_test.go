package server_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/audit"
	"github.com/xela07ax/agentpay/internal/console/handler"
	"github.com/xela07ax/agentpay/internal/console/server"
	"github.com/xela07ax/agentpay/internal/console/service"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"github.com/xela07ax/agentpay/internal/repository/postgres"
	"github.com/xela07ax/agentpay/internal/repository/redisstore"
	"go.uber.org/zap"
)

type fakeDecisions struct {
	mu   sync.Mutex
	last postgres.DecisionFilter
}

func (f *fakeDecisions) FetchDecisions(_ context.Context, filter postgres.DecisionFilter) ([]audit.DecisionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = filter
	return []audit.DecisionEvent{{ID: "d-1", Owner: filter.Owner, Outcome: audit.OutcomeApproved}}, nil
}

type consoleEnv struct {
	t         *testing.T
	srv       *httptest.Server
	mr        *miniredis.Miniredis
	validator *auth.BaseValidator
	decisions *fakeDecisions
}

func newConsole(t *testing.T) *consoleEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	logger := zap.NewNop()

	issuer := auth.NewIssuer(key, "agentpay-console", time.Hour)
	validator := auth.NewBaseValidator(&key.PublicKey, "agentpay-console")
	authSvc := service.NewAuthService(redisstore.NewNonceStore(rdb), issuer, 5*time.Minute, logger)
	decisions := &fakeDecisions{}

	s := server.NewConsoleServer(logger, validator,
		handler.NewAuthHandler(authSvc, logger),
		handler.NewAuditHandler(service.NewAuditService(decisions), logger))
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	return &consoleEnv{t: t, srv: srv, mr: mr, validator: validator, decisions: decisions}
}

func (e *consoleEnv) post(path string, body any) (int, map[string]any) {
	e.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(e.t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(e.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func sign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27 // как отдает MetaMask
	return hexutil.Encode(sig)
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestWalletSignIn(t *testing.T) {
	e := newConsole(t)
	key, addr := newWallet(t)

	code, challenge := e.post("/auth/nonce", map[string]any{"address": addr})
	require.Equal(t, http.StatusOK, code, challenge)
	msg := challenge["message"].(string)
	assert.Equal(t, service.ChallengeMessage(strings.ToLower(addr), challenge["nonce"].(string)), msg)
	assert.NotEmpty(t, challenge["expiresAt"])

	sig := sign(t, key, msg)
	code, tok := e.post("/auth/token", map[string]any{"address": addr, "signature": sig})
	require.Equal(t, http.StatusOK, code, tok)
	assert.Equal(t, "Bearer", tok["token_type"])

	claims, err := e.validator.VerifyToken(tok["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(addr), claims.Subject)

	// nonce одноразовый
	code, _ = e.post("/auth/token", map[string]any{"address": addr, "signature": sig})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestWalletSignInRejections(t *testing.T) {
	e := newConsole(t)
	key, addr := newWallet(t)
	intruder, _ := newWallet(t)

	t.Run("no nonce", func(t *testing.T) {
		code, body := e.post("/auth/token", map[string]any{"address": addr, "signature": "0x00"})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "UNAUTHORIZED", body["kind"])
	})

	t.Run("foreign signer burns nonce", func(t *testing.T) {
		_, challenge := e.post("/auth/nonce", map[string]any{"address": addr})
		msg := challenge["message"].(string)

		code, _ := e.post("/auth/token", map[string]any{"address": addr, "signature": sign(t, intruder, msg)})
		assert.Equal(t, http.StatusUnauthorized, code)

		code, _ = e.post("/auth/token", map[string]any{"address": addr, "signature": sign(t, key, msg)})
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("stale nonce after reissue", func(t *testing.T) {
		_, first := e.post("/auth/nonce", map[string]any{"address": addr})
		_, second := e.post("/auth/nonce", map[string]any{"address": addr})
		require.NotEqual(t, first["nonce"], second["nonce"])

		code, _ := e.post("/auth/token", map[string]any{"address": addr, "signature": sign(t, key, first["message"].(string))})
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("expired nonce", func(t *testing.T) {
		_, challenge := e.post("/auth/nonce", map[string]any{"address": addr})
		e.mr.FastForward(6 * time.Minute)

		code, _ := e.post("/auth/token", map[string]any{"address": addr, "signature": sign(t, key, challenge["message"].(string))})
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("bad address", func(t *testing.T) {
		code, body := e.post("/auth/nonce", map[string]any{"address": "alice"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "address", body["field"])
	})

	t.Run("missing signature", func(t *testing.T) {
		code, body := e.post("/auth/token", map[string]any{"address": addr})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "signature", body["field"])
	})

	t.Run("unknown field", func(t *testing.T) {
		code, _ := e.post("/auth/nonce", map[string]any{"address": addr, "username": "root"})
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func (f *fakeDecisions) lastFilter() postgres.DecisionFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func TestDecisionsScopedToPrincipal(t *testing.T) {
	e := newConsole(t)
	key, addr := newWallet(t)

	_, challenge := e.post("/auth/nonce", map[string]any{"address": addr})
	_, tok := e.post("/auth/token", map[string]any{"address": addr, "signature": sign(t, key, challenge["message"].(string))})
	bearer := "Bearer " + tok["access_token"].(string)

	get := func(query string) (int, map[string]any) {
		req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/decisions"+query, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", bearer)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]any{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	principal := strings.ToLower(addr)

	code, body := get("?outcome=DENIED&limit=10")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, postgres.DecisionFilter{Owner: principal, Outcome: "DENIED", Limit: 10}, e.decisions.lastFilter())

	code, _ = get("?role=agent")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, postgres.DecisionFilter{Agent: principal}, e.decisions.lastFilter())

	code, body = get("?outcome=MAYBE")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "outcome", body["field"])

	code, _ = get("?limit=-5")
	assert.Equal(t, http.StatusBadRequest, code)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/decisions", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	e := newConsole(t)
	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
