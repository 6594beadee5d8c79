package gateway_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/audit"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/gateway"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"github.com/xela07ax/agentpay/internal/policy"
	"github.com/xela07ax/agentpay/internal/policy/policytest"
	"go.uber.org/zap"
)

const token = "0xEeEeEeEeEeEeEeEeEeEeEeEeEeEeEeEeEeEeEeEe"

type recorder struct {
	mu     sync.Mutex
	events []audit.DecisionEvent
}

func (r *recorder) Record(e audit.DecisionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) last() audit.DecisionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type env struct {
	t       *testing.T
	server  *httptest.Server
	issuer  *auth.Issuer
	journal *recorder
	metrics *gateway.Metrics
	gw      *gateway.PaymentGateway
	valid   auth.TokenValidator
	clock   *policytest.Clock
}

func newEnv(t *testing.T, limiter *gateway.AgentLimiter) *env {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	logger := zap.NewNop()
	store := policy.NewMemoStore(logger)
	clock := policytest.NewClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	admin := policy.NewAdmin(store, clock, policy.WindowCalendar, logger)
	authz := policy.NewAuthorizer(store, clock, policy.WindowCalendar, logger)

	journal := &recorder{}
	metrics := gateway.NewMetrics(prometheus.NewRegistry())
	gw := gateway.NewPaymentGateway(authz, journal, metrics, logger)
	validator := auth.NewBaseValidator(&key.PublicKey, "test")

	h := gateway.NewAgentHandler(admin, gw, metrics, logger)
	srv := httptest.NewServer(gateway.NewRouter(h, validator, limiter, logger))
	t.Cleanup(srv.Close)

	return &env{
		t:       t,
		server:  srv,
		issuer:  auth.NewIssuer(key, "test", time.Hour),
		journal: journal,
		metrics: metrics,
		gw:      gw,
		valid:   validator,
		clock:   clock,
	}
}

func (e *env) tokenFor(addr string) string {
	tok, err := e.issuer.Issue(addr)
	require.NoError(e.t, err)
	return tok.AccessToken
}

func (e *env) do(method, path, as string, body any) (int, map[string]any) {
	e.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(e.t, err)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokenFor(as))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *env) createPolicy(body map[string]any) map[string]any {
	e.t.Helper()
	code, resp := e.do(http.MethodPost, "/api/agents/create", policytest.Owner, body)
	require.Equal(e.t, http.StatusOK, code, resp)
	return resp["policy"].(map[string]any)
}

func execBody(amount string) map[string]any {
	return map[string]any{
		"ownerAddress":     policytest.Owner,
		"recipientAddress": policytest.Recipient,
		"tokenAddress":     token,
		"amount":           amount,
		"memo":             "invoice #42",
	}
}

func TestHTTPEndToEnd(t *testing.T) {
	e := newEnv(t, nil)

	p := e.createPolicy(map[string]any{
		"agentAddress":   policytest.Agent,
		"maxAmountPerTx": "100",
		"maxDailyAmount": "500",
	})
	assert.Equal(t, domain.NormalizeAddress(policytest.Owner), p["owner"])
	assert.Equal(t, true, p["isActive"])

	code, resp := e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("50"))
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, true, resp["approved"])
	tx := resp["transaction"].(map[string]any)
	assert.Equal(t, "invoice #42", tx["memo"])
	assert.Equal(t, "50", tx["amount"])
	limits := tx["agentPolicy"].(map[string]any)
	assert.Equal(t, "450", limits["remainingDaily"])
	assert.Equal(t, "100", limits["maxPerTx"])

	code, resp = e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("500"))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PER_TX_LIMIT_EXCEEDED", resp["kind"])
	assert.Equal(t, "Amount exceeds per-transaction limit", resp["error"])
	assert.Equal(t, "100", resp["limit"])

	// веб-клиент присылает и владельца, и агента
	code, resp = e.do(http.MethodPost, "/api/agents/revoke", policytest.Owner, map[string]any{
		"ownerAddress": policytest.Owner,
		"agentAddress": policytest.Agent,
	})
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, true, resp["success"])

	code, resp = e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("50"))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "AGENT_NOT_AUTHORIZED", resp["kind"])

	last := e.journal.last()
	assert.Equal(t, audit.OutcomeDenied, last.Outcome)
	assert.Equal(t, "http", last.Transport)
	assert.NotEmpty(t, last.TraceID)

	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.DecisionsTotal.WithLabelValues("APPROVED", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.DecisionsTotal.WithLabelValues("DENIED", "PER_TX_LIMIT_EXCEEDED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.PoliciesCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.PoliciesRevoked))
}

func TestHTTPStatusMapping(t *testing.T) {
	e := newEnv(t, nil)
	e.createPolicy(map[string]any{"agentAddress": policytest.Agent, "maxAmountPerTx": "10", "maxDailyAmount": "10"})

	tests := []struct {
		name   string
		method string
		path   string
		as     string
		body   any
		code   int
		kind   string
	}{
		{"no token", http.MethodPost, "/api/agents/execute", "", execBody("1"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad amount", http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("-1"), http.StatusBadRequest, "VALIDATION"},
		{"bad token address", http.MethodPost, "/api/agents/execute", policytest.Agent, map[string]any{
			"ownerAddress": policytest.Owner, "recipientAddress": policytest.Recipient, "tokenAddress": "usdc", "amount": "1",
		}, http.StatusBadRequest, "VALIDATION"},
		{"unknown field", http.MethodPost, "/api/agents/create", policytest.Owner, map[string]any{"agent": policytest.Agent}, http.StatusBadRequest, "VALIDATION"},
		{"create for someone else", http.MethodPost, "/api/agents/create", policytest.Owner, map[string]any{
			"ownerAddress": policytest.Other, "agentAddress": policytest.Agent, "maxAmountPerTx": "1", "maxDailyAmount": "1",
		}, http.StatusForbidden, "PRINCIPAL_MISMATCH"},
		{"list foreign owner", http.MethodGet, "/api/agents/" + policytest.Owner, policytest.Other, nil, http.StatusForbidden, "PRINCIPAL_MISMATCH"},
		{"revoke for someone else", http.MethodPost, "/api/agents/revoke", policytest.Owner, map[string]any{
			"ownerAddress": policytest.Other, "agentAddress": policytest.Agent,
		}, http.StatusForbidden, "PRINCIPAL_MISMATCH"},
		{"revoke unknown agent", http.MethodPost, "/api/agents/revoke", policytest.Owner, map[string]any{"agentAddress": policytest.Other}, http.StatusNotFound, "NOT_FOUND"},
		{"status for stranger", http.MethodGet, "/api/agents/policy/" + policytest.Owner + "/" + policytest.Agent, policytest.Other, nil, http.StatusForbidden, "PRINCIPAL_MISMATCH"},
		{"status unknown pair", http.MethodGet, "/api/agents/policy/" + policytest.Owner + "/" + policytest.Other, policytest.Owner, nil, http.StatusNotFound, "NOT_FOUND"},
		{"over per-tx limit", http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("10.5"), http.StatusForbidden, "PER_TX_LIMIT_EXCEEDED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := e.do(tt.method, tt.path, tt.as, tt.body)
			assert.Equal(t, tt.code, code, resp)
			assert.Equal(t, tt.kind, resp["kind"])
		})
	}
}

func TestHTTPListAndStatus(t *testing.T) {
	e := newEnv(t, nil)
	e.createPolicy(map[string]any{"agentAddress": policytest.Agent, "maxAmountPerTx": "100", "maxDailyAmount": "500", "durationDays": 1})
	e.createPolicy(map[string]any{"agentAddress": policytest.Other, "maxAmountPerTx": "1", "maxDailyAmount": "1"})

	code, resp := e.do(http.MethodGet, "/api/agents/"+policytest.Owner, policytest.Owner, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), resp["count"])

	code, _ = e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("75.5"))
	require.Equal(t, http.StatusOK, code)

	// агент тоже может смотреть статус своей политики
	code, resp = e.do(http.MethodGet, "/api/agents/policy/"+policytest.Owner+"/"+policytest.Agent, policytest.Agent, nil)
	require.Equal(t, http.StatusOK, code, resp)
	st := resp["status"].(map[string]any)
	assert.Equal(t, true, st["isActive"])
	assert.Equal(t, false, st["isExpired"])
	assert.Equal(t, "424.5", st["remainingDaily"])

	e.clock.Advance(24 * time.Hour)
	code, resp = e.do(http.MethodGet, "/api/agents/policy/"+policytest.Owner+"/"+policytest.Agent, policytest.Owner, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["status"].(map[string]any)["isExpired"])

	code, resp = e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("1"))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "POLICY_EXPIRED", resp["kind"])
	assert.NotEmpty(t, resp["expiredAt"])
}

func TestHTTPRateLimit(t *testing.T) {
	e := newEnv(t, gateway.NewAgentLimiter(0.001, 2))
	e.createPolicy(map[string]any{"agentAddress": policytest.Agent, "maxAmountPerTx": "100", "maxDailyAmount": "500"})

	for i := 0; i < 2; i++ {
		code, _ := e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("1"))
		require.Equal(t, http.StatusOK, code)
	}
	code, resp := e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody("1"))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", resp["kind"])

	// лимит на агента: другой агент не страдает
	code, resp = e.do(http.MethodPost, "/api/agents/execute", policytest.Other, execBody("1"))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "AGENT_NOT_AUTHORIZED", resp["kind"])
}

func TestHealthAndTraceID(t *testing.T) {
	e := newEnv(t, nil)

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace-ID", "trace-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-1", resp.Header.Get("X-Trace-ID"))
}

func TestExecuteJournalsValidationErrors(t *testing.T) {
	e := newEnv(t, nil)

	_, err := e.gw.Execute(context.Background(), domain.ExecuteRequest{
		OwnerAddress:     policytest.Owner,
		AgentAddress:     policytest.Agent,
		RecipientAddress: "0x12",
		TokenAddress:     token,
		Amount:           "1",
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "recipientAddress", vErr.Field)

	last := e.journal.last()
	assert.Equal(t, audit.OutcomeError, last.Outcome)
	assert.Equal(t, "internal", last.Transport)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.DecisionsTotal.WithLabelValues("ERROR", "VALIDATION")))
}

func TestMalformedAmountIsJournaled(t *testing.T) {
	e := newEnv(t, nil)
	e.createPolicy(map[string]any{"agentAddress": policytest.Agent, "maxAmountPerTx": "10", "maxDailyAmount": "10"})

	for _, amount := range []string{"abc", "0", "-5"} {
		code, resp := e.do(http.MethodPost, "/api/agents/execute", policytest.Agent, execBody(amount))
		require.Equal(t, http.StatusBadRequest, code, resp)
		assert.Equal(t, "amount", resp["field"])

		last := e.journal.last()
		assert.Equal(t, audit.OutcomeError, last.Outcome)
		assert.Equal(t, amount, last.Amount)
		assert.Equal(t, "http", last.Transport)
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(e.metrics.DecisionsTotal.WithLabelValues("ERROR", "VALIDATION")))
}
