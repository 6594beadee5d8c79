package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const (
	traceIDKey   ctxKey = "trace_id"
	transportKey ctxKey = "transport"
)

const fallbackTraceID = "00000000-0000-0000-0000-000000000000"

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ID от агента или прокси, иначе генерируем
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := WithTraceID(r.Context(), traceID)
		ctx = withTransport(ctx, "http")

		// Клиент тоже должен знать ID своего запроса
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext помогает безопасно достать ID в любом месте кода
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return fallbackTraceID
}

func withTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

func transportFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(transportKey).(string); ok {
		return t
	}
	return "internal"
}

// AgentLimiter — token bucket на каждого агента. Один шумный агент не выедает
// хранилище у остальных. Неиспользуемые бакеты вычищаются по idleTTL.
type AgentLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*agentBucket
	sweptAt time.Time
}

type agentBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAgentLimiter rps <= 0 — лимитер выключен (nil).
func NewAgentLimiter(rps float64, burst int) *AgentLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &AgentLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		buckets: make(map[string]*agentBucket),
		sweptAt: time.Now(),
	}
}

// Allow nil-лимитер пропускает всех.
func (l *AgentLimiter) Allow(agent string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweptAt) > l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.sweptAt = now
	}

	b, ok := l.buckets[agent]
	if !ok {
		b = &agentBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[agent] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimitMiddleware ставится после auth: ключ — адрес из токена.
func RateLimitMiddleware(l *AgentLimiter, metrics *Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent, _ := auth.PrincipalFromContext(r.Context())
			if !l.Allow(agent) {
				logger.Warn("rate limited", zap.String("agent", agent), zap.String("trace_id", TraceIDFromContext(r.Context())))
				if metrics != nil {
					metrics.RateLimited.WithLabelValues("http").Inc()
				}
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded", "kind": "RATE_LIMITED"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
