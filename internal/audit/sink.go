package audit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// LogSink пишет события в zap. Для dev-стенда и как fallback без БД.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("decisions")}
}

func (s *LogSink) WriteBatch(_ context.Context, events []DecisionEvent) error {
	for _, e := range events {
		s.logger.Info("payment decision",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("transport", e.Transport),
			zap.String("owner", e.Owner),
			zap.String("agent", e.Agent),
			zap.String("recipient", e.Recipient),
			zap.String("token", e.Token),
			zap.String("amount", e.Amount),
			zap.String("policy_id", e.PolicyID),
			zap.String("outcome", string(e.Outcome)),
			zap.String("denial_kind", e.DenialKind),
			zap.String("reason", e.Reason),
			zap.Time("timestamp", e.Timestamp),
			zap.Int64("duration_ms", e.DurationMs))
	}
	return nil
}

type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold — после скольких ошибок подряд размыкаемся
	FailureThreshold uint32
}

// BreakerSink защищает журнал от деградировавшей БД: пока предохранитель разомкнут,
// пачки сразу уходят в fallback, а не висят на таймаутах.
type BreakerSink struct {
	next     Sink
	fallback Sink
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBreakerSink state — gauge состояния (0 closed, 1 open, 0.5 half-open), может быть nil.
func NewBreakerSink(next, fallback Sink, cfg BreakerConfig, state prometheus.Gauge, logger *zap.Logger) *BreakerSink {
	logger = logger.Named("journal-breaker")
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "journal-sink",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if state != nil {
				state.Set(breakerValue(to))
			}
		},
	})

	return &BreakerSink{next: next, fallback: fallback, cb: cb, logger: logger}
}

func (s *BreakerSink) WriteBatch(ctx context.Context, events []DecisionEvent) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.WriteBatch(ctx, events)
	})
	if err == nil {
		return nil
	}
	if s.fallback == nil {
		return err
	}
	s.logger.Warn("journal sink unavailable, using fallback", zap.Int("events", len(events)), zap.Error(err))
	return s.fallback.WriteBatch(ctx, events)
}

func (s *BreakerSink) State() gobreaker.State {
	return s.cb.State()
}

func breakerValue(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
