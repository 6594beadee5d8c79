package audit

/*
Журнал решений шлюза.

- Non-blocking: Record никогда не ждет запись в хранилище. Hot Path авторизации
  не зависит от задержек БД; при переполнении буфера событие уходит в zap и теряется.
- Batching: события копятся в памяти и пишутся пачкой по таймеру или по размеру пачки.
- Drain: Stop закрывает вход, воркер вычитывает остаток канала и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Sink определяет, куда физически уходят события.
type Sink interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []DecisionEvent) error
}

// Recorder — то, что нужно шлюзу от журнала.
type Recorder interface {
	Record(event DecisionEvent)
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	return c
}

type Journal struct {
	ch     chan DecisionEvent
	sink   Sink
	cfg    Config
	fill   prometheus.Gauge
	logger *zap.Logger
	wg     sync.WaitGroup

	// mu защищает закрытие канала от параллельных Record
	mu     sync.RWMutex
	closed bool
}

var _ Recorder = (*Journal)(nil)

// NewJournal fill — gauge заполненности буфера, может быть nil.
func NewJournal(sink Sink, cfg Config, fill prometheus.Gauge, logger *zap.Logger) *Journal {
	cfg = cfg.withDefaults()
	return &Journal{
		ch:     make(chan DecisionEvent, cfg.BufferSize),
		sink:   sink,
		cfg:    cfg,
		fill:   fill,
		logger: logger.Named("journal"),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет. Повторный вызов безопасен.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.logger.Info("stopping journal: closing channel and flushing buffer")
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Record(event DecisionEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("decision event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем авторизацию
	select {
	case j.ch <- event:
		j.observeFill()
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("agent", event.Agent),
			zap.String("trace_id", event.TraceID),
			zap.String("outcome", string(event.Outcome)),
			zap.String("policy_id", event.PolicyID))
	}
}

func (j *Journal) observeFill() {
	if j.fill != nil {
		j.fill.Set(float64(len(j.ch)))
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]DecisionEvent, 0, j.cfg.BatchSize)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush уже отменен
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.sink.WriteBatch(ctx, batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = make([]DecisionEvent, 0, j.cfg.BatchSize)
		j.observeFill()
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
