package runtime

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// ExchangeMetrics tracks exchange pass statistics per discovery strategy.
type ExchangeMetrics struct {
	mu sync.RWMutex

	strategies map[string]*StrategyMetrics

	// Prometheus collectors
	passesTotal      *prometheus.CounterVec
	postedTotal      *prometheus.CounterVec
	receivedTotal    *prometheus.CounterVec
	dispatchedTotal  *prometheus.CounterVec
	passSeconds      *prometheus.HistogramVec
	bufferUsedWords  *prometheus.GaugeVec
	bufferTotalWords *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// StrategyMetrics holds the counters of one discovery strategy.
type StrategyMetrics struct {
	Passes           uint64    `json:"passes"`
	Failures         uint64    `json:"failures"`
	MessagesPosted   uint64    `json:"messages_posted"`
	MessagesReceived uint64    `json:"messages_received"`
	AvgDurationMs    float64   `json:"avg_duration_ms"`
	LastError        string    `json:"last_error,omitempty"`
	LastPassAt       time.Time `json:"last_pass_at"`
}

// ExchangeMetricsSnapshot provides a point-in-time view of exchange metrics.
type ExchangeMetricsSnapshot struct {
	TotalPasses   uint64                      `json:"total_passes"`
	TotalFailures uint64                      `json:"total_failures"`
	TotalReceived uint64                      `json:"total_received"`
	Strategies    map[string]*StrategyMetrics `json:"strategies"`
	CollectedAt   time.Time                   `json:"collected_at"`
}

func newExchangeCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onesided",
			Subsystem: "exchange",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newExchangeGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "onesided",
			Subsystem: "buffer",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewExchangeMetrics creates a new exchange metrics collector.
func NewExchangeMetrics(registerer prometheus.Registerer) *ExchangeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ExchangeMetrics{
		strategies:      make(map[string]*StrategyMetrics),
		registerer:      registerer,
		passesTotal:     newExchangeCounterVec("passes_total", "Total number of exchange passes", []string{"strategy", "outcome"}),
		postedTotal:     newExchangeCounterVec("messages_posted_total", "Messages posted into the window before a pass", []string{"strategy"}),
		receivedTotal:   newExchangeCounterVec("messages_received_total", "Messages delivered to this rank by a pass", []string{"strategy"}),
		dispatchedTotal: newExchangeCounterVec("messages_dispatched_total", "Received messages decoded per handler", []string{"handler", "outcome"}),
		passSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "onesided",
				Subsystem: "exchange",
				Name:      "pass_duration_seconds",
				Help:      "Duration of exchange passes",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"strategy"},
		),
		bufferUsedWords:  newExchangeGaugeVec("used_words", "Words in use before the last pass", []string{"buffer"}),
		bufferTotalWords: newExchangeGaugeVec("capacity_words", "Buffer capacity in words", []string{"buffer"}),
	}
}

// RankRegisterer labels every collector registered through it with rank, so
// the ranks of one process export side by side on a shared registry.
func RankRegisterer(registerer prometheus.Registerer, rank int) prometheus.Registerer {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return prometheus.WrapRegistererWith(prometheus.Labels{"rank": strconv.Itoa(rank)}, registerer)
}

// Register registers the Prometheus collectors. Safe to call multiple times.
// When an identical collector is already registered, it is adopted and this
// instance records into it.
func (m *ExchangeMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []**prometheus.CounterVec{&m.passesTotal, &m.postedTotal, &m.receivedTotal, &m.dispatchedTotal} {
		if err := adopt(m.registerer, c); err != nil {
			return err
		}
	}
	if err := adopt(m.registerer, &m.passSeconds); err != nil {
		return err
	}
	for _, c := range []**prometheus.GaugeVec{&m.bufferUsedWords, &m.bufferTotalWords} {
		if err := adopt(m.registerer, c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// adopt registers *c, replacing it with the collector already registered
// under the same descriptor.
func adopt[C prometheus.Collector](registerer prometheus.Registerer, c *C) error {
	err := registerer.Register(*c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			*c = existing
		}
		return nil
	}
	return err
}

// RecordPass records one exchange pass. A non-nil err counts as a failure.
func (m *ExchangeMetrics) RecordPass(strategy string, posted, received int, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateStrategy(strategy)
	s.Passes++
	s.MessagesPosted += uint64(posted)
	s.MessagesReceived += uint64(received)
	s.LastPassAt = time.Now()
	ms := float64(d) / float64(time.Millisecond)
	s.AvgDurationMs = ((s.AvgDurationMs * float64(s.Passes-1)) + ms) / float64(s.Passes)

	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		s.Failures++
		s.LastError = err.Error()
	}

	m.passesTotal.WithLabelValues(strategy, outcome).Inc()
	m.postedTotal.WithLabelValues(strategy).Add(float64(posted))
	m.receivedTotal.WithLabelValues(strategy).Add(float64(received))
	m.passSeconds.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordDispatch records one received message handed to handler.
func (m *ExchangeMetrics) RecordDispatch(handler string, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.dispatchedTotal.WithLabelValues(handler, outcome).Inc()
}

// SetBufferUsage publishes the fill level of a buffer ("window" or "receive").
func (m *ExchangeMetrics) SetBufferUsage(name string, used, capacity int) {
	m.bufferUsedWords.WithLabelValues(name).Set(float64(used))
	m.bufferTotalWords.WithLabelValues(name).Set(float64(capacity))
}

// GetSnapshot returns a point-in-time snapshot of all exchange metrics.
func (m *ExchangeMetrics) GetSnapshot() ExchangeMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := ExchangeMetricsSnapshot{
		Strategies:  make(map[string]*StrategyMetrics, len(m.strategies)),
		CollectedAt: time.Now(),
	}
	for name, s := range m.strategies {
		c := *s
		snapshot.Strategies[name] = &c
		snapshot.TotalPasses += s.Passes
		snapshot.TotalFailures += s.Failures
		snapshot.TotalReceived += s.MessagesReceived
	}
	return snapshot
}

// GetStrategyMetrics returns a copy of the metrics of one strategy, or nil.
func (m *ExchangeMetrics) GetStrategyMetrics(strategy string) *StrategyMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.strategies[strategy]; ok {
		c := *s
		return &c
	}
	return nil
}

func (m *ExchangeMetrics) getOrCreateStrategy(strategy string) *StrategyMetrics {
	if s, ok := m.strategies[strategy]; ok {
		return s
	}
	s := &StrategyMetrics{}
	m.strategies[strategy] = s
	return s
}

// Reset resets all metrics (useful for testing).
func (m *ExchangeMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strategies = make(map[string]*StrategyMetrics)
	m.passesTotal.Reset()
	m.postedTotal.Reset()
	m.receivedTotal.Reset()
	m.dispatchedTotal.Reset()
	m.passSeconds.Reset()
	m.bufferUsedWords.Reset()
	m.bufferTotalWords.Reset()
}
