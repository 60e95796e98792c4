package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/onesided/internal/runtime/buffer"
	configpkg "github.com/drblury/onesided/internal/runtime/config"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/handlers"
	"github.com/drblury/onesided/internal/runtime/ids"
	loggingpkg "github.com/drblury/onesided/internal/runtime/logging"
	"github.com/drblury/onesided/internal/runtime/recording"
	transportpkg "github.com/drblury/onesided/internal/runtime/transport"
	"github.com/drblury/onesided/transport"
)

// MessengerDependencies holds the optional collaborators of a Messenger.
// Leave fields nil to get the defaults derived from the configuration.
type MessengerDependencies struct {
	// Comm replaces the communicator built from the configuration. The caller
	// keeps ownership and closes it.
	Comm             transport.Comm
	TransportFactory transportpkg.Factory

	// Registry supplies the handlers. Every rank must register the same
	// handlers in the same order so keys agree.
	Registry *handlers.Registry

	// Discoverer replaces the strategy named by Config.Discovery.
	Discoverer Discoverer

	Hooks           ExchangeHooks
	Metrics         *ExchangeMetrics
	Recorder        recording.Recorder
	Tracer          trace.Tracer
	ErrorClassifier ErrorClassifier
}

// ExchangeResult summarizes one exchange pass.
type ExchangeResult struct {
	PassID   string `json:"pass_id"`
	Pass     uint64 `json:"pass"`
	Strategy string `json:"strategy"`
	// Posted is the number of messages this rank sent into the pass.
	Posted int `json:"posted"`
	// Received is the number of messages dispatched to handlers.
	Received  int            `json:"received"`
	ByHandler map[string]int `json:"by_handler"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Messenger is one rank's endpoint: it owns the window buffer, the handler
// registry and the discovery strategy. Post and Exchange are meant to be
// driven by one goroutine; the HTTP surfaces only read snapshots.
type Messenger struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	comm     transport.Comm
	ownsComm bool
	window   transport.Window
	guard    *Guard
	buf      *buffer.Buffer
	recv     *buffer.Buffer

	registry   *handlers.Registry
	discoverer Discoverer
	hooks      ExchangeHooks
	metrics    *ExchangeMetrics
	recorder   recording.Recorder
	ownsRec    bool
	tracer     trace.Tracer
	classifier ErrorClassifier

	// mu serializes every access to the window buffer by its owner.
	mu         sync.Mutex
	pass       uint64
	lastPassID string

	snapshot atomic.Pointer[bufferView]

	statsMu         sync.RWMutex
	stats           map[buffer.Key]*HandlerStats
	resourceTracker *resourceTracker

	httpServers   map[int]*httpEndpoint
	httpServersMu sync.Mutex

	closed atomic.Bool
}

// NewMessenger connects a rank to its world, allocates the window and
// prepares the discovery strategy. Allocation is collective, so every rank
// of the world must call NewMessenger.
func NewMessenger(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps MessengerDependencies) (*Messenger, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	c := conf.WithDefaults()
	if deps.Comm != nil {
		c.Rank, c.Size = deps.Comm.Rank(), deps.Comm.Size()
	}
	if err := c.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	discoverer := deps.Discoverer
	if discoverer == nil {
		d, err := NewDiscoverer(c.Discovery)
		if err != nil {
			return nil, err
		}
		discoverer = d
	}

	m := &Messenger{
		Conf:            &c,
		Logger:          loggingpkg.ForRank(log, c.Rank, c.Size),
		registry:        deps.Registry,
		discoverer:      discoverer,
		hooks:           deps.Hooks,
		metrics:         deps.Metrics,
		recorder:        deps.Recorder,
		tracer:          deps.Tracer,
		classifier:      deps.ErrorClassifier,
		stats:           make(map[buffer.Key]*HandlerStats),
		resourceTracker: newResourceTracker(),
	}
	if m.registry == nil {
		m.registry = handlers.NewRegistry()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	if m.classifier == nil {
		m.classifier = defaultErrorClassifier
	}

	m.Logger.Info("Creating messenger", loggingpkg.LogFields{
		"pubsub_system": c.PubSubSystem,
		"discovery":     discoverer.Name(),
		"config":        c,
	})

	if err := m.connect(ctx, deps); err != nil {
		return nil, err
	}
	if err := m.setupObservability(); err != nil {
		_ = m.Close()
		return nil, err
	}
	m.publishSnapshot()
	m.startHTTPServers()
	return m, nil
}

func (m *Messenger) connect(ctx context.Context, deps MessengerDependencies) error {
	m.comm = deps.Comm
	if m.comm == nil {
		factory := deps.TransportFactory
		if factory == nil {
			factory = transportpkg.DefaultFactory()
		}
		comm, err := factory.Build(ctx, m.Conf, loggingpkg.NewWatermillAdapter(m.Logger))
		if err != nil {
			return err
		}
		m.comm = comm
		m.ownsComm = true
	}

	window, err := m.comm.Allocate(ctx, m.Conf.WindowWords)
	if err != nil {
		m.closeComm()
		return errspkg.NewRankError(m.comm.Rank(), "allocate", err)
	}
	buf, err := buffer.Wrap(window.Local(), m.Conf.MaxMessages)
	if err != nil {
		m.closeComm()
		return err
	}
	buf.Init()
	m.window = window
	m.guard = NewGuard(window)
	m.buf = buf

	if _, ok := m.discoverer.(Broadcast); !ok {
		recv, err := buffer.New(m.Conf.ReceiveWords, m.Conf.MaxMessages)
		if err != nil {
			m.closeComm()
			return err
		}
		m.recv = recv
	}
	return nil
}

func (m *Messenger) setupObservability() error {
	if m.metrics == nil && m.Conf.MetricsEnabled {
		m.metrics = NewExchangeMetrics(RankRegisterer(nil, m.comm.Rank()))
	}
	if m.metrics != nil {
		if err := m.metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		m.hooks = m.hooks.Merge(MetricsHooks(m.metrics))
	}
	m.hooks = LoggingHooks(m.Logger).Merge(m.hooks)

	if m.recorder == nil && m.Conf.RecordingFile != "" {
		rec, err := recording.New(m.Conf.RecordingFile)
		if err != nil {
			return err
		}
		m.recorder = rec
		m.ownsRec = true
	}

	if m.Conf.MetricsEnabled && m.Conf.MetricsPort > 0 {
		m.registerMetricsEndpoint(m.Conf.MetricsPort)
	}
	m.registerWebUI()
	return nil
}

// Post encodes h's message into the window buffer, addressed to rank to.
// It returns the message id within the buffer.
func (m *Messenger) Post(h *handlers.Handler, to int) (int, error) {
	if h == nil {
		return 0, errspkg.ErrMessageRequired
	}
	if to < 0 || to >= m.comm.Size() {
		return 0, fmt.Errorf("%w: destination %d of %d", errspkg.ErrInvalidRank, to, m.comm.Size())
	}
	if registered, ok := m.registry.Lookup(h.Key()); !ok || registered != h {
		return 0, fmt.Errorf("%w: %s is not registered with this messenger", errspkg.ErrUnknownHandler, h.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guard.Open() {
		return 0, errspkg.ErrEpochOpen
	}
	id, err := h.Post(m.buf, m.comm.Rank(), to)
	m.publishSnapshotLocked()
	return id, err
}

// Exchange runs one discovery pass, dispatches every received message to its
// handler and clears the outgoing buffer. Collective.
func (m *Messenger) Exchange(ctx context.Context) (ExchangeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Conf.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Conf.OperationTimeout)
		defer cancel()
	}

	m.pass++
	result := ExchangeResult{
		PassID:    ids.CreateULID(),
		Pass:      m.pass,
		Strategy:  m.discoverer.Name(),
		Posted:    m.buf.CountFrom(m.comm.Rank()),
		ByHandler: make(map[string]int),
	}
	m.lastPassID = result.PassID

	ctx, span := m.tracer.Start(ctx, "onesided.exchange", trace.WithAttributes(
		attribute.String("pass_id", result.PassID),
		attribute.String("strategy", result.Strategy),
		attribute.Int("rank", m.comm.Rank()),
		attribute.Int("size", m.comm.Size()),
		attribute.Int("posted", result.Posted),
	))
	defer span.End()

	hctx := ExchangeContext{
		PassID:    result.PassID,
		Pass:      result.Pass,
		Rank:      m.comm.Rank(),
		Size:      m.comm.Size(),
		Strategy:  result.Strategy,
		Posted:    result.Posted,
		Context:   ctx,
		StartedAt: time.Now(),
	}
	m.hooks.start(hctx)
	m.recordBufferUsage()

	view, err := m.discoverLocked(ctx)
	if err == nil {
		err = m.readMessagesLocked(view, &result)
	}
	if err == nil {
		m.buf.Clear()
	}
	result.Duration = time.Since(hctx.StartedAt)
	m.publishSnapshotLocked()

	hctx.Duration = result.Duration
	hctx.Received = result.Received
	m.hooks.finish(hctx, err)
	m.recordPass(result, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(attribute.Int("received", result.Received))
	return result, nil
}

// Discover runs the discovery step of a pass without dispatching. Collective.
func (m *Messenger) Discover(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	view, err := m.discoverLocked(ctx)
	m.publishSnapshotLocked()
	return view, err
}

// ReadMessages dispatches every message of view to its handler. Dispatch
// continues past failing messages; their errors are joined.
func (m *Messenger) ReadMessages(view View) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readMessagesLocked(view, &ExchangeResult{PassID: m.lastPassID, ByHandler: make(map[string]int)})
}

func (m *Messenger) discoverLocked(ctx context.Context) (View, error) {
	return m.discoverer.Discover(ctx, &Exchange{
		Comm:    m.comm,
		Guard:   m.guard,
		Window:  m.buf,
		Receive: m.recv,
		Logger:  m.Logger,
		Tracer:  m.tracer,
	})
}

func (m *Messenger) readMessagesLocked(view View, result *ExchangeResult) error {
	var errs []error
	_ = view.Each(func(b *buffer.Buffer, id int) error {
		header, err := b.Header(id)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		start := time.Now()
		h, err := m.registry.Dispatch(b, id)
		elapsed := time.Since(start)

		name := fmt.Sprintf("key-%d", header.Key)
		decoded := ""
		if h != nil {
			name = h.Name()
			m.handlerStats(h.Key()).onReceived(header.Source, header.SizeWords()*buffer.WordSize, elapsed, err, m.classifier)
			if err == nil {
				decoded = h.Message().String()
			}
		}
		if m.metrics != nil {
			m.metrics.RecordDispatch(name, err)
		}
		if m.recorder != nil {
			rec := recording.Message{
				PassID:      result.PassID,
				Rank:        m.comm.Rank(),
				Source:      header.Source,
				Destination: header.Destination,
				Key:         int64(header.Key),
				Handler:     name,
				Words:       header.SizeWords(),
				Decoded:     decoded,
				RecordedAt:  time.Now(),
			}
			if err != nil {
				rec.Err = err.Error()
			}
			m.recorder.RecordMessage(rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("message %d from %d: %w", id, header.Source, err))
			return nil
		}
		result.Received++
		result.ByHandler[name]++
		return nil
	})
	return errors.Join(errs...)
}

func (m *Messenger) recordBufferUsage() {
	if m.metrics == nil {
		return
	}
	if next, err := m.buf.NextBegin(); err == nil {
		m.metrics.SetBufferUsage("window", next, m.buf.Capacity())
	}
	if m.recv != nil {
		if next, err := m.recv.NextBegin(); err == nil {
			m.metrics.SetBufferUsage("receive", next, m.recv.Capacity())
		}
	}
}

func (m *Messenger) recordPass(result ExchangeResult, err error) {
	if m.recorder == nil {
		return
	}
	p := recording.Pass{
		PassID:     result.PassID,
		Pass:       result.Pass,
		Rank:       m.comm.Rank(),
		Size:       m.comm.Size(),
		Strategy:   result.Strategy,
		Posted:     result.Posted,
		Received:   result.Received,
		Duration:   result.Duration,
		FinishedAt: time.Now(),
	}
	if err != nil {
		p.Err = err.Error()
	}
	m.recorder.RecordPass(p)
}

func (m *Messenger) handlerStats(key buffer.Key) *HandlerStats {
	m.statsMu.RLock()
	s, ok := m.stats[key]
	m.statsMu.RUnlock()
	if ok {
		return s
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if s, ok := m.stats[key]; ok {
		return s
	}
	s = newHandlerStats(m.resourceTracker)
	m.stats[key] = s
	return s
}

// Label returns the "[rank/size] " prefix of this rank.
func (m *Messenger) Label() string { return transport.Label(m.comm) }

// NextRank returns (rank+n) mod size.
func (m *Messenger) NextRank(n int) int { return transport.NextRank(m.comm, n) }

func (m *Messenger) Rank() int { return m.comm.Rank() }
func (m *Messenger) Size() int { return m.comm.Size() }

// Buffer returns the window buffer. Only the goroutine driving Post and
// Exchange may touch it.
func (m *Messenger) Buffer() *buffer.Buffer { return m.buf }

// ReceiveBuffer returns the remote-get receive buffer, or nil for the
// broadcast strategy.
func (m *Messenger) ReceiveBuffer() *buffer.Buffer { return m.recv }

func (m *Messenger) Registry() *handlers.Registry { return m.registry }
func (m *Messenger) Comm() transport.Comm         { return m.comm }
func (m *Messenger) Discoverer() Discoverer       { return m.discoverer }

// MessengerStats is a point-in-time view of a messenger. InboxPending is set
// only when the backend is a queue that can count undelivered envelopes.
type MessengerStats struct {
	Rank         int                      `json:"rank"`
	Size         int                      `json:"size"`
	Strategy     string                   `json:"strategy"`
	Passes       uint64                   `json:"passes"`
	LastPassID   string                   `json:"last_pass_id,omitempty"`
	LastPassAt   time.Time                `json:"last_pass_at,omitzero"`
	Pending      int                      `json:"pending"`
	Handlers     []HandlerInfo            `json:"handlers"`
	Envelopes    *EnvelopeCounters        `json:"envelopes,omitempty"`
	InboxPending *int64                   `json:"inbox_pending,omitempty"`
	Transport    *transport.Capabilities  `json:"transport,omitempty"`
	Exchange     *ExchangeMetricsSnapshot `json:"exchange,omitempty"`
	Resource     ResourceUsage            `json:"resource"`
}

// EnvelopeCounters reports the traffic of a message-bus communicator.
type EnvelopeCounters struct {
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
}

// Stats returns a snapshot of the handlers and passes of this messenger.
func (m *Messenger) Stats() MessengerStats {
	s := MessengerStats{
		Rank:     m.comm.Rank(),
		Size:     m.comm.Size(),
		Strategy: m.discoverer.Name(),
		Resource: m.resourceTracker.Snapshot(),
	}
	s.Resource.WindowBytes = len(m.buf.Bytes())
	if m.recv != nil {
		s.Resource.ReceiveBytes = len(m.recv.Bytes())
	}
	if v := m.snapshot.Load(); v != nil {
		s.Passes = v.Passes
		s.LastPassID = v.LastPassID
		if at, err := ids.Time(v.LastPassID); err == nil {
			s.LastPassAt = at
		}
		for _, h := range v.Window.Headers {
			if h.Source == s.Rank {
				s.Pending++
			}
		}
	}
	for _, h := range m.registry.Handlers() {
		info := HandlerInfo{
			Name:   h.Name(),
			Key:    int64(h.Key()),
			Fields: h.Message().Len(),
		}
		m.statsMu.RLock()
		if st, ok := m.stats[h.Key()]; ok {
			info.Stats = st.snapshot()
		}
		m.statsMu.RUnlock()
		if info.Stats == nil {
			info.Stats = newHandlerStats(nil).snapshot()
		}
		s.Handlers = append(s.Handlers, info)
	}
	if p, ok := m.comm.(transport.CapabilitiesProvider); ok {
		caps := p.Capabilities()
		s.Transport = &caps
	}
	if qi, ok := m.comm.(transport.InboxIntrospector); ok {
		n, counted, err := qi.PendingInbox()
		switch {
		case err != nil:
			m.Logger.Debug("inbox count failed", loggingpkg.LogFields{"error": err.Error()})
		case counted:
			s.InboxPending = &n
		}
	}
	if counter, ok := m.comm.(interface{ Counters() (int64, int64) }); ok {
		sent, received := counter.Counters()
		s.Envelopes = &EnvelopeCounters{Sent: sent, Received: received}
	}
	if m.metrics != nil {
		snap := m.metrics.GetSnapshot()
		s.Exchange = &snap
	}
	return s
}

// bufferView is the copy of the buffers served to readers outside the
// driving goroutine.
type bufferView struct {
	Passes     uint64           `json:"passes"`
	LastPassID string           `json:"last_pass_id,omitempty"`
	Window     buffer.Snapshot  `json:"window"`
	Receive    *buffer.Snapshot `json:"receive,omitempty"`
	Text       string           `json:"-"`
}

func (m *Messenger) publishSnapshot() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishSnapshotLocked()
}

func (m *Messenger) publishSnapshotLocked() {
	v := &bufferView{
		Passes:     m.pass,
		LastPassID: m.lastPassID,
		Window:     m.buf.Snapshot(),
		Text:       m.buf.HeadersString(),
	}
	if m.recv != nil {
		r := m.recv.Snapshot()
		v.Receive = &r
	}
	m.snapshot.Store(v)
}

// Close stops the HTTP servers, flushes the recorder and closes the
// communicator when the messenger built it.
func (m *Messenger) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	errs = append(errs, m.stopHTTPServers())
	if m.recorder != nil {
		if m.ownsRec {
			errs = append(errs, m.recorder.Close())
		} else {
			errs = append(errs, m.recorder.Flush())
		}
	}
	if m.ownsComm {
		errs = append(errs, m.comm.Close())
	}
	return errors.Join(errs...)
}

func (m *Messenger) closeComm() {
	if m.ownsComm && m.comm != nil {
		_ = m.comm.Close()
	}
}
