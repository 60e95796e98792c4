// Package bus implements transport.Comm on top of any Watermill publisher and
// subscriber pair. Every rank subscribes to its own inbox topic and a single
// dispatcher goroutine sorts incoming envelopes into a mailbox. Collectives
// are built from point-to-point envelopes stamped with a per-rank sequence
// number that advances identically on every rank.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/ids"
	"github.com/drblury/onesided/internal/runtime/metadata"
	"github.com/drblury/onesided/transport"
)

// DefaultHelloInterval is how often a starting rank repeats its hello until
// every peer has answered.
const DefaultHelloInterval = 100 * time.Millisecond

// Options configures a Comm.
type Options struct {
	World string
	Rank  int
	Size  int

	HelloInterval time.Duration
	Capabilities  transport.Capabilities
	Logger        watermill.LoggerAdapter
}

func (o Options) validate() error {
	if !transport.ValidWorld(o.World) {
		return fmt.Errorf("invalid world name %q", o.World)
	}
	if o.Size < 1 {
		return fmt.Errorf("%w: size %d", errspkg.ErrInvalidRank, o.Size)
	}
	if o.Rank < 0 || o.Rank >= o.Size {
		return fmt.Errorf("%w: rank %d of %d", errspkg.ErrInvalidRank, o.Rank, o.Size)
	}
	return nil
}

// Comm is a rank of a fixed group connected through a pub/sub backend.
type Comm struct {
	opts   Options
	ps     transport.PubSub
	logger watermill.LoggerAdapter
	box    *mailbox

	cancel context.CancelFunc
	wg     sync.WaitGroup

	peersMu sync.Mutex
	heard   []bool
	missing int
	ready   chan struct{}

	// seq counts collectives. Only the goroutine driving the Comm touches it.
	seq uint64

	winMu   sync.RWMutex
	windows map[uint64]*Window

	sent     atomic.Int64
	received atomic.Int64
	closed   atomic.Bool
}

var (
	_ transport.Comm                 = (*Comm)(nil)
	_ transport.CapabilitiesProvider = (*Comm)(nil)
	_ transport.InboxIntrospector    = (*Comm)(nil)
)

// New subscribes to the rank's inbox and blocks until every peer has been
// heard from. The Comm owns ps and closes it on Close.
func New(ctx context.Context, ps transport.PubSub, opts Options) (*Comm, error) {
	if err := opts.validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if ps.Publisher == nil || ps.Subscriber == nil {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("publisher and subscriber are required"))
	}
	if opts.HelloInterval <= 0 {
		opts.HelloInterval = DefaultHelloInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	logger = logger.With(watermill.LogFields{
		"world": opts.World,
		"rank":  opts.Rank,
		"size":  opts.Size,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Comm{
		opts:    opts,
		ps:      ps,
		logger:  logger,
		box:     newMailbox(),
		cancel:  cancel,
		heard:   make([]bool, opts.Size),
		missing: opts.Size - 1,
		ready:   make(chan struct{}),
		windows: make(map[uint64]*Window),
	}
	c.heard[opts.Rank] = true
	if c.missing == 0 {
		close(c.ready)
	}

	inbox, err := ps.Subscriber.Subscribe(runCtx, transport.InboxTopic(opts.World, opts.Rank))
	if err != nil {
		cancel()
		return nil, errspkg.NewRankError(opts.Rank, "subscribe", err)
	}

	c.wg.Add(1)
	go c.dispatch(inbox)

	if err := c.handshake(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Debug("bus ready", nil)
	return c, nil
}

func (c *Comm) Rank() int { return c.opts.Rank }
func (c *Comm) Size() int { return c.opts.Size }

// Capabilities reports the backend capabilities the Comm was built with.
func (c *Comm) Capabilities() transport.Capabilities { return c.opts.Capabilities }

// PendingInbox returns the envelopes the backend still holds for this rank's
// inbox topic, when the subscriber is a transport.QueueIntrospector.
func (c *Comm) PendingInbox() (int64, bool, error) {
	qi, ok := c.ps.Subscriber.(transport.QueueIntrospector)
	if !ok {
		return 0, false, nil
	}
	n, err := qi.GetPendingCount(transport.InboxTopic(c.opts.World, c.opts.Rank))
	return n, true, err
}

// Counters returns the number of envelopes published and consumed.
func (c *Comm) Counters() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

func (c *Comm) handshake(ctx context.Context) error {
	if c.opts.Size == 1 {
		return nil
	}
	ticker := time.NewTicker(c.opts.HelloInterval)
	defer ticker.Stop()

	for {
		for _, peer := range c.silentPeers() {
			// A peer that is not up yet may refuse the hello; keep trying.
			if err := c.publish(peer, envelope{Kind: kindHello}); err != nil {
				c.logger.Debug("hello failed", watermill.LogFields{"peer": peer, "error": err.Error()})
			}
		}
		select {
		case <-c.ready:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d peers: %w", c.missingPeers(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Comm) silentPeers() []int {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	var peers []int
	for rank, ok := range c.heard {
		if !ok {
			peers = append(peers, rank)
		}
	}
	return peers
}

func (c *Comm) missingPeers() int {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	return c.missing
}

func (c *Comm) markHeard(rank int) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	if c.heard[rank] {
		return
	}
	c.heard[rank] = true
	c.missing--
	if c.missing == 0 {
		close(c.ready)
	}
}

func (c *Comm) dispatch(inbox <-chan *message.Message) {
	defer c.wg.Done()
	for msg := range inbox {
		c.received.Add(1)
		// Ack first: synchronous backends hold the sender until the ack.
		msg.Ack()

		md := metadata.FromWatermill(msg.Metadata)
		if !md.AddressedTo(c.opts.World, c.opts.Rank) {
			c.logger.Error("dropping envelope", errspkg.ErrInvalidRank, md.LogFields())
			continue
		}
		e, err := unmarshalEnvelope(msg.Payload)
		if err != nil {
			c.logger.Error("dropping envelope", err, watermill.LogFields{"message_uuid": msg.UUID})
			continue
		}
		if e.Source < 0 || e.Source >= c.opts.Size {
			c.logger.Error("dropping envelope", errspkg.ErrInvalidRank, watermill.LogFields{"source": e.Source})
			continue
		}
		c.logger.Trace("envelope received", md.LogFields())
		c.markHeard(e.Source)

		switch e.Kind {
		case kindHello:
			c.reply(e.Source, envelope{Kind: kindWelcome})
		case kindWelcome:
		case kindGet:
			c.serveGet(e)
		default:
			c.box.put(e)
		}
	}
}

// reply publishes from a separate goroutine so the dispatcher never waits on
// a peer whose own dispatcher may be waiting on us. e is encoded before
// returning.
func (c *Comm) reply(dest int, e envelope) {
	msg, err := c.encode(dest, e)
	if err != nil {
		c.logger.Error("reply failed", err, watermill.LogFields{"peer": dest, "kind": e.Kind.String()})
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.send(dest, msg); err != nil && !c.closed.Load() {
			c.logger.Error("reply failed", err, watermill.LogFields{"peer": dest, "kind": e.Kind.String()})
		}
	}()
}

func (c *Comm) encode(dest int, e envelope) (*message.Message, error) {
	e.Source = c.opts.Rank
	payload := e.marshal()
	if !c.opts.Capabilities.Fits(len(payload)) {
		return nil, &errspkg.CapacityError{
			Need: len(payload),
			Have: int(c.opts.Capabilities.MaxMessageSize),
			Err:  errspkg.ErrMessageTooLarge,
		}
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata = metadata.ToWatermill(metadata.Envelope(c.opts.World, e.Kind.String(), c.opts.Rank, dest))
	return msg, nil
}

func (c *Comm) send(dest int, msg *message.Message) error {
	if c.closed.Load() {
		return errspkg.ErrCommClosed
	}
	if err := c.ps.Publisher.Publish(transport.InboxTopic(c.opts.World, dest), msg); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

func (c *Comm) publish(dest int, e envelope) error {
	if c.closed.Load() {
		return errspkg.ErrCommClosed
	}
	msg, err := c.encode(dest, e)
	if err != nil {
		return err
	}
	return c.send(dest, msg)
}

func (c *Comm) checkRank(rank int) error {
	if rank < 0 || rank >= c.opts.Size {
		return fmt.Errorf("%w: %d of %d", errspkg.ErrInvalidRank, rank, c.opts.Size)
	}
	return nil
}

func (c *Comm) nextSeq() uint64 {
	c.seq++
	return c.seq
}

// Send publishes data to dest. It returns once the backend accepted the
// envelope; data may be reused immediately.
func (c *Comm) Send(ctx context.Context, dest int, tag transport.Tag, data []byte) error {
	if err := c.checkRank(dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errspkg.NewRankError(dest, "send", err)
	}
	e := envelope{Kind: kindData, Tag: int64(tag), Seq: c.seq, Data: append([]byte{}, data...)}
	if dest == c.opts.Rank {
		e.Source = c.opts.Rank
		c.box.put(e)
		return nil
	}
	return errspkg.NewRankError(dest, "send", c.publish(dest, e))
}

// Recv waits for the envelope sent by source with tag since the last
// collective and copies it into dst.
func (c *Comm) Recv(ctx context.Context, source int, tag transport.Tag, dst []byte) error {
	if err := c.checkRank(source); err != nil {
		return err
	}
	e, err := c.box.take(ctx, mailKey{kind: kindData, source: source, tag: int64(tag), seq: c.seq})
	if err != nil {
		return errspkg.NewRankError(source, "recv", err)
	}
	if len(e.Data) != len(dst) {
		return errspkg.NewRankError(source, "recv",
			fmt.Errorf("%w: tag %d carries %d bytes, want %d", errspkg.ErrSizeMismatch, tag, len(e.Data), len(dst)))
	}
	copy(dst, e.Data)
	return nil
}

// Broadcast copies buf from root to every rank. Collective.
func (c *Comm) Broadcast(ctx context.Context, root int, buf []byte) error {
	if err := c.checkRank(root); err != nil {
		return err
	}
	seq := c.nextSeq()
	if root == c.opts.Rank {
		for peer := 0; peer < c.opts.Size; peer++ {
			if peer == root {
				continue
			}
			if err := c.publish(peer, envelope{Kind: kindBroadcast, Seq: seq, Data: buf}); err != nil {
				return errspkg.NewRankError(peer, "broadcast", err)
			}
		}
		return nil
	}

	e, err := c.box.take(ctx, mailKey{kind: kindBroadcast, source: root, seq: seq})
	if err != nil {
		return errspkg.NewRankError(root, "broadcast", err)
	}
	if len(e.Data) != len(buf) {
		return errspkg.NewRankError(root, "broadcast",
			fmt.Errorf("%w: %d bytes, want %d", errspkg.ErrSizeMismatch, len(e.Data), len(buf)))
	}
	copy(buf, e.Data)
	return nil
}

// barrier returns once every rank reached the same collective.
func (c *Comm) barrier(ctx context.Context, op string) error {
	seq := c.nextSeq()
	for peer := 0; peer < c.opts.Size; peer++ {
		if peer == c.opts.Rank {
			continue
		}
		if err := c.publish(peer, envelope{Kind: kindFence, Seq: seq}); err != nil {
			return errspkg.NewRankError(peer, op, err)
		}
	}
	for peer := 0; peer < c.opts.Size; peer++ {
		if peer == c.opts.Rank {
			continue
		}
		if _, err := c.box.take(ctx, mailKey{kind: kindFence, source: peer, seq: seq}); err != nil {
			return errspkg.NewRankError(peer, op, err)
		}
	}
	return nil
}

// Allocate registers a zeroed window of words displacement units and waits
// until every rank has done the same. Collective.
func (c *Comm) Allocate(ctx context.Context, words int) (transport.Window, error) {
	if words < 0 {
		return nil, fmt.Errorf("%w: negative window size %d", errspkg.ErrOutOfBounds, words)
	}
	w := &Window{
		comm:  c,
		id:    c.seq + 1,
		local: make([]byte, words*transport.DisplacementUnit),
	}
	c.winMu.Lock()
	if _, exists := c.windows[w.id]; exists {
		c.winMu.Unlock()
		return nil, errspkg.ErrWindowExists
	}
	c.windows[w.id] = w
	c.winMu.Unlock()

	if err := c.barrier(ctx, "allocate"); err != nil {
		return nil, err
	}
	c.logger.Debug("window allocated", watermill.LogFields{"window": w.id, "words": words})
	return w, nil
}

func (c *Comm) window(id uint64) (*Window, bool) {
	c.winMu.RLock()
	defer c.winMu.RUnlock()
	w, ok := c.windows[id]
	return w, ok
}

func (c *Comm) serveGet(req envelope) {
	reply := envelope{Kind: kindGetReply, ID: req.ID}
	w, ok := c.window(req.Seq)
	switch {
	case !ok:
		reply.Code = codeNoWindow
		reply.Err = fmt.Sprintf("window %d", req.Seq)
	case req.Offset < 0 || req.Length < 0 || req.Offset+req.Length > int64(len(w.local)):
		reply.Code = codeOutOfBounds
		reply.Err = fmt.Sprintf("bytes [%d, %d) of %d", req.Offset, req.Offset+req.Length, len(w.local))
	case !c.opts.Capabilities.Fits(int(req.Length) + envelopeOverhead):
		reply.Code = codeTooLarge
		reply.Err = fmt.Sprintf("%d bytes, transport limit %d", req.Length, c.opts.Capabilities.MaxMessageSize)
	default:
		reply.Data = w.local[req.Offset : req.Offset+req.Length]
	}
	c.reply(req.Source, reply)
}

// Close stops the dispatcher and closes the backend.
func (c *Comm) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.box.close()
	err := c.ps.Close()
	c.wg.Wait()
	if n := c.box.pending(); n > 0 {
		c.logger.Debug("closing with undelivered envelopes", watermill.LogFields{"pending": n})
	}
	return err
}
