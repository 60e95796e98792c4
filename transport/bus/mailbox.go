package bus

import (
	"context"
	"sync"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

// mailKey identifies what a waiting operation expects. Delivery order is not
// guaranteed by every backend, so envelopes are matched by key rather than by
// arrival.
type mailKey struct {
	kind   kind
	source int
	tag    int64
	seq    uint64
	id     string
}

func keyOf(e envelope) mailKey {
	k := mailKey{kind: e.Kind, source: e.Source}
	switch e.Kind {
	case kindFence, kindBroadcast:
		k.seq = e.Seq
	case kindData:
		k.tag = e.Tag
		k.seq = e.Seq
	case kindGetReply:
		k.id = e.ID
	}
	return k
}

type mailbox struct {
	mu      sync.Mutex
	queues  map[mailKey][]envelope
	signals map[mailKey]chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		queues:  make(map[mailKey][]envelope),
		signals: make(map[mailKey]chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *mailbox) put(e envelope) {
	k := keyOf(e)
	m.mu.Lock()
	m.queues[k] = append(m.queues[k], e)
	sig, ok := m.signals[k]
	m.mu.Unlock()

	if ok {
		select {
		case sig <- struct{}{}:
		default:
		}
	}
}

// take blocks until an envelope for k is queued, ctx ends or the mailbox is
// closed.
func (m *mailbox) take(ctx context.Context, k mailKey) (envelope, error) {
	for {
		m.mu.Lock()
		if q := m.queues[k]; len(q) > 0 {
			e := q[0]
			if len(q) == 1 {
				delete(m.queues, k)
				delete(m.signals, k)
			} else {
				m.queues[k] = q[1:]
			}
			m.mu.Unlock()
			return e, nil
		}
		sig, ok := m.signals[k]
		if !ok {
			sig = make(chan struct{}, 1)
			m.signals[k] = sig
		}
		m.mu.Unlock()

		select {
		case <-sig:
		case <-ctx.Done():
			return envelope{}, ctx.Err()
		case <-m.done:
			return envelope{}, errspkg.ErrCommClosed
		}
	}
}

// pending reports the number of queued envelopes.
func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
