// Package onesided passes typed messages between the ranks of a fixed group
// through remotely readable memory windows. A rank encodes outgoing messages
// into its own window with Messenger.Post; a collective Messenger.Exchange
// makes every message visible to its destination and decodes it into the
// variables bound to the handler registered under the message's key.
//
// Messages are described by binding variables to fields: Fixed for scalars
// and fixed-size structs, Slice for length-prefixed sequences and String for
// text. Every rank registers the same handlers in the same order so the keys
// assigned by the HandlerRegistry agree across the group.
//
// # Discovery
//
// Two strategies find the messages addressed to a rank:
//   - remote-get: read every peer's header section, then fetch the payloads
//     addressed to this rank. Two remote reads per peer and pass.
//   - broadcast: share all headers collectively, then move payloads point to
//     point. Afterwards every rank holds the complete header table.
//
// # Transports
//
// The RMA primitives (window allocation, remote get, fence, broadcast, send
// and receive) run over a message bus carried by any registered pub/sub
// transport:
//   - channel: in-memory Go channels, all ranks in one process
//   - kafka, rabbitmq, nats, jetstream, aws: broker-backed
//   - http: one listener per rank
//   - io, sqlite, postgres: shared file or database
//
// # Observability
//
// ExchangeHooks provide OnExchangeStart, OnExchangeDone and OnExchangeError
// callbacks. Prometheus metrics, OpenTelemetry spans, a JSON debug API and a
// SQLite recording of received messages are enabled through Config and
// MessengerDependencies.
package onesided
