/*
Package runtime implements one-sided message passing between the ranks of a
fixed group.

# Architecture Overview

Every rank exposes a window buffer to its peers. Outgoing messages are
encoded into that buffer with Post; a collective Exchange pass then makes
each message visible to its destination rank and dispatches it to the
handler registered under the message's key.

# Package Structure

## Messenger (messenger.go)

The Messenger wires together:
  - the communicator built by the transport factory
  - the window buffer and its epoch Guard
  - the handler registry
  - the discovery strategy
  - hooks, Prometheus metrics, tracing and the optional SQLite recorder
  - HTTP servers for metrics and the debug API

## Epochs (epoch.go)

OpenEpoch, Epoch.Close and WithEpoch bracket remote reads with collective
fences. A window has at most one open epoch.

## Discovery (discovery.go, remoteget.go, broadcast.go)

  - RemoteGet: read every peer's header section, then fetch the payloads
    addressed to this rank into a local receive buffer.
  - Broadcast: share every header table collectively, then move payloads
    point to point into the receiver's own window buffer.

## Stats & Monitoring (hooks.go, metrics.go, models.go, resources.go)

Per-pass hooks and counters, per-handler received-message statistics with
latency percentiles and error categories.

## Debug API (http.go, webui.go)

Read-only JSON endpoints for handlers, stats and the buffer header table.

# Sub-packages

  - buffer/: header table and payload layout of a message buffer
  - config/: rank configuration with validation
  - errors/: sentinel errors and error types
  - handlers/: handlers and the key registry
  - ids/: ULID generation for pass IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: envelope metadata keys
  - recording/: SQLite recording of passes
  - transport/: factory building a communicator from a configuration
  - wire/: typed fields and message encoding

# Usage Example

	var x int64
	reg := handlers.NewRegistry()
	h := reg.MustRegister("x", wire.NewMessage(wire.Fixed(&x)))

	m, err := runtime.NewMessenger(ctx, cfg, logger, runtime.MessengerDependencies{Registry: reg})
	if err != nil {
		return err
	}
	defer m.Close()

	x = 42
	if _, err := m.Post(h, m.NextRank(1)); err != nil {
		return err
	}
	if _, err := m.Exchange(ctx); err != nil {
		return err
	}
*/
package runtime
