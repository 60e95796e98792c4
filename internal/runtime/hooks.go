package runtime

import (
	"context"
	"time"

	"github.com/drblury/onesided/internal/runtime/logging"
)

// ExchangeContext provides information about one exchange pass to hooks.
type ExchangeContext struct {
	// PassID identifies the pass in logs, traces and recordings.
	PassID string
	// Pass counts the passes of the messenger, starting at 1.
	Pass uint64
	Rank int
	Size int
	// Strategy is the discovery strategy name.
	Strategy string
	// Posted is the number of messages this rank posted for the pass.
	Posted int
	// Received is the number of messages delivered to this rank (only set in
	// OnExchangeDone).
	Received int
	// Context is the context of the pass.
	Context context.Context
	// StartedAt is when the pass started.
	StartedAt time.Time
	// Duration is how long the pass took (only set in OnExchangeDone and
	// OnExchangeError).
	Duration time.Duration
}

// ExchangeHooks defines callbacks for the exchange lifecycle.
// All hooks are optional - nil hooks are simply not called.
type ExchangeHooks struct {
	// OnExchangeStart is called before discovery begins.
	OnExchangeStart func(ctx ExchangeContext)

	// OnExchangeDone is called after every received message was dispatched.
	OnExchangeDone func(ctx ExchangeContext)

	// OnExchangeError is called when discovery or dispatch fails.
	OnExchangeError func(ctx ExchangeContext, err error)
}

// Merge combines two ExchangeHooks, creating a new ExchangeHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h ExchangeHooks) Merge(other ExchangeHooks) ExchangeHooks {
	return ExchangeHooks{
		OnExchangeStart: chainHooks(h.OnExchangeStart, other.OnExchangeStart),
		OnExchangeDone:  chainHooks(h.OnExchangeDone, other.OnExchangeDone),
		OnExchangeError: chainErrorHooks(h.OnExchangeError, other.OnExchangeError),
	}
}

func chainHooks(a, b func(ExchangeContext)) func(ExchangeContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ExchangeContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(ExchangeContext, error)) func(ExchangeContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ExchangeContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h ExchangeHooks) start(ctx ExchangeContext) {
	if h.OnExchangeStart != nil {
		h.OnExchangeStart(ctx)
	}
}

func (h ExchangeHooks) finish(ctx ExchangeContext, err error) {
	if err != nil {
		if h.OnExchangeError != nil {
			h.OnExchangeError(ctx, err)
		}
		return
	}
	if h.OnExchangeDone != nil {
		h.OnExchangeDone(ctx)
	}
}

// LoggingHooks returns pre-built hooks that log the exchange lifecycle.
func LoggingHooks(logger logging.ServiceLogger) ExchangeHooks {
	return ExchangeHooks{
		OnExchangeStart: func(ctx ExchangeContext) {
			logger.Debug("Exchange started", logging.LogFields{
				"pass_id":  ctx.PassID,
				"strategy": ctx.Strategy,
				"posted":   ctx.Posted,
			})
		},
		OnExchangeDone: func(ctx ExchangeContext) {
			logger.Debug("Exchange completed", logging.LogFields{
				"pass_id":     ctx.PassID,
				"strategy":    ctx.Strategy,
				"received":    ctx.Received,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnExchangeError: func(ctx ExchangeContext, err error) {
			logger.Error("Exchange failed", err, logging.LogFields{
				"pass_id":     ctx.PassID,
				"strategy":    ctx.Strategy,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that feed m.
func MetricsHooks(m *ExchangeMetrics) ExchangeHooks {
	return ExchangeHooks{
		OnExchangeDone: func(ctx ExchangeContext) {
			m.RecordPass(ctx.Strategy, ctx.Posted, ctx.Received, ctx.Duration, nil)
		},
		OnExchangeError: func(ctx ExchangeContext, err error) {
			m.RecordPass(ctx.Strategy, ctx.Posted, 0, ctx.Duration, err)
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on failed passes.
func AlertingHooks(alertFunc func(ctx ExchangeContext, err error)) ExchangeHooks {
	return ExchangeHooks{
		OnExchangeError: alertFunc,
	}
}
