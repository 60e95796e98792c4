package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "bus"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})

	child := logger.With(LogFields{"child": "yes"})
	child.Info("child_info", nil)

	entries := base.all()
	require.Len(t, entries, 5)
	assert.Equal(t, "debug", entries[0].level)
	assert.Equal(t, "bus", entries[0].fields["component"])
	assert.Equal(t, "error", entries[3].level)
	assert.EqualError(t, entries[3].err, "boom")
	assert.Equal(t, "yes", entries[4].fields["child"])

	assert.Same(t, logger, logger.With(nil))
}

func TestForRank(t *testing.T) {
	base := &recordingWatermillLogger{}
	ForRank(NewWatermillServiceLogger(base), 2, 4).Info("hello", LogFields{"k": "v"})

	entries := base.all()
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].fields["rank"])
	assert.Equal(t, 4, entries[0].fields["size"])
	assert.Equal(t, "v", entries[0].fields["k"])
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestWatermillAdapter(t *testing.T) {
	t.Run("unwraps watermill loggers", func(t *testing.T) {
		base := &recordingWatermillLogger{}
		assert.Same(t, base, NewWatermillAdapter(NewWatermillServiceLogger(base)))
	})

	t.Run("delegates to other loggers", func(t *testing.T) {
		base := &recordingServiceLogger{}
		adapter := NewWatermillAdapter(base)

		adapter.Debug("dbg", watermill.LogFields{"k": "v"})
		adapter.Info("info", nil)
		adapter.Trace("trace", nil)
		adapter.Error("err", errors.New("boom"), nil)
		adapter.With(watermill.LogFields{"child": "yes"}).Info("child", nil)

		require.Len(t, base.entries, 4)
		assert.Equal(t, "v", base.entries[0].fields["k"])
		require.Len(t, base.children, 1)
		require.Len(t, base.children[0].entries, 1)
		assert.Equal(t, "yes", base.children[0].fields["child"])
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"trace", slog.LevelDebug - 4, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlogServiceLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(NewTextLogger(&buf, slog.LevelDebug))

	logger.With(LogFields{"rank": 1}).Info("exchange done", LogFields{"received": 3})
	logger.Trace("hidden", nil)

	out := buf.String()
	assert.Contains(t, out, "exchange done")
	assert.Contains(t, out, "rank=1")
	assert.Contains(t, out, "received=3")
	assert.NotContains(t, out, "hidden")
}

type logEntry struct {
	level  string
	msg    string
	err    error
	fields map[string]any
}

type recordingWatermillLogger struct {
	mu      sync.Mutex
	entries *[]logEntry
	fields  watermill.LogFields
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = &[]logEntry{}
	}
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, err: err, fields: r.fields.Add(fields)})
}

func (r *recordingWatermillLogger) all() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		return nil
	}
	return *r.entries
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}
func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}
func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}
func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}
func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = &[]logEntry{}
	}
	return &recordingWatermillLogger{entries: r.entries, fields: r.fields.Add(fields)}
}

type recordingServiceLogger struct {
	entries  []logEntry
	fields   LogFields
	children []*recordingServiceLogger
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	child := &recordingServiceLogger{fields: fields}
	r.children = append(r.children, child)
	return child
}
func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.entries = append(r.entries, logEntry{level: "debug", msg: msg, fields: fields})
}
func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.entries = append(r.entries, logEntry{level: "info", msg: msg, fields: fields})
}
func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.entries = append(r.entries, logEntry{level: "error", msg: msg, err: err, fields: fields})
}
func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.entries = append(r.entries, logEntry{level: "trace", msg: msg, fields: fields})
}
