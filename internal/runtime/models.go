package runtime

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// HandlerStats aggregates the messages one handler received.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	MessagesReceived uint64    `json:"messages_received"`
	DecodeFailures   uint64    `json:"decode_failures"`
	BytesReceived    uint64    `json:"bytes_received"`
	TotalDecodeTime  int64     `json:"total_decode_time_ns"`
	LastReceivedAt   time.Time `json:"last_received_at"`

	// BySource counts received messages per sending rank.
	BySource map[string]uint64 `json:"by_source"`

	Latency    LatencyMetrics    `json:"latency"`
	Sizes      SizeMetrics       `json:"sizes"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	decodeTimes     *sampleRing      `json:"-"`
	messageSizes    *sampleRing      `json:"-"`
	rate            *rateWindow      `json:"-"`
	resourceSampler *resourceTracker `json:"-"`
}

// HandlerInfo describes a registered handler and what it received.
type HandlerInfo struct {
	Name   string        `json:"name"`
	Key    int64         `json:"key"`
	Fields int           `json:"fields"`
	Stats  *HandlerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// SizeMetrics summarizes recent payload sizes, which is what the window and
// header section have to be sized for.
type SizeMetrics struct {
	P50Bytes int64 `json:"p50_bytes"`
	P95Bytes int64 `json:"p95_bytes"`
	MaxBytes int64 `json:"max_bytes"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Decode    uint64 `json:"decode"`
	Transport uint64 `json:"transport"`
	Capacity  uint64 `json:"capacity"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
	// Bytes held by the exposed window and the receive buffer. Only set in
	// messenger stats.
	WindowBytes  int `json:"window_bytes,omitempty"`
	ReceiveBytes int `json:"receive_bytes,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone      ErrorCategory = "none"
	ErrorCategoryDecode    ErrorCategory = "decode"
	ErrorCategoryTransport ErrorCategory = "transport"
	ErrorCategoryCapacity  ErrorCategory = "capacity"
	ErrorCategoryOther     ErrorCategory = "other"
)

type ErrorClassifier func(error) ErrorCategory

func newHandlerStats(sampler *resourceTracker) *HandlerStats {
	return &HandlerStats{
		BySource:        make(map[string]uint64),
		decodeTimes:     newSampleRing(latencySampleSize),
		messageSizes:    newSampleRing(latencySampleSize),
		rate:            newRateWindow(throughputWindowSize),
		resourceSampler: sampler,
	}
}

// onReceived records one dispatched message of size bytes from source.
func (h *HandlerStats) onReceived(source, size int, duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.MessagesReceived++
	if err != nil {
		h.DecodeFailures++
	}
	h.BytesReceived += uint64(size)
	h.TotalDecodeTime += int64(duration)
	h.LastReceivedAt = now.UTC()
	if h.BySource == nil {
		h.BySource = make(map[string]uint64)
	}
	h.BySource[strconv.Itoa(source)]++

	h.decodeTimes.add(int64(duration))
	h.Latency = h.decodeTimes.latency()
	h.Latency.LastNs = int64(duration)
	h.messageSizes.add(int64(size))
	h.Sizes = h.messageSizes.sizes()
	h.rate.add(now)
	h.Throughput = h.rate.snapshot(now)
	h.Throughput.TotalMessages = h.MessagesReceived

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}
}

// snapshot returns a copy that is safe to encode while passes continue.
func (h *HandlerStats) snapshot() *HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &HandlerStats{
		MessagesReceived: h.MessagesReceived,
		DecodeFailures:   h.DecodeFailures,
		BytesReceived:    h.BytesReceived,
		TotalDecodeTime:  h.TotalDecodeTime,
		LastReceivedAt:   h.LastReceivedAt,
		BySource:         make(map[string]uint64, len(h.BySource)),
		Latency:          h.Latency,
		Sizes:            h.Sizes,
		Throughput:       h.Throughput,
		Errors:           h.Errors,
		Resource:         h.Resource,
	}
	for k, v := range h.BySource {
		c.BySource[k] = v
	}
	return c
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return jsoncodec.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryDecode:
		e.Decode++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryCapacity:
		e.Capacity++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// sampleRing keeps the most recent samples of a measurement.
type sampleRing struct {
	samples []int64
	next    int
	filled  int
}

func newSampleRing(size int) *sampleRing {
	if size <= 0 {
		size = latencySampleSize
	}
	return &sampleRing{samples: make([]int64, size)}
}

func (r *sampleRing) add(v int64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % len(r.samples)
	if r.filled < len(r.samples) {
		r.filled++
	}
}

// sorted returns the retained samples in ascending order.
func (r *sampleRing) sorted() []int64 {
	out := make([]int64, 0, r.filled)
	if r.filled < len(r.samples) {
		out = append(out, r.samples[:r.filled]...)
	} else {
		out = append(out, r.samples...)
	}
	slices.Sort(out)
	return out
}

func (r *sampleRing) latency() LatencyMetrics {
	s := r.sorted()
	if len(s) == 0 {
		return LatencyMetrics{}
	}
	var sum int64
	for _, v := range s {
		sum += v
	}
	return LatencyMetrics{
		AverageNs:  sum / int64(len(s)),
		P50Ns:      percentile(s, 0.50),
		P95Ns:      percentile(s, 0.95),
		P99Ns:      percentile(s, 0.99),
		SampleSize: len(s),
	}
}

func (r *sampleRing) sizes() SizeMetrics {
	s := r.sorted()
	if len(s) == 0 {
		return SizeMetrics{}
	}
	return SizeMetrics{
		P50Bytes: percentile(s, 0.50),
		P95Bytes: percentile(s, 0.95),
		MaxBytes: s[len(s)-1],
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + int64(float64(sorted[lo+1]-sorted[lo])*frac)
}

// rateWindow counts events in one-second buckets over a fixed horizon, so
// its memory does not grow with the receive rate.
type rateWindow struct {
	buckets []uint64
	seconds []int64
	first   time.Time
}

func newRateWindow(horizon time.Duration) *rateWindow {
	n := int(horizon / time.Second)
	if n < 1 {
		n = 1
	}
	return &rateWindow{buckets: make([]uint64, n), seconds: make([]int64, n)}
}

func (w *rateWindow) add(now time.Time) {
	if w.first.IsZero() {
		w.first = now
	}
	sec := now.Unix()
	i := int(sec % int64(len(w.buckets)))
	if w.seconds[i] != sec {
		w.seconds[i] = sec
		w.buckets[i] = 0
	}
	w.buckets[i]++
}

// snapshot reports the events of the last horizon seconds. Before a full
// horizon has passed the rate is taken over the time since the first event.
func (w *rateWindow) snapshot(now time.Time) ThroughputMetrics {
	var count uint64
	sec := now.Unix()
	for i, s := range w.seconds {
		if s > sec-int64(len(w.buckets)) && s <= sec {
			count += w.buckets[i]
		}
	}
	if count == 0 {
		return ThroughputMetrics{}
	}
	window := time.Duration(len(w.buckets)) * time.Second
	if elapsed := now.Sub(w.first) + time.Second; elapsed < window {
		window = elapsed
	}
	return ThroughputMetrics{
		CurrentRPS:       float64(count) / window.Seconds(),
		WindowSeconds:    window.Seconds(),
		MessagesInWindow: count,
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var rankErr *errspkg.RankError
	var capErr *errspkg.CapacityError
	switch {
	case errors.Is(err, errspkg.ErrShortBuffer), errors.Is(err, errspkg.ErrUnknownHandler):
		return ErrorCategoryDecode
	case errors.As(err, &capErr):
		return ErrorCategoryCapacity
	case errors.As(err, &rankErr), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTransport
	}
	return ErrorCategoryOther
}
