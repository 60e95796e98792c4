package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	sampleCPUSeconds = "/sched/cpu:seconds"
	sampleHeapBytes  = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// resourceTracker samples coarse process usage for the handler stats.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: newResourceSamples(),
		numCPU:  float64(runtime.NumCPU()),
	}
}

func newResourceSamples() []metrics.Sample {
	return []metrics.Sample{
		{Name: sampleCPUSeconds},
		{Name: sampleHeapBytes},
		{Name: sampleGoroutines},
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = newResourceSamples()
	}
	if r.numCPU == 0 {
		r.numCPU = float64(runtime.NumCPU())
	}
	metrics.Read(r.samples)

	var usage ResourceUsage
	now := time.Now()
	for _, s := range r.samples {
		switch {
		case s.Name == sampleCPUSeconds && s.Value.Kind() == metrics.KindFloat64:
			cpu := s.Value.Float64()
			if !r.lastSample.IsZero() {
				if wall := now.Sub(r.lastSample).Seconds(); wall > 0 {
					usage.CPUPercent = (cpu - r.lastCPUSeconds) / wall / r.numCPU * 100
				}
			}
			r.lastCPUSeconds = cpu
		case s.Name == sampleHeapBytes && s.Value.Kind() == metrics.KindUint64:
			usage.MemoryBytes = s.Value.Uint64()
		case s.Name == sampleGoroutines && s.Value.Kind() == metrics.KindUint64:
			usage.Goroutines = int(s.Value.Uint64())
		}
	}
	r.lastSample = now

	if usage.Goroutines == 0 {
		usage.Goroutines = runtime.NumGoroutine()
	}
	return usage
}
