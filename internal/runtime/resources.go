package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

type ResourceUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	HeapBytes  uint64  `json:"heap_bytes"`
	Goroutines int     `json:"goroutines"`
}

const (
	cpuMetric  = "/sched/cpu:seconds"
	heapMetric = "/memory/classes/heap/objects:bytes"
)

// resourceSampler reads process usage from runtime/metrics. CPU is reported as
// the share of all cores used since the previous snapshot.
type resourceSampler struct {
	mu       sync.Mutex
	samples  []metrics.Sample
	lastCPU  float64
	lastTime time.Time
	cores    float64
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		samples: []metrics.Sample{{Name: cpuMetric}, {Name: heapMetric}},
		cores:   float64(runtime.NumCPU()),
	}
}

func (r *resourceSampler) snapshot() ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	if heap := r.samples[1].Value; heap.Kind() == metrics.KindUint64 {
		usage.HeapBytes = heap.Uint64()
	}

	now := time.Now()
	if cpu := r.samples[0].Value; cpu.Kind() == metrics.KindFloat64 {
		seconds := cpu.Float64()
		if !r.lastTime.IsZero() {
			if wall := now.Sub(r.lastTime).Seconds(); wall > 0 && r.cores > 0 {
				usage.CPUPercent = (seconds - r.lastCPU) / wall / r.cores * 100
			}
		}
		r.lastCPU = seconds
	}
	r.lastTime = now
	return usage
}
