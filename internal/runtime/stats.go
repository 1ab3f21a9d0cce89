package runtime

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
	"github.com/drblury/syncflow/internal/runtime/metadata"
)

const latencySampleSize = 256

// HandlerInfo describes one registered router handler for the ops API.
type HandlerInfo struct {
	Name         string        `json:"name"`
	ConsumeQueue string        `json:"consume_queue"`
	Stats        *HandlerStats `json:"stats"`
}

// HandlerStats accumulates what a handler has processed since start.
type HandlerStats struct {
	mu sync.Mutex

	MessagesProcessed   uint64            `json:"messages_processed"`
	MessagesFailed      uint64            `json:"messages_failed"`
	TotalProcessingTime int64             `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time         `json:"last_processed_at"`
	InFlight            uint64            `json:"in_flight"`
	ByKind              map[string]uint64 `json:"by_kind"`
	Latency             LatencyMetrics    `json:"latency"`
	Errors              ErrorBreakdown    `json:"errors"`
	Resource            ResourceUsage     `json:"resource"`

	latency  *latencyWindow
	resource *resourceSampler
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

func newHandlerStats(sampler *resourceSampler) *HandlerStats {
	return &HandlerStats{
		ByKind:   make(map[string]uint64),
		latency:  newLatencyWindow(latencySampleSize),
		resource: sampler,
	}
}

func (h *HandlerStats) start() {
	h.mu.Lock()
	h.InFlight++
	h.mu.Unlock()
}

func (h *HandlerStats) finish(msg *message.Message, d time.Duration, err error, classify ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.InFlight > 0 {
		h.InFlight--
	}
	h.MessagesProcessed++
	h.TotalProcessingTime += int64(d)
	h.LastProcessedAt = time.Now().UTC()

	if kind := kindLabel(msg); kind != "" {
		h.ByKind[kind]++
	}

	h.latency.add(d)
	h.Latency = h.latency.snapshot()
	h.Latency.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)

	if err != nil {
		h.MessagesFailed++
		if classify == nil {
			classify = DefaultErrorClassifier
		}
		h.Errors.record(classify(err), err)
	}
	if h.resource != nil {
		h.Resource = h.resource.snapshot()
	}
}

func kindLabel(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	kind, ok := metadata.FromWatermill(msg.Metadata).Kind()
	if !ok {
		return ""
	}
	return kind.String()
}

// MarshalJSON snapshots the stats under the lock.
func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type plain struct {
		MessagesProcessed   uint64            `json:"messages_processed"`
		MessagesFailed      uint64            `json:"messages_failed"`
		TotalProcessingTime int64             `json:"total_processing_time_ns"`
		LastProcessedAt     time.Time         `json:"last_processed_at"`
		InFlight            uint64            `json:"in_flight"`
		ByKind              map[string]uint64 `json:"by_kind"`
		Latency             LatencyMetrics    `json:"latency"`
		Errors              ErrorBreakdown    `json:"errors"`
		Resource            ResourceUsage     `json:"resource"`
	}
	return jsoncodec.Marshal(plain{
		MessagesProcessed:   h.MessagesProcessed,
		MessagesFailed:      h.MessagesFailed,
		TotalProcessingTime: h.TotalProcessingTime,
		LastProcessedAt:     h.LastProcessedAt,
		InFlight:            h.InFlight,
		ByKind:              h.ByKind,
		Latency:             h.Latency,
		Errors:              h.Errors,
		Resource:            h.Resource,
	})
}

func (e *ErrorBreakdown) record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

// latencyWindow is a ring of the most recent durations.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]int64, size)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = int64(d)
	w.last = int64(d)
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
}

func (w *latencyWindow) snapshot() LatencyMetrics {
	out := LatencyMetrics{LastNs: w.last, SampleSize: w.filled}
	if w.filled == 0 {
		return out
	}
	sorted := slices.Clone(w.samples[:w.filled])
	slices.Sort(sorted)
	out.P50Ns = percentile(sorted, 0.50)
	out.P95Ns = percentile(sorted, 0.95)
	out.P99Ns = percentile(sorted, 0.99)
	return out
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []int64, q float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}
