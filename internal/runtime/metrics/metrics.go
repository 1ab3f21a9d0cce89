// Package metrics holds the Prometheus collectors of the change pipeline.
// A nil *Recorder is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/syncflow/internal/entity"
)

const namespace = "syncflow"

// Outcome labels shared by the publisher and dispatcher counters.
const (
	OutcomePublished    = "published"
	OutcomeApplied      = "applied"
	OutcomeSkipped      = "skipped"
	OutcomeInvalid      = "invalid"
	OutcomeFailed       = "failed"
	OutcomeDeadLettered = "dead_lettered"
)

// Recorder groups the pipeline collectors.
type Recorder struct {
	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer

	notifications    *prometheus.CounterVec
	messages         *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	identityRequests *prometheus.CounterVec
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewRecorder builds the collectors. Call Register to expose them.
func NewRecorder(registerer prometheus.Registerer) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Recorder{
		registerer:       registerer,
		notifications:    newCounterVec("publisher", "notifications_total", "Change notifications handled by the publisher, by outcome.", "entity_type", "operation", "outcome"),
		messages:         newCounterVec("dispatcher", "messages_total", "Envelopes handled by the consumer dispatcher, by outcome.", "entity_type", "operation", "outcome"),
		identityRequests: newCounterVec("identity", "requests_total", "Calls to the identity mapping service.", "operation", "result"),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// Register adds the collectors to the registerer. Calling it again is a no-op,
// and collectors already registered by another Recorder are reused.
func (r *Recorder) Register() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered {
		return nil
	}

	if err := register(r.registerer, &r.notifications); err != nil {
		return err
	}
	if err := register(r.registerer, &r.messages); err != nil {
		return err
	}
	if err := register(r.registerer, &r.identityRequests); err != nil {
		return err
	}
	if err := register(r.registerer, &r.stageDuration); err != nil {
		return err
	}
	r.registered = true
	return nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			*c = existing
			return nil
		}
	}
	return err
}

// Notification counts one publisher outcome.
func (r *Recorder) Notification(kind entity.Kind, outcome string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(string(kind.Type), string(kind.Operation), outcome).Inc()
}

// Message counts one dispatcher outcome.
func (r *Recorder) Message(kind entity.Kind, outcome string) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(string(kind.Type), string(kind.Operation), outcome).Inc()
}

// IdentityRequest counts one identity service round trip.
func (r *Recorder) IdentityRequest(operation, result string) {
	if r == nil {
		return
	}
	r.identityRequests.WithLabelValues(operation, result).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
