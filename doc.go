// Package syncflow keeps entity data consistent across independent services
// that share a RabbitMQ topic exchange. Every participating service publishes
// the changes of its own source system as schema-validated XML envelopes and
// applies the envelopes of every other service through its adapters.
//
// Entities are identified across systems by a master UUID held by an
// identity mapping service. The publisher replaces local ids with master
// UUIDs before sending; the consumer maps them back to its own local ids
// before calling an adapter, and records the binding after a create.
//
// A Service reads its settings from Config (or ConfigFromEnv), builds the
// transport named by PubSubSystem and starts whichever loops the
// dependencies ask for: a consumer when a HandlerTable is given, a publisher
// when a source system or ChangeLog is configured, plus the heartbeat and the
// ops HTTP servers. Start blocks until its context is cancelled.
//
// # Transports
//
//   - rabbitmq: one durable queue per service, bound to the routing keys
//     "<entity>.<service>" of every other service on a topic exchange
//   - channel: the same topology in process memory, for tests and examples
//
// # Consumer
//
// Envelopes are handled one at a time in arrival order. Failures of any kind
// (malformed XML, unknown kind, unresolved identity, adapter error) send the
// envelope to "<service>.dead_letter" and acknowledge it. Bind an Adapter per
// entity type; kinds without a handler are dead-lettered.
//
// # Middleware
//
// The consumer chain adds correlation ids, debug logging, OpenTelemetry spans,
// Prometheus router metrics, dead-lettering, EnvelopeHooks and panic recovery.
// More can be appended through ServiceDependencies.Middlewares.
package syncflow
