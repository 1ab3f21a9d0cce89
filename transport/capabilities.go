package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsTopicRouting indicates the transport routes by AMQP style topic
	// patterns, so one queue can receive the keys of several services.
	SupportsTopicRouting bool

	// SupportsNativeDLQ indicates the broker holds dead-lettered messages
	// durably. When false they only live as long as the process.
	SupportsNativeDLQ bool

	// SupportsOrdering indicates FIFO delivery per queue.
	SupportsOrdering bool

	// SupportsTracing indicates the transport carries message metadata, and
	// with it the trace context, across the broker.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// Durable indicates queued messages survive a process restart.
	Durable bool
}

// RequiresDLQEmulation returns true if dead-lettered messages cannot be
// inspected after the process exits.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

var (
	// ChannelCapabilities for the in-memory topic exchange.
	ChannelCapabilities = Capabilities{
		Name:                 "channel",
		SupportsTopicRouting: true,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsAck:          true,
		SupportsNack:         true,
	}

	// RabbitMQCapabilities for the AMQP topic exchange transport.
	RabbitMQCapabilities = Capabilities{
		Name:                 "rabbitmq",
		SupportsTopicRouting: true,
		SupportsNativeDLQ:    true,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsAck:          true,
		SupportsNack:         true,
		Durable:              true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities carrying only the name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
