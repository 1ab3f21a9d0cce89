// Package metadata names the broker headers syncflow stamps on every envelope
// and converts them to and from Watermill metadata.
package metadata

import "github.com/drblury/syncflow/internal/entity"

// Reserved header keys.
const (
	KeyCorrelationID = "correlation_id"
	KeyEntityType    = "entity_type"
	KeyOperation     = "crud_operation"
	KeyOriginService = "origin_service"
	KeyRoutingKey    = "routing_key"
	KeyMasterUUID    = "master_uuid"
)

// Metadata represents the headers carried alongside an envelope.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ForEnvelope builds the headers of an outgoing envelope.
func ForEnvelope(correlationID string, kind entity.Kind, service, masterUUID string) Metadata {
	return Metadata{
		KeyCorrelationID: correlationID,
		KeyEntityType:    kind.Type.String(),
		KeyOperation:     kind.Operation.String(),
		KeyOriginService: service,
		KeyRoutingKey:    entity.RoutingKey(kind.Type, service),
		KeyMasterUUID:    masterUUID,
	}
}

// RoutingKey returns the routing key header.
func (m Metadata) RoutingKey() string { return m[KeyRoutingKey] }

// Kind reads the entity type and operation headers. ok is false when either
// is missing or unknown.
func (m Metadata) Kind() (kind entity.Kind, ok bool) {
	t, err := entity.ParseType(m[KeyEntityType])
	if err != nil {
		return entity.Kind{}, false
	}
	op, err := entity.ParseOperation(m[KeyOperation])
	if err != nil {
		return entity.Kind{}, false
	}
	return entity.Kind{Type: t, Operation: op}, true
}
