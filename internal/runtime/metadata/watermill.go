package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill reads the headers of a received message. The result never
// aliases md.
func FromWatermill(md message.Metadata) Metadata {
	out := Metadata(maps.Clone(md))
	if out == nil {
		out = Metadata{}
	}
	return out
}

// ToWatermill converts headers for an outgoing message.
func ToWatermill(md Metadata) message.Metadata {
	out := message.Metadata(maps.Clone(md))
	if out == nil {
		out = message.Metadata{}
	}
	return out
}
