package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/syncflow/internal/entity"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	assert.Equal(t, "1", original["a"])
	assert.Len(t, clone, len(original))

	var empty Metadata
	assert.NotNil(t, empty.Clone())
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	assert.NotContains(t, base, "baz")

	merged := enriched.WithAll(New("alpha", "beta", "dangling"))
	assert.Equal(t, Metadata{"foo": "bar", "baz": "qux", "alpha": "beta"}, merged)
}

func TestForEnvelope(t *testing.T) {
	md := ForEnvelope("01J0", entity.Kind{Type: entity.Event, Operation: entity.Update}, "crm", "M1")
	assert.Equal(t, "event.crm", md.RoutingKey())
	assert.Equal(t, "crm", md[KeyOriginService])
	assert.Equal(t, "M1", md[KeyMasterUUID])

	kind, ok := md.Kind()
	assert.True(t, ok)
	assert.Equal(t, entity.Kind{Type: entity.Event, Operation: entity.Update}, kind)

	_, ok = Metadata{KeyEntityType: "event"}.Kind()
	assert.False(t, ok)
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{KeyOriginService: "crm"}
	wm := ToWatermill(md)
	wm[KeyOriginService] = "mutation"
	assert.Equal(t, "crm", md[KeyOriginService])

	assert.Empty(t, ToWatermill(nil))
	assert.Equal(t, Metadata{"event": "order"}, FromWatermill(message.Metadata{"event": "order"}))
	assert.NotNil(t, FromWatermill(nil))
}
