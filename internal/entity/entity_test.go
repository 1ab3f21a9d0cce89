package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	got, err := ParseType("User")
	require.NoError(t, err)
	assert.Equal(t, User, got)

	_, err = ParseType("invoice")
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestParseOperation(t *testing.T) {
	got, err := ParseOperation(" DELETE ")
	require.NoError(t, err)
	assert.Equal(t, Delete, got)

	_, err = ParseOperation("upsert")
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestKindsCoversEveryCombination(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, len(Types())*len(Operations()))
	for _, k := range kinds {
		assert.True(t, k.Valid(), k.String())
	}
	assert.False(t, Kind{Type: "invoice", Operation: Create}.Valid())
	assert.Equal(t, "user.create", Kind{Type: User, Operation: Create}.String())
}

func TestRoutingKeyRoundTrip(t *testing.T) {
	key := RoutingKey(Company, "crm")
	assert.Equal(t, "company.crm", key)

	typ, service, err := ParseRoutingKey(key)
	require.NoError(t, err)
	assert.Equal(t, Company, typ)
	assert.Equal(t, "crm", service)

	for _, bad := range []string{"company", "company.", "invoice.crm", "user.crm.extra"} {
		_, _, err := ParseRoutingKey(bad)
		assert.ErrorIs(t, err, ErrInvalidRouteKey, bad)
	}
}

func TestBindingsExcludeOwnService(t *testing.T) {
	keys := Bindings("crm", []string{"crm", "frontend", "kassa", "frontend"})

	assert.Len(t, keys, len(Types())*2)
	assert.Contains(t, keys, "user.frontend")
	assert.Contains(t, keys, "order.kassa")
	for _, key := range keys {
		_, service, err := ParseRoutingKey(key)
		require.NoError(t, err)
		assert.NotEqual(t, "crm", service)
	}
}

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"user.crm", "user.crm", true},
		{"user.*", "user.crm", true},
		{"*.crm", "event.crm", true},
		{"user.*", "user.crm.x", false},
		{"#", "user.crm", true},
		{"user.#", "user", true},
		{"#.crm", "a.b.crm", true},
		{"user.crm", "user.frontend", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchTopic(tc.pattern, tc.key), "%s vs %s", tc.pattern, tc.key)
	}
}
