package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/schema"
)

func TestMarshalKeepsElementOrder(t *testing.T) {
	doc := &User{
		Header: Header{RoutingKey: "user.crm", Operation: "create", ID: "M1"},
		UserFields: UserFields{
			FirstName: "Jo",
			LastName:  "Doe",
			Address:   Address{Zip: "1000"},
		},
	}
	data, err := Marshal(doc)
	require.NoError(t, err)

	out := string(data)
	assert.True(t, strings.HasPrefix(out, "<user><routing_key>user.crm</routing_key><crud_operation>create</crud_operation><id>M1</id><first_name>Jo</first_name><last_name>Doe</last_name>"), out)
	assert.Contains(t, out, "<address><country></country><state></state><city></city><zip>1000</zip><street></street><house_number></house_number></address>")
	assert.True(t, strings.HasSuffix(out, "<invoice></invoice><calendar_link></calendar_link></user>"), out)
}

func TestEmptyDocumentsValidate(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)

	for _, typ := range entity.Types() {
		t.Run(typ.String(), func(t *testing.T) {
			doc, err := New(typ)
			require.NoError(t, err)
			*doc.Head() = Header{RoutingKey: entity.RoutingKey(typ, "crm"), Operation: "delete", ID: "M1"}
			data, err := Marshal(doc)
			require.NoError(t, err)
			assert.NoError(t, reg.Validate(typ.String(), data), string(data))
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	in := &Order{
		Header: Header{RoutingKey: "order.pos", Operation: "update", ID: "M9"},
		OrderFields: OrderFields{
			UserID:   "M1",
			Products: OrderLines{Items: []OrderLine{{ProductID: "P1", Name: "Cola", Amount: "2"}}},
		},
	}
	data, err := Marshal(in)
	require.NoError(t, err)

	doc, err := Parse(data)
	require.NoError(t, err)
	out, ok := doc.(*Order)
	require.True(t, ok)
	assert.Equal(t, in.Header, out.Header)
	assert.Equal(t, in.OrderFields, out.OrderFields)

	kind, err := Kind(doc)
	require.NoError(t, err)
	assert.Equal(t, entity.Kind{Type: entity.Order, Operation: entity.Update}, kind)
}

func TestParseRejectsUnknownDocuments(t *testing.T) {
	_, err := Parse([]byte(`<invoice><id>1</id></invoice>`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Parse([]byte(`<User><id>1</id></User>`))
	assert.ErrorIs(t, err, ErrUnknownKind, "root element names are lower case")

	_, err = Parse([]byte(``))
	assert.Error(t, err)

	doc, err := Parse([]byte(`<product><routing_key>product.crm</routing_key><crud_operation>merge</crud_operation><id>M1</id><name/></product>`))
	require.NoError(t, err)
	_, err = Kind(doc)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeRecordNormalisesScalars(t *testing.T) {
	rec, err := DecodeRecord(entity.User, []byte(`{
		"attributes": {"type": "user__c"},
		"Id": "u1",
		"first_name__c": "Jo",
		"last_name__c": "Doe",
		"zip__c": 1000.0,
		"house_number__c": "12.0",
		"telephone__c": 3225551234,
		"invoice__c": null
	}`))
	require.NoError(t, err)
	user := rec.(*UserRecord)
	assert.Equal(t, "u1", user.LocalID())
	assert.Equal(t, Integer("1000"), user.Zip)
	assert.Equal(t, Integer("12"), user.HouseNumber)
	assert.Equal(t, Text("3225551234"), user.Telephone)
	assert.Equal(t, Text(""), user.Invoice)

	rec, err = DecodeRecord(entity.Event, []byte(`{"Id":"e1","start_time__c":"09:30:00.000Z","end_time__c":"17:00","max_registrations__c":120.0}`))
	require.NoError(t, err)
	event := rec.(*EventRecord)
	assert.Equal(t, ClockTime("09:30:00"), event.StartTime)
	assert.Equal(t, ClockTime("17:00:00"), event.EndTime)
	assert.Equal(t, Integer("120"), event.MaxRegistrations)

	_, err = DecodeRecord(entity.Type("invoice"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNormalizeInteger(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"42":      "42",
		"1000.0":  "1000",
		"12.9":    "12",
		"-3.5":    "-3",
		"1e3":     "1000",
		"twelve":  "twelve",
		" 7 ":     "7",
		"+5":      "+5",
		"0.00001": "0",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeInteger(in), in)
	}
}

func TestChangedColumns(t *testing.T) {
	assert.Equal(t, []string{"last_name__c", "telephone__c"}, ChangedColumns(entity.User, []string{"last_name__c", "telephone__c", "last_name__c", "bogus__c"}))
	assert.Equal(t, []string{"Name", "email__c"}, ChangedColumns(entity.Company, []string{"name__c", "email__c"}))
	assert.Nil(t, ChangedColumns(entity.Type("invoice"), []string{"x"}))

	obj, err := Source(entity.Order)
	require.NoError(t, err)
	assert.Equal(t, "order__c", obj.Name)
	obj.Columns[0] = "mutated"
	again, _ := Source(entity.Order)
	assert.Equal(t, "user_id__c", again.Columns[0])
}

func TestFlattenAndPatch(t *testing.T) {
	fields := &EventFields{
		Date:    "2024-05-01",
		Speaker: Speaker{UserID: "U1"},
	}
	flat := Flatten(fields)
	require.Len(t, flat, 9)
	assert.Equal(t, Field{Name: "date", Value: "2024-05-01"}, flat[0])
	assert.Equal(t, Field{Name: "speaker.user_id", Value: "U1"}, flat[4])

	assert.Equal(t, map[string]string{"date": "2024-05-01", "speaker.user_id": "U1"}, Patch(fields))

	order := &OrderFields{Products: OrderLines{Items: []OrderLine{{ProductID: "P1", Amount: "3"}}}}
	assert.Equal(t, map[string]string{"products.product[0].product_id": "P1", "products.product[0].amount": "3"}, Patch(order))

	assert.Nil(t, Flatten((*UserFields)(nil)))
}

func TestChangeFlagsMirrorColumns(t *testing.T) {
	flags := ChangeFlags(entity.Company)
	assert.Equal(t, "name__c", flags[0])
	assert.Equal(t, []string{"Name", "type__c"}, ChangedColumns(entity.Company, []string{flags[0], "type__c"}))
	assert.Equal(t, []string{"user_id__c", "event_id__c"}, ChangeFlags(entity.Attendance))
	assert.Nil(t, ChangeFlags("invoice"))
}
