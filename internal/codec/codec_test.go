package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	"github.com/drblury/syncflow/internal/identity"
	"github.com/drblury/syncflow/internal/schema"
)

type downResolver struct{ identity.MemoryResolver }

func (*downResolver) GetMasterUUID(context.Context, string, string) (string, bool, error) {
	return "", false, identity.ErrServiceUnavailable
}

func newCodec(t *testing.T, resolver identity.Resolver, service string) *Codec {
	t.Helper()
	c, err := New(resolver, service)
	require.NoError(t, err)
	return c
}

func decodeUser(t *testing.T, raw string) envelope.Record {
	t.Helper()
	rec, err := envelope.DecodeRecord(entity.User, []byte(raw))
	require.NoError(t, err)
	return rec
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, "crm")
	assert.Error(t, err)
	_, err = New(identity.NewMemoryResolver(), "")
	assert.Error(t, err)
}

func TestEncodeCreateRendersIntegerZip(t *testing.T) {
	ctx := context.Background()
	resolver := identity.NewMemoryResolver()
	c := newCodec(t, resolver, "crm")

	rec := decodeUser(t, `{"Id":"u1","first_name__c":"Jo","last_name__c":"Doe","zip__c":1000.0}`)
	n := entity.ChangeNotification{Type: entity.User, Operation: entity.Create, SourceID: "u1"}

	enc, err := c.Encode(ctx, n, rec)
	require.NoError(t, err)
	assert.True(t, enc.Created)

	data, err := envelope.Marshal(enc.Document)
	require.NoError(t, err)
	master := enc.Document.Head().ID
	require.NotEmpty(t, master)
	assert.Contains(t, string(data), "<id>"+master+"</id><first_name>Jo</first_name><last_name>Doe</last_name>")
	assert.Contains(t, string(data), "<zip>1000</zip>")
	assert.Contains(t, string(data), "<routing_key>user.crm</routing_key><crud_operation>create</crud_operation>")

	reg, err := schema.Default()
	require.NoError(t, err)
	assert.NoError(t, reg.Validate("user", data))
}

func TestEncodeDuplicateCreateReusesMaster(t *testing.T) {
	ctx := context.Background()
	resolver := identity.NewMemoryResolver()
	c := newCodec(t, resolver, "crm")
	rec := decodeUser(t, `{"Id":"u1","first_name__c":"Jo"}`)
	n := entity.ChangeNotification{Type: entity.User, Operation: entity.Create, SourceID: "u1"}

	first, err := c.Encode(ctx, n, rec)
	require.NoError(t, err)
	second, err := c.Encode(ctx, n, rec)
	require.NoError(t, err)

	assert.Equal(t, first.Document.Head().ID, second.Document.Head().ID)
	assert.False(t, second.Created)
	assert.Equal(t, 1, resolver.Masters())
}

func TestEncodeDeleteIsTombstone(t *testing.T) {
	ctx := context.Background()
	resolver := identity.NewMemoryResolver()
	master, err := resolver.CreateMasterIdentity(ctx, "crm", "u1")
	require.NoError(t, err)
	c := newCodec(t, resolver, "crm")

	enc, err := c.Encode(ctx, entity.ChangeNotification{Type: entity.User, Operation: entity.Delete, SourceID: "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, master, enc.Document.Head().ID)
	assert.Equal(t, "delete", enc.Document.Head().Operation)
	assert.Empty(t, envelope.Patch(enc.Document.Payload()))
}

func TestEncodeUpdateWithoutMasterLeavesIDEmpty(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t, identity.NewMemoryResolver(), "crm")
	rec := decodeUser(t, `{"Id":"u9","last_name__c":"Doe"}`)

	enc, err := c.Encode(ctx, entity.ChangeNotification{Type: entity.User, Operation: entity.Update, SourceID: "u9"}, rec)
	require.NoError(t, err)
	assert.Empty(t, enc.Document.Head().ID)

	reg, err := schema.Default()
	require.NoError(t, err)
	data, err := envelope.Marshal(enc.Document)
	require.NoError(t, err)
	assert.Error(t, reg.Validate("user", data))
}

func TestEncodeResolvesForeignKeys(t *testing.T) {
	ctx := context.Background()
	resolver := identity.NewMemoryResolver()
	userMaster, err := resolver.CreateMasterIdentity(ctx, "crm", "u1")
	require.NoError(t, err)
	c := newCodec(t, resolver, "crm")

	rec, err := envelope.DecodeRecord(entity.Event, []byte(`{"Id":"e1","user_id__c":"u1","company_id__c":"c404","start_time__c":"09:30:00.000Z"}`))
	require.NoError(t, err)
	enc, err := c.Encode(ctx, entity.ChangeNotification{Type: entity.Event, Operation: entity.Create, SourceID: "e1"}, rec)
	require.NoError(t, err)

	fields := enc.Document.Payload().(*envelope.EventFields)
	assert.Equal(t, userMaster, fields.Speaker.UserID)
	assert.Empty(t, fields.Speaker.CompanyID, "unknown references render empty")
	assert.Equal(t, "09:30:00", fields.StartTime)
}

func TestEncodeFailsWhenResolverIsDown(t *testing.T) {
	c := newCodec(t, &downResolver{}, "crm")
	rec := decodeUser(t, `{"Id":"u1"}`)
	_, err := c.Encode(context.Background(), entity.ChangeNotification{Type: entity.User, Operation: entity.Create, SourceID: "u1"}, rec)
	assert.ErrorIs(t, err, identity.ErrServiceUnavailable)
}

func TestEncodeRejectsMismatchedRecord(t *testing.T) {
	c := newCodec(t, identity.NewMemoryResolver(), "crm")
	rec := decodeUser(t, `{"Id":"u1"}`)

	_, err := c.Encode(context.Background(), entity.ChangeNotification{Type: entity.Company, Operation: entity.Update, SourceID: "u1"}, rec)
	assert.ErrorIs(t, err, ErrRecordMismatch)

	_, err = c.Encode(context.Background(), entity.ChangeNotification{Type: entity.User, Operation: entity.Update, SourceID: "u1"}, nil)
	assert.ErrorIs(t, err, ErrRecordMismatch)

	_, err = c.Encode(context.Background(), entity.ChangeNotification{Type: "invoice", Operation: entity.Create, SourceID: "u1"}, rec)
	assert.ErrorIs(t, err, envelope.ErrUnknownKind)
}

func TestRoundTripReproducesSourceFields(t *testing.T) {
	ctx := context.Background()
	resolver := identity.NewMemoryResolver()
	_, err := resolver.CreateMasterIdentity(ctx, "crm", "c1")
	require.NoError(t, err)
	c := newCodec(t, resolver, "crm")

	rec := decodeUser(t, `{
		"Id":"u1","first_name__c":"Jo","last_name__c":"Doe","email__c":"jo@example.com",
		"telephone__c":"+32 2 555","birthday__c":"1990-04-01","country__c":"BE","state__c":"BXL",
		"city__c":"Brussels","zip__c":1000.0,"street__c":"Main","house_number__c":12.0,
		"company_email__c":"jo@acme.test","company_id__c":"c1","source__c":"web",
		"user_role__c":"speaker","invoice__c":"BE0123","calendar_link__c":"https://cal.test/jo"
	}`)
	n := entity.ChangeNotification{Type: entity.User, Operation: entity.Create, SourceID: "u1"}
	enc, err := c.Encode(ctx, n, rec)
	require.NoError(t, err)

	data, err := envelope.Marshal(enc.Document)
	require.NoError(t, err)
	doc, err := envelope.Parse(data)
	require.NoError(t, err)

	dec, err := c.Decode(ctx, doc)
	require.NoError(t, err)
	assert.True(t, dec.Found)
	assert.Equal(t, "u1", dec.LocalID)
	assert.Equal(t, entity.Kind{Type: entity.User, Operation: entity.Create}, dec.Kind)

	got := dec.Fields.(*envelope.UserFields)
	want := envelope.UserFields{
		FirstName: "Jo", LastName: "Doe", Email: "jo@example.com", Telephone: "+32 2 555", Birthday: "1990-04-01",
		Address: envelope.Address{
			Country: "BE", State: "BXL", City: "Brussels", Zip: "1000", Street: "Main", HouseNumber: "12",
		},
		CompanyEmail: "jo@acme.test", CompanyID: "c1", Source: "web",
		UserRole: "speaker", Invoice: "BE0123", CalendarLink: "https://cal.test/jo",
	}
	assert.Equal(t, want, *got)
}

func TestDecodeMapsForeignKeysPerService(t *testing.T) {
	ctx := context.Background()
	resolver := identity.NewMemoryResolver()
	userMaster, _ := resolver.CreateMasterIdentity(ctx, "crm", "u1")
	eventMaster, _ := resolver.CreateMasterIdentity(ctx, "crm", "e1")
	attMaster, _ := resolver.CreateMasterIdentity(ctx, "crm", "a1")
	require.NoError(t, resolver.AddServiceBinding(ctx, userMaster, "frontend", "17"))

	doc := &envelope.Attendance{
		Header:           envelope.Header{RoutingKey: "attendance.crm", Operation: "create", ID: attMaster},
		AttendanceFields: envelope.AttendanceFields{UserID: userMaster, EventID: eventMaster},
	}

	frontend := newCodec(t, resolver, "frontend")
	dec, err := frontend.Decode(ctx, doc)
	require.NoError(t, err)
	assert.False(t, dec.Found)
	fields := dec.Fields.(*envelope.AttendanceFields)
	assert.Equal(t, "17", fields.UserID)
	assert.Empty(t, fields.EventID, "event was never created in frontend")
	assert.Equal(t, userMaster, doc.UserID, "the envelope is left untouched")
}

func TestDecodeOrderLines(t *testing.T) {
	ctx := context.Background()
	resolver := identity.NewMemoryResolver()
	productMaster, _ := resolver.CreateMasterIdentity(ctx, "crm", "p1")
	require.NoError(t, resolver.AddServiceBinding(ctx, productMaster, "pos", "99"))

	doc := &envelope.Order{
		Header: envelope.Header{RoutingKey: "order.crm", Operation: "update", ID: "M-order"},
		OrderFields: envelope.OrderFields{Products: envelope.OrderLines{Items: []envelope.OrderLine{
			{ProductID: productMaster, Amount: "2"},
		}}},
	}
	dec, err := newCodec(t, resolver, "pos").Decode(ctx, doc)
	require.NoError(t, err)
	fields := dec.Fields.(*envelope.OrderFields)
	assert.Equal(t, "99", fields.Products.Items[0].ProductID)
	assert.Equal(t, productMaster, doc.Products.Items[0].ProductID)
}

func TestDecodeRequiresMaster(t *testing.T) {
	c := newCodec(t, identity.NewMemoryResolver(), "frontend")
	_, err := c.Decode(context.Background(), &envelope.Product{Header: envelope.Header{RoutingKey: "product.crm", Operation: "create"}})
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = c.Decode(context.Background(), &envelope.Product{Header: envelope.Header{Operation: "merge", ID: "M1"}})
	assert.ErrorIs(t, err, envelope.ErrUnknownKind)
}
