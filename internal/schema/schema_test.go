package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validUser = `<user>
  <routing_key>user.crm</routing_key>
  <crud_operation>create</crud_operation>
  <id>6f1c2b52-8a7e-4f0c-9e5d-3c8a1b2d4e5f</id>
  <first_name>Jo</first_name>
  <last_name>Doe</last_name>
  <email>jo@example.com</email>
  <telephone></telephone>
  <birthday>1990-04-01</birthday>
  <address>
    <country>BE</country>
    <state></state>
    <city>Brussels</city>
    <zip>1000</zip>
    <street>Nijverheidskaai</street>
    <house_number>170</house_number>
  </address>
  <company_email></company_email>
  <company_id></company_id>
  <source></source>
  <user_role>speaker</user_role>
  <invoice></invoice>
  <calendar_link></calendar_link>
</user>`

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := Default()
	require.NoError(t, err)
	return r
}

func TestDefaultRegistersEveryRoot(t *testing.T) {
	r := mustDefault(t)
	assert.Equal(t, []string{"Heartbeat", "LogEntry", "attendance", "company", "event", "order", "product", "user"}, r.Roots())
}

func TestValidateAcceptsWellFormedUser(t *testing.T) {
	r := mustDefault(t)
	require.NoError(t, r.Validate("user", []byte(validUser)))
}

func TestValidateReportsProblems(t *testing.T) {
	r := mustDefault(t)

	cases := map[string]struct {
		root    string
		doc     string
		problem string
	}{
		"empty id": {
			root:    "product",
			doc:     `<product><routing_key>product.crm</routing_key><crud_operation>create</crud_operation><id></id><name>Beer</name></product>`,
			problem: "/product/id",
		},
		"bad operation": {
			root:    "product",
			doc:     `<product><routing_key>product.crm</routing_key><crud_operation>upsert</crud_operation><id>m1</id><name>Beer</name></product>`,
			problem: "not one of",
		},
		"missing element": {
			root:    "product",
			doc:     `<product><routing_key>product.crm</routing_key><crud_operation>create</crud_operation><id>m1</id></product>`,
			problem: `missing element "name"`,
		},
		"out of order": {
			root:    "product",
			doc:     `<product><crud_operation>create</crud_operation><routing_key>product.crm</routing_key><id>m1</id><name>Beer</name></product>`,
			problem: "unexpected element",
		},
		"wrong routing key": {
			root:    "product",
			doc:     `<product><routing_key>user.crm</routing_key><crud_operation>create</crud_operation><id>m1</id><name>Beer</name></product>`,
			problem: "does not match pattern",
		},
		"extra element": {
			root:    "attendance",
			doc:     `<attendance><routing_key>attendance.crm</routing_key><crud_operation>create</crud_operation><id>m1</id><user_id>m2</user_id><event_id/><extra/></attendance>`,
			problem: `unexpected element "extra"`,
		},
		"malformed": {
			root:    "product",
			doc:     `<product><id>`,
			problem: "malformed xml",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.Validate(tc.root, []byte(tc.doc))
			var invalid *InvalidError
			require.True(t, errors.As(err, &invalid), "expected InvalidError, got %v", err)
			assert.Contains(t, invalid.Error(), tc.problem)
		})
	}
}

func TestValidateRejectsRootMismatchAndUnknownRoot(t *testing.T) {
	r := mustDefault(t)

	err := r.Validate("company", []byte(validUser))
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Problems[0], `root element is "user"`)

	assert.ErrorIs(t, r.Validate("invoice", []byte(`<invoice/>`)), ErrUnknownSchema)
}

func TestValidateOrderProducts(t *testing.T) {
	r := mustDefault(t)
	empty := `<order><routing_key>order.pos</routing_key><crud_operation>delete</crud_operation><id>m9</id><user_id></user_id><products></products></order>`
	require.NoError(t, r.Validate("order", []byte(empty)))

	two := `<order><routing_key>order.pos</routing_key><crud_operation>create</crud_operation><id>m9</id><user_id>m1</user_id><products>
<product><product_id>p1</product_id><name>Cola</name><amount>2</amount></product>
<product><product_id>p2</product_id><name>Chips</name><amount>x</amount></product>
</products></order>`
	err := r.Validate("order", []byte(two))
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, invalid.Problems, 1)
	assert.Contains(t, invalid.Problems[0], "/order/products/product/amount")
}

func TestValidateHeartbeatAndLogEntry(t *testing.T) {
	r := mustDefault(t)
	require.NoError(t, r.Validate("Heartbeat", []byte(`<Heartbeat><Timestamp>2024-05-01T10:00:00Z</Timestamp><Status>Active</Status><SystemName>crm</SystemName></Heartbeat>`)))
	assert.Error(t, r.Validate("Heartbeat", []byte(`<Heartbeat><Timestamp>yesterday</Timestamp><Status>Active</Status><SystemName>crm</SystemName></Heartbeat>`)))

	require.NoError(t, r.Validate("LogEntry", []byte(`<LogEntry><SystemName>crm</SystemName><FunctionName>PUBLISHER: create user</FunctionName><Logs>boom</Logs><Error>true</Error><Timestamp>2024-05-01T10:00:00.123Z</Timestamp></LogEntry>`)))
}

func TestLoadOverridesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	override := `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="product">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="id" type="xs:string"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>
</xs:schema>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "product.xsd"), []byte(override), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o600))

	r, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, r.Validate("product", []byte(`<product><id>m1</id></product>`)))
	require.NoError(t, r.Validate("user", []byte(validUser)), "embedded schemas stay registered")

	_, err = Load(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestAddRejectsBrokenSchemas(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Add([]byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"/>`)))
	assert.Error(t, r.Add([]byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:element name="a" type="xs:anyURI"/></xs:schema>`)))
	assert.Error(t, r.Add([]byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:element name="a" type="missing"/></xs:schema>`)))
	assert.Empty(t, r.Roots())
}
