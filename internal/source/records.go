package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
)

// Fetch reads the current values of one record. When columns is empty every
// column of the type is selected; otherwise only the listed ones, so an
// update carries nothing but the fields that changed.
func (c *Client) Fetch(ctx context.Context, t entity.Type, id string, columns []string) (envelope.Record, error) {
	obj, err := envelope.Source(t)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		columns = obj.Columns
	}
	soql := fmt.Sprintf("SELECT Id,%s FROM %s WHERE Id = %s", strings.Join(columns, ","), obj.Name, quote(id))
	rows, err := c.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", t, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrRecordNotFound, t, id)
	}
	return envelope.DecodeRecord(t, rows[0])
}

// quote renders a SOQL string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
