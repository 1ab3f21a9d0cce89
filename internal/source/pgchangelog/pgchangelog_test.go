package pgchangelog

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/syncflow/internal/entity"
)

func newMock(t *testing.T) (*ChangeLog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Config{}, nil), mock
}

func TestInstallCreatesQuotedSchemaAndTable(t *testing.T) {
	changes, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "syncflow"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "syncflow"."change_log"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, changes.Install(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoresChangedFieldsAsArray(t *testing.T) {
	changes, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "syncflow"."change_log" (entity_type, operation, source_id, changed_fields)`)).
		WithArgs("user", "update", "u1", `{"last_name__c","telephone__c"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := changes.Record(context.Background(), entity.ChangeNotification{
		Type:          entity.User,
		Operation:     entity.Update,
		SourceID:      "u1",
		ChangedFields: []string{"last_name__c", "telephone__c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const pendingQuery = `SELECT id, entity_type, operation, source_id, changed_fields FROM "syncflow"."change_log" WHERE NOT (id = ANY($1)) ORDER BY id LIMIT $2`

func pendingColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "entity_type", "operation", "source_id", "changed_fields"})
}

func TestPendingSkipsUnknownRows(t *testing.T) {
	changes, mock := newMock(t)
	rows := pendingColumns().
		AddRow(int64(1), "User", "Create", "u1", nil).
		AddRow(int64(2), "invoice", "create", "i1", nil).
		AddRow(int64(3), "company", "update", "c1", "{name__c,email__c}").
		AddRow(int64(4), "order", "merge", "o1", nil)
	mock.ExpectQuery(regexp.QuoteMeta(pendingQuery)).
		WithArgs("{}", 50).
		WillReturnRows(rows)

	pending, err := changes.Pending(context.Background(), 50, nil)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, entity.ChangeNotification{ChangeID: "1", Type: entity.User, Operation: entity.Create, SourceID: "u1"}, pending[0])
	assert.Equal(t, "3", pending[1].ChangeID)
	assert.Equal(t, []string{"name__c", "email__c"}, pending[1].ChangedFields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingExcludesSkippedAndIgnoredRows(t *testing.T) {
	changes, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(pendingQuery)).
		WithArgs("{}", 2).
		WillReturnRows(pendingColumns().
			AddRow(int64(1), "invoice", "create", "i1", nil).
			AddRow(int64(2), "user", "delete", "u1", nil))
	mock.ExpectQuery(regexp.QuoteMeta(pendingQuery)).
		WithArgs("{1,2}", 2).
		WillReturnRows(pendingColumns().
			AddRow(int64(3), "user", "create", "u2", nil))

	first, err := changes.Pending(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := changes.Pending(context.Background(), 2, []string{"2", "not-a-number"})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "3", second[0].ChangeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingSurfacesQueryErrors(t *testing.T) {
	changes, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT id").WillReturnError(boom)

	_, err := changes.Pending(context.Background(), 10, nil)
	assert.ErrorIs(t, err, boom)
}

func TestClearDeletesByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	changes := New(db, Config{SchemaName: "crm", TableName: "changes"}, nil)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "crm"."changes" WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	require.NoError(t, changes.Clear(context.Background(), "42"))
	assert.Error(t, changes.Clear(context.Background(), "not-a-number"))
	require.NoError(t, changes.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRequiresConnectionString(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}
