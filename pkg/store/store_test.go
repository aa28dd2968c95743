package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestInitAppliesSchema(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(".*CREATE TABLE.*").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTenantOnConflictDoNothing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO tenants").
		WithArgs("t:ex.com", "customer", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err := s.UpsertTenant(context.Background(), "t:ex.com", "customer", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAgreementOnConflictDoUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO agreements").
		WithArgs("a:tenant:t:ex.com", "t:ex.com", "tenant_license", sqlmock.AnyArg(), "u:alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err := s.UpsertAgreement(context.Background(), "a:tenant:t:ex.com", "t:ex.com", "tenant_license", "u:alice", time.Now(), map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAgreementExists(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("a:tenant:t:ex.com").WillReturnRows(rows)
	exists, err := s.AgreementExists(context.Background(), "a:tenant:t:ex.com")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestInsertSpanIdempotentInsert(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO spans").
		WithArgs("span:1", "t:ex.com", nil, "action.v1", "c:abc", 42, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err := s.InsertSpan(context.Background(), "span:1", "t:ex.com", "", "action.v1", "c:abc", 42, map[string]interface{}{"seq": 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
