package eav

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func mockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mock.ExpectQuery(`select sqlite_version\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("3.45.0"))
	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	return New(db), mock
}

func TestPersistenceErrorPropagates(t *testing.T) {
	store, mock := mockDatabase(t)
	boom := errors.New("disk I/O error")

	mock.ExpectQuery("SELECT .* FROM `eav_applications`").WillReturnError(boom)

	_, err := store.Application("app").Domain("posts").ID(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCascadeFailureRollsBack(t *testing.T) {
	store, mock := mockDatabase(t)
	boom := errors.New("database is locked")

	mock.ExpectQuery("SELECT .* FROM `eav_applications`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "created_at"}).AddRow(7, "app", time.Now()))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `eav_domains`").WillReturnError(boom)
	mock.ExpectRollback()

	err := store.Drop(context.Background(), domain.DropTarget{Level: domain.LevelApplication, Application: "app"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompilePredicateBindsOperands(t *testing.T) {
	contains := "x'; DROP TABLE eav_texts; --"
	sql, args := compilePredicate("v.value", domain.Predicate{Equals: "a", NotIn: []any{"b"}, Contains: &contains})

	assert.Equal(t, "v.value = ? AND v.value NOT IN ? AND instr(v.value, ?) > 0", sql)
	assert.Equal(t, []any{"a", []any{"b"}, contains}, args)
	assert.NotContains(t, sql, "DROP")

	sql, args = compilePredicate("v.value", domain.Predicate{})
	assert.Empty(t, sql)
	assert.Empty(t, args)
}
