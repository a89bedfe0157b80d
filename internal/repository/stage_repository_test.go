package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestStageRepositoryReorder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewStageRepository(db)
	ordered := []string{"stage-c", "stage-a", "stage-b"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM application_stages WHERE workflow_id")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	for index, id := range ordered {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE application_stages SET order_index")).
			WithArgs(index, sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.Reorder(context.Background(), "wf-1", ordered))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStageRepositoryReorderCountMismatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewStageRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM application_stages WHERE workflow_id")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.Reorder(context.Background(), "wf-1", []string{"stage-a", "stage-b", "stage-c"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStageRepositoryDeleteAndRenumber(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewStageRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM application_stages WHERE id")).
		WithArgs("stage-b", "wf-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM application_stages WHERE workflow_id")).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("stage-a").AddRow("stage-c"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE application_stages SET order_index")).
		WithArgs(0, sqlmock.AnyArg(), "stage-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE application_stages SET order_index")).
		WithArgs(1, sqlmock.AnyArg(), "stage-c").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteAndRenumber(context.Background(), "wf-1", "stage-b"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStageRepositoryDeleteMissingStage(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewStageRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM application_stages WHERE id")).
		WithArgs("stage-x", "wf-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.DeleteAndRenumber(context.Background(), "wf-1", "stage-x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
