package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newSchoolRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSchoolRepositoryAddStudent(t *testing.T) {
	db, mock, cleanup := newSchoolRepoMock(t)
	defer cleanup()
	repo := NewSchoolRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schools WHERE id = $1 FOR UPDATE")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(50))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM school_students WHERE school_id = $1")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO school_students")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AddStudent(context.Background(), "sch-1", "stu-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchoolRepositoryAddStudentCapacityFull(t *testing.T) {
	db, mock, cleanup := newSchoolRepoMock(t)
	defer cleanup()
	repo := NewSchoolRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schools WHERE id = $1 FOR UPDATE")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM school_students WHERE school_id = $1")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectRollback()

	err := repo.AddStudent(context.Background(), "sch-1", "stu-1")
	require.ErrorIs(t, err, ErrCapacityFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchoolRepositoryAddStudentUnbounded(t *testing.T) {
	db, mock, cleanup := newSchoolRepoMock(t)
	defer cleanup()
	repo := NewSchoolRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schools WHERE id = $1 FOR UPDATE")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO school_students")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AddStudent(context.Background(), "sch-1", "stu-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchoolRepositoryAddStudentDuplicate(t *testing.T) {
	db, mock, cleanup := newSchoolRepoMock(t)
	defer cleanup()
	repo := NewSchoolRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schools WHERE id = $1 FOR UPDATE")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(50))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM school_students WHERE school_id = $1")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO school_students")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	err := repo.AddStudent(context.Background(), "sch-1", "stu-1")
	require.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchoolRepositoryRemoveStudentNotMember(t *testing.T) {
	db, mock, cleanup := newSchoolRepoMock(t)
	defer cleanup()
	repo := NewSchoolRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM school_students")).
		WithArgs("sch-1", "stu-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RemoveStudent(context.Background(), "sch-1", "stu-9")
	require.ErrorIs(t, err, ErrNotMember)
	require.NoError(t, mock.ExpectationsWereMet())
}
