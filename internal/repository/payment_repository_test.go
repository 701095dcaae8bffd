package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/e-lglioui/giao-long-api/internal/models"
)

func newPaymentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaymentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payment := &models.Payment{
		UserID:             "user-1",
		Amount:             150,
		Currency:           "USD",
		Type:               models.PaymentTypeEnrollment,
		ProviderIntentID:   "pi_123",
		ProviderCustomerID: "cus_123",
		Metadata: models.PaymentMetadata{
			SchoolID:       "sch-1",
			EnrollmentType: "standard",
		},
	}
	require.NoError(t, repo.Create(context.Background(), payment))
	require.NotEmpty(t, payment.ID)
	require.Equal(t, models.PaymentStatusPending, payment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryCreateDuplicateIntent(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := repo.Create(context.Background(), &models.Payment{
		UserID:           "user-1",
		Amount:           150,
		Currency:         "USD",
		Type:             models.PaymentTypeEnrollment,
		ProviderIntentID: "pi_123",
	})
	require.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryFindByIntentID(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "amount", "currency", "type", "status", "provider_intent_id", "provider_customer_id", "receipt_url", "refund_reason", "metadata", "created_at", "updated_at"}).
		AddRow("pay-1", "user-1", 150.0, "USD", models.PaymentTypeEnrollment, models.PaymentStatusCompleted, "pi_123", "cus_123", nil, nil, []byte(`{"school_id":"sch-1"}`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, amount, currency")).
		WithArgs("pi_123").
		WillReturnRows(rows)

	payment, err := repo.FindByIntentID(context.Background(), "pi_123")
	require.NoError(t, err)
	require.Equal(t, "pay-1", payment.ID)
	require.Equal(t, models.PaymentStatusCompleted, payment.Status)
	require.Equal(t, "sch-1", payment.Metadata.SchoolID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryFindByIntentIDNotFound(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, amount, currency")).
		WithArgs("pi_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByIntentID(context.Background(), "pi_missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryMarkCompleted(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	receipt := "https://pay.example.com/receipts/rcpt_1"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET status = $2, receipt_url = $3")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkCompleted(context.Background(), "pay-1", &receipt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryList(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "amount", "currency", "type", "status", "provider_intent_id", "provider_customer_id", "receipt_url", "refund_reason", "metadata", "created_at", "updated_at"}).
		AddRow("pay-1", "user-1", 150.0, "USD", models.PaymentTypeEnrollment, models.PaymentStatusCompleted, "pi_123", "cus_123", nil, nil, []byte(`{}`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, amount, currency")).
		WithArgs("user-1", models.PaymentStatusCompleted).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM payments")).
		WithArgs("user-1", models.PaymentStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	payments, total, err := repo.List(context.Background(), models.PaymentFilter{
		UserID: "user-1",
		Status: models.PaymentStatusCompleted,
		Page:   1,
	})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
