package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

var notificationCols = []string{
	"id", "enrollment_id", "to", "cc", "bcc", "notification_type", "subject", "message", "is_html", "schedule", "last_sent_at",
}

var enrolleeCols = []string{
	"id", "uuid", "employee_id", "first_name", "middle_name", "last_name", "email1",
	"enrollment_id", "enrollment_status", "certificate_number", "updated_at",
	"premium", "is_company_paid", "coverage_start_date", "hi_certificate_number",
}

// ==========================
// Notifications
// ==========================

func TestStore_ScheduledNotifications(t *testing.T) {
	store, mock := newMockStore(t)
	sent := time.Date(2024, 5, 9, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryScheduledNotifications)).
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow(1, 7, "a@x.com", nil, "audit@x.com", "MANUAL", "Hi", "Body", true, "0 9 * * *", sent).
			AddRow(2, nil, "12,45", "", nil, "NEWLY_APPROVED", "S", "M", false, "*/5 * * * *", nil))

	defs, err := store.ScheduledNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, int64(7), defs[0].EnrollmentID)
	assert.Equal(t, "", defs[0].CC)
	assert.Equal(t, "audit@x.com", defs[0].BCC)
	require.NotNil(t, defs[0].Schedule)
	assert.Equal(t, "0 9 * * *", *defs[0].Schedule)
	require.NotNil(t, defs[0].LastSentAt)
	assert.True(t, sent.Equal(*defs[0].LastSentAt))

	assert.Equal(t, int64(0), defs[1].EnrollmentID)
	assert.Nil(t, defs[1].LastSentAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NotificationByID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryNotificationByID)).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.NotificationByID(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotificationNotFound))
}

func TestStore_NotificationByID_QueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryNotificationByID)).
		WithArgs(int64(5)).
		WillReturnError(errors.New("connection reset"))

	_, err := store.NotificationByID(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeQueryExecutionFailed))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestStore_UpdateLastSentAt(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	prev := now.Add(-24 * time.Hour)

	tests := []struct {
		name     string
		prev     *time.Time
		prevArg  interface{}
		affected int64
		want     bool
	}{
		{"first stamp", nil, nil, 1, true},
		{"stamp over previous", &prev, prev, 1, true},
		{"lost the race", &prev, prev, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta(updateLastSentAt)).
				WithArgs(now, int64(3), tt.prevArg).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := store.UpdateLastSentAt(context.Background(), 3, tt.prev, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// ==========================
// Enrollees
// ==========================

func TestStore_EnrolleeByID(t *testing.T) {
	store, mock := newMockStore(t)
	updated := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryEnrolleeByID)).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows(enrolleeCols).
			AddRow(12, "uuid-12", "E-12", "Ann", nil, "Cruz", "ann@x.com",
				7, "APPROVED", "FALLBACK", updated, 1200.0, false, start, "HI-1"))

	e, err := store.EnrolleeByID(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "uuid-12", e.UUID)
	assert.Equal(t, "ann@x.com", e.Email1)
	require.NotNil(t, e.HealthInsurance)
	assert.Equal(t, 1200.0, e.HealthInsurance.Premium)
	assert.Equal(t, "HI-1", e.Certificate())
	require.NotNil(t, e.HealthInsurance.CoverageStartDate)
	assert.True(t, start.Equal(*e.HealthInsurance.CoverageStartDate))
}

func TestStore_EnrolleeByID_NoInsurance(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryEnrolleeByID)).
		WithArgs(int64(13)).
		WillReturnRows(sqlmock.NewRows(enrolleeCols).
			AddRow(13, "uuid-13", nil, "Ben", nil, "Lim", nil,
				7, "PENDING", nil, time.Now(), nil, nil, nil, nil))

	e, err := store.EnrolleeByID(context.Background(), 13)
	require.NoError(t, err)
	assert.Nil(t, e.HealthInsurance)
	assert.Empty(t, e.Email1)
}

func TestStore_EnrolleeByID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryEnrolleeByID)).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.EnrolleeByID(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EnrolleesByStatus_WithWindow(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 2, 23, 59, 59, 0, time.UTC)

	expected := queryEnrolleesByStatus + " AND p.updated_at >= $3 AND p.updated_at <= $4 ORDER BY p.id"
	mock.ExpectQuery(regexp.QuoteMeta(expected)).
		WithArgs(int64(7), "APPROVED", from, to).
		WillReturnRows(sqlmock.NewRows(enrolleeCols).
			AddRow(1, "u1", "E1", "A", nil, "One", "one@x.com", 7, "APPROVED", nil, from, nil, nil, nil, nil).
			AddRow(2, "u2", "E2", "B", nil, "Two", "two@x.com", 7, "approved", nil, to, nil, nil, nil, nil))

	out, err := store.EnrolleesByStatus(context.Background(), StatusQuery{
		EnrollmentID: 7, Status: "APPROVED", From: &from, To: &to,
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnrolleesByStatus_NoWindow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryEnrolleesByStatus+" ORDER BY p.id")).
		WithArgs(int64(7), "PENDING").
		WillReturnRows(sqlmock.NewRows(enrolleeCols))

	out, err := store.EnrolleesByStatus(context.Background(), StatusQuery{EnrollmentID: 7, Status: "PENDING"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStore_LoadDependents(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryDependents)).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "principal_id", "first_name", "middle_name", "last_name", "relation",
			"enrollment_status", "status", "is_skipping", "certificate_number",
			"premium", "is_company_paid", "coverage_start_date", "hi_certificate_number",
		}).
			AddRow(100, 12, "Cara", nil, "Cruz", "CHILD", "APPROVED", "ACTIVE", false, "D-100", nil, nil, nil, "HI-100").
			AddRow(101, 12, "Dan", nil, "Cruz", "SPOUSE", "SKIPPED", "ACTIVE", true, nil, nil, nil, nil, nil))

	e := &models.Enrollee{ID: 12}
	require.NoError(t, store.LoadDependents(context.Background(), e))
	require.Len(t, e.Dependents, 2)
	assert.Equal(t, "HI-100", e.Dependents[0].Certificate())
	assert.True(t, e.Dependents[1].IsSkipping)
	assert.Nil(t, e.Dependents[1].HealthInsurance)
}

func TestStore_EnrollmentByID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryEnrollmentByID)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "premium", "premium_computation"}).
			AddRow(7, "2024 Plan", 5000.0, "1:50,REST:25"))

	en, err := store.EnrollmentByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, en.Premium)
	assert.Equal(t, "1:50,REST:25", en.PremiumComputation)
}

// ==========================
// Attachments
// ==========================

func TestStore_NotificationAttachments(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryNotificationAttachments)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "file_path", "file_name", "attachment_for", "notification_id", "principal_id", "dependent_id",
		}).
			AddRow(1, "notifications/3/guide.pdf", "guide.pdf", "NOTIFICATION", 3, nil, nil))

	out, err := store.NotificationAttachments(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "notifications/3/guide.pdf", out[0].FilePath)
	require.NotNil(t, out[0].NotificationID)
	assert.Equal(t, int64(3), *out[0].NotificationID)
	assert.Nil(t, out[0].PrincipalID)
}
