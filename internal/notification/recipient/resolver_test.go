package recipient

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeRepo struct {
	enrollees map[int64]models.Enrollee
	byStatus  []models.Enrollee
	lookupErr map[int64]error
	lastQuery repository.StatusQuery
}

func (f *fakeRepo) EnrolleeByID(_ context.Context, id int64) (*models.Enrollee, error) {
	if err := f.lookupErr[id]; err != nil {
		return nil, err
	}
	e, ok := f.enrollees[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (f *fakeRepo) EnrolleesByStatus(_ context.Context, q repository.StatusQuery) ([]models.Enrollee, error) {
	f.lastQuery = q
	return f.byStatus, nil
}

func newResolver(t *testing.T, repo *fakeRepo) *Resolver {
	return NewResolver(repo, logger.NewTestLogger(t))
}

// ==========================
// Mode detection
// ==========================

func TestDetectMode(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want Mode
	}{
		{"id list with spaces", Request{To: "12, 45,78"}, ModeEnrolleeID},
		{"single id", Request{To: " 7 "}, ModeEnrolleeID},
		{"emails", Request{To: "a@x.com,b@y.com"}, ModeEmail},
		{"mixed falls through", Request{To: "12,a@x.com"}, ModeEmail},
		{"trailing comma is not an id list", Request{To: "12,"}, ModeEmail},
		{"ids win over status", Request{To: "12", EnrolleeStatus: "APPROVED"}, ModeEnrolleeID},
		{"status", Request{To: "a@x.com", EnrolleeStatus: "APPROVED"}, ModeStatus},
		{"empty", Request{}, ModeEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMode(tt.req))
		})
	}
}

func TestParseList(t *testing.T) {
	valid, rejected := ParseList(" a@x.com, ,b@y.com,12,not-an-email,, ")
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, valid)
	assert.Equal(t, []string{"12", "not-an-email"}, rejected)

	valid, rejected = ParseList("")
	assert.Nil(t, valid)
	assert.Nil(t, rejected)
}

// ==========================
// Email mode
// ==========================

func TestResolve_EmailBulk(t *testing.T) {
	r := newResolver(t, &fakeRepo{})
	res, err := r.Resolve(context.Background(), Request{To: "a@x.com,b@y.com,", CC: "c@x.com", BCC: "bad"}, models.NotificationDefinition{})
	require.NoError(t, err)

	assert.Equal(t, ModeEmail, res.Mode)
	assert.True(t, res.Bulk())
	assert.False(t, res.Batch())
	require.Len(t, res.Envelopes, 1)
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, res.Envelopes[0].To)
	assert.Equal(t, []string{"c@x.com"}, res.Envelopes[0].CC)
	assert.Empty(t, res.Envelopes[0].BCC)
	assert.Nil(t, res.Envelopes[0].EnrolleeID)
	assert.Equal(t, []Failure{{Recipient: "bad", Reason: "invalid email address"}}, res.Failures)
}

func TestResolve_EmailSendAsMultiple(t *testing.T) {
	r := newResolver(t, &fakeRepo{})
	res, err := r.Resolve(context.Background(), Request{To: "a@x.com,b@y.com", BCC: "audit@x.com", SendAsMultiple: true}, models.NotificationDefinition{})
	require.NoError(t, err)

	assert.False(t, res.Bulk())
	assert.True(t, res.Split)
	assert.True(t, res.Batch())
	require.Len(t, res.Envelopes, 2)
	for i, addr := range []string{"a@x.com", "b@y.com"} {
		assert.Equal(t, []string{addr}, res.Envelopes[i].To)
		assert.Equal(t, []string{"audit@x.com"}, res.Envelopes[i].BCC)
	}
}

func TestResolve_MixedInputFiltersNumericToken(t *testing.T) {
	r := newResolver(t, &fakeRepo{})
	res, err := r.Resolve(context.Background(), Request{To: "12,a@x.com"}, models.NotificationDefinition{})
	require.NoError(t, err)
	assert.Equal(t, ModeEmail, res.Mode)
	assert.Equal(t, []string{"a@x.com"}, res.Envelopes[0].To)
	assert.Equal(t, "12", res.Failures[0].Recipient)
}

func TestResolve_EmailNoValidRecipients(t *testing.T) {
	r := newResolver(t, &fakeRepo{})
	_, err := r.Resolve(context.Background(), Request{To: "nobody, ,", CC: "c@x.com"}, models.NotificationDefinition{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoValidRecipients))
}

func TestResolve_FallsBackToDefinition(t *testing.T) {
	r := newResolver(t, &fakeRepo{})
	res, err := r.Resolve(context.Background(), Request{}, models.NotificationDefinition{To: "hr@x.com", CC: "boss@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hr@x.com"}, res.Envelopes[0].To)
	assert.Equal(t, []string{"boss@x.com"}, res.Envelopes[0].CC)
}

// ==========================
// Enrollee-ID mode
// ==========================

func TestResolve_EnrolleeIDs(t *testing.T) {
	repo := &fakeRepo{
		enrollees: map[int64]models.Enrollee{
			12: {ID: 12, Email1: "ann@x.com"},
			45: {ID: 45},
		},
		lookupErr: map[int64]error{99: errors.New("timeout")},
	}
	r := newResolver(t, repo)
	res, err := r.Resolve(context.Background(), Request{To: "12, 45,78,99", CC: "hr@x.com"}, models.NotificationDefinition{})
	require.NoError(t, err)

	assert.Equal(t, ModeEnrolleeID, res.Mode)
	require.Len(t, res.Envelopes, 1)
	assert.Equal(t, []string{"ann@x.com"}, res.Envelopes[0].To)
	assert.Equal(t, []string{"hr@x.com"}, res.Envelopes[0].CC)
	require.NotNil(t, res.Envelopes[0].EnrolleeID)
	assert.Equal(t, int64(12), *res.Envelopes[0].EnrolleeID)

	require.Len(t, res.Failures, 3)
	assert.Equal(t, Failure{Recipient: "45", Reason: "enrollee has no valid email"}, res.Failures[0])
	assert.Equal(t, Failure{Recipient: "78", Reason: "enrollee not found"}, res.Failures[1])
	assert.Equal(t, "99", res.Failures[2].Recipient)
}

// ==========================
// Status mode
// ==========================

func TestResolve_Status(t *testing.T) {
	repo := &fakeRepo{byStatus: []models.Enrollee{
		{ID: 1, Email1: "one@x.com"},
		{ID: 2, Email1: ""},
		{ID: 3, Email1: "three@x.com"},
	}}
	r := newResolver(t, repo)
	res, err := r.Resolve(context.Background(), Request{
		EnrolleeStatus: "APPROVED",
		DateFrom:       "01/05/2024",
		DateTo:         "2024-05-02",
	}, models.NotificationDefinition{EnrollmentID: 7})
	require.NoError(t, err)

	assert.Equal(t, ModeStatus, res.Mode)
	require.Len(t, res.Envelopes, 2)
	assert.Equal(t, int64(3), *res.Envelopes[1].EnrolleeID)
	assert.Equal(t, Failure{Recipient: "2", Reason: "enrollee has no valid email"}, res.Failures[0])

	assert.Equal(t, int64(7), repo.lastQuery.EnrollmentID)
	assert.Equal(t, "APPROVED", repo.lastQuery.Status)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *repo.lastQuery.From)
	assert.Equal(t, time.Date(2024, 5, 2, 23, 59, 59, 0, time.UTC), *repo.lastQuery.To)
}

func TestResolve_StatusExactWindow(t *testing.T) {
	since := time.Date(2024, 5, 9, 9, 0, 0, 0, time.UTC)
	until := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	repo := &fakeRepo{byStatus: []models.Enrollee{{ID: 1, Email1: "one@x.com"}}}
	r := newResolver(t, repo)

	_, err := r.Resolve(context.Background(), Request{
		EnrolleeStatus: "PENDING", Since: &since, Until: &until, DateFrom: "ignored",
	}, models.NotificationDefinition{EnrollmentID: 7})
	require.NoError(t, err)
	assert.Equal(t, since, *repo.lastQuery.From)
	assert.Equal(t, until, *repo.lastQuery.To)
}

func TestResolve_StatusNoMatches(t *testing.T) {
	r := newResolver(t, &fakeRepo{})
	_, err := r.Resolve(context.Background(), Request{EnrolleeStatus: "PENDING"}, models.NotificationDefinition{EnrollmentID: 7})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNoStatusMatches))
}

func TestResolve_StatusBadDate(t *testing.T) {
	r := newResolver(t, &fakeRepo{})
	_, err := r.Resolve(context.Background(), Request{EnrolleeStatus: "PENDING", DateFrom: "someday"}, models.NotificationDefinition{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}
