package runschedulednotifications

import (
	"context"
	"testing"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/notification/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	summary *orchestrator.RunSummary
	gotNow  time.Time
}

func (m *MockRunner) RunDueNotifications(_ context.Context, now time.Time) *orchestrator.RunSummary {
	m.gotNow = now
	return m.summary
}

func createTestHandler(t *testing.T, runner Runner) *Handler {
	h, err := NewHandler(&Config{Timeout: time.Minute}, runner, logger.NewTestLogger(t))
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2024, 5, 10, 9, 0, 30, 0, time.UTC) }
	return h
}

func TestHandler_Execute(t *testing.T) {
	runner := &MockRunner{summary: &orchestrator.RunSummary{
		RunID:   "run-1",
		Due:     3,
		Sent:    1,
		Skipped: 1,
		Failed:  1,
		Results: []orchestrator.NotificationResult{
			{NotificationID: 1, Outcome: orchestrator.OutcomeSent},
			{NotificationID: 2, Outcome: orchestrator.OutcomeSkipped, Reason: orchestrator.SkipNoData},
			{NotificationID: 3, Outcome: orchestrator.OutcomeFailed, Reason: "boom"},
		},
	}}
	h := createTestHandler(t, runner)

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 10, 9, 0, 30, 0, time.UTC), runner.gotNow)
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, 3, out.Due)
	assert.Equal(t, 1, out.Sent)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, out.Failed)
	assert.Len(t, out.Results, 3)
}

func TestHandler_Execute_PinnedNow(t *testing.T) {
	runner := &MockRunner{summary: &orchestrator.RunSummary{RunID: "run-2"}}
	h := createTestHandler(t, runner)

	_, err := h.Execute(context.Background(), &Input{Now: "2024-01-31T23:59:00Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC), runner.gotNow)

	_, err = h.Execute(context.Background(), &Input{Now: "yesterday"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestHandler_Execute_RunError(t *testing.T) {
	h := createTestHandler(t, &MockRunner{summary: &orchestrator.RunSummary{Error: "connection refused"}})

	_, err := h.Execute(context.Background(), &Input{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeQueryExecutionFailed))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestHandler_ParseInput(t *testing.T) {
	h := createTestHandler(t, &MockRunner{})

	in, err := h.parseInput(`{}`)
	require.NoError(t, err)
	assert.Empty(t, in.Now)

	in, err = h.parseInput("")
	require.NoError(t, err)
	assert.Empty(t, in.Now)

	_, err = h.parseInput(`{"now": 5}`)
	assert.Error(t, err)
}
