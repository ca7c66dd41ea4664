package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	defs []models.NotificationDefinition
	err  error
}

func (f *fakeSource) ScheduledNotifications(context.Context) ([]models.NotificationDefinition, error) {
	return f.defs, f.err
}

func sched(s string) *string { return &s }

func TestScheduler_DueNotifications(t *testing.T) {
	now := at(2024, 5, 10, 9, 0, 12)
	sent := at(2024, 5, 10, 9, 0, 1)
	src := &fakeSource{defs: []models.NotificationDefinition{
		{ID: 1, Schedule: sched("0 9 * * *")},
		{ID: 2, Schedule: sched("30 9 * * *")},
		{ID: 3, Schedule: sched("broken")},
		{ID: 4},
		{ID: 5, Schedule: sched("*/5 * * * *"), LastSentAt: &sent},
	}}

	s := NewScheduler(src, logger.NewTestLogger(t), false)
	due, err := s.DueNotifications(context.Background(), now)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []int64{1, 5}, ids)
}

func TestScheduler_SkipAlreadySent(t *testing.T) {
	now := at(2024, 5, 10, 9, 0, 12)
	sameMinute := at(2024, 5, 10, 9, 0, 1)
	yesterday := now.Add(-24 * time.Hour)
	src := &fakeSource{defs: []models.NotificationDefinition{
		{ID: 1, Schedule: sched("0 9 * * *"), LastSentAt: &sameMinute},
		{ID: 2, Schedule: sched("0 9 * * *"), LastSentAt: &yesterday},
		{ID: 3, Schedule: sched("0 9 * * *")},
	}}

	s := NewScheduler(src, logger.NewNoOpLogger(), true)
	due, err := s.DueNotifications(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, int64(2), due[0].ID)
	assert.Equal(t, int64(3), due[1].ID)
}

func TestScheduler_SourceError(t *testing.T) {
	s := NewScheduler(&fakeSource{err: errors.New("db down")}, logger.NewNoOpLogger(), false)
	_, err := s.DueNotifications(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
