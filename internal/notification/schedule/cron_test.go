package schedule

import (
	"testing"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(y int, m time.Month, d, h, min, s int) time.Time {
	return time.Date(y, m, d, h, min, s, 0, time.UTC)
}

// ==========================
// IsDue
// ==========================

func TestIsDue_EveryFiveMinutes(t *testing.T) {
	base := at(2024, 5, 10, 14, 0, 0)
	for i := 0; i < 60; i++ {
		now := base.Add(time.Duration(i)*time.Minute + 37*time.Second)
		assert.Equal(t, now.Minute()%5 == 0, IsDue("*/5 * * * *", now), "minute %d", now.Minute())
	}
}

func TestIsDue(t *testing.T) {
	tests := []struct {
		name string
		expr string
		now  time.Time
		want bool
	}{
		{"daily at nine matches", "0 9 * * *", at(2024, 5, 10, 9, 0, 59), true},
		{"daily at nine other minute", "0 9 * * *", at(2024, 5, 10, 9, 1, 0), false},
		{"weekday only on saturday", "0 9 * * 1-5", at(2024, 5, 11, 9, 0, 0), false},
		{"descriptor", "@daily", at(2024, 5, 11, 0, 0, 10), true},
		{"garbage", "not a cron", at(2024, 5, 10, 9, 0, 0), false},
		{"out of range", "61 * * * *", at(2024, 5, 10, 9, 0, 0), false},
		{"empty", "", at(2024, 5, 10, 9, 0, 0), false},
		{"every is rejected", "@every 1m", at(2024, 5, 10, 9, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, IsDue(tt.expr, tt.now))
			})
		})
	}
}

// ==========================
// PreviousRun / CalculateDateRange
// ==========================

func TestPreviousRun(t *testing.T) {
	tests := []struct {
		name string
		expr string
		now  time.Time
		want time.Time
	}{
		{"same day earlier", "0 9 * * *", at(2024, 5, 10, 10, 30, 0), at(2024, 5, 10, 9, 0, 0)},
		{"strictly before current minute", "0 9 * * *", at(2024, 5, 10, 9, 0, 30), at(2024, 5, 9, 9, 0, 0)},
		{"every minute", "* * * * *", at(2024, 5, 10, 9, 0, 30), at(2024, 5, 10, 8, 59, 0)},
		{"monthly", "0 0 1 * *", at(2024, 5, 10, 0, 0, 0), at(2024, 5, 1, 0, 0, 0)},
		{"yearly", "0 0 1 1 *", at(2024, 5, 10, 0, 0, 0), at(2024, 1, 1, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PreviousRun(tt.expr, tt.now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}

	_, err := PreviousRun("bad", at(2024, 5, 10, 0, 0, 0))
	assert.Error(t, err)
}

func TestCalculateDateRange_DailyAtNine(t *testing.T) {
	now := at(2024, 5, 10, 10, 30, 0)
	prev, err := PreviousRun("0 9 * * *", now)
	require.NoError(t, err)

	r := CalculateDateRange("0 9 * * *", now)
	assert.True(t, r.To.Equal(now))
	assert.True(t, r.From.Equal(prev.AddDate(0, 0, -1)))
	assert.True(t, r.From.Equal(at(2024, 5, 9, 9, 0, 0)))
}

func TestCalculateDateRange_Intervals(t *testing.T) {
	now := at(2024, 5, 10, 10, 30, 0)
	tests := []struct {
		name string
		expr string
		from time.Time
	}{
		{"minute wildcard", "* * * * *", at(2024, 5, 10, 10, 28, 0)},
		{"hour wildcard", "15 * * * *", at(2024, 5, 10, 9, 15, 0)},
		// A stepped minute is not a wildcard, so the hour field decides and
		// the window reaches back a full hour rather than one minute.
		{"stepped minute", "*/5 * * * *", at(2024, 5, 10, 9, 25, 0)},
		{"month wildcard", "0 6 1 * *", at(2024, 4, 1, 6, 0, 0)},
		{"nothing wildcard", "0 6 1 1 *", at(2023, 12, 31, 6, 0, 0)},
		{"hourly descriptor", "@hourly", at(2024, 5, 10, 9, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CalculateDateRange(tt.expr, now)
			assert.True(t, tt.from.Equal(r.From), "got %v want %v", r.From, tt.from)
			assert.True(t, r.To.Equal(now))
		})
	}
}

func TestCalculateDateRange_InvalidFallsBack(t *testing.T) {
	now := at(2024, 5, 10, 10, 30, 0)
	r := CalculateDateRange("nonsense", now)
	assert.True(t, r.From.Equal(at(2024, 5, 9, 0, 0, 0)))
	assert.True(t, r.To.Equal(now))
}

// ==========================
// Parse
// ==========================

func TestParse_InvalidSchedules(t *testing.T) {
	for _, expr := range []string{"", "   ", "61 * * * *", "@every 5m", "nonsense"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeScheduleInvalid))
			assert.False(t, apperrors.IsRetryable(err))
		})
	}

	_, err := Parse("@daily")
	assert.NoError(t, err)
}
