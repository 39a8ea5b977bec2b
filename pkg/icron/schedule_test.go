package icron

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 3 * * *", false},
		{"@daily", false},
		{"@every 6h", false},
		{"*/15 * * * *", false},
		{"0 0 3 * * *", true},
		{"not a cron", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := Parse(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, s.String())
		})
	}
}

func TestGetTriggerInfo_Daily(t *testing.T) {
	ref := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("0 3 * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 11, 3, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 9*time.Hour, info.TimeSinceLast)
	assert.Equal(t, 15*time.Hour, info.TimeUntilNext)
	assert.Equal(t, "0 3 * * *", info.Expression)
}

func TestSchedule_Prev(t *testing.T) {
	ref := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		expr     string
		lookback time.Duration
		want     time.Time
	}{
		{"*/15 * * * *", DefaultLookback, ref},
		{"0 * * * *", DefaultLookback, ref},
		{"30 * * * *", DefaultLookback, time.Date(2024, 5, 10, 11, 30, 0, 0, time.UTC)},
		{"0 0 1 1 *", DefaultLookback, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"0 3 * * *", time.Hour, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Prev(ref, tt.lookback))
		})
	}
}

func TestSchedule_IsCronSchedule(t *testing.T) {
	s, err := Parse("@hourly")
	require.NoError(t, err)

	c := cron.New()
	c.Schedule(s, cron.FuncJob(func() {}))
	require.Len(t, c.Entries(), 1)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("bogus", time.Now())
	assert.Error(t, err)
}
