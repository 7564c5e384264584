package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"09:00", "09:00", false},
		{"00:00", "00:00", false},
		{"23:59", "23:59", false},
		{"9:00", "09:00", false},
		{"24:00", "", true},
		{"12:60", "", true},
		{"noon", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseClockTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.String())
		})
	}
}

func TestClockTimeAddAndValid(t *testing.T) {
	c, err := ParseClockTime("23:30")
	require.NoError(t, err)

	assert.Equal(t, "23:45", c.Add(15).String())
	assert.True(t, c.Add(15).Valid())
	assert.False(t, c.Add(30).Valid())
	assert.False(t, ClockTime(-1).Valid())
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name                       string
		startA, endA, startB, endB ClockTime
		want                       bool
	}{
		{"disjoint", 540, 570, 600, 630, false},
		{"touching edges", 540, 570, 570, 600, false},
		{"identical", 540, 570, 540, 570, true},
		{"partial overlap", 540, 600, 570, 630, true},
		{"contained", 540, 660, 570, 600, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.startA, tt.endA, tt.startB, tt.endB))
			assert.Equal(t, tt.want, Overlaps(tt.startB, tt.endB, tt.startA, tt.endA), "overlap must be symmetric")
		})
	}
}

func TestStartAt(t *testing.T) {
	date := time.Date(2026, 9, 7, 15, 42, 7, 0, time.UTC) // time-of-day noise is dropped
	c, err := ParseClockTime("09:30")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 9, 7, 9, 30, 0, 0, time.UTC), StartAt(date, c))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusScheduled.Active())
	assert.True(t, StatusConfirmed.Active())
	assert.False(t, StatusCanceled.Active())

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusNoShow.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusScheduled.Terminal())
}
