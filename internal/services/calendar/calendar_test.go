package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSettings map[string]string

func (m mapSettings) Get(_ context.Context, key string) (string, error) { return m[key], nil }

func TestCalendarWorkingHours(t *testing.T) {
	c, err := New("UTC", "12-24", "mon,tue,wed,thu,fri", "", "")
	require.NoError(t, err)

	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		at      time.Time
		working bool
	}{
		{"monday morning", monday.Add(9 * time.Hour), false},
		{"monday noon", monday.Add(12 * time.Hour), true},
		{"monday late evening", monday.Add(23*time.Hour + 59*time.Minute), true},
		{"saturday afternoon", monday.AddDate(0, 0, 5).Add(15 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := c.Status(tt.at)
			assert.Equal(t, tt.working, st.WorkingTime)
			assert.False(t, st.Holiday)
		})
	}
}

func TestCalendarHolidays(t *testing.T) {
	c, err := New("UTC", "9-18", "mon-fri", "", "")
	assert.Error(t, err, "weekday ranges are not supported")
	assert.Nil(t, c)

	c, err = New("UTC", "9-18", "mon,tue,wed,thu,fri", "3: { 8: Women's Day }", "2024: { 3: { 5: Special Day } }")
	require.NoError(t, err)

	st := c.Status(time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC))
	assert.True(t, st.Holiday)
	assert.Equal(t, "Women's Day", st.HolidayName)
	assert.False(t, st.WorkingTime)

	st = c.Status(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	assert.True(t, st.Holiday)

	st = c.Status(time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC))
	assert.False(t, st.Holiday, "one-time holidays apply to their year only")
	assert.True(t, st.WorkingTime)
}

func TestCalendarEvaluatesInConfiguredZone(t *testing.T) {
	c, err := New("Etc/GMT-5", "12-24", "mon,tue,wed,thu,fri", "", "")
	require.NoError(t, err)
	// 08:00 UTC on a Monday is 13:00 at UTC+5.
	assert.True(t, c.Status(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)).WorkingTime)
	// 05:00 UTC is 10:00 local.
	assert.False(t, c.Status(time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC)).WorkingTime)
}

func TestLoadUsesDefaults(t *testing.T) {
	c, err := Load(context.Background(), mapSettings{KeyTimezone: "UTC"})
	require.NoError(t, err)
	assert.Equal(t, "UTC", c.Location().String())
	assert.True(t, c.Status(time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)).WorkingTime)

	_, err = Load(context.Background(), mapSettings{KeyWorkingHours: "18-9"})
	assert.Error(t, err)
}

func TestParseHours(t *testing.T) {
	s, e, err := parseHours(" 8 - 20 ")
	require.NoError(t, err)
	assert.Equal(t, 8, s)
	assert.Equal(t, 20, e)
	_, _, err = parseHours("nine to five")
	assert.Error(t, err)
}
