package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDayNormalizesFormats(t *testing.T) {
	cal := NewCalendar(time.UTC)
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2025-06-01",
		" 2025-06-01 ",
		"2025-06-01T15:30:00",
		"2025-06-01 23:59:59",
		"2025-06-01T08:00:00Z",
		"2025-06-01T10:00:00+02:00",
	} {
		day, err := cal.ParseDay(in)
		require.NoError(t, err, in)
		assert.True(t, day.Start.Equal(want), "%s -> %s", in, day.Start)
		assert.True(t, day.End.Equal(want.Add(24*time.Hour)), in)
	}
}

func TestParseDayUsesReferenceZone(t *testing.T) {
	cal := NewCalendar(time.FixedZone("UTC+3", 3*3600))

	// 22:30Z is already the next day three hours east.
	day, err := cal.ParseDay("2025-06-01T22:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-02", cal.FormatDay(day.Start))

	plain, err := cal.ParseDay("2025-06-02")
	require.NoError(t, err)
	assert.True(t, plain.Start.Equal(day.Start))
	assert.Equal(t, time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC), plain.Start)
}

func TestParseDayRejects(t *testing.T) {
	cal := NewCalendar(nil)
	for _, in := range []string{"", "   ", "tomorrow", "2025-13-01", "01/06/2025"} {
		_, err := cal.ParseDay(in)
		assert.True(t, errors.Is(err, ErrInvalidRequest), "%q", in)
	}
}

func TestDaySpanAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	cal := NewCalendar(ny)
	day, err := cal.ParseDay("2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour, day.End.Sub(day.Start))

	day, err = cal.ParseDay("2025-11-02")
	require.NoError(t, err)
	assert.Equal(t, 25*time.Hour, day.End.Sub(day.Start))
}

func TestDaySpanContains(t *testing.T) {
	day := NewCalendar(time.UTC).Day(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	assert.True(t, day.Contains(day.Start))
	assert.True(t, day.Contains(day.End.Add(-time.Nanosecond)))
	assert.False(t, day.Contains(day.End))
	assert.False(t, day.Contains(day.Start.Add(-time.Second)))
}

func TestParseClock(t *testing.T) {
	cases := map[string]string{
		"09:00":   "09:00",
		"9:00":    "09:00",
		" 13:45 ": "13:45",
		"00:00":   "00:00",
		"23:59":   "23:59",
	}
	for in, want := range cases {
		got, err := ParseClock("start_time", in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", "24:00", "25:00", "12:60", "9", "noon", "12:5"} {
		_, err := ParseClock("start_time", in)
		assert.ErrorIs(t, err, ErrInvalidRequest, in)
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		aStart, aEnd, bStart, bEnd string
		want                       bool
	}{
		{"10:00", "11:00", "10:30", "11:30", true},
		{"10:00", "12:00", "10:30", "11:00", true},
		{"10:30", "11:00", "10:00", "12:00", true},
		{"10:00", "11:00", "10:00", "11:00", true},
		{"10:00", "11:00", "11:00", "12:00", false},
		{"11:00", "12:00", "10:00", "11:00", false},
		{"08:00", "09:00", "13:00", "14:00", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Overlaps(c.aStart, c.aEnd, c.bStart, c.bEnd), "%+v", c)
		assert.Equal(t, c.want, Overlaps(c.bStart, c.bEnd, c.aStart, c.aEnd), "symmetric %+v", c)
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "conflict", Outcome(ErrConflict))
	assert.Equal(t, "quota_exceeded", Outcome(errors.Join(errors.New("x"), ErrQuotaExceeded)))
	assert.Equal(t, "unavailable", Outcome(ErrStoreUnavailable))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
