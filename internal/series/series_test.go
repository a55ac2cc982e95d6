package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestNewRejectsUnorderedDates(t *testing.T) {
	_, err := New([]Point{
		{Date: day(2026, 1, 2), Value: 1},
		{Date: day(2026, 1, 1), Value: 2},
	})
	require.Error(t, err)

	_, err = New([]Point{
		{Date: day(2026, 1, 1), Value: 1},
		{Date: day(2026, 1, 1), Value: 2},
	})
	require.Error(t, err, "duplicate dates must be rejected")
}

func TestFromValuesDaily(t *testing.T) {
	s := FromValues(day(2026, 3, 1), []float64{10, 11, 12})
	require.Equal(t, 3, s.Len())
	assert.Equal(t, day(2026, 3, 3), s.Last().Date)
	assert.Equal(t, 12.0, s.Last().Value)
}

func TestTailHeadSplit(t *testing.T) {
	s := FromValues(day(2026, 1, 1), []float64{1, 2, 3, 4, 5})

	tail := s.Tail(2)
	require.Equal(t, 2, tail.Len())
	assert.Equal(t, []float64{4, 5}, tail.Values())

	head := s.Head(2)
	require.Equal(t, 3, head.Len())
	assert.Equal(t, []float64{1, 2, 3}, head.Values())

	older, newest := s.SplitTail(1)
	assert.Equal(t, 4, older.Len())
	assert.Equal(t, []float64{5}, newest.Values())

	// Oversized windows clamp rather than panic.
	assert.Equal(t, 5, s.Tail(99).Len())
	assert.Equal(t, 0, s.Head(99).Len())
}

func TestDiffAndReturns(t *testing.T) {
	s := FromValues(day(2026, 1, 1), []float64{100, 110, 99})
	assert.Equal(t, []float64{10, -11}, s.Diff())

	rets := s.Returns()
	require.Len(t, rets, 2)
	assert.InDelta(t, 0.10, rets[0], 1e-12)
	assert.InDelta(t, -0.10, rets[1], 1e-12)

	zero := FromValues(day(2026, 1, 1), []float64{0, 5})
	assert.Equal(t, []float64{0}, zero.Returns(), "zero base yields zero return")
}

func TestValueOnExactAndDrift(t *testing.T) {
	s, err := New([]Point{
		{Date: day(2026, 1, 1), Value: 10},
		{Date: day(2026, 1, 5), Value: 50},
		{Date: day(2026, 1, 9), Value: 90},
	})
	require.NoError(t, err)

	v, ok := s.ValueOn(day(2026, 1, 5), 3)
	require.True(t, ok)
	assert.Equal(t, 50.0, v)

	// Jan 7 is 2 days from both Jan 5 and Jan 9; the earlier date wins.
	v, ok = s.ValueOn(day(2026, 1, 7), 3)
	require.True(t, ok)
	assert.Equal(t, 50.0, v)

	// Jan 8 is closer to Jan 9.
	v, ok = s.ValueOn(day(2026, 1, 8), 3)
	require.True(t, ok)
	assert.Equal(t, 90.0, v)

	// Outside the drift window.
	_, ok = s.ValueOn(day(2026, 1, 20), 3)
	assert.False(t, ok)

	_, ok = (&Series{}).ValueOn(day(2026, 1, 1), 3)
	assert.False(t, ok)
}

func TestMomentsAndDrawdown(t *testing.T) {
	s := FromValues(day(2026, 1, 1), []float64{2, 4, 6})
	assert.InDelta(t, 4.0, s.Mean(), 1e-12)
	assert.InDelta(t, 2.0, s.Std(), 1e-12)

	dd := FromValues(day(2026, 1, 1), []float64{100, 120, 90, 110})
	assert.InDelta(t, 0.25, dd.MaxDrawdown(), 1e-12)

	flat := FromValues(day(2026, 1, 1), []float64{5, 5, 5})
	assert.Zero(t, flat.MaxDrawdown())
}
