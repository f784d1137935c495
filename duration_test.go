package sigplay_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sharnoff/sigplay"
)

func TestToTimevalCarriesToWholeSecond(t *testing.T) {
	tv, err := sigplay.ToTimeval(2.9999999999)
	require.NoError(t, err)
	assert.Equal(t, int64(3), int64(tv.Sec))
	assert.Equal(t, int64(0), int64(tv.Usec))
}

func TestToTimespecCarriesToWholeSecond(t *testing.T) {
	ts, err := sigplay.ToTimespec(2.9999999999)
	require.NoError(t, err)
	assert.Equal(t, int64(3), int64(ts.Sec))
	assert.Equal(t, int64(0), int64(ts.Nsec))
}

func TestNegativeSecondsNeverZero(t *testing.T) {
	for _, in := range []float64{-1, -0.000001, math.Inf(-1), math.Inf(1), math.NaN()} {
		ts, err := sigplay.ToTimespec(in)
		assert.ErrorIs(t, err, sigplay.ErrNegativeSeconds, "input %v", in)
		assert.Equal(t, unix.Timespec{Sec: 1}, ts, "input %v", in)

		tv, err := sigplay.ToTimeval(in)
		assert.ErrorIs(t, err, sigplay.ErrNegativeSeconds, "input %v", in)
		assert.Equal(t, unix.Timeval{Sec: 1}, tv, "input %v", in)
	}
}

func TestTooManySecondsRejected(t *testing.T) {
	for _, in := range []float64{1e10, sigplay.MaxSeconds, math.MaxFloat64} {
		ts, err := sigplay.ToTimespec(in)
		assert.ErrorIs(t, err, sigplay.ErrSecondsTooLarge, "input %v", in)
		assert.Equal(t, unix.Timespec{Sec: 1}, ts, "input %v", in)

		tv, err := sigplay.ToTimeval(in)
		assert.ErrorIs(t, err, sigplay.ErrSecondsTooLarge, "input %v", in)
		assert.Equal(t, unix.Timeval{Sec: 1}, tv, "input %v", in)
	}

	// the largest accepted input still converts exactly
	ts, err := sigplay.ToTimespec(sigplay.MaxSeconds - 1)
	require.NoError(t, err)
	assert.Equal(t, int64(sigplay.MaxSeconds-1), int64(ts.Sec))
	assert.Zero(t, int64(ts.Nsec))
}

func TestDurationRoundTripWithinOneTick(t *testing.T) {
	inputs := []float64{0, 0.5, 1, 1.25, 2.4, 2.9999999999, 3.0000001, 0.000000001, 0.0000004, 59.123456789, 12345.678, 1e9 + 0.5}

	for _, in := range inputs {
		ts, err := sigplay.ToTimespec(in)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(ts.Nsec), int64(0))
		assert.Less(t, int64(ts.Nsec), int64(1e9))
		back := float64(ts.Sec) + float64(ts.Nsec)/1e9
		assert.Less(t, math.Abs(back-in), 1e-9+1e-11, "timespec for %v", in)

		tv, err := sigplay.ToTimeval(in)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(tv.Usec), int64(0))
		assert.Less(t, int64(tv.Usec), int64(1e6))
		back = float64(tv.Sec) + float64(tv.Usec)/1e6
		assert.Less(t, math.Abs(back-in), 1e-6, "timeval for %v", in)
	}
}

func TestFormatDurations(t *testing.T) {
	ts, err := sigplay.ToTimespec(1.5)
	require.NoError(t, err)
	assert.Equal(t, "timespec(tv_sec = 1 seconds, tv_nsec = 500000000 nanoseconds)", sigplay.FormatTimespec(ts))

	tv, err := sigplay.ToTimeval(2.25)
	require.NoError(t, err)
	assert.Equal(t, "timeval(tv_sec = 2 seconds, tv_usec = 250000 microseconds)", sigplay.FormatTimeval(tv))
}
