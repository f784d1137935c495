package sigplay

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	nanosPerSecond  = 1_000_000_000
	microsPerSecond = 1_000_000
)

// ErrNegativeSeconds is returned by [ToTimespec] and [ToTimeval] when given a negative (or
// otherwise unrepresentable) number of seconds. The accompanying value is always one second.
var ErrNegativeSeconds = errors.New("seconds must be a non-negative finite number")

// ErrSecondsTooLarge is returned by [ToTimespec] and [ToTimeval] for a number of seconds at or
// above [MaxSeconds]. The accompanying value is one second, as for [ErrNegativeSeconds].
var ErrSecondsTooLarge = errors.New("seconds too large for a timeout")

// MaxSeconds bounds the timeouts that can be converted: the total in nanoseconds must fit a
// time.Duration.
const MaxSeconds = math.MaxInt64 / nanosPerSecond

// splitSeconds converts seconds into whole seconds plus a sub-second count at the given
// resolution, rounding the fractional part up.
func splitSeconds(seconds float64, perSecond int64) (sec, sub int64, err error) {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		// never zero
		return 1, 0, errors.Wrapf(ErrNegativeSeconds, "got %g", seconds)
	}
	if seconds >= MaxSeconds {
		return 1, 0, errors.Wrapf(ErrSecondsTooLarge, "got %g, max %d", seconds, MaxSeconds)
	}

	whole := math.Floor(seconds)
	sec = int64(whole)
	sub = int64(math.Ceil((seconds - whole) * float64(perSecond)))

	if sub >= perSecond {
		sub -= perSecond
		sec += 1
	}
	return sec, sub, nil
}

// ToTimespec converts seconds into a relative timeout at nanosecond resolution, suitable for
// [Router.Wait].
//
// The whole seconds are rounded down and the fractional part is rounded up to the next
// nanosecond, so 2.9999999999 becomes exactly 3 seconds. Negative input returns
// [ErrNegativeSeconds] and input of [MaxSeconds] or more returns [ErrSecondsTooLarge], both
// together with a timeout of one second.
func ToTimespec(seconds float64) (unix.Timespec, error) {
	sec, nsec, err := splitSeconds(seconds, nanosPerSecond)
	return unix.NsecToTimespec(sec*nanosPerSecond + nsec), err
}

// ToTimeval is like [ToTimespec], at microsecond resolution. It is suitable for
// [Router.Sleep].
func ToTimeval(seconds float64) (unix.Timeval, error) {
	sec, usec, err := splitSeconds(seconds, microsPerSecond)
	return unix.NsecToTimeval(sec*nanosPerSecond + usec*1000), err
}

// FormatTimespec renders ts for display, e.g.
// "timespec(tv_sec = 3 seconds, tv_nsec = 0 nanoseconds)".
func FormatTimespec(ts unix.Timespec) string {
	sec, nsec := ts.Unix()
	return fmt.Sprintf("timespec(tv_sec = %d seconds, tv_nsec = %d nanoseconds)", sec, nsec)
}

// FormatTimeval renders tv for display, e.g.
// "timeval(tv_sec = 3 seconds, tv_usec = 0 microseconds)".
func FormatTimeval(tv unix.Timeval) string {
	sec, nsec := tv.Unix()
	return fmt.Sprintf("timeval(tv_sec = %d seconds, tv_usec = %d microseconds)", sec, nsec/1000)
}

func timespecValid(ts unix.Timespec) bool {
	sec, nsec := int64(ts.Sec), int64(ts.Nsec)
	return sec >= 0 && nsec >= 0 && nsec < nanosPerSecond
}

func timevalValid(tv unix.Timeval) bool {
	sec, usec := int64(tv.Sec), int64(tv.Usec)
	return sec >= 0 && usec >= 0 && usec < microsPerSecond
}

func timespecDuration(ts unix.Timespec) time.Duration {
	return time.Duration(ts.Nano())
}

func timevalDuration(tv unix.Timeval) time.Duration {
	return time.Duration(tv.Nano())
}
