package sigplay

import (
	"context"
	"fmt"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// SignalWaiter waits synchronously for signals, like sigtimedwait(2). [*Router] implements it.
type SignalWaiter interface {
	Wait(ctx context.Context, set SignalSet, timeout unix.Timespec) (SignalInfo, error)
}

// Sleeper sleeps in a way that signals can interrupt, like select(2) without file descriptors.
// [*Router] implements it.
type Sleeper interface {
	Sleep(ctx context.Context, timeout unix.Timeval) error
}

// SignalLoopSummary is the result of [WaitLoop.Run] and [SleepLoop.Run]. Sync is always zero
// for a SleepLoop.
type SignalLoopSummary struct {
	Label       string
	StopSignal  syscall.Signal
	Cycles      uint64
	Sync        uint64
	Interrupted uint64
	Failed      uint64

	waiting bool
}

func (s SignalLoopSummary) String() string {
	if s.waiting {
		return fmt.Sprintf("%s Waiting loop stopped by signal %d after %d cycles, %d signals handled synchronously, %d times the wait was unexpectedly interrupted, %d failures.",
			s.Label, int(s.StopSignal), s.Cycles, s.Sync, s.Interrupted, s.Failed)
	}
	return fmt.Sprintf("%s Sleeping loop stopped by signal %d after %d cycles, %d times the sleep was unexpectedly interrupted, %d failures.",
		s.Label, int(s.StopSignal), s.Cycles, s.Interrupted, s.Failed)
}

func (s *SignalLoopSummary) addTo(ev *zerolog.Event) *zerolog.Event {
	ev = ev.Uint64("cycles", s.Cycles)
	if s.waiting {
		ev = ev.Uint64("sync", s.Sync)
	}
	return ev.Uint64("intr", s.Interrupted).Uint64("fail", s.Failed)
}

// WaitLoop waits for the signals of a reserved set, one bounded wait per cycle, until a soft
// stop is requested.
//
// The signals must be blocked beforehand (see [Router.Block]), or the wait never receives
// them. Signals is never allowed to contain a soft-stop signal: those must reach their handler
// so the loop can end.
type WaitLoop struct {
	Label string
	// CycleSeconds is the timeout of each wait.
	CycleSeconds float64
	Waiter       SignalWaiter
	// Signals defaults to HandlingLoopSignals().
	Signals SignalSet
	// State defaults to DefaultState.
	State *SignalState

	Log     *zerolog.Logger
	Metrics *Metrics
}

// Run performs the loop. Each wait either returns a signal (counted in Sync and reported with
// its payload: in full the first time, compactly afterwards), times out, is interrupted, or
// fails. An interruption counts in Interrupted unless a soft stop has been requested. A
// failure with EINVAL means the cycle time can't be used: the summary is logged and the
// process exits with [ExitInvalidWait]. Other failures count in Failed.
//
// A CycleSeconds that [ToTimespec] rejects ends the loop before the first wait, with the
// conversion error.
//
// The summary is logged and returned on every exit path. If ctx is done before a soft stop,
// Run reaches a cancellation point (see [TestCancel]) and otherwise returns ctx.Err().
func (l *WaitLoop) Run(ctx context.Context) (SignalLoopSummary, error) {
	state := l.State
	if state == nil {
		state = DefaultState
	}
	set := l.Signals
	if set == nil {
		set = HandlingLoopSignals()
	}
	set = set.Without(SoftStopSignals()...)
	log := logOrNop(l.Log).With().Str("label", l.Label).Logger()

	sum := SignalLoopSummary{Label: l.Label, waiting: true}

	timeout, err := ToTimespec(l.CycleSeconds)
	if err != nil {
		log.Error().Err(err).Float64("cycle_seconds", l.CycleSeconds).Msg("invalid cycle time")
		l.finish(log, &sum, state)
		return sum, err
	}
	log.Info().Msgf("%s Cycle time: %s.", l.Label, FormatTimespec(timeout))

	compact := false
	for !state.Stopped() {
		info, err := l.Waiter.Wait(ctx, set, timeout)
		sum.Cycles += 1
		l.Metrics.loopEvent("wait", l.Label, eventCycle)

		switch {
		case err == nil:
			sum.Sync += 1
			l.Metrics.loopEvent("wait", l.Label, eventSync)
			ev := sum.addTo(log.Info()).Int("signal", int(info.Signal)).Int("sival_int", info.Value)
			if compact {
				ev.Msgf("synchronously handling signal %d: sival_int = %d", int(info.Signal), info.Value)
			} else {
				ev.Int("pid", info.Pid).Bool("queued", info.Queued).
					Msgf("synchronously handling signal %d: %s", int(info.Signal), info)
				compact = true
			}
		case errors.Is(err, unix.EAGAIN):
			// timeout
		case errors.Is(err, unix.EINTR):
			if stop := state.StopSignal(); stop != 0 {
				sum.addTo(log.Info()).Int("stop_signal", int(stop)).
					Msgf("wait interrupted (probably signal %d)", int(stop))
			} else {
				sum.Interrupted += 1
				l.Metrics.loopEvent("wait", l.Label, eventInterrupted)
				sum.addTo(log.Warn()).Msg("wait unexpectedly interrupted")
			}
		case errors.Is(err, unix.EINVAL):
			sum.addTo(log.Error()).Str("timeout", FormatTimespec(timeout)).
				Msg("invalid timeout interval for wait")
			l.finish(log, &sum, state)
			Exit(ExitInvalidWait)
			return sum, errors.Wrap(err, "invalid wait timeout")
		case ctx.Err() != nil:
			l.finish(log, &sum, state)
			TestCancel(ctx)
			return sum, ctx.Err()
		default:
			sum.Failed += 1
			l.Metrics.loopEvent("wait", l.Label, eventFailed)
			logErrno(sum.addTo(log.Warn()), err).Msg("unexpected error from wait")
		}
	}

	l.finish(log, &sum, state)
	return sum, nil
}

func (l *WaitLoop) finish(log zerolog.Logger, sum *SignalLoopSummary, state *SignalState) {
	sum.StopSignal = state.StopSignal()
	sum.addTo(log.Info()).Int("stop_signal", int(sum.StopSignal)).Msg(sum.String())
}

// SleepLoop sleeps for a fixed cycle time, over and over, until a soft stop is requested. It
// never consumes signals itself: interfering signals are left to their handlers.
type SleepLoop struct {
	Label string
	// CycleSeconds is the length of each sleep.
	CycleSeconds float64
	Sleeper      Sleeper
	// State defaults to DefaultState.
	State *SignalState

	Log     *zerolog.Logger
	Metrics *Metrics
}

// Run performs the loop, with the same classification as [WaitLoop.Run]: a complete sleep
// continues silently, an interruption counts in Interrupted unless a soft stop has been
// requested, EINVAL exits the process with [ExitInvalidSleep] after logging the summary, and
// other failures count in Failed. A CycleSeconds that [ToTimeval] rejects ends the loop
// before the first sleep.
func (l *SleepLoop) Run(ctx context.Context) (SignalLoopSummary, error) {
	state := l.State
	if state == nil {
		state = DefaultState
	}
	log := logOrNop(l.Log).With().Str("label", l.Label).Logger()

	sum := SignalLoopSummary{Label: l.Label}

	timeout, err := ToTimeval(l.CycleSeconds)
	if err != nil {
		log.Error().Err(err).Float64("cycle_seconds", l.CycleSeconds).Msg("invalid cycle time")
		l.finish(log, &sum, state)
		return sum, err
	}
	log.Info().Msgf("%s Cycle time: %s.", l.Label, FormatTimeval(timeout))

	for !state.Stopped() {
		err := l.Sleeper.Sleep(ctx, timeout)
		sum.Cycles += 1
		l.Metrics.loopEvent("sleep", l.Label, eventCycle)

		switch {
		case err == nil:
			// timeout
		case errors.Is(err, unix.EINTR):
			if stop := state.StopSignal(); stop != 0 {
				sum.addTo(log.Info()).Int("stop_signal", int(stop)).
					Msgf("sleep interrupted (probably signal %d)", int(stop))
			} else {
				sum.Interrupted += 1
				l.Metrics.loopEvent("sleep", l.Label, eventInterrupted)
				sum.addTo(log.Warn()).Msg("sleep unexpectedly interrupted")
			}
		case errors.Is(err, unix.EINVAL):
			sum.addTo(log.Error()).Str("timeout", FormatTimeval(timeout)).
				Msg("invalid timeout interval for sleep")
			l.finish(log, &sum, state)
			Exit(ExitInvalidSleep)
			return sum, errors.Wrap(err, "invalid sleep timeout")
		case ctx.Err() != nil:
			l.finish(log, &sum, state)
			TestCancel(ctx)
			return sum, ctx.Err()
		default:
			sum.Failed += 1
			l.Metrics.loopEvent("sleep", l.Label, eventFailed)
			logErrno(sum.addTo(log.Warn()), err).Msg("unexpected error from sleep")
		}
	}

	l.finish(log, &sum, state)
	return sum, nil
}

func (l *SleepLoop) finish(log zerolog.Logger, sum *SignalLoopSummary, state *SignalState) {
	sum.StopSignal = state.StopSignal()
	sum.addTo(log.Info()).Int("stop_signal", int(sum.StopSignal)).Msg(sum.String())
}

// logErrno adds err, and its errno number and name if it has one, to ev.
func logErrno(ev *zerolog.Event, err error) *zerolog.Event {
	var errno unix.Errno
	if errors.As(err, &errno) {
		ev = ev.Int("errno", int(errno)).Str("errno_name", unix.ErrnoName(errno))
	}
	return ev.Err(err)
}
