package sigplay

import (
	"context"
	"fmt"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// DefaultMkdirPath is a directory an unprivileged user can't create.
const DefaultMkdirPath = "/should-fail"

// MkdirOp returns an operation that tries to create the directory at path, which is expected to
// fail. If it unexpectedly succeeds, the directory is removed again so the next call sees the
// same situation.
func MkdirOp(path string) func() error {
	return func() error {
		err := unix.Mkdir(path, unix.S_IRWXU)
		if err == nil {
			_ = unix.Rmdir(path)
		}
		return err
	}
}

// ErrnoLoop repeatedly performs an operation that is expected to fail with one particular
// error, while signals with an interfering action arrive, until a soft stop is requested.
type ErrnoLoop struct {
	// Label prefixes every message, to tell concurrent loops apart.
	Label string
	// Op is the operation to repeat. Defaults to MkdirOp(DefaultMkdirPath).
	Op func() error
	// Expected is the error Op should return, compared with errors.Is. Defaults to EACCES.
	Expected error
	// State defaults to DefaultState.
	State *SignalState

	Log     *zerolog.Logger
	Metrics *Metrics
}

// ErrnoLoopSummary is the result of [ErrnoLoop.Run].
type ErrnoLoopSummary struct {
	Label        string
	StopSignal   syscall.Signal
	Calls        uint64
	Interference uint64
	Unexpected   uint64
}

func (s ErrnoLoopSummary) String() string {
	return fmt.Sprintf("%s Stopped by signal %d after %d calls made, %d signals with interfering action detected, %d cases of unexpected errno value.",
		s.Label, int(s.StopSignal), s.Calls, s.Interference, s.Unexpected)
}

// Run performs the loop. The summary is logged and returned on every exit path.
//
// Between two calls of Op, the most recent interfering signal is taken from State; each time
// there was one, Interference is incremented. Any outcome of Op other than the expected error,
// success included, is counted in Unexpected and logged at info level: it is expected to
// happen now and then, and is not a failure of the loop.
//
// If ctx is done before a soft stop, Run reaches a cancellation point (see [TestCancel]) and
// otherwise returns ctx.Err().
func (l *ErrnoLoop) Run(ctx context.Context) (ErrnoLoopSummary, error) {
	op := l.Op
	if op == nil {
		op = MkdirOp(DefaultMkdirPath)
	}
	expected := l.Expected
	if expected == nil {
		expected = unix.EACCES
	}
	state := l.State
	if state == nil {
		state = DefaultState
	}
	log := logOrNop(l.Log).With().Str("label", l.Label).Logger()

	sum := ErrnoLoopSummary{Label: l.Label}
	for !state.Stopped() {
		select {
		case <-ctx.Done():
			l.finish(log, &sum, state)
			TestCancel(ctx)
			return sum, ctx.Err()
		default:
		}

		err := op()
		sum.Calls += 1
		l.Metrics.loopEvent("errno", l.Label, eventCycle)

		if !errors.Is(err, expected) {
			sum.Unexpected += 1
			l.Metrics.loopEvent("errno", l.Label, eventUnexpected)
			l.logUnexpected(log, &sum, err)
		}

		if state.TakeAction() != 0 {
			sum.Interference += 1
			l.Metrics.loopEvent("errno", l.Label, eventInterference)
		}
	}

	l.finish(log, &sum, state)
	return sum, nil
}

func (l *ErrnoLoop) logUnexpected(log zerolog.Logger, sum *ErrnoLoopSummary, err error) {
	ev := log.Info().
		Uint64("calls", sum.Calls).
		Uint64("signals", sum.Interference)

	if err == nil {
		ev.Msg("unexpected success")
		return
	}
	logErrno(ev, err).Msg("unexpected error")
}

func (l *ErrnoLoop) finish(log zerolog.Logger, sum *ErrnoLoopSummary, state *SignalState) {
	sum.StopSignal = state.StopSignal()
	log.Info().
		Int("stop_signal", int(sum.StopSignal)).
		Uint64("calls", sum.Calls).
		Uint64("interference", sum.Interference).
		Uint64("unexpected", sum.Unexpected).
		Msg(sum.String())
}

// CheckCloseEBADF checks that closing an invalid file descriptor fails with EBADF, which the
// interfering action handler of the errno loop relies on.
func CheckCloseEBADF() error {
	err := unix.Close(-1)
	if err == nil {
		return errors.New("close(-1) unexpectedly succeeded")
	}
	if !errors.Is(err, unix.EBADF) {
		return errors.Wrap(err, "unexpected error from close(-1)")
	}
	return nil
}
