package sigplay

import (
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// SignalState holds the counters shared between signal handlers and the polling loops.
//
// Handlers only write (RequestStop, NoteAction); loops read, and read-and-clear the action
// signal. Everything is a single atomic word: a handler may run at any time relative to the
// loops, so none of this is ever behind a lock.
type SignalState struct {
	stop        atomic.Int32
	action      atomic.Int32
	activations atomic.Uint64

	stopped chan struct{}
}

// DefaultState is the process-wide state used by the drivers.
var DefaultState = NewSignalState()

// NewSignalState returns a SignalState with no stop requested and zero counters.
func NewSignalState() *SignalState {
	return &SignalState{stopped: make(chan struct{})}
}

// RequestStop records sig as the soft-stop signal. Only the first request is recorded; later
// ones are ignored.
func (s *SignalState) RequestStop(sig syscall.Signal) {
	if sig == 0 {
		return
	}
	if s.stop.CompareAndSwap(0, int32(sig)) {
		close(s.stopped)
	}
}

// StopSignal returns the signal that requested the soft stop, or zero if none has.
func (s *SignalState) StopSignal() syscall.Signal {
	return syscall.Signal(s.stop.Load())
}

// Stopped reports whether a soft stop has been requested.
func (s *SignalState) Stopped() bool {
	return s.stop.Load() != 0
}

// StopRequested returns a channel that is closed once a soft stop has been requested.
func (s *SignalState) StopRequested() <-chan struct{} {
	return s.stopped
}

// NoteAction records sig as the most recent interfering signal and counts one activation.
func (s *SignalState) NoteAction(sig syscall.Signal) {
	s.action.Store(int32(sig))
	s.activations.Add(1)
}

// TakeAction returns the most recent interfering signal (zero if none) and clears it.
func (s *SignalState) TakeAction() syscall.Signal {
	return syscall.Signal(s.action.Swap(0))
}

// Activations returns the number of times an action handler has run.
func (s *SignalState) Activations() uint64 {
	return s.activations.Load()
}

// SoftStopHandler returns the handler that turns a signal into a soft-stop request.
func (s *SignalState) SoftStopHandler() Handler {
	return HandlerFunc(s.RequestStop)
}

// ActionHandler returns the handler that counts interfering signals, in basic form.
func (s *SignalState) ActionHandler() Handler {
	return HandlerFunc(s.NoteAction)
}

// ActionInfoHandler is like ActionHandler, in extended form.
func (s *SignalState) ActionInfoHandler() InfoHandler {
	return InfoHandlerFunc(func(info SignalInfo) {
		s.NoteAction(info.Signal)
	})
}

// clobberErrno performs a call that always fails with EBADF. In C this overwrites errno from
// inside the handler; here each call returns its own error, which is the point being shown.
func clobberErrno() {
	_ = unix.Close(-1)
}

// InstallErrnoLoopHandlers installs the dispositions used together with [ErrnoLoop]: the
// soft-stop handler on [SoftStopSignals], and an action handler on [ErrnoLoopSignals] that
// also makes a failing close(2) call. SA_SIGINFO in flags selects the extended handler form
// for the action signals; the soft-stop handler always uses the basic form.
func InstallErrnoLoopHandlers(r *Router, s *SignalState, flags Flags) {
	for _, sig := range SoftStopSignals() {
		r.Handle(sig, s.SoftStopHandler(), flags)
	}

	for _, sig := range ErrnoLoopSignals() {
		if flags.Has(FlagSigInfo) {
			r.HandleInfo(sig, InfoHandlerFunc(func(info SignalInfo) {
				s.NoteAction(info.Signal)
				clobberErrno()
			}), flags)
		} else {
			r.Handle(sig, HandlerFunc(func(sig syscall.Signal) {
				s.NoteAction(sig)
				clobberErrno()
			}), flags)
		}
	}
}

// InstallHandlingLoopHandlers installs the dispositions used together with [WaitLoop] and
// [SleepLoop]: the soft-stop handler on [SoftStopSignals] and the counting action handler on
// [HandlingLoopSignals].
func InstallHandlingLoopHandlers(r *Router, s *SignalState, flags Flags) {
	for _, sig := range SoftStopSignals() {
		r.Handle(sig, s.SoftStopHandler(), flags)
	}

	for _, sig := range HandlingLoopSignals() {
		if flags.Has(FlagSigInfo) {
			r.HandleInfo(sig, s.ActionInfoHandler(), flags)
		} else {
			r.Handle(sig, s.ActionHandler(), flags)
		}
	}
}
