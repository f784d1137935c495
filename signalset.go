package sigplay

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

// SignalSet is a small set of signal numbers, kept sorted and free of duplicates.
type SignalSet []syscall.Signal

// NewSignalSet returns a set containing sigs.
func NewSignalSet(sigs ...syscall.Signal) SignalSet {
	set := SignalSet(slices.Clone(sigs))
	slices.Sort(set)
	return slices.Compact(set)
}

// Contains reports whether sig is in the set.
func (s SignalSet) Contains(sig syscall.Signal) bool {
	return slices.Contains(s, sig)
}

// Without returns a copy of s with sigs removed.
func (s SignalSet) Without(sigs ...syscall.Signal) SignalSet {
	var out SignalSet
	for _, sig := range s {
		if !slices.Contains(sigs, sig) {
			out = append(out, sig)
		}
	}
	return out
}

func (s SignalSet) String() string {
	names := make([]string, len(s))
	for i, sig := range s {
		names[i] = SignalName(sig)
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// SignalName returns the conventional name of sig, e.g. "SIGUSR1" or "SIGRTMIN+2".
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	if hasRealtimeSignals && sig >= SIGRTMIN && sig <= SIGRTMAX {
		if off := sig - SIGRTMIN; off <= (SIGRTMAX-SIGRTMIN)/2 {
			if off == 0 {
				return "SIGRTMIN"
			}
			return fmt.Sprintf("SIGRTMIN+%d", off)
		}
		if off := SIGRTMAX - sig; off != 0 {
			return fmt.Sprintf("SIGRTMAX-%d", off)
		}
		return "SIGRTMAX"
	}
	return fmt.Sprintf("signal %d", int(sig))
}

func isRealtime(sig syscall.Signal) bool {
	return hasRealtimeSignals && sig >= SIGRTMIN && sig <= SIGRTMAX
}

// SoftStopSignals returns the signals that request a cooperative stop of the loops: SIGINT,
// plus SIGRTMIN+1 and SIGRTMAX-1 where real-time signals exist.
func SoftStopSignals() SignalSet {
	if !hasRealtimeSignals {
		return NewSignalSet(syscall.SIGINT)
	}
	return NewSignalSet(syscall.SIGINT, SIGRTMIN+1, SIGRTMAX-1)
}

// ErrnoLoopSignals returns the signals whose handlers interfere with an [ErrnoLoop]. The
// soft-stop signals are never part of it.
func ErrnoLoopSignals() SignalSet {
	return actionSignals()
}

// HandlingLoopSignals returns the reserved set waited on by a [WaitLoop], and handled
// asynchronously otherwise. The soft-stop signals are never part of it, so that a stop
// request is never consumed by a synchronous wait.
func HandlingLoopSignals() SignalSet {
	return actionSignals()
}

func actionSignals() SignalSet {
	if !hasRealtimeSignals {
		return NewSignalSet(syscall.SIGUSR1, syscall.SIGUSR2)
	}
	return NewSignalSet(
		syscall.SIGUSR1, syscall.SIGUSR2,
		SIGRTMIN, SIGRTMIN+2,
		SIGRTMAX-2, SIGRTMAX,
	)
}

// ParseSignal parses a signal given as a number, or by name with or without the "SIG" prefix:
// "10", "SIGUSR1", "usr1", "RTMIN+2", "SIGRTMAX-1".
func ParseSignal(text string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(text); err == nil {
		sig := syscall.Signal(n)
		if sig <= 0 || sig > maxSignal {
			return 0, errors.Errorf("signal number %d out of range 1..%d", n, int(maxSignal))
		}
		return sig, nil
	}

	name := strings.ToUpper(text)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}

	if hasRealtimeSignals {
		for _, rt := range []struct {
			prefix string
			base   syscall.Signal
			dir    syscall.Signal
		}{{"SIGRTMIN", SIGRTMIN, 1}, {"SIGRTMAX", SIGRTMAX, -1}} {
			rest, ok := strings.CutPrefix(name, rt.prefix)
			if !ok {
				continue
			}
			if rest == "" {
				return rt.base, nil
			}
			off, err := strconv.Atoi(rest)
			sig := rt.base + rt.dir*syscall.Signal(abs(off))
			if err != nil || (rt.dir > 0) != (off > 0) || !isRealtime(sig) {
				return 0, errors.Errorf("bad real-time signal %q", text)
			}
			return sig, nil
		}
	}

	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, errors.Errorf("unknown signal %q", text)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
