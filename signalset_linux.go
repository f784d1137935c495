package sigplay

import "syscall"

// The kernel's real-time range starts at 32; the first two are reserved by the C library's
// threading implementation, so the usable range starts at 34 as in glibc.
const (
	SIGRTMIN syscall.Signal = 34
	SIGRTMAX syscall.Signal = 64

	hasRealtimeSignals = true
)

const maxSignal syscall.Signal = 64
