//go:build !linux

package sigplay

import "syscall"

// No real-time signals outside of Linux; the constants exist so that callers compile.
const (
	SIGRTMIN syscall.Signal = -1
	SIGRTMAX syscall.Signal = -1

	hasRealtimeSignals = false
)

const maxSignal syscall.Signal = 31
