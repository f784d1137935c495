package sigplay_test

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sharnoff/sigplay"
)

func newTestRouter() *sigplay.Router {
	return sigplay.NewRouter(sigplay.WithoutOSSignals())
}

var longTimespec = unix.Timespec{Sec: 30}
var longTimeval = unix.Timeval{Sec: 30}

// raiseUntil raises sig every few milliseconds until done yields, for callers that are about to
// block but may not have yet.
func raiseUntil[T any](t *testing.T, r *sigplay.Router, sig syscall.Signal, done <-chan T) T {
	deadline := time.After(5 * time.Second)
	for {
		r.Raise(sig)
		select {
		case v := <-done:
			return v
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out")
		}
	}
}

func TestRouterHandlerInterruptsSleep(t *testing.T) {
	r := newTestRouter()
	var calls atomic.Int32
	r.Handle(syscall.SIGUSR1, sigplay.HandlerFunc(func(sig syscall.Signal) {
		assert.Equal(t, syscall.SIGUSR1, sig)
		calls.Add(1)
	}), sigplay.DefaultFlags)

	done := make(chan error, 1)
	go func() { done <- r.Sleep(context.Background(), longTimeval) }()

	err := raiseUntil(t, r, syscall.SIGUSR1, done)
	assert.ErrorIs(t, err, unix.EINTR)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestRouterHandleInfoGetsPayload(t *testing.T) {
	r := newTestRouter()
	got := make(chan sigplay.SignalInfo, 1)
	r.HandleInfo(syscall.SIGUSR2, sigplay.InfoHandlerFunc(func(info sigplay.SignalInfo) {
		got <- info
	}), 0)

	flags, ok := r.Disposition(syscall.SIGUSR2)
	require.True(t, ok)
	assert.True(t, flags.Has(sigplay.FlagSigInfo))

	r.Queue(syscall.SIGUSR2, 42)
	info := <-got
	assert.Equal(t, syscall.SIGUSR2, info.Signal)
	assert.Equal(t, 42, info.Value)
	assert.True(t, info.Queued)
}

func TestRouterHandleClearsSigInfo(t *testing.T) {
	r := newTestRouter()
	r.Handle(syscall.SIGUSR1, sigplay.HandlerFunc(func(syscall.Signal) {}), sigplay.FlagSigInfo|sigplay.FlagRestart)

	flags, ok := r.Disposition(syscall.SIGUSR1)
	require.True(t, ok)
	assert.False(t, flags.Has(sigplay.FlagSigInfo))
	assert.True(t, flags.Has(sigplay.FlagRestart))
}

func TestRouterBlockedSignalGoesToWaiter(t *testing.T) {
	r := newTestRouter()
	var handled atomic.Int32
	r.Handle(syscall.SIGUSR1, sigplay.HandlerFunc(func(syscall.Signal) { handled.Add(1) }), 0)
	r.Block(sigplay.NewSignalSet(syscall.SIGUSR1))

	type result struct {
		info sigplay.SignalInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := r.Wait(context.Background(), sigplay.NewSignalSet(syscall.SIGUSR1), longTimespec)
		done <- result{info, err}
	}()

	res := raiseUntil(t, r, syscall.SIGUSR1, done)
	require.NoError(t, res.err)
	assert.Equal(t, syscall.SIGUSR1, res.info.Signal)
	assert.Zero(t, handled.Load(), "blocked signal must not run its handler")
}

func TestRouterPending(t *testing.T) {
	r := newTestRouter()
	set := sigplay.NewSignalSet(syscall.SIGUSR1, syscall.SIGUSR2)
	r.Block(set)
	assert.Equal(t, set, r.Blocked())

	// standard signals coalesce
	r.Raise(syscall.SIGUSR1)
	r.Raise(syscall.SIGUSR1)
	assert.Len(t, r.Pending(), 1)

	ctx := context.Background()
	info, err := r.Wait(ctx, set, unix.Timespec{})
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGUSR1, info.Signal)

	_, err = r.Wait(ctx, set, unix.Timespec{})
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func TestRouterPendingRealtimeQueues(t *testing.T) {
	if sigplay.SIGRTMIN < 0 {
		t.Skip("no real-time signals")
	}

	r := newTestRouter()
	set := sigplay.NewSignalSet(sigplay.SIGRTMIN)
	r.Block(set)

	r.Queue(sigplay.SIGRTMIN, 1)
	r.Queue(sigplay.SIGRTMIN, 2)
	require.Len(t, r.Pending(), 2)

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		info, err := r.Wait(ctx, set, unix.Timespec{})
		require.NoError(t, err)
		assert.Equal(t, want, info.Value)
	}
}

func TestRouterUnblockDeliversPending(t *testing.T) {
	r := newTestRouter()
	var handled atomic.Int32
	r.Handle(syscall.SIGUSR2, sigplay.HandlerFunc(func(syscall.Signal) { handled.Add(1) }), 0)

	set := sigplay.NewSignalSet(syscall.SIGUSR2)
	r.Block(set)
	r.Raise(syscall.SIGUSR2)
	assert.Zero(t, handled.Load())

	r.Unblock(set)
	assert.Equal(t, int32(1), handled.Load())
	assert.Empty(t, r.Pending())
	assert.Empty(t, r.Blocked())
}

func TestRouterTimeouts(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()
	set := sigplay.NewSignalSet(syscall.SIGUSR1)

	_, err := r.Wait(ctx, set, unix.Timespec{Nsec: 1_000_000})
	assert.ErrorIs(t, err, unix.EAGAIN)

	_, err = r.Wait(ctx, set, unix.Timespec{Nsec: 1_000_000_000})
	assert.ErrorIs(t, err, unix.EINVAL)
	_, err = r.Wait(ctx, set, unix.Timespec{Sec: -1})
	assert.ErrorIs(t, err, unix.EINVAL)

	assert.NoError(t, r.Sleep(ctx, unix.Timeval{Usec: 1000}))
	assert.ErrorIs(t, r.Sleep(ctx, unix.Timeval{Usec: 1_000_000}), unix.EINVAL)
	assert.ErrorIs(t, r.Sleep(ctx, unix.Timeval{Usec: -1}), unix.EINVAL)
}

func TestRouterContextCancel(t *testing.T) {
	r := newTestRouter()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Sleep(ctx, longTimeval) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("sleep didn't observe cancellation")
	}
}

func TestRouterResetHand(t *testing.T) {
	r := newTestRouter()
	var handled atomic.Int32
	r.Handle(syscall.SIGUSR1, sigplay.HandlerFunc(func(syscall.Signal) { handled.Add(1) }), sigplay.FlagResetHand)

	r.Raise(syscall.SIGUSR1)
	_, ok := r.Disposition(syscall.SIGUSR1)
	assert.False(t, ok)

	// dropped: no disposition anymore
	r.Raise(syscall.SIGUSR1)
	assert.Equal(t, int32(1), handled.Load())
}

func TestRouterHandlerDefersItself(t *testing.T) {
	r := newTestRouter()

	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	var handled atomic.Int32
	r.Handle(syscall.SIGUSR1, sigplay.HandlerFunc(func(syscall.Signal) {
		entered <- struct{}{}
		<-release
		handled.Add(1)
	}), 0)

	finished := make(chan struct{})
	go func() {
		r.Raise(syscall.SIGUSR1)
		close(finished)
	}()
	<-entered

	// arrives while the handler runs: deferred, and the second one coalesced with it
	r.Raise(syscall.SIGUSR1)
	r.Raise(syscall.SIGUSR1)
	assert.Len(t, entered, 0)

	close(release)
	<-finished
	assert.Equal(t, int32(2), handled.Load())
}

func TestRouterNoDeferAllowsReentry(t *testing.T) {
	r := newTestRouter()

	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	r.Handle(syscall.SIGUSR1, sigplay.HandlerFunc(func(syscall.Signal) {
		entered <- struct{}{}
		<-release
	}), sigplay.FlagNoDefer)

	go r.Raise(syscall.SIGUSR1)
	go r.Raise(syscall.SIGUSR1)

	for i := 0; i < 2; i += 1 {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("handler wasn't re-entered")
		}
	}
	close(release)
}

func TestRouterUncatchableIsFatal(t *testing.T) {
	var codes []int
	oldExit := sigplay.Exit
	sigplay.Exit = func(code int) { codes = append(codes, code) }
	defer func() { sigplay.Exit = oldExit }()

	r := newTestRouter()
	r.Handle(syscall.SIGKILL, sigplay.HandlerFunc(func(syscall.Signal) {}), 0)
	r.HandleInfo(syscall.SIGSTOP, sigplay.InfoHandlerFunc(func(sigplay.SignalInfo) {}), 0)
	r.Handle(syscall.Signal(200), sigplay.HandlerFunc(func(syscall.Signal) {}), 0)

	assert.Equal(t, []int{sigplay.ExitHandleFailed, sigplay.ExitHandleInfoFailed, sigplay.ExitHandleFailed}, codes)
	_, ok := r.Disposition(syscall.SIGKILL)
	assert.False(t, ok)
}
