package sigplay

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// MaxMessageLen is the largest message a worker can keep in its [Info].
const MaxMessageLen = 67

// Task is the entry point of a worker. Run receives the worker's runtime info, and is expected
// to return that same *Info when it finishes normally; anything else is reported by
// [Registry.JoinAll] as an unexpected value.
//
// ctx is canceled once a cancellation request takes effect (see [Info.SetCancelState]), or when
// the context given to [Registry.StartAll] is done.
type Task interface {
	Run(ctx context.Context, info *Info) any
}

// TaskFunc adapts a function to [Task].
type TaskFunc func(ctx context.Context, info *Info) any

func (f TaskFunc) Run(ctx context.Context, info *Info) any { return f(ctx, info) }

// CancelState is whether a worker acts on cancellation requests.
type CancelState int

const (
	// CancelEnable is the default: a pending request takes effect at the next cancellation
	// point.
	CancelEnable CancelState = iota
	// CancelDisable keeps requests pending until cancellation is enabled again.
	CancelDisable
)

func (s CancelState) String() string {
	switch s {
	case CancelEnable:
		return "enabled"
	case CancelDisable:
		return "disabled"
	default:
		return "invalid"
	}
}

// Attr are the launch attributes of a worker. The registry only borrows them: the same *Attr
// may be shared between workers, and is never modified.
type Attr struct {
	// Detached workers can't be joined.
	Detached bool
	// CancelState is the worker's cancel state when it starts.
	CancelState CancelState
}

func (a *Attr) valid() bool {
	return a == nil || a.CancelState == CancelEnable || a.CancelState == CancelDisable
}

// Info is the runtime info of one worker, owned by its registry slot.
//
// Count and the message are for the worker's own bookkeeping; only the worker should touch
// them while it runs.
type Info struct {
	Label string
	Count uint64

	message string

	cancel *cancelation
}

// SetMessage stores msg, truncated to [MaxMessageLen] bytes.
func (i *Info) SetMessage(msg string) {
	if len(msg) > MaxMessageLen {
		msg = msg[:MaxMessageLen]
	}
	i.message = msg
}

// Message returns the message stored with SetMessage.
func (i *Info) Message() string {
	return i.message
}

// SetCancelState changes the worker's cancel state, returning the previous one. Enabling
// cancellation while a request is pending makes it take effect at the next cancellation point.
//
// Only the worker itself should call this.
func (i *Info) SetCancelState(state CancelState) CancelState {
	return i.cancel.setState(state)
}

// TestCancel is a cancellation point: if a cancellation request is pending and cancellation
// is enabled, the calling goroutine ends here, running its deferred calls, and the worker is
// reported as canceled. Otherwise it returns immediately.
//
// TestCancel must only be called from the worker's own goroutine.
func (i *Info) TestCancel() {
	c := i.cancel
	if c == nil || !c.requested.Load() || !c.enabled.Load() {
		return
	}
	c.acted.Store(true)
	runtime.Goexit()
}

type infoKey struct{}

// InfoFromContext returns the runtime info of the worker that ctx was given to, if any.
func InfoFromContext(ctx context.Context) (*Info, bool) {
	info, ok := ctx.Value(infoKey{}).(*Info)
	return info, ok
}

// TestCancel is a cancellation point for code that only has the worker's context: see
// [Info.TestCancel]. Outside of a worker it does nothing.
func TestCancel(ctx context.Context) {
	if info, ok := InfoFromContext(ctx); ok {
		info.TestCancel()
	}
}

// cancelation is the deferred cancellation machinery of one worker.
//
// A request only sets a flag; the worker's context is canceled once the request is both
// pending and enabled, so that blocking calls observing the context return promptly.
type cancelation struct {
	requested atomic.Bool
	enabled   atomic.Bool
	acted     atomic.Bool

	once   sync.Once
	cancel context.CancelFunc
}

func newCancelation(state CancelState, cancel context.CancelFunc) *cancelation {
	c := &cancelation{cancel: cancel}
	c.enabled.Store(state == CancelEnable)
	return c
}

func (c *cancelation) request() {
	c.requested.Store(true)
	c.rectify()
}

func (c *cancelation) setState(state CancelState) CancelState {
	old := CancelDisable
	if c.enabled.Swap(state == CancelEnable) {
		old = CancelEnable
	}
	c.rectify()
	return old
}

func (c *cancelation) rectify() {
	if c.requested.Load() && c.enabled.Load() {
		c.once.Do(c.cancel)
	}
}
