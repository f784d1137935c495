package sigplay

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal" // rename so we can have function args named 'signal'
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

// Handler is a signal handler in basic form: it only learns the signal number.
type Handler interface {
	HandleSignal(sig syscall.Signal)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(sig syscall.Signal)

func (f HandlerFunc) HandleSignal(sig syscall.Signal) { f(sig) }

// InfoHandler is a signal handler in extended form, receiving a [SignalInfo].
type InfoHandler interface {
	HandleSignalInfo(info SignalInfo)
}

// InfoHandlerFunc adapts a function to [InfoHandler].
type InfoHandlerFunc func(info SignalInfo)

func (f InfoHandlerFunc) HandleSignalInfo(info SignalInfo) { f(info) }

// SignalInfo describes one delivery of a signal.
type SignalInfo struct {
	Signal syscall.Signal
	// Pid is the sending process, or zero if unknown. Signals arriving from the operating
	// system don't carry it.
	Pid int
	// Value is the payload attached with [Router.Queue].
	Value int
	// Queued is true if the signal was sent with a payload.
	Queued   bool
	Received time.Time
}

func (i SignalInfo) String() string {
	return fmt.Sprintf("signo=%d (%s), pid=%d, queued=%t, sival_int=%d",
		int(i.Signal), SignalName(i.Signal), i.Pid, i.Queued, i.Value)
}

// Router models the delivery side of POSIX signals inside the process.
//
// The Go runtime owns the real signal handlers, so a Router receives signals through
// [os/signal] (and from [Router.Raise] / [Router.Queue]) and decides, for every delivery,
// which single consumer gets it:
//
//  1. If the signal is blocked (see [Router.Block]), it is handed to a goroutine inside
//     [Router.Wait] whose set contains it, or otherwise kept pending until one does. Pending
//     standard signals coalesce; real-time signals queue.
//  2. Otherwise, the handler installed with [Router.Handle] or [Router.HandleInfo] runs, and
//     then one goroutine blocked in [Router.Wait] or [Router.Sleep] is interrupted with EINTR.
//  3. Otherwise the signal is logged and dropped.
//
// Handlers run on ordinary goroutines. Unless [FlagNoDefer] is set, a handler never overlaps
// with itself: deliveries arriving while it runs are held back and delivered once it returns.
type Router struct {
	mu sync.Mutex

	log     zerolog.Logger
	metrics *Metrics
	useOS   bool

	dispositions map[syscall.Signal]*disposition
	blocked      map[syscall.Signal]bool
	pending      []SignalInfo
	blockers     []*blocker

	osCh     chan os.Signal
	notified map[syscall.Signal]bool
	stopped  bool
}

type disposition struct {
	flags   Flags
	handler Handler
	info    InfoHandler

	active   bool
	deferred []SignalInfo
}

// blocker is a goroutine inside Wait (set != nil) or Sleep (set == nil).
type blocker struct {
	set SignalSet
	ch  chan blockResult
}

type blockResult struct {
	info SignalInfo
	err  error
}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithRouterLogger sets the logger used for delivery diagnostics.
func WithRouterLogger(l zerolog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// WithRouterMetrics records deliveries in m.
func WithRouterMetrics(m *Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithoutOSSignals makes the Router purely in-process: nothing is forwarded from os/signal,
// and only [Router.Raise] and [Router.Queue] deliver signals.
func WithoutOSSignals() RouterOption {
	return func(r *Router) { r.useOS = false }
}

// NewRouter returns a Router with no dispositions and nothing blocked.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		log:          zerolog.Nop(),
		useOS:        true,
		dispositions: make(map[syscall.Signal]*disposition),
		blocked:      make(map[syscall.Signal]bool),
		notified:     make(map[syscall.Signal]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle installs h as the disposition for sig, in basic form. [FlagSigInfo] is always
// cleared from flags.
//
// Installing a disposition for a signal that cannot be caught is fatal: see [Exit].
func (r *Router) Handle(sig syscall.Signal, h Handler, flags Flags) {
	r.install(sig, &disposition{flags: flags &^ FlagSigInfo, handler: h}, ExitHandleFailed)
}

// HandleInfo installs h as the disposition for sig, in extended form. [FlagSigInfo] is always
// set in flags.
//
// Installing a disposition for a signal that cannot be caught is fatal: see [Exit].
func (r *Router) HandleInfo(sig syscall.Signal, h InfoHandler, flags Flags) {
	r.install(sig, &disposition{flags: flags | FlagSigInfo, info: h}, ExitHandleInfoFailed)
}

func (r *Router) install(sig syscall.Signal, d *disposition, exitCode int) {
	if !catchable(sig) {
		r.log.Error().
			Int("signal", int(sig)).
			Str("flags", d.flags.String()).
			Msg("cannot install signal disposition")
		Exit(exitCode)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dispositions[sig] = d
	r.setupOSSignal(sig)
}

// Disposition returns the flags of the disposition installed for sig, if there is one.
func (r *Router) Disposition(sig syscall.Signal) (Flags, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.dispositions[sig]
	if !ok {
		return 0, false
	}
	return d.flags, true
}

func catchable(sig syscall.Signal) bool {
	return sig > 0 && sig <= maxSignal && sig != syscall.SIGKILL && sig != syscall.SIGSTOP
}

// setupOSSignal starts forwarding sig from os/signal. Requires r.mu.
func (r *Router) setupOSSignal(sig syscall.Signal) {
	if !r.useOS || r.stopped || r.notified[sig] {
		return
	}

	if r.osCh == nil {
		ch := make(chan os.Signal, 64)
		r.osCh = ch
		go func() {
			for s := range ch {
				if sig, ok := s.(syscall.Signal); ok {
					r.deliver(SignalInfo{Signal: sig, Received: time.Now()})
				}
			}
		}()
	}

	ossignal.Notify(r.osCh, sig)
	r.notified[sig] = true
}

// resetOSSignal restores the default action for sig, unless it is still needed. Requires r.mu.
func (r *Router) resetOSSignal(sig syscall.Signal) {
	if !r.notified[sig] || r.blocked[sig] {
		return
	}
	ossignal.Reset(sig)
	delete(r.notified, sig)
}

// Block adds sigs to the signal mask. Blocked signals are not handled asynchronously; they are
// only consumed by [Router.Wait].
//
// The mask is shared by the whole process: goroutines have no signal mask of their own.
func (r *Router) Block(sigs SignalSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sig := range sigs {
		if !catchable(sig) {
			continue
		}
		r.blocked[sig] = true
		r.setupOSSignal(sig)
	}
}

// Unblock removes sigs from the signal mask. Signals from sigs that were pending are delivered
// before Unblock returns.
func (r *Router) Unblock(sigs SignalSet) {
	r.mu.Lock()
	for _, sig := range sigs {
		delete(r.blocked, sig)
	}
	var released, kept []SignalInfo
	for _, info := range r.pending {
		if sigs.Contains(info.Signal) {
			released = append(released, info)
		} else {
			kept = append(kept, info)
		}
	}
	r.pending = kept
	r.mu.Unlock()

	for _, info := range released {
		r.deliver(info)
	}
}

// Blocked returns the current signal mask.
func (r *Router) Blocked() SignalSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	return NewSignalSet(maps.Keys(r.blocked)...)
}

// Pending returns the blocked signals waiting to be consumed, in arrival order.
func (r *Router) Pending() []SignalInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.pending)
}

// Raise delivers sig to this process, as if sent with kill(2) by the process itself.
func (r *Router) Raise(sig syscall.Signal) {
	r.deliver(SignalInfo{Signal: sig, Pid: os.Getpid(), Received: time.Now()})
}

// Queue delivers sig with an attached payload value, as if sent with sigqueue(3) by the
// process itself.
func (r *Router) Queue(sig syscall.Signal, value int) {
	r.deliver(SignalInfo{Signal: sig, Pid: os.Getpid(), Value: value, Queued: true, Received: time.Now()})
}

func (r *Router) deliver(info SignalInfo) {
	sig := info.Signal

	r.mu.Lock()
	locked := true
	defer func() {
		if locked {
			r.mu.Unlock()
		}
	}()

	if r.blocked[sig] {
		if b := r.takeWaiter(sig); b != nil {
			b.ch <- blockResult{info: info}
			r.metrics.delivered(sig, routeWaiter)
			return
		}

		r.addPending(info)
		r.metrics.delivered(sig, routePending)
		return
	}

	d, ok := r.dispositions[sig]
	if !ok {
		r.metrics.delivered(sig, routeDropped)
		r.log.Warn().
			Int("signal", int(sig)).
			Str("signal_name", SignalName(sig)).
			Msg("no disposition installed for signal; dropped")
		return
	}

	if d.active && !d.flags.Has(FlagNoDefer) {
		if !isRealtime(sig) && len(d.deferred) != 0 {
			return
		}
		d.deferred = append(d.deferred, info)
		return
	}

	if d.flags.Has(FlagResetHand) {
		delete(r.dispositions, sig)
		r.resetOSSignal(sig)
	}

	d.active = true

	// Release the lock while the handler runs: it may raise signals itself.
	locked = false
	r.mu.Unlock()

	r.runHandler(d, info)
}

// runHandler runs the handler for info and then for each delivery deferred meanwhile. Every
// run interrupts one blocked caller.
func (r *Router) runHandler(d *disposition, info SignalInfo) {
	for {
		if d.info != nil {
			d.info.HandleSignalInfo(info)
		} else {
			d.handler.HandleSignal(info.Signal)
		}
		r.metrics.delivered(info.Signal, routeHandler)
		r.interruptOne()

		r.mu.Lock()
		if len(d.deferred) == 0 {
			d.active = false
			r.mu.Unlock()
			return
		}
		info = d.deferred[0]
		d.deferred = d.deferred[1:]
		r.mu.Unlock()
	}
}

// addPending records a blocked signal. Requires r.mu.
func (r *Router) addPending(info SignalInfo) {
	if !isRealtime(info.Signal) {
		idx := slices.IndexFunc(r.pending, func(p SignalInfo) bool { return p.Signal == info.Signal })
		if idx != -1 {
			return
		}
	}
	r.pending = append(r.pending, info)
}

// takePending removes and returns the first pending signal in set. Requires r.mu.
func (r *Router) takePending(set SignalSet) (SignalInfo, bool) {
	idx := slices.IndexFunc(r.pending, func(p SignalInfo) bool { return set.Contains(p.Signal) })
	if idx == -1 {
		return SignalInfo{}, false
	}
	info := r.pending[idx]
	r.pending = slices.Delete(r.pending, idx, idx+1)
	return info, true
}

// takeWaiter removes and returns the first goroutine waiting for sig. Requires r.mu.
func (r *Router) takeWaiter(sig syscall.Signal) *blocker {
	idx := slices.IndexFunc(r.blockers, func(b *blocker) bool { return b.set.Contains(sig) })
	if idx == -1 {
		return nil
	}
	b := r.blockers[idx]
	r.blockers = slices.Delete(r.blockers, idx, idx+1)
	return b
}

// removeBlocker reports whether b was still registered, i.e. nothing has woken it up.
// Requires r.mu.
func (r *Router) removeBlocker(b *blocker) bool {
	idx := slices.Index(r.blockers, b)
	if idx == -1 {
		return false
	}
	r.blockers = slices.Delete(r.blockers, idx, idx+1)
	return true
}

// interruptOne fails the oldest blocked Wait or Sleep with EINTR, if there is one.
func (r *Router) interruptOne() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.blockers) == 0 {
		return
	}
	b := r.blockers[0]
	r.blockers = r.blockers[1:]
	b.ch <- blockResult{err: unix.EINTR}
}

// Wait waits for one of the signals in set, like sigtimedwait(2). Only blocked signals are
// ever returned; block set with [Router.Block] beforehand.
//
// Errors: EINVAL for a malformed timeout, EAGAIN if it elapsed, EINTR if a handled signal
// interrupted the wait, or ctx.Err().
func (r *Router) Wait(ctx context.Context, set SignalSet, timeout unix.Timespec) (SignalInfo, error) {
	if !timespecValid(timeout) {
		return SignalInfo{}, unix.EINVAL
	}

	r.mu.Lock()
	if info, ok := r.takePending(set); ok {
		r.mu.Unlock()
		return info, nil
	}
	b := &blocker{set: slices.Clone(set), ch: make(chan blockResult, 1)}
	r.blockers = append(r.blockers, b)
	r.mu.Unlock()

	return r.block(ctx, b, timespecDuration(timeout), unix.EAGAIN)
}

// Sleep sleeps for timeout, like select(2) with no file descriptors.
//
// Errors: EINVAL for a malformed timeout, EINTR if a handled signal interrupted the sleep, or
// ctx.Err(). A complete sleep returns nil.
func (r *Router) Sleep(ctx context.Context, timeout unix.Timeval) error {
	if !timevalValid(timeout) {
		return unix.EINVAL
	}

	b := &blocker{ch: make(chan blockResult, 1)}
	r.mu.Lock()
	r.blockers = append(r.blockers, b)
	r.mu.Unlock()

	_, err := r.block(ctx, b, timevalDuration(timeout), nil)
	return err
}

func (r *Router) block(ctx context.Context, b *blocker, d time.Duration, timeoutErr error) (SignalInfo, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var err error
	select {
	case res := <-b.ch:
		return res.info, res.err
	case <-timer.C:
		err = timeoutErr
	case <-ctx.Done():
		err = ctx.Err()
	}

	r.mu.Lock()
	removed := r.removeBlocker(b)
	r.mu.Unlock()

	// something woke us at the same time; it has already been committed to us
	if !removed {
		res := <-b.ch
		return res.info, res.err
	}
	return SignalInfo{}, err
}

// Stop ends forwarding from os/signal. Dispositions stay installed for in-process delivery.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true

	if r.osCh != nil {
		ossignal.Stop(r.osCh)
		close(r.osCh)
	}
}
