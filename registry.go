package sigplay

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultCapacity is the number of workers a registry holds unless told otherwise.
	DefaultCapacity = 12
	// MaxLabelLen is the longest worker label, in bytes.
	MaxLabelLen = 31
)

var (
	ErrEmptyLabel      = errors.New("worker label is empty")
	ErrLabelTooLong    = errors.New("worker label too long")
	ErrRegistryFull    = errors.New("worker registry is full")
	ErrDuplicateLabel  = errors.New("worker label already registered")
	ErrRegistryStarted = errors.New("workers already started")

	ErrAlreadyStarted = errors.New("worker already started")
	ErrInvalidAttr    = errors.New("invalid worker attributes")
	ErrNotStarted     = errors.New("worker not started")
	ErrDetached       = errors.New("worker is detached")
	ErrAlreadyJoined  = errors.New("worker already joined")
)

// Registry is a fixed-capacity table of labeled workers, with the lifecycle operations of a
// thread registry: register, start all, cancel all, join all.
//
// Positions are assigned in registration order and never change. All operations visit workers
// in that order.
//
// A Registry has a single owner: Register, StartAll, CancelAll and JoinAll must not be called
// concurrently.
//
// Joining a worker that has disabled cancellation, or that never reaches a cancellation point,
// blocks until it finishes on its own or the context given to JoinAll is done. With
// context.Background() that may be forever; this is the nature of cooperative cancellation
// and is left to the caller.
type Registry struct {
	capacity int
	slots    []slot
	started  bool
	running  *runSet

	log     zerolog.Logger
	metrics *Metrics
}

type slot struct {
	label string
	attr  *Attr
	task  Task

	info    Info
	started bool
	joined  bool
	done    chan struct{}

	// written by the worker's goroutine before done is closed
	value    any
	returned bool
	panicErr *PanicError
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for per-worker and summary messages.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithRegistryMetrics records lifecycle events in m.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry returns an empty Registry that holds at most capacity workers. A capacity of zero
// or less means [DefaultCapacity].
func NewRegistry(capacity int, opts ...RegistryOption) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		capacity: capacity,
		slots:    make([]slot, 0, capacity),
		running:  newRunSet(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) checkConsistency() {
	if len(r.slots) > r.capacity || cap(r.slots) != r.capacity {
		panic(fmt.Sprintf("internal error: registry holds %d of %d (backing %d)",
			len(r.slots), r.capacity, cap(r.slots)))
	}
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.checkConsistency()
	return len(r.slots)
}

// Capacity returns the maximum number of workers.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Label returns the label registered at pos.
func (r *Registry) Label(pos int) string {
	return r.slots[pos].label
}

// Register adds a worker configuration and returns its position. attr may be nil for the
// defaults; the registry keeps the pointer but never modifies it.
//
// Register fails without changing anything if the label is empty, longer than [MaxLabelLen] or
// already registered, if the registry is full, or if the workers have been started.
func (r *Registry) Register(label string, attr *Attr, task Task) (int, error) {
	r.checkConsistency()

	if label == "" {
		return -1, ErrEmptyLabel
	}
	if len(label) > MaxLabelLen {
		return -1, errors.Wrapf(ErrLabelTooLong, "%q is %d bytes, max %d", label, len(label), MaxLabelLen)
	}
	if r.started {
		return -1, errors.Wrapf(ErrRegistryStarted, "cannot register %q", label)
	}
	if len(r.slots) >= r.capacity {
		return -1, errors.Wrapf(ErrRegistryFull, "cannot register %q, capacity %d", label, r.capacity)
	}
	for i := range r.slots {
		if r.slots[i].label == label {
			return -1, errors.Wrapf(ErrDuplicateLabel, "%q at %d", label, i)
		}
	}

	pos := len(r.slots)
	r.slots = append(r.slots, slot{label: label, attr: attr, task: task})
	return pos, nil
}

// FindByPrefix returns the position of the first registered worker whose label matches text
// in the first n bytes, with strncmp(3) semantics: a label shorter than n only matches a text
// of the same length. n must be in 1..MaxLabelLen.
func (r *Registry) FindByPrefix(text string, n int) (int, bool) {
	if n <= 0 || n > MaxLabelLen {
		panic(fmt.Sprintf("prefix length %d out of range 1..%d", n, MaxLabelLen))
	}
	r.checkConsistency()

	want := prefix(text, n)
	for i := range r.slots {
		if prefix(r.slots[i].label, n) == want {
			return i, true
		}
	}
	return -1, false
}

func prefix(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// StartSummary is returned by [Registry.StartAll].
type StartSummary struct {
	Started uint
	Failed  uint
}

func (s StartSummary) String() string {
	return fmt.Sprintf("Started %d, failed %d", s.Started, s.Failed)
}

// StartAll launches every registered worker on its own goroutine. ctx is the parent of every
// worker's context. A failure to launch one worker is logged and counted, and the others are
// still launched.
func (r *Registry) StartAll(ctx context.Context) StartSummary {
	r.checkConsistency()
	r.started = true

	var sum StartSummary
	for pos := range r.slots {
		if err := r.startOne(ctx, pos); err != nil {
			sum.Failed += 1
			r.metrics.workerEvent(workerStartFailed)
			r.log.Info().Err(err).Int("pos", pos).Str("label", r.slots[pos].label).
				Msg("could not start worker")
			continue
		}
		sum.Started += 1
		r.metrics.workerEvent(workerStarted)
	}

	r.log.Info().Uint("started", sum.Started).Uint("failed", sum.Failed).Msg(sum.String())
	return sum
}

func (r *Registry) startOne(ctx context.Context, pos int) error {
	s := &r.slots[pos]
	if s.started {
		return ErrAlreadyStarted
	}
	if !s.attr.valid() {
		return errors.Wrapf(ErrInvalidAttr, "cancel state %d", int(s.attr.CancelState))
	}

	state := CancelEnable
	if s.attr != nil {
		state = s.attr.CancelState
	}

	wctx, cancel := context.WithCancel(ctx)
	s.info = Info{Label: s.label, cancel: newCancelation(state, cancel)}
	wctx = context.WithValue(wctx, infoKey{}, &s.info)

	s.started = true
	s.done = make(chan struct{})
	r.running.add(s.label)
	go r.run(wctx, s, cancel)
	return nil
}

func (r *Registry) run(ctx context.Context, s *slot, cancel context.CancelFunc) {
	defer close(s.done)
	defer r.running.done(s.label)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			// skip this function and runtime.gopanic
			s.panicErr = &PanicError{Label: s.label, Value: p, Stack: GetStackTrace(2)}
		}
	}()

	s.value = s.task.Run(ctx, &s.info)
	s.returned = true
}

// CancelSummary is returned by [Registry.CancelAll].
type CancelSummary struct {
	Requested uint
	Failed    uint
}

func (s CancelSummary) String() string {
	return fmt.Sprintf("Cancellation requests sent for %d workers; could not send for %d.", s.Requested, s.Failed)
}

// CancelAll sends a cancellation request to every worker. A request only records that
// cancellation is wanted: each worker acts on it at its next cancellation point while its
// cancel state is enabled, or never.
func (r *Registry) CancelAll() CancelSummary {
	r.checkConsistency()

	var sum CancelSummary
	for pos := range r.slots {
		s := &r.slots[pos]
		log := r.log.With().Int("pos", pos).Str("label", s.label).Logger()

		var err error
		switch {
		case !s.started:
			err = ErrNotStarted
		case s.joined:
			err = ErrAlreadyJoined
		}
		if err != nil {
			sum.Failed += 1
			r.metrics.workerEvent(workerCancelFailed)
			log.Info().Err(err).Msg("could not send cancellation request")
			continue
		}

		s.info.cancel.request()
		sum.Requested += 1
		r.metrics.workerEvent(workerCancelRequested)
		log.Info().Msg("cancellation request sent")
	}

	r.log.Info().Uint("requested", sum.Requested).Uint("failed", sum.Failed).Msg(sum.String())
	return sum
}

// Outcome classifies how joining a worker went.
type Outcome int

const (
	// OutcomeNormal: the task returned its own *Info.
	OutcomeNormal Outcome = iota
	// OutcomeUnexpectedValue: the task finished without a cancellation, but didn't return its
	// own *Info.
	OutcomeUnexpectedValue
	// OutcomeCanceled: a cancellation request took effect; the task returned no value.
	OutcomeCanceled
	// OutcomeJoinFailed: the worker couldn't be joined, or panicked.
	OutcomeJoinFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNormal:
		return "normal"
	case OutcomeUnexpectedValue:
		return "unexpected value"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeJoinFailed:
		return "join failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// JoinResult is the outcome of joining one worker.
type JoinResult struct {
	Pos     int
	Label   string
	Outcome Outcome
	// Value is what the task returned, if it did.
	Value any
	// Info is the worker's runtime info after it finished, if it was joined.
	Info *Info
	// Err is set for OutcomeJoinFailed.
	Err error
}

// JoinSummary is returned by [Registry.JoinAll]. Normal includes the workers that returned an
// unexpected value; those are also counted in Unexpected.
type JoinSummary struct {
	Normal     uint
	Unexpected uint
	Canceled   uint
	Failed     uint

	Results []JoinResult
}

func (s JoinSummary) String() string {
	return fmt.Sprintf("Normal exit: %d (%d with unexpected value), canceled: %d; %d could not be joined.",
		s.Normal, s.Unexpected, s.Canceled, s.Failed)
}

// JoinAll waits for every worker in turn and classifies how each one ended. Failing to join a
// worker is counted, and doesn't stop the others from being joined.
//
// If ctx is done while waiting for a worker, that worker and every later one still running
// count as failed joins, and can be joined by a later call.
func (r *Registry) JoinAll(ctx context.Context) JoinSummary {
	r.checkConsistency()

	var sum JoinSummary
	for pos := range r.slots {
		res := r.joinOne(ctx, pos)
		switch res.Outcome {
		case OutcomeNormal:
			sum.Normal += 1
			r.metrics.workerEvent(workerJoinedNormal)
		case OutcomeUnexpectedValue:
			sum.Normal += 1
			sum.Unexpected += 1
			r.metrics.workerEvent(workerJoinedNormal)
			r.metrics.workerEvent(workerUnexpectedValue)
		case OutcomeCanceled:
			sum.Canceled += 1
			r.metrics.workerEvent(workerJoinedCanceled)
		case OutcomeJoinFailed:
			sum.Failed += 1
			r.metrics.workerEvent(workerJoinFailed)
		default:
			panic(fmt.Sprintf("internal error: unexpected join outcome %d for worker %d", int(res.Outcome), pos))
		}
		sum.Results = append(sum.Results, res)
	}

	r.log.Info().
		Uint("normal", sum.Normal).
		Uint("unexpected", sum.Unexpected).
		Uint("canceled", sum.Canceled).
		Uint("failed", sum.Failed).
		Msg(sum.String())
	return sum
}

func (r *Registry) joinOne(ctx context.Context, pos int) JoinResult {
	s := &r.slots[pos]
	res := JoinResult{Pos: pos, Label: s.label}
	log := r.log.With().Int("pos", pos).Str("label", s.label).Logger()

	fail := func(err error) JoinResult {
		res.Outcome = OutcomeJoinFailed
		res.Err = err
		log.Info().Err(err).Msg("could not join worker")
		return res
	}

	log.Info().Msg("trying to join worker")

	switch {
	case !s.started:
		return fail(ErrNotStarted)
	case s.attr != nil && s.attr.Detached:
		return fail(ErrDetached)
	case s.joined:
		return fail(ErrAlreadyJoined)
	}

	// a finished worker is joined even if ctx is already done
	select {
	case <-s.done:
	default:
		select {
		case <-s.done:
		case <-ctx.Done():
			return fail(errors.Wrap(ctx.Err(), "join interrupted"))
		}
	}
	s.joined = true
	res.Info = &s.info

	switch {
	case s.panicErr != nil:
		log.Error().Str("stack", s.panicErr.Stack.String()).Msg("worker panicked")
		return fail(s.panicErr)
	case !s.returned && s.info.cancel.acted.Load():
		res.Outcome = OutcomeCanceled
		log.Info().Msg("worker canceled")
	case s.returned && s.value == any(&s.info):
		res.Outcome = OutcomeNormal
		res.Value = s.value
		log.Info().Msg("normal exit, expected value")
	default:
		// returned something else, or ended its goroutine without returning
		res.Outcome = OutcomeUnexpectedValue
		res.Value = s.value
		log.Info().Interface("value", s.value).Msg("normal exit, unexpected value")
	}
	return res
}

// Finished reports whether the worker at pos was started and its goroutine has ended.
func (r *Registry) Finished(pos int) bool {
	s := &r.slots[pos]
	if !s.started {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Running returns the labels of the workers whose goroutines haven't finished, sorted.
// Detached workers are included.
func (r *Registry) Running() []string {
	return r.running.running()
}

// Idle returns a channel that is closed once no worker goroutine is running.
func (r *Registry) Idle() <-chan struct{} {
	return r.running.wait()
}

// WaitIdle waits for every worker goroutine, detached ones included, to finish, returning early
// with ctx.Err() if the context is done first.
func (r *Registry) WaitIdle(ctx context.Context) error {
	return r.running.tryWait(ctx)
}
