// obligatory // comment

/*
Package sigplay provides small, observable building blocks for demonstrating POSIX signal
semantics and worker lifecycles, with a focus on making every outcome countable.

Broadly, the tools belong to a few distinct groups:

- Signal delivery: [Router], [Flags], [SignalSet] and [SignalState]
- Polling loops under signal interference: [ErrnoLoop], [WaitLoop] and [SleepLoop]
- Worker lifecycle: [Registry], [Task], [Info], and the stack tooling used for [PanicError]
- Timeout conversion: [ToTimespec] and [ToTimeval]

# Signal delivery

The Go runtime owns the process's real signal handlers, so [Router] plays the part of the kernel:
it receives signals through os/signal, or from [Router.Raise] and [Router.Queue], and hands each
delivery to exactly one consumer. Blocked signals go to a goroutine inside [Router.Wait] (or stay
pending); other signals run the handler installed with [Router.Handle] or [Router.HandleInfo], and
then interrupt one blocked [Router.Wait] or [Router.Sleep] with EINTR.

Handlers only ever touch a [SignalState]: a soft-stop request, the most recent interfering signal,
and an activation count, each a single atomic word.

For more, see [Router].

# Loops

[ErrnoLoop] repeats an operation that is expected to fail with one error, and counts how often
something else happened, and how often a signal handler ran in between. [WaitLoop] and
[SleepLoop] spend each cycle in a bounded wait or sleep, and classify how it ended. All of them
run until a soft stop is requested, and always report a summary.

# Workers

[Registry] is a fixed-capacity table of labeled workers with the lifecycle of a thread
registry: register, start all, cancel all, join all. Cancellation is deferred: a request only
takes effect at a cancellation point ([Info.TestCancel], [TestCancel]) while the worker has
cancellation enabled, and then ends the worker's goroutine without a return value.

Joining a worker that never reaches a cancellation point blocks until it finishes. This is
deliberate and documented at [Registry].
*/
package sigplay
