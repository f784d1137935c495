package sigplay_test

import (
	"context"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sharnoff/sigplay"
)

// Repeat a failing call while signals arrive, until SIGINT requests a soft stop.
func Example() {
	r := sigplay.NewRouter(sigplay.WithoutOSSignals())
	defer r.Stop()

	state := sigplay.NewSignalState()
	sigplay.InstallErrnoLoopHandlers(r, state, sigplay.DefaultFlags)

	calls := 0
	loop := sigplay.ErrnoLoop{
		Label: "[main]",
		Op: func() error {
			calls += 1
			switch calls {
			case 2:
				r.Raise(syscall.SIGUSR1)
			case 4:
				r.Raise(syscall.SIGINT)
			}
			return unix.EACCES
		},
		State: state,
	}

	sum, err := loop.Run(context.Background())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(sum)
	// Output:
	// [main] Stopped by signal 2 after 4 calls made, 1 signals with interfering action detected, 0 cases of unexpected errno value.
}

// Cancel a worker that only stops at cancellation points.
func ExampleRegistry_CancelAll() {
	reg := sigplay.NewRegistry(0)
	_, _ = reg.Register("spinner", nil, sigplay.TaskFunc(func(ctx context.Context, info *sigplay.Info) any {
		<-ctx.Done()
		info.TestCancel()
		return info
	}))

	fmt.Println(reg.StartAll(context.Background()))
	fmt.Println(reg.CancelAll())
	fmt.Println(reg.JoinAll(context.Background()))
	// Output:
	// Started 1, failed 0
	// Cancellation requests sent for 1 workers; could not send for 0.
	// Normal exit: 0 (0 with unexpected value), canceled: 1; 0 could not be joined.
}
