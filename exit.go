package sigplay

import "os"

// Process exit codes used for the conditions that are fatal within this package.
const (
	// A disposition could not be installed with [Router.Handle].
	ExitHandleFailed = 7
	// A disposition could not be installed with [Router.HandleInfo].
	ExitHandleInfoFailed = 8
	// [SleepLoop] got EINVAL: the cycle time can't be slept.
	ExitInvalidSleep = 90
	// [WaitLoop] got EINVAL: the cycle time can't be waited for.
	ExitInvalidWait = 91
)

// Exit terminates the process with the given code. It is a variable so that tests can observe
// fatal paths; if it returns, the caller gives up and returns an error instead.
var Exit = os.Exit
