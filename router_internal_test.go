package sigplay

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func (r *Router) blockedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blockers)
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRouterDeferredDeliveryInterrupts(t *testing.T) {
	r := NewRouter(WithoutOSSignals())

	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	r.Handle(syscall.SIGUSR1, HandlerFunc(func(syscall.Signal) {
		entered <- struct{}{}
		<-release
	}), 0)

	results := make(chan error, 2)
	for i := 0; i < 2; i += 1 {
		go func() { results <- r.Sleep(context.Background(), unix.Timeval{Sec: 30}) }()
	}
	waitFor(t, func() bool { return r.blockedCount() == 2 })

	finished := make(chan struct{})
	go func() {
		r.Raise(syscall.SIGUSR1)
		close(finished)
	}()
	<-entered

	// deferred until the running handler returns
	r.Raise(syscall.SIGUSR1)
	close(release)
	<-finished

	for i := 0; i < 2; i += 1 {
		select {
		case err := <-results:
			if !errors.Is(err, unix.EINTR) {
				t.Fatalf("sleep %d: got %v, want EINTR", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("sleep %d wasn't interrupted", i)
		}
	}
	if n := len(entered); n != 1 {
		t.Fatalf("handler ran %d more times, want 1", n)
	}
}
