package sigplay

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var alwaysClosed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// runSet is a sync.WaitGroup with named members: it tracks the labels of the workers whose
// goroutines haven't finished yet, and exposes waiting as a channel.
type runSet struct {
	mu      sync.Mutex
	count   uint
	allDone chan struct{}
	labels  map[string]uint
}

func newRunSet() *runSet {
	return &runSet{labels: make(map[string]uint)}
}

func (s *runSet) add(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count += 1
	s.labels[label] += 1
}

// done panics if there's no running member with the label.
func (s *runSet) done(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.labels[label]
	if c == 0 {
		panic(fmt.Sprintf("internal error: zero running workers labeled %q", label))
	}

	if c -= 1; c == 0 {
		delete(s.labels, label)
	} else {
		s.labels[label] = c
	}

	s.count -= 1
	if s.count == 0 && s.allDone != nil {
		close(s.allDone)
		s.allDone = nil
	}
}

// wait returns a channel that is closed once nothing is running.
func (s *runSet) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return alwaysClosed
	}
	if s.allDone == nil {
		s.allDone = make(chan struct{})
	}
	return s.allDone
}

// tryWait waits for nothing to be running, returning early with ctx.Err() if the context is
// done first.
func (s *runSet) tryWait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wait():
		return nil
	}
}

// running returns the sorted labels of the running members.
func (s *runSet) running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels := maps.Keys(s.labels)
	slices.Sort(labels)
	return labels
}
