package sigplay_test

import (
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sharnoff/sigplay"
)

func TestSignalStateStopOnce(t *testing.T) {
	s := sigplay.NewSignalState()
	assert.False(t, s.Stopped())
	assert.Equal(t, syscall.Signal(0), s.StopSignal())

	s.RequestStop(0)
	assert.False(t, s.Stopped())

	s.RequestStop(syscall.SIGINT)
	s.RequestStop(syscall.SIGTERM)
	assert.True(t, s.Stopped())
	assert.Equal(t, syscall.SIGINT, s.StopSignal())

	select {
	case <-s.StopRequested():
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestSignalStateConcurrentStop(t *testing.T) {
	s := sigplay.NewSignalState()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i += 1 {
		wg.Add(1)
		go func(sig syscall.Signal) {
			defer wg.Done()
			s.RequestStop(sig)
		}(syscall.Signal(i))
	}
	wg.Wait()

	assert.True(t, s.Stopped())
	assert.NotZero(t, s.StopSignal())
}

func TestSignalStateTakeAction(t *testing.T) {
	s := sigplay.NewSignalState()
	assert.Equal(t, syscall.Signal(0), s.TakeAction())

	s.ActionHandler().HandleSignal(syscall.SIGUSR1)
	s.ActionInfoHandler().HandleSignalInfo(sigplay.SignalInfo{Signal: syscall.SIGUSR2})

	assert.Equal(t, syscall.SIGUSR2, s.TakeAction())
	assert.Equal(t, syscall.Signal(0), s.TakeAction())
	assert.Equal(t, uint64(2), s.Activations())
}
