package sigplay

import (
	"context"
	"strconv"
	"syscall"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sys/unix"
)

func TestMetricsLoopEvents(t *testing.T) {
	reg := prom.NewRegistry()
	m, err := NewMetrics("test", reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	state := NewSignalState()
	calls := 0
	loop := ErrnoLoop{
		Label: "le1",
		Op: func() error {
			calls += 1
			if calls == 3 {
				state.RequestStop(syscall.SIGINT)
				return nil
			}
			return unix.EACCES
		},
		State:   state,
		Metrics: m,
	}
	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	cycles := testutil.ToFloat64(m.loopEvents.WithLabelValues("errno", "le1", eventCycle))
	if cycles != 3 {
		t.Fatalf("cycles = %v, want 3", cycles)
	}
	unexpected := testutil.ToFloat64(m.loopEvents.WithLabelValues("errno", "le1", eventUnexpected))
	if unexpected != 1 {
		t.Fatalf("unexpected = %v, want 1", unexpected)
	}
}

func TestMetricsDeliveries(t *testing.T) {
	reg := prom.NewRegistry()
	m, err := NewMetrics("test", reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	r := NewRouter(WithoutOSSignals(), WithRouterMetrics(m))
	r.Handle(syscall.SIGUSR1, HandlerFunc(func(syscall.Signal) {}), 0)
	r.Block(NewSignalSet(syscall.SIGUSR2))

	r.Raise(syscall.SIGUSR1)
	r.Raise(syscall.SIGUSR2)
	r.Raise(syscall.SIGHUP)

	for _, c := range []struct {
		sig   syscall.Signal
		route string
	}{
		{syscall.SIGUSR1, routeHandler},
		{syscall.SIGUSR2, routePending},
		{syscall.SIGHUP, routeDropped},
	} {
		got := testutil.ToFloat64(m.signalDeliveries.WithLabelValues(strconv.Itoa(int(c.sig)), c.route))
		if got != 1 {
			t.Fatalf("%s via %s = %v, want 1", SignalName(c.sig), c.route, got)
		}
	}
}

func TestMetricsWorkerEvents(t *testing.T) {
	reg := prom.NewRegistry()
	m, err := NewMetrics("test", reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	registry := NewRegistry(2, WithRegistryMetrics(m))
	task := TaskFunc(func(ctx context.Context, info *Info) any { return info })
	if _, err := registry.Register("a", nil, task); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Register("b", &Attr{CancelState: CancelState(3)}, task); err != nil {
		t.Fatal(err)
	}

	registry.StartAll(context.Background())
	registry.JoinAll(context.Background())

	for event, want := range map[string]float64{
		workerStarted:      1,
		workerStartFailed:  1,
		workerJoinedNormal: 1,
		workerJoinFailed:   1,
	} {
		got := testutil.ToFloat64(m.workerEvents.WithLabelValues(event))
		if got != want {
			t.Fatalf("%s = %v, want %v", event, got, want)
		}
	}
}

func TestMetricsAlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetrics("test", reg)
	if err != nil {
		t.Fatalf("first NewMetrics failed: %v", err)
	}
	second, err := NewMetrics("test", reg)
	if err != nil {
		t.Fatalf("second NewMetrics failed: %v", err)
	}

	first.workerEvent(workerStarted)
	second.workerEvent(workerStarted)

	got := testutil.ToFloat64(first.workerEvents.WithLabelValues(workerStarted))
	if got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(first.workerEvents); n != 1 {
		t.Fatalf("series = %d, want 1", n)
	}
}

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	m.loopEvent("wait", "w1", eventCycle)
	m.delivered(syscall.SIGINT, routeHandler)
	m.workerEvent(workerStarted)
}
