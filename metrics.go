package sigplay

import (
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the loops, the [Router] and the [Registry] observe, as Prometheus
// collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	loopEvents       *prom.CounterVec
	signalDeliveries *prom.CounterVec
	workerEvents     *prom.CounterVec
}

// loop event kinds
const (
	eventCycle        = "cycle"
	eventInterference = "interference"
	eventUnexpected   = "unexpected"
	eventSync         = "sync"
	eventInterrupted  = "interrupted"
	eventFailed       = "failed"
)

// delivery routes
const (
	routeHandler = "handler"
	routeWaiter  = "waiter"
	routePending = "pending"
	routeDropped = "dropped"
)

// worker events
const (
	workerStarted         = "started"
	workerStartFailed     = "start_failed"
	workerCancelRequested = "cancel_requested"
	workerCancelFailed    = "cancel_failed"
	workerJoinedNormal    = "joined_normal"
	workerJoinedCanceled  = "joined_canceled"
	workerJoinFailed      = "join_failed"
	workerUnexpectedValue = "unexpected_value"
)

// NewMetrics creates the collectors and registers them with reg (the default registerer if
// nil). Registering twice with the same namespace reuses the existing collectors.
func NewMetrics(namespace string, reg prom.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "sigplay"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	loopVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "loop_events_total",
		Help:      "Events observed by the signal loops, by loop kind, label and event.",
	}, []string{"loop", "label", "event"})
	deliveryVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "signal_deliveries_total",
		Help:      "Signal deliveries, by signal and by where the delivery went.",
	}, []string{"signal", "route"})
	workerVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "worker_events_total",
		Help:      "Worker lifecycle events recorded by the registry.",
	}, []string{"event"})

	var err error
	if loopVec, err = registerCollector(reg, loopVec); err != nil {
		return nil, err
	}
	if deliveryVec, err = registerCollector(reg, deliveryVec); err != nil {
		return nil, err
	}
	if workerVec, err = registerCollector(reg, workerVec); err != nil {
		return nil, err
	}

	return &Metrics{
		loopEvents:       loopVec,
		signalDeliveries: deliveryVec,
		workerEvents:     workerVec,
	}, nil
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegistered prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		existing, ok := alreadyRegistered.ExistingCollector.(T)
		if !ok {
			return collector, errors.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

func (m *Metrics) loopEvent(loop, label, event string) {
	if m == nil {
		return
	}
	m.loopEvents.WithLabelValues(loop, label, event).Inc()
}

func (m *Metrics) delivered(sig syscall.Signal, route string) {
	if m == nil {
		return
	}
	m.signalDeliveries.WithLabelValues(strconv.Itoa(int(sig)), route).Inc()
}

func (m *Metrics) workerEvent(event string) {
	if m == nil {
		return
	}
	m.workerEvents.WithLabelValues(event).Inc()
}
