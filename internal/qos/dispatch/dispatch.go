// Package dispatch implements the messaging dispatcher: a single long-lived
// worker that owns an unbounded FIFO of outbound (targetWorker, message)
// items, so report producers and violation handlers never block on network
// I/O.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/streamworks/qosmanager/internal/qos/message"
	"github.com/streamworks/qosmanager/internal/qos/transport"
)

// DefaultSendTimeout bounds how long a single outbound send may block the
// dispatcher worker before it is logged and dropped; no operation here may
// block indefinitely on a peer.
const DefaultSendTimeout = 5 * time.Second

type outboundItem struct {
	target string
	env    message.Envelope
}

// Metrics are the prometheus counters exported by the dispatcher.
type Metrics struct {
	Enqueued prometheus.Counter
	Sent     prometheus.Counter
	Dropped  prometheus.Counter
}

// NewMetrics registers a fresh set of dispatcher counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{Name: "qos_dispatch_enqueued_total", Help: "Outbound QoS messages enqueued."}),
		Sent:     prometheus.NewCounter(prometheus.CounterOpts{Name: "qos_dispatch_sent_total", Help: "Outbound QoS messages sent successfully."}),
		Dropped:  prometheus.NewCounter(prometheus.CounterOpts{Name: "qos_dispatch_dropped_total", Help: "Outbound QoS messages dropped after a send failure."}),
	}
	if reg != nil {
		reg.MustRegister(m.Enqueued, m.Sent, m.Dropped)
	}
	return m
}

// Dispatcher asynchronously delivers outbound control messages to other
// workers. Zero value is not usable; construct with New.
type Dispatcher struct {
	sender      transport.Sender
	logger      *logrus.Entry
	sendTimeout time.Duration
	metrics     *Metrics

	mu        sync.Mutex
	queue     []outboundItem
	itemAdded chan struct{}

	shutdownCh chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once
}

// New creates a dispatcher that delivers messages through sender. metrics
// may be nil, in which case counters are allocated but never registered.
func New(sender transport.Sender, logger *logrus.Entry, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	d := &Dispatcher{
		sender:      sender,
		logger:      logger,
		sendTimeout: DefaultSendTimeout,
		metrics:     metrics,
		itemAdded:   make(chan struct{}, 1),
		shutdownCh:  make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue queues one outbound message without blocking on network I/O.
func (d *Dispatcher) Enqueue(target string, env message.Envelope) {
	d.mu.Lock()
	d.queue = append(d.queue, outboundItem{target: target, env: env})
	d.mu.Unlock()
	d.metrics.Enqueued.Inc()
	d.notify()
}

func (d *Dispatcher) notify() {
	select {
	case d.itemAdded <- struct{}{}:
	default: // a wake-up is already pending
	}
}

// run is the dispatcher worker: pop-send-repeat until shutdown, then drain.
func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		item, ok := d.popLocked()
		if ok {
			d.deliver(item)
			continue
		}
		select {
		case <-d.itemAdded:
		case <-d.shutdownCh:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) popLocked() (outboundItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return outboundItem{}, false
	}
	item := d.queue[0]
	d.queue = d.queue[1:]
	return item, true
}

// drain attempts delivery of every item still queued at shutdown time, once
// each, before the worker exits.
func (d *Dispatcher) drain() {
	for {
		item, ok := d.popLocked()
		if !ok {
			return
		}
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item outboundItem) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, item.target, item.env); err != nil {
		d.metrics.Dropped.Inc()
		d.logger.WithFields(logrus.Fields{
			"target_worker": item.target,
			"err":           err,
		}).Warn("dropping outbound QoS message after send failure")
		return
	}
	d.metrics.Sent.Inc()
}

// Close drains the queue and stops the worker. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.shutdownCh)
	})
	<-d.doneCh
}
