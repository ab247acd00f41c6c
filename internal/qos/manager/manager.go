// Package manager implements the elected QoS manager worker: a goroutine
// that ingests one job's incoming QosReports into its graph.Model off an
// unbounded FIFO (the same dispatcher idiom used for outbound
// traffic), and periodically runs the constraint-violation finder, turning
// any violation into a LimitBufferSizeAction dispatched back to the worker
// hosting the offending vertex.
package manager

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/streamworks/qosmanager/internal/qos/dispatch"
	"github.com/streamworks/qosmanager/internal/qos/graph"
	"github.com/streamworks/qosmanager/internal/qos/ids"
	"github.com/streamworks/qosmanager/internal/qos/message"
)

// WorkerLocator resolves the worker currently hosting vid, the piece of
// placement information the QoS subsystem itself does not own: task
// placement is an external collaborator. A Manager that cannot resolve a
// violation's target vertex logs and drops the control action rather than
// guessing.
type WorkerLocator func(vid ids.VertexID) (workerAddr string, ok bool)

// Metrics are the prometheus counters exported by a Manager.
type Metrics struct {
	ReportsProcessed  prometheus.Counter
	ViolationsFound   prometheus.Counter
	ActionsDispatched prometheus.Counter
}

// NewMetrics registers a fresh set of manager counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsProcessed:  prometheus.NewCounter(prometheus.CounterOpts{Name: "qos_manager_reports_processed_total", Help: "QosReports ingested by the manager worker."}),
		ViolationsFound:   prometheus.NewCounter(prometheus.CounterOpts{Name: "qos_manager_violations_total", Help: "Constraint violations detected."}),
		ActionsDispatched: prometheus.NewCounter(prometheus.CounterOpts{Name: "qos_manager_actions_dispatched_total", Help: "Control actions dispatched in response to violations."}),
	}
	if reg != nil {
		reg.MustRegister(m.ReportsProcessed, m.ViolationsFound, m.ActionsDispatched)
	}
	return m
}

// Manager owns one job's QoS graph model and the worker goroutine that
// ingests reports and runs violation sweeps. MergeShallow, MergeAssignment
// and chain announcements applied through Model() mutate the model on the
// caller's goroutine instead; the model's mutex serializes them with the
// worker.
type Manager struct {
	job        ids.JobID
	model      *graph.Model
	dispatcher *dispatch.Dispatcher
	locateWorker WorkerLocator
	logger     *logrus.Entry
	metrics    *Metrics
	clock      clock.Clock

	mu      sync.Mutex
	inbox   []graph.Report
	itemAdded chan struct{}

	adjustmentInterval time.Duration
	shutdownCh         chan struct{}
	doneCh             chan struct{}
	closeOnce          sync.Once
}

// New constructs a Manager seeded with the shallow graph fragment and
// constraint set carried by the QosManagerAssignment that elected this
// worker. adjustmentInterval both paces the violation sweep and bounds how
// long a sample stays "active" for path enumeration. clk drives that sweep;
// a nil clk defaults to the real wall clock.
func New(
	job ids.JobID,
	assignment message.QosManagerAssignment,
	dispatcher *dispatch.Dispatcher,
	locateWorker WorkerLocator,
	adjustmentInterval time.Duration,
	logger *logrus.Entry,
	metrics *Metrics,
	clk clock.Clock,
) *Manager {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if clk == nil {
		clk = clock.WallClock
	}

	mgr := &Manager{
		job:                job,
		model:              graph.NewModel(adjustmentInterval),
		dispatcher:         dispatcher,
		locateWorker:       locateWorker,
		logger:             logger.WithField("job_id", job.String()),
		metrics:            metrics,
		clock:              clk,
		itemAdded:          make(chan struct{}, 1),
		adjustmentInterval: adjustmentInterval,
		shutdownCh:         make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
	mgr.MergeAssignment(assignment)
	go mgr.run()
	return mgr
}

// MergeShallow unions a later-arriving shallow graph fragment into the
// model, e.g. when the coordinator grows the job graph after election.
func (m *Manager) MergeShallow(fragment graph.ShallowGraphFragment) {
	m.model.MergeShallow(fragment)
}

// MergeAssignment unions the shallow graph and constraint set carried by a
// QosManagerAssignment into the model. New uses it to seed a freshly
// constructed manager; a manager promoted by a report ahead of its
// assignment uses it again, on the same model, once the assignment arrives.
func (m *Manager) MergeAssignment(assignment message.QosManagerAssignment) {
	m.MergeShallow(assignment.ShallowGraph)
	for _, c := range assignment.Constraints {
		m.MergeShallow(graph.ShallowGraphFragment{Constraints: []graph.Constraint{c}})
	}
}

// Submit hands one report to the manager's inbox without blocking the
// caller on graph processing.
func (m *Manager) Submit(report graph.Report) {
	m.mu.Lock()
	m.inbox = append(m.inbox, report)
	m.mu.Unlock()
	select {
	case m.itemAdded <- struct{}{}:
	default:
	}
}

// Model exposes the underlying model for read-only inspection (metrics,
// tests).
func (m *Manager) Model() *graph.Model { return m.model }

func (m *Manager) run() {
	defer close(m.doneCh)
	sweep := m.clock.After(m.adjustmentInterval)
	for {
		report, ok := m.popLocked()
		if ok {
			m.processLocked(report)
			continue
		}
		select {
		case <-m.itemAdded:
		case <-sweep:
			m.sweepViolations()
			sweep = m.clock.After(m.adjustmentInterval)
		case <-m.shutdownCh:
			return
		}
	}
}

func (m *Manager) popLocked() (graph.Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return graph.Report{}, false
	}
	r := m.inbox[0]
	m.inbox = m.inbox[1:]
	return r, true
}

func (m *Manager) processLocked(report graph.Report) {
	m.model.ProcessReport(report)
	m.metrics.ReportsProcessed.Inc()
	if err := m.model.InvariantErrors(); err != nil {
		m.logger.WithError(err).Error("graph invariant violation detected while assembling job graph")
	}
}

// sweepViolations runs the constraint-violation finder and turns every
// violation found into a dispatched LimitBufferSizeAction.
func (m *Manager) sweepViolations() {
	m.model.FindViolations(m.onViolation, nil)
}

func (m *Manager) onViolation(v graph.Violation) {
	m.metrics.ViolationsFound.Inc()
	target, ok := targetOfViolation(v)
	if !ok {
		m.logger.WithField("constraint_id", v.ConstraintID.String()).
			Debug("violation has no edge step to throttle; nothing to dispatch")
		return
	}

	workerAddr, ok := m.locateWorker(target.vertex)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"constraint_id": v.ConstraintID.String(),
			"vertex_id":     target.vertex.String(),
		}).Warn("cannot locate worker hosting violation target; dropping control action")
		return
	}

	action := message.LimitBufferSizeAction{
		Job:             m.job,
		TargetVertexID:  target.vertex,
		SourceChannelID: target.channel,
		BufferSizeBytes: shrinkBufferSize(v.ExcessMs, v.BudgetMs),
	}
	m.dispatcher.Enqueue(workerAddr, action)
	m.metrics.ActionsDispatched.Inc()
}

type violationTarget struct {
	vertex  ids.VertexID
	channel ids.ChannelID
}

// targetOfViolation picks the last edge step on the violating path as the
// throttle point: it is the channel whose consumer most directly felt the
// accumulated excess.
func targetOfViolation(v graph.Violation) (violationTarget, bool) {
	for i := len(v.Path) - 1; i >= 0; i-- {
		step := v.Path[i]
		if step.Kind != graph.EdgeStep {
			continue
		}
		if i == 0 {
			continue
		}
		prev := v.Path[i-1]
		if prev.Kind != graph.VertexStep {
			continue
		}
		return violationTarget{vertex: prev.VertexID, channel: step.ChannelID}, true
	}
	return violationTarget{}, false
}

// shrinkBufferSize proposes a new output buffer size that shrinks with the
// magnitude of the path's deviation from budget: a bigger deviation earns a
// more aggressive cut. A path that ran under budget by more than the
// tolerance is cut the same way as one that ran over by the same amount; no
// proposal exceeds the baseline size. The floor keeps a throttled buffer
// from collapsing to zero.
func shrinkBufferSize(excessMs, budgetMs float64) int64 {
	const baselineBytes = 32 * 1024
	const floorBytes = 4 * 1024
	if budgetMs <= 0 {
		return baselineBytes
	}
	overshoot := excessMs / budgetMs
	if overshoot < 0 {
		overshoot = -overshoot
	}
	shrink := int64(float64(baselineBytes) / (1 + overshoot))
	if shrink < floorBytes {
		return floorBytes
	}
	return shrink
}

// Shutdown stops the manager's inbox worker and adjustment sweep.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		close(m.shutdownCh)
	})
	<-m.doneCh
}
