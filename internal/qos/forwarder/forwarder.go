// Package forwarder implements the per-job report forwarder: a
// producer-side batcher that ships locally produced samples and
// reporter-config announcements to the elected QoS manager worker on an
// aggregation interval.
package forwarder

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"github.com/streamworks/qosmanager/internal/qos/dispatch"
	"github.com/streamworks/qosmanager/internal/qos/graph"
	"github.com/streamworks/qosmanager/internal/qos/ids"
	"github.com/streamworks/qosmanager/internal/qos/message"
)

// Forwarder batches one job's locally produced QoS samples and ships them
// to the currently elected manager worker every aggregation interval.
type Forwarder struct {
	job        ids.JobID
	dispatcher *dispatch.Dispatcher
	logger     *logrus.Entry
	clock      clock.Clock

	mu                  sync.Mutex
	managerWorker       string
	vertexReporters     []message.VertexQosReporterConfig
	edgeReporters       []message.EdgeQosReporterConfig
	aggregationInterval time.Duration
	taggingInterval     int
	pending             graph.Report

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a forwarder for job using the given defaults. The forwarder
// starts its aggregation loop immediately; it only actually ships reports
// once a manager worker has been assigned via Reconfigure. clk is the clock
// driving the aggregation interval; a nil clk defaults to the real wall
// clock, the same default-when-unset convention used throughout this
// codebase for injected collaborators.
func New(job ids.JobID, dispatcher *dispatch.Dispatcher, aggregationInterval time.Duration, taggingInterval int, logger *logrus.Entry, clk clock.Clock) *Forwarder {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if clk == nil {
		clk = clock.WallClock
	}
	f := &Forwarder{
		job:                 job,
		dispatcher:          dispatcher,
		logger:              logger.WithField("job_id", job.String()),
		clock:               clk,
		aggregationInterval: aggregationInterval,
		taggingInterval:     taggingInterval,
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Forwarder) run() {
	defer close(f.doneCh)
	for {
		select {
		case <-f.clock.After(f.currentInterval()):
			f.flush()
		case <-f.stopCh:
			f.flush() // final flush of whatever is still pending
			return
		}
	}
}

// currentInterval returns the aggregation interval in effect for the next
// loop iteration, read fresh each time so a Reconfigure mid-flight is picked
// up without needing to reset any timer.
func (f *Forwarder) currentInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aggregationInterval
}

// Reconfigure applies a DeployInstanceQosRolesAction: the new manager
// target, the reporter configs to activate, and (if changed) new intervals.
func (f *Forwarder) Reconfigure(action message.DeployInstanceQosRolesAction) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if action.ManagerAssignment != nil {
		f.managerWorker = action.ManagerAssignment.ManagerWorker
	}
	f.vertexReporters = action.VertexQosReporters
	f.edgeReporters = action.EdgeQosReporters

	if action.AggregationInterval > 0 {
		f.aggregationInterval = time.Duration(action.AggregationInterval) * time.Millisecond
	}
	if action.TaggingInterval > 0 {
		f.taggingInterval = action.TaggingInterval
	}
}

// VertexReporters and EdgeReporters return the currently active reporter
// configurations, read by task-side reporter instrumentation (out of
// scope) to decide what to tag and forward.
func (f *Forwarder) VertexReporters() []message.VertexQosReporterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.VertexQosReporterConfig{}, f.vertexReporters...)
}

func (f *Forwarder) EdgeReporters() []message.EdgeQosReporterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.EdgeQosReporterConfig{}, f.edgeReporters...)
}

// TaggingInterval returns the records-between-tags sampling rate currently
// configured for this job's task-side reporters.
func (f *Forwarder) TaggingInterval() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taggingInterval
}

// RecordVertexLatency queues a vertex-latency sample for the next flush.
func (f *Forwarder) RecordVertexLatency(s graph.VertexLatencySample) {
	f.mu.Lock()
	f.pending.VertexLatencies = append(f.pending.VertexLatencies, s)
	f.mu.Unlock()
}

// RecordEdgeLatency queues an edge-latency sample for the next flush.
func (f *Forwarder) RecordEdgeLatency(s graph.EdgeLatencySample) {
	f.mu.Lock()
	f.pending.EdgeLatencies = append(f.pending.EdgeLatencies, s)
	f.mu.Unlock()
}

// RecordEdgeStatistics queues an edge channel-statistics sample.
func (f *Forwarder) RecordEdgeStatistics(s graph.EdgeStatisticsSample) {
	f.mu.Lock()
	f.pending.EdgeStatistics = append(f.pending.EdgeStatistics, s)
	f.mu.Unlock()
}

// AnnounceVertexReporter queues a vertex reporter announcement.
func (f *Forwarder) AnnounceVertexReporter(a graph.VertexReporterAnnouncement) {
	f.mu.Lock()
	f.pending.VertexAnnouncements = append(f.pending.VertexAnnouncements, a)
	f.mu.Unlock()
}

// AnnounceEdgeReporter queues an edge reporter announcement.
func (f *Forwarder) AnnounceEdgeReporter(a graph.EdgeReporterAnnouncement) {
	f.mu.Lock()
	f.pending.EdgeAnnouncements = append(f.pending.EdgeAnnouncements, a)
	f.mu.Unlock()
}

// flush ships the currently pending report to the elected manager and
// resets the pending buffer on every tick, regardless of whether it is
// empty, rather than only when there is something to say.
func (f *Forwarder) flush() {
	f.mu.Lock()
	target := f.managerWorker
	report := f.pending
	f.pending = graph.Report{}
	f.mu.Unlock()

	if target == "" {
		f.logger.Debug("no QoS manager elected yet; dropping scheduled report")
		return
	}
	f.dispatcher.Enqueue(target, message.QosReport{Job: f.job, Content: report})
}

// Shutdown stops the aggregation loop and performs a final flush of any
// pending samples before returning.
func (f *Forwarder) Shutdown() {
	select {
	case <-f.stopCh:
		return // already shut down
	default:
	}
	close(f.stopCh)
	<-f.doneCh
}
