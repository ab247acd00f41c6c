// Package env implements the per-job QoS coordination environment: one
// instance per running job, owning an eagerly-created forwarder, a lazily
// promoted manager, and the set of per-task coordinators registered against
// it. Lazy manager promotion follows a sum-type-behind-an-atomic-pointer
// idiom: an atomic pointer read on the fast path, with mutex-guarded
// double-checked initialization on first use.
package env

import (
	"sync"
	"sync/atomic"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"github.com/streamworks/qosmanager/internal/qos/config"
	"github.com/streamworks/qosmanager/internal/qos/dispatch"
	"github.com/streamworks/qosmanager/internal/qos/forwarder"
	"github.com/streamworks/qosmanager/internal/qos/ids"
	"github.com/streamworks/qosmanager/internal/qos/manager"
	"github.com/streamworks/qosmanager/internal/qos/message"
	"golang.org/x/xerrors"
)

// ErrAlreadyRegistered is returned by RegisterTask when the vertex already
// has a coordinator.
var ErrAlreadyRegistered = xerrors.New("task already registered for QoS coordination")

// ErrNotRegistered is returned by UnregisterTask for an unknown vertex.
var ErrNotRegistered = xerrors.New("task not registered for QoS coordination")

// TaskCoordinator is the task-local collaborator an environment demultiplexes
// control actions to. Its concrete implementation (buffer limiting, reporter
// tagging) lives with the task runtime and is out of scope here; env only
// needs the narrow interface it drives.
type TaskCoordinator interface {
	HandleLimitBufferSize(action message.LimitBufferSizeAction)
}

// Environment is the per-job QoS coordination context. The zero value is not
// usable; construct with New.
type Environment struct {
	job        ids.JobID
	cfg        config.Config
	dispatcher *dispatch.Dispatcher
	locator    manager.WorkerLocator
	logger     *logrus.Entry
	clock      clock.Clock

	forwarder *forwarder.Forwarder

	managerInit sync.Mutex
	managerPtr  atomic.Pointer[manager.Manager]

	tasksMu sync.Mutex
	tasks   map[ids.VertexID]TaskCoordinator

	shutdownOnce sync.Once
	shutdown     atomic.Bool
}

// New creates a job environment with an eagerly-started forwarder. The
// manager is not created until this worker is promoted to QoS manager for
// the job, either by a QosManagerAssignment or by an out-of-order QosReport
// arriving first. clk is the clock driving the forwarder's aggregation loop
// and the eventual manager's violation sweep; a nil clk defaults to the real
// wall clock.
func New(job ids.JobID, cfg config.Config, dispatcher *dispatch.Dispatcher, locator manager.WorkerLocator, logger *logrus.Entry, clk clock.Clock) *Environment {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("job_id", job.String())
	if clk == nil {
		clk = clock.WallClock
	}
	return &Environment{
		job:        job,
		cfg:        cfg,
		dispatcher: dispatcher,
		locator:    locator,
		logger:     logger,
		clock:      clk,
		forwarder:  forwarder.New(job, dispatcher, cfg.AggregationInterval, cfg.TaggingInterval, logger, clk),
		tasks:      make(map[ids.VertexID]TaskCoordinator),
	}
}

// Forwarder exposes the job's forwarder for task-side reporter wiring.
func (e *Environment) Forwarder() *forwarder.Forwarder { return e.forwarder }

// Manager returns the lazily-promoted manager, or nil if this worker has
// never been elected QoS manager for the job.
func (e *Environment) Manager() *manager.Manager { return e.managerPtr.Load() }

// RegisterTask adds a task-local coordinator for vid. Returns
// ErrAlreadyRegistered if vid already has one.
func (e *Environment) RegisterTask(vid ids.VertexID, coord TaskCoordinator) error {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if _, exists := e.tasks[vid]; exists {
		return ErrAlreadyRegistered
	}
	e.tasks[vid] = coord
	return nil
}

// UnregisterTask removes the coordinator for vid.
func (e *Environment) UnregisterTask(vid ids.VertexID) error {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if _, exists := e.tasks[vid]; !exists {
		return ErrNotRegistered
	}
	delete(e.tasks, vid)
	return nil
}

// Handle demultiplexes one inbound message by concrete kind. It is the sole
// entry point a plugin or gRPC receiver should call.
func (e *Environment) Handle(env message.Envelope) {
	if e.shutdown.Load() {
		return
	}
	switch msg := env.(type) {
	case message.QosReport:
		e.handleReport(msg)
	case message.DeployInstanceQosRolesAction:
		e.handleDeploy(msg)
	case message.LimitBufferSizeAction:
		e.handleLimitBufferSize(msg)
	case message.StreamChainAnnounce:
		e.handleChainAnnounce(msg)
	case message.ConstructStreamChainAction:
		// No-op on receipt: chains are only actually announced in-band via
		// StreamChainAnnounce once the runtime has constructed them.
	default:
		e.logger.WithField("type", env).Warn("unrecognized QoS envelope; dropping")
	}
}

func (e *Environment) handleReport(msg message.QosReport) {
	e.ensureManagerForReport().Submit(msg.Content)
}

func (e *Environment) handleDeploy(msg message.DeployInstanceQosRolesAction) {
	e.forwarder.Reconfigure(msg)
	if msg.ManagerAssignment != nil {
		e.ensureManager(*msg.ManagerAssignment)
	}
}

func (e *Environment) handleLimitBufferSize(msg message.LimitBufferSizeAction) {
	e.tasksMu.Lock()
	coord, ok := e.tasks[msg.TargetVertexID]
	e.tasksMu.Unlock()
	if !ok {
		e.logger.WithField("vertex_id", msg.TargetVertexID.String()).
			Warn("LimitBufferSizeAction for unregistered task; dropping")
		return
	}
	coord.HandleLimitBufferSize(msg)
}

func (e *Environment) handleChainAnnounce(msg message.StreamChainAnnounce) {
	mgr := e.managerPtr.Load()
	if mgr == nil {
		return
	}
	if err := mgr.Model().ProcessChainAnnounce(msg.ChainBegin, msg.ChainEnd); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"chain_begin": msg.ChainBegin.String(),
			"chain_end":   msg.ChainEnd.String(),
		}).Warn("rejecting invalid stream chain announcement")
	}
}

// ensureManager performs double-checked lazy promotion to QoS manager using
// assignment. Reports and role assignments travel independent paths with no
// cross-message ordering guarantee, so a manager may already exist by the
// time an assignment arrives (promoted earlier by ensureManagerForReport);
// in that case assignment's shallow graph and constraints are merged into
// the existing model instead of being discarded.
func (e *Environment) ensureManager(assignment message.QosManagerAssignment) *manager.Manager {
	if mgr := e.managerPtr.Load(); mgr != nil {
		mgr.MergeAssignment(assignment)
		return mgr
	}

	e.managerInit.Lock()
	defer e.managerInit.Unlock()
	if mgr := e.managerPtr.Load(); mgr != nil {
		mgr.MergeAssignment(assignment)
		return mgr
	}

	mgr := manager.New(e.job, assignment, e.dispatcher, e.locator, e.cfg.AdjustmentInterval, e.logger, nil, e.clock)
	e.managerPtr.Store(mgr)
	return mgr
}

// ensureManagerForReport performs double-checked lazy promotion triggered by
// a QosReport arriving before this worker's manager-role assignment. It
// seeds the manager with an empty assignment; the eventual
// DeployInstanceQosRolesAction's shallow graph and constraints merge into
// this same model via ensureManager, consistent with the graph assembly
// being insensitive to the order its building blocks arrive in.
func (e *Environment) ensureManagerForReport() *manager.Manager {
	if mgr := e.managerPtr.Load(); mgr != nil {
		return mgr
	}

	e.managerInit.Lock()
	defer e.managerInit.Unlock()
	if mgr := e.managerPtr.Load(); mgr != nil {
		return mgr
	}

	mgr := manager.New(e.job, message.QosManagerAssignment{}, e.dispatcher, e.locator, e.cfg.AdjustmentInterval, e.logger, nil, e.clock)
	e.managerPtr.Store(mgr)
	return mgr
}

// Shutdown idempotently tears down the forwarder and manager (if any).
func (e *Environment) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.shutdown.Store(true)
		e.forwarder.Shutdown()
		if mgr := e.managerPtr.Load(); mgr != nil {
			mgr.Shutdown()
		}
	})
}
