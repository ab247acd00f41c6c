// Package plugin is the process-wide QoS subsystem entry point: one
// instance per task-manager process, owning the shared dispatcher and the
// table of per-job environments. It is the seam a host engine's plugin
// loader hangs lifecycle calls off of: created at worker boot, shut down at
// worker shutdown.
package plugin

import (
	"sync"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/streamworks/qosmanager/internal/qos/config"
	"github.com/streamworks/qosmanager/internal/qos/dispatch"
	"github.com/streamworks/qosmanager/internal/qos/env"
	"github.com/streamworks/qosmanager/internal/qos/ids"
	"github.com/streamworks/qosmanager/internal/qos/manager"
	"github.com/streamworks/qosmanager/internal/qos/message"
	"github.com/streamworks/qosmanager/internal/qos/transport"
	"golang.org/x/xerrors"
)

// ErrUnknownJob is returned by operations addressed at a job with no
// registered environment.
var ErrUnknownJob = xerrors.New("no QoS environment registered for job")

// ErrJobAlreadyStarted is returned by StartJob when the job already has an
// environment.
var ErrJobAlreadyStarted = xerrors.New("QoS environment already started for job")

// Plugin is the process-wide QoS subsystem. The zero value is not usable;
// construct with New.
type Plugin struct {
	cfg        config.Config
	dispatcher *dispatch.Dispatcher
	locator    manager.WorkerLocator
	logger     *logrus.Entry
	registry   prometheus.Registerer
	clock      clock.Clock

	mu   sync.RWMutex
	jobs map[ids.JobID]*env.Environment
}

// New constructs the plugin. raw is the host engine's flat configuration
// map; sender is the transport used by the dispatcher; locator resolves a
// vertex's current worker placement for violation control actions;
// registry (may be nil) receives the subsystem's prometheus metrics; clk
// (may be nil) overrides the wall clock driving every job environment's
// forwarder and manager, used by tests to control aggregation and
// adjustment timing deterministically.
func New(raw config.RawValues, sender transport.Sender, locator manager.WorkerLocator, logger *logrus.Entry, registry prometheus.Registerer, clk clock.Clock) (*Plugin, error) {
	cfg, err := config.Load(raw)
	if err != nil {
		return nil, xerrors.Errorf("loading QoS plugin configuration: %w", err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if clk == nil {
		clk = clock.WallClock
	}

	dispatchMetrics := dispatch.NewMetrics(registry)
	return &Plugin{
		cfg:        cfg,
		dispatcher: dispatch.New(sender, logger, dispatchMetrics),
		locator:    locator,
		logger:     logger,
		registry:   registry,
		clock:      clk,
		jobs:       make(map[ids.JobID]*env.Environment),
	}, nil
}

// StartJob creates and registers a fresh environment for job, called when
// the host engine deploys the job's first task to this worker.
func (p *Plugin) StartJob(job ids.JobID) (*env.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.jobs[job]; exists {
		return nil, ErrJobAlreadyStarted
	}
	e := env.New(job, p.cfg, p.dispatcher, p.locator, p.logger, p.clock)
	p.jobs[job] = e
	return e, nil
}

// StopJob shuts down and removes job's environment, called when the host
// engine tears the job down on this worker. A missing job is a no-op: job
// teardown may race a worker that never hosted any of its tasks.
func (p *Plugin) StopJob(job ids.JobID) {
	p.mu.Lock()
	e, exists := p.jobs[job]
	if exists {
		delete(p.jobs, job)
	}
	p.mu.Unlock()
	if exists {
		e.Shutdown()
	}
}

// Environment returns the environment registered for job, if any.
func (p *Plugin) Environment(job ids.JobID) (*env.Environment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.jobs[job]
	return e, ok
}

// RegisterTask demultiplexes task registration to the named job's
// environment, starting the environment first if this is the job's first
// task on this worker.
func (p *Plugin) RegisterTask(job ids.JobID, vid ids.VertexID, coord env.TaskCoordinator) error {
	e, ok := p.Environment(job)
	if !ok {
		var err error
		e, err = p.StartJob(job)
		if err != nil {
			return err
		}
	}
	return e.RegisterTask(vid, coord)
}

// UnregisterTask demultiplexes task teardown to job's environment.
func (p *Plugin) UnregisterTask(job ids.JobID, vid ids.VertexID) error {
	e, ok := p.Environment(job)
	if !ok {
		return ErrUnknownJob
	}
	return e.UnregisterTask(vid)
}

// Dispatch routes one inbound message to its job's environment, keyed
// strictly by the JobID every Envelope carries.
func (p *Plugin) Dispatch(msg message.Envelope) error {
	e, ok := p.Environment(msg.JobID())
	if !ok {
		return ErrUnknownJob
	}
	e.Handle(msg)
	return nil
}

// Shutdown tears down every running job environment and stops the shared
// dispatcher. Called once, at worker process shutdown.
func (p *Plugin) Shutdown() {
	p.mu.Lock()
	jobs := p.jobs
	p.jobs = make(map[ids.JobID]*env.Environment)
	p.mu.Unlock()

	for _, e := range jobs {
		e.Shutdown()
	}
	p.dispatcher.Close()
}
