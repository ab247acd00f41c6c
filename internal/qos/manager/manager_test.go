package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/streamworks/qosmanager/internal/qos/dispatch"
	"github.com/streamworks/qosmanager/internal/qos/graph"
	"github.com/streamworks/qosmanager/internal/qos/ids"
	"github.com/streamworks/qosmanager/internal/qos/message"
	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	gc.TestingT(t)
}

var _ = gc.Suite(new(ManagerTestSuite))

type ManagerTestSuite struct{}

type capturingSender struct {
	mu   sync.Mutex
	acts []message.LimitBufferSizeAction
}

func (c *capturingSender) Send(_ context.Context, _ string, env message.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := env.(message.LimitBufferSizeAction); ok {
		c.acts = append(c.acts, a)
	}
	return nil
}

func (c *capturingSender) actions() []message.LimitBufferSizeAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.LimitBufferSizeAction{}, c.acts...)
}

func (s *ManagerTestSuite) TestSubmitProcessesReportAsynchronously(c *gc.C) {
	job := ids.NewJobID()
	g1 := ids.NewGroupVertexID()
	g2 := ids.NewGroupVertexID()
	v1 := ids.NewVertexID()
	v2 := ids.NewVertexID()
	channel := ids.NewChannelID()

	assignment := message.QosManagerAssignment{
		ShallowGraph: graph.ShallowGraphFragment{GroupVertices: []ids.GroupVertexID{g1, g2}},
	}

	sender := &capturingSender{}
	d := dispatch.New(sender, nil, nil)
	defer d.Close()

	mgr := New(job, assignment, d, func(ids.VertexID) (string, bool) { return "", false }, time.Hour, nil, nil, testclock.NewClock(time.Now()))
	defer mgr.Shutdown()

	mgr.Submit(graph.Report{
		VertexAnnouncements: []graph.VertexReporterAnnouncement{
			{GroupVertexID: g1, VertexID: v1, InputGateIndex: intPtr(0), OutputGateIndex: intPtr(0)},
			{GroupVertexID: g2, VertexID: v2, InputGateIndex: intPtr(0), OutputGateIndex: intPtr(0)},
		},
		EdgeAnnouncements: []graph.EdgeReporterAnnouncement{
			{SourceChannelID: channel, SourceGroupVertexID: g1, SourceVertexID: v1, SourceOutputGateIndex: 0,
				TargetGroupVertexID: g2, TargetVertexID: v2, TargetInputGateIndex: 0},
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Model().State() != graph.Ready && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Assert(mgr.Model().State(), gc.Equals, graph.Ready)
}

func (s *ManagerTestSuite) TestAdjustmentSweepRunsOnClockTick(c *gc.C) {
	job := ids.NewJobID()
	g1 := ids.NewGroupVertexID()
	v1 := ids.NewVertexID()
	v2 := ids.NewVertexID()
	channel := ids.NewChannelID()

	assignment := message.QosManagerAssignment{
		ShallowGraph: graph.ShallowGraphFragment{GroupVertices: []ids.GroupVertexID{g1}},
	}

	sender := &capturingSender{}
	d := dispatch.New(sender, nil, nil)
	defer d.Close()

	clk := testclock.NewClock(time.Now())
	mgr := New(job, assignment, d, func(ids.VertexID) (string, bool) { return "worker-1", true }, time.Minute, nil, nil, clk)
	defer mgr.Shutdown()

	mgr.Submit(graph.Report{
		VertexAnnouncements: []graph.VertexReporterAnnouncement{
			{GroupVertexID: g1, VertexID: v1, OutputGateIndex: intPtr(0)},
			{GroupVertexID: g1, VertexID: v2, InputGateIndex: intPtr(0)},
		},
		EdgeAnnouncements: []graph.EdgeReporterAnnouncement{
			{SourceChannelID: channel, SourceGroupVertexID: g1, SourceVertexID: v1, SourceOutputGateIndex: 0,
				TargetGroupVertexID: g1, TargetVertexID: v2, TargetInputGateIndex: 0},
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Model().State() != graph.Ready && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Assert(mgr.Model().State(), gc.Equals, graph.Ready)

	// Advancing the injected clock past the adjustment interval must wake
	// the sweep goroutine rather than waiting out a real minute.
	c.Assert(clk.WaitAdvance(time.Minute, 10*time.Second, 1), gc.IsNil)
}

func (s *ManagerTestSuite) TestTargetOfViolationPicksLastEdgeStep(c *gc.C) {
	v1 := ids.NewVertexID()
	ch := ids.NewChannelID()
	v := graph.Violation{
		Path: []graph.PathStep{
			{Kind: graph.VertexStep, VertexID: ids.NewVertexID()},
			{Kind: graph.EdgeStep, ChannelID: ids.NewChannelID()},
			{Kind: graph.VertexStep, VertexID: v1},
			{Kind: graph.EdgeStep, ChannelID: ch},
			{Kind: graph.VertexStep, VertexID: ids.NewVertexID()},
		},
	}
	target, ok := targetOfViolation(v)
	c.Assert(ok, gc.Equals, true)
	c.Assert(target.vertex, gc.Equals, v1)
	c.Assert(target.channel, gc.Equals, ch)
}

func (s *ManagerTestSuite) TestShrinkBufferSizeHasAFloor(c *gc.C) {
	size := shrinkBufferSize(1000, 10) // huge overshoot
	c.Assert(size >= 4*1024, gc.Equals, true)
}

func (s *ManagerTestSuite) TestShutdownIsIdempotent(c *gc.C) {
	job := ids.NewJobID()
	d := dispatch.New(&capturingSender{}, nil, nil)
	mgr := New(job, message.QosManagerAssignment{}, d, func(ids.VertexID) (string, bool) { return "", false }, time.Hour, nil, nil, testclock.NewClock(time.Now()))
	mgr.Shutdown()
	mgr.Shutdown() // must not panic or deadlock
	d.Close()
}

func intPtr(i int) *int { return &i }
