package plugin

import (
	"context"
	"testing"

	"github.com/streamworks/qosmanager/internal/qos/config"
	"github.com/streamworks/qosmanager/internal/qos/ids"
	"github.com/streamworks/qosmanager/internal/qos/message"
	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	gc.TestingT(t)
}

var _ = gc.Suite(new(PluginTestSuite))

type PluginTestSuite struct{}

type noopSender struct{}

func (noopSender) Send(context.Context, string, message.Envelope) error { return nil }

func noLocator(ids.VertexID) (string, bool) { return "", false }

type fakeCoordinator struct{}

func (fakeCoordinator) HandleLimitBufferSize(message.LimitBufferSizeAction) {}

func (s *PluginTestSuite) TestStartJobRejectsDuplicate(c *gc.C) {
	p, err := New(config.RawValues{}, noopSender{}, noLocator, nil, nil, nil)
	c.Assert(err, gc.IsNil)
	defer p.Shutdown()

	job := ids.NewJobID()
	_, err = p.StartJob(job)
	c.Assert(err, gc.IsNil)

	_, err = p.StartJob(job)
	c.Assert(err, gc.Equals, ErrJobAlreadyStarted)
}

func (s *PluginTestSuite) TestRegisterTaskStartsJobImplicitly(c *gc.C) {
	p, err := New(config.RawValues{}, noopSender{}, noLocator, nil, nil, nil)
	c.Assert(err, gc.IsNil)
	defer p.Shutdown()

	job := ids.NewJobID()
	vid := ids.NewVertexID()
	c.Assert(p.RegisterTask(job, vid, fakeCoordinator{}), gc.IsNil)

	_, ok := p.Environment(job)
	c.Assert(ok, gc.Equals, true)
}

func (s *PluginTestSuite) TestDispatchRoutesByJobID(c *gc.C) {
	p, err := New(config.RawValues{}, noopSender{}, noLocator, nil, nil, nil)
	c.Assert(err, gc.IsNil)
	defer p.Shutdown()

	job := ids.NewJobID()
	vid := ids.NewVertexID()
	c.Assert(p.RegisterTask(job, vid, fakeCoordinator{}), gc.IsNil)

	err = p.Dispatch(message.LimitBufferSizeAction{Job: job, TargetVertexID: vid})
	c.Assert(err, gc.IsNil)

	err = p.Dispatch(message.LimitBufferSizeAction{Job: ids.NewJobID()})
	c.Assert(err, gc.Equals, ErrUnknownJob)
}

func (s *PluginTestSuite) TestStopJobOnUnknownJobIsNoOp(c *gc.C) {
	p, err := New(config.RawValues{}, noopSender{}, noLocator, nil, nil, nil)
	c.Assert(err, gc.IsNil)
	defer p.Shutdown()

	p.StopJob(ids.NewJobID()) // must not panic
}

func (s *PluginTestSuite) TestShutdownTearsDownAllJobs(c *gc.C) {
	p, err := New(config.RawValues{}, noopSender{}, noLocator, nil, nil, nil)
	c.Assert(err, gc.IsNil)

	job := ids.NewJobID()
	_, err = p.StartJob(job)
	c.Assert(err, gc.IsNil)

	p.Shutdown()

	_, ok := p.Environment(job)
	c.Assert(ok, gc.Equals, false)
}
