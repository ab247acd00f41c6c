package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/streamworks/qosmanager/internal/qos/ids"
	"github.com/streamworks/qosmanager/internal/qos/message"
	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	gc.TestingT(t)
}

var _ = gc.Suite(new(DispatcherTestSuite))

type DispatcherTestSuite struct{}

type recordingSender struct {
	mu  sync.Mutex
	got []message.Envelope
	err error
}

func (r *recordingSender) Send(_ context.Context, _ string, env message.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, env)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (s *DispatcherTestSuite) TestEnqueueDeliversInOrder(c *gc.C) {
	sender := &recordingSender{}
	d := New(sender, nil, nil)
	defer d.Close()

	job := ids.NewJobID()
	for i := 0; i < 5; i++ {
		d.Enqueue("worker-1", message.QosReport{Job: job})
	}

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Assert(sender.count(), gc.Equals, 5)
}

func (s *DispatcherTestSuite) TestCloseIsIdempotent(c *gc.C) {
	d := New(&recordingSender{}, nil, nil)
	d.Close()
	d.Close() // must not panic or deadlock
}

func (s *DispatcherTestSuite) TestCloseDrainsPendingQueue(c *gc.C) {
	sender := &recordingSender{}
	d := New(sender, nil, nil)

	job := ids.NewJobID()
	d.Enqueue("worker-1", message.QosReport{Job: job})
	d.Enqueue("worker-1", message.QosReport{Job: job})
	d.Close()

	c.Assert(sender.count(), gc.Equals, 2)
}
