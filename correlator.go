package ppdbg

import "fmt"

type pendingRequest struct {
	// gen is the session the request was written on.
	gen    uint64
	future *Future
}

// Correlator pairs requests with replies by topic, oldest first. Like the
// Dispatcher it is owned by the event loop.
type Correlator struct {
	queues  map[string][]*pendingRequest
	pending int
	metrics *Metrics
}

func NewCorrelator(metrics *Metrics) *Correlator {
	return &Correlator{
		queues:  make(map[string][]*pendingRequest),
		metrics: metrics,
	}
}

// Enqueue appends a pending request for topic, written on session gen.
func (c *Correlator) Enqueue(topic string, gen uint64, f *Future) {
	c.queues[topic] = append(c.queues[topic], &pendingRequest{gen: gen, future: f})
	c.pending++
	c.metrics.setPending(c.pending)
}

// Resolve completes the oldest pending request for msg's topic. It reports
// false when nothing was waiting, in which case msg is only a notification.
func (c *Correlator) Resolve(msg Message) bool {
	topic := msg.Topic()
	q := c.queues[topic]
	if len(q) == 0 {
		return false
	}
	p := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(c.queues, topic)
	} else {
		c.queues[topic] = q[1:]
	}
	c.pending--
	c.metrics.setPending(c.pending)

	if re, failed := remoteError(msg); failed {
		c.metrics.requestDone(topic, "remote_error")
		p.future.reject(re)
		return true
	}
	c.metrics.requestDone(topic, "ok")
	p.future.resolve(msg.Payload())
	return true
}

// FailAll rejects every request written on session gen or earlier with an
// error wrapping ErrConnectionLost, keeping later sessions' requests queued in
// order. It returns how many were rejected.
func (c *Correlator) FailAll(gen uint64, cause error) int {
	err := ErrConnectionLost
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}
	n := 0
	for topic, q := range c.queues {
		kept := q[:0]
		for _, p := range q {
			if p.gen > gen {
				kept = append(kept, p)
				continue
			}
			c.metrics.requestDone(topic, "lost")
			p.future.reject(err)
			n++
		}
		clear(q[len(kept):])
		if len(kept) == 0 {
			delete(c.queues, topic)
			continue
		}
		c.queues[topic] = kept
	}
	c.pending -= n
	c.metrics.setPending(c.pending)
	return n
}

// Pending returns the number of outstanding requests for topic, or across all
// topics when topic is empty.
func (c *Correlator) Pending(topic string) int {
	if topic == "" {
		return c.pending
	}
	return len(c.queues[topic])
}
