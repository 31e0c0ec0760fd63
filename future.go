package ppdbg

import (
	"context"
	"sync"
)

// Future is the pending result of a request. It completes at most once.
type Future struct {
	topic string
	once  sync.Once
	done  chan struct{}
	reply Message
	err   error
}

func newFuture(topic string) *Future {
	return &Future{topic: topic, done: make(chan struct{})}
}

func failedFuture(topic string, err error) *Future {
	f := newFuture(topic)
	f.reject(err)
	return f
}

func (f *Future) resolve(payload Message) {
	f.once.Do(func() {
		f.reply = payload
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Topic is the topic of the request this future belongs to.
func (f *Future) Topic() string { return f.topic }

// Done is closed once the future is resolved or rejected.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It must only be called after Done is closed.
func (f *Future) Result() (Message, error) {
	<-f.done
	return f.reply, f.err
}

// Wait blocks until the future completes or ctx ends. An expired ctx does not
// withdraw the request; its reply will still be consumed when it arrives.
// Do not call Wait from a listener: replies are delivered by the same loop.
func (f *Future) Wait(ctx context.Context) (Message, error) {
	select {
	case <-f.done:
		return f.reply, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
