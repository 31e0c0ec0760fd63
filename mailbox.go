package ppdbg

import "sync"

// mailbox is an unbounded FIFO of closures run by a single goroutine. Posting
// never blocks, so listeners running on the loop may post freely.
type mailbox struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	closed  bool
}

func newMailbox() *mailbox {
	return &mailbox{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// post enqueues fn. It reports false once the mailbox is closed.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.stop:
			m.drain()
			return
		}
	}
}

func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
	}
}

// close stops accepting posts, runs what is queued and waits for the loop to exit.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.stopped
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stop)
	<-m.stopped
}

// flush waits until everything posted before the call has run.
func (m *mailbox) flush() {
	done := make(chan struct{})
	if !m.post(func() { close(done) }) {
		return
	}
	<-done
}
