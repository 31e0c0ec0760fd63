package ppdbg

import (
	"fmt"

	"go.uber.org/zap"
)

// Dispatcher is the topic-keyed listener registry. It is owned by the client's
// event loop and is not safe for concurrent use.
type Dispatcher struct {
	logger  *zap.Logger
	metrics *Metrics
	topics  map[string][]*listener
	batches map[Token][]string
}

type listener struct {
	token   Token
	handler Handler
}

func NewDispatcher(logger *zap.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		metrics: metrics,
		topics:  make(map[string][]*listener),
		batches: make(map[Token][]string),
	}
}

// Subscribe registers every (topic, handler) pair of the batch under token.
// Nil handlers are skipped.
func (d *Dispatcher) Subscribe(token Token, handlers map[string]Handler) {
	if _, ok := d.batches[token]; ok {
		d.Unsubscribe(token)
	}
	topics := make([]string, 0, len(handlers))
	for topic, h := range handlers {
		if h == nil {
			continue
		}
		d.topics[topic] = append(d.topics[topic], &listener{token: token, handler: h})
		topics = append(topics, topic)
	}
	d.batches[token] = topics
}

// Unsubscribe removes the handlers registered under token. Unknown tokens are ignored.
func (d *Dispatcher) Unsubscribe(token Token) {
	topics, ok := d.batches[token]
	if !ok {
		return
	}
	delete(d.batches, token)
	for _, topic := range topics {
		cur := d.topics[topic]
		kept := cur[:0:0]
		for _, l := range cur {
			if l.token != token {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(d.topics, topic)
			continue
		}
		d.topics[topic] = kept
	}
}

// Dispatch invokes every handler of topic in registration order and returns
// how many were invoked. A panicking handler is logged and skipped.
func (d *Dispatcher) Dispatch(topic string, payload Message) int {
	ls := d.topics[topic]
	if len(ls) == 0 {
		return 0
	}
	// handlers may subscribe or forget while we iterate
	snapshot := make([]*listener, len(ls))
	copy(snapshot, ls)
	for _, l := range snapshot {
		d.invoke(topic, l, payload)
	}
	return len(snapshot)
}

func (d *Dispatcher) invoke(topic string, l *listener, payload Message) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.handlerPanic(topic)
			d.logger.Error("listener panicked",
				zap.String("topic", topic),
				zap.String("token", string(l.token)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	l.handler(payload)
}

// Listeners returns the number of handlers registered for topic.
func (d *Dispatcher) Listeners(topic string) int {
	return len(d.topics[topic])
}

// Stats reports listener counts per topic.
func (d *Dispatcher) Stats() map[string]any {
	topics := make(map[string]any, len(d.topics))
	for name, ls := range d.topics {
		topics[name] = len(ls)
	}
	return map[string]any{
		"batches": len(d.batches),
		"topics":  topics,
	}
}
