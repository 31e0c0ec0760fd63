package ppdbg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client talks to one debugging target at a time. Requests are paired with
// replies by topic and every inbound message is also delivered to listeners.
//
// The correlator and dispatcher tables belong to a single event-loop goroutine;
// every other goroutine reaches them by posting to its mailbox. Listeners run on
// that loop. They may call Send, Listen, Forget and Disconnect, but must not
// wait on a Future, call Stats or call Close.
type Client struct {
	cfg        Config
	logger     *zap.Logger
	metrics    *Metrics
	onClose    func(error)
	httpClient *http.Client
	dial       Dialer
	start      time.Time

	box        *mailbox
	dispatcher *Dispatcher
	correlator *Correlator
	history    *RingBuffer

	// writeMu keeps enqueue order equal to wire order.
	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	sess          *session
	gen           uint64
	attemptID     uint64
	cancelConnect context.CancelFunc
	everConnected bool
	server        ServerInfo
	closed        bool

	// attemptCancels releases each attempt's context even when the attempt
	// was superseded before endConnect ran.
	attemptCancels map[uint64]context.CancelFunc
}

// session is one live websocket. closed is owned by the event loop and marks
// that the session's teardown has been processed there.
type session struct {
	gen    uint64
	addr   string
	conn   WSConn
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Option configures a Client at construction.
type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithOnClose sets the callback run once each time a live connection ends,
// explicitly or not. The error is nil for Disconnect.
func WithOnClose(fn func(err error)) Option {
	return func(c *Client) { c.onClose = fn }
}

// WithHTTPClient sets the client used to fetch the match list.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// New creates a disconnected client and starts its event loop.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		logger:     zap.NewNop(),
		httpClient: &http.Client{Timeout: cfg.ConnectTimeout},
		dial:       dialWS,
		start:      time.Now(),
		box:        newMailbox(),
		history:    NewRingBuffer(cfg.HistorySize),

		attemptCancels: make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher = NewDispatcher(c.logger, c.metrics)
	c.correlator = NewCorrelator(c.metrics)
	c.metrics.setState(StateDisconnected)
	go c.box.run()
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Server returns what the target reported in the last successful handshake.
func (c *Client) Server() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Connect connects to address, bypassing discovery.
func (c *Client) Connect(ctx context.Context, address string) error {
	ctx, id, err := c.beginConnect(ctx)
	if err != nil {
		return err
	}
	err = c.attempt(ctx, id, address)
	c.endConnect(id, err)
	return err
}

// AutoConnect discovers targets and connects to the first that accepts.
func (c *Client) AutoConnect(ctx context.Context) error {
	ctx, id, err := c.beginConnect(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
	defer cancel()

	var errs error
	for _, addr := range c.discover(ctx) {
		err := c.attempt(ctx, id, addr)
		if err == nil {
			c.endConnect(id, nil)
			return nil
		}
		c.logger.Debug("candidate rejected", zap.String("address", addr), zap.Error(err))
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil || !c.attemptCurrent(id) {
			break
		}
	}
	if errs == nil {
		err = fmt.Errorf("%w: no candidates", ErrDiscoveryFailed)
	} else {
		err = fmt.Errorf("%w: %w", ErrDiscoveryFailed, errs)
	}
	c.endConnect(id, err)
	return err
}

// beginConnect moves Disconnected to Connecting. The returned context is
// cancelled by Disconnect and released by endConnect.
func (c *Client) beginConnect(ctx context.Context) (context.Context, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, ErrClosed
	}
	if c.state != StateDisconnected {
		return nil, 0, fmt.Errorf("%w: connect while %s", ErrInvalidState, c.state)
	}
	c.state = StateConnecting
	c.metrics.setState(StateConnecting)
	c.gen++
	c.attemptID = c.gen
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	c.cancelConnect = cancel
	c.attemptCancels[c.attemptID] = cancel
	return ctx, c.attemptID, nil
}

func (c *Client) attemptCurrent(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptID == id && c.state == StateConnecting
}

// attempt dials one address and, on success, leaves the client Connected.
func (c *Client) attempt(ctx context.Context, id uint64, address string) error {
	target, err := targetURL(address, c.cfg.Path)
	if err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(actx, target, c.cfg)
	if err != nil {
		return classifyConnectError(actx, address, err)
	}
	sess := c.attach(id, address, conn)
	if sess == nil {
		return fmt.Errorf("%w: disconnected while connecting to %s", ErrConnectionLost, address)
	}

	var info ServerInfo
	if c.cfg.Handshake {
		info, err = c.handshake(actx, sess)
		if err != nil {
			c.drop(sess, err)
			if errors.Is(err, ErrIncompatibleServer) {
				return err
			}
			return classifyConnectError(actx, address, err)
		}
	}
	return c.promote(id, sess, info)
}

func classifyConnectError(ctx context.Context, address string, err error) error {
	switch {
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrRemote):
		return fmt.Errorf("%w: %s: %w", ErrConnectionRefused, address, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ErrConnectionTimeout, address, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("connect %s: %w", address, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrConnectionRefused, address, err)
	}
}

// attach registers a freshly dialed connection while still Connecting and
// starts its reader. It returns nil if the attempt was abandoned meanwhile.
func (c *Client) attach(id uint64, address string, conn WSConn) *session {
	c.mu.Lock()
	if c.attemptID != id || c.state != StateConnecting {
		c.mu.Unlock()
		go conn.Close(websocket.StatusNormalClosure, "connect abandoned")
		return nil
	}
	c.gen++
	sess := &session{gen: c.gen, addr: address, conn: conn}
	sess.ctx, sess.cancel = context.WithCancel(context.Background())
	c.sess = sess
	c.mu.Unlock()

	go c.readLoop(sess)
	go c.heartbeat(sess)
	return sess
}

func (c *Client) promote(id uint64, sess *session, info ServerInfo) error {
	c.mu.Lock()
	if c.attemptID != id || c.sess != sess || c.state != StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: disconnected while connecting to %s", ErrConnectionLost, sess.addr)
	}
	c.state = StateConnected
	c.everConnected = true
	if c.cfg.Handshake {
		c.server = info
	}
	c.mu.Unlock()

	c.metrics.setState(StateConnected)
	c.logger.Info("debugger connected",
		zap.String("address", sess.addr),
		zap.String("server", info.Name),
		zap.String("server_version", info.Version))
	c.box.post(func() {
		c.dispatcher.Dispatch(TopicConnection, Message{})
		c.dispatcher.Dispatch(TopicConnectionChange, Message{"connected": true})
	})
	return nil
}

// endConnect finishes an attempt started by beginConnect.
func (c *Client) endConnect(id uint64, err error) {
	c.mu.Lock()
	if cancel := c.attemptCancels[id]; cancel != nil {
		delete(c.attemptCancels, id)
		defer cancel()
	}
	if c.attemptID != id {
		c.mu.Unlock()
		return
	}
	c.cancelConnect = nil
	c.attemptID = 0
	emit := false
	if err != nil && c.state == StateConnecting {
		c.state = StateDisconnected
		emit = c.everConnected
	}
	c.mu.Unlock()
	if err == nil {
		return
	}
	c.metrics.setState(StateDisconnected)
	c.logger.Info("debugger could not connect", zap.Error(err))
	if emit {
		c.box.post(func() {
			c.dispatcher.Dispatch(TopicConnectionChange, Message{"connected": false})
		})
	}
}

// Disconnect closes the connection or abandons a connect in progress. It is
// idempotent and always leaves the client Disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		sess := c.sess
		c.mu.Unlock()
		c.drop(sess, nil)
	case StateConnecting:
		cancel := c.cancelConnect
		c.cancelConnect = nil
		c.attemptID = 0
		c.state = StateDisconnected
		emit := c.everConnected
		sess := c.sess
		c.sess = nil
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.metrics.setState(StateDisconnected)
		if sess != nil {
			c.teardown(sess, context.Canceled, false)
		}
		if emit {
			c.box.post(func() {
				c.dispatcher.Dispatch(TopicConnectionChange, Message{"connected": false})
			})
		}
	default:
		c.mu.Unlock()
	}
}

// drop detaches sess if it is still the live session. A Connected client
// becomes Disconnected; a Connecting one is left to its attempt.
func (c *Client) drop(sess *session, cause error) {
	c.mu.Lock()
	if sess == nil || c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	wasConnected := c.state == StateConnected
	if wasConnected {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if wasConnected {
		c.metrics.setState(StateDisconnected)
		c.metrics.disconnected()
		if cause == nil {
			c.logger.Info("debugger disconnected", zap.String("address", sess.addr))
		} else {
			c.logger.Warn("debugger connection lost", zap.String("address", sess.addr), zap.Error(cause))
		}
	}
	c.teardown(sess, cause, wasConnected)
}

// teardown closes the socket and posts the loop side of a disconnect: the
// close callback and "connection.change" for live sessions, then failing
// every pending request.
func (c *Client) teardown(sess *session, cause error, wasConnected bool) {
	status, reason := websocket.StatusNormalClosure, "bye"
	if errors.Is(cause, ErrProtocol) {
		status, reason = websocket.StatusUnsupportedData, "malformed frame"
	}
	go func() {
		_ = sess.conn.Close(status, reason)
		sess.cancel()
	}()

	c.box.post(func() {
		sess.closed = true
		if wasConnected {
			c.runOnClose(cause)
			c.dispatcher.Dispatch(TopicConnectionChange, Message{"connected": false})
		}
		if n := c.correlator.FailAll(sess.gen, cause); n > 0 {
			c.logger.Debug("pending requests failed", zap.Int("count", n), zap.Error(cause))
		}
	})
}

func (c *Client) runOnClose(cause error) {
	if c.onClose == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("close callback panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	c.onClose(cause)
}

func (c *Client) readLoop(sess *session) {
	for {
		msg, err := sess.conn.Read(sess.ctx)
		if err != nil {
			if sess.ctx.Err() == nil {
				if errors.Is(err, ErrProtocol) {
					c.logger.Warn("malformed frame", zap.String("address", sess.addr), zap.Error(err))
				}
				c.drop(sess, err)
			}
			return
		}
		c.box.post(func() { c.deliver(sess, msg) })
	}
}

// heartbeat pings sess every HeartbeatInterval and drops it when a ping goes
// unanswered, so a frozen target or half-open link ends like any other failure.
func (c *Client) heartbeat(sess *session) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(sess.ctx, interval)
			err := sess.conn.Ping(ctx)
			cancel()
			if err != nil {
				if sess.ctx.Err() == nil {
					c.drop(sess, fmt.Errorf("heartbeat: %w", err))
				}
				return
			}
		}
	}
}

// deliver runs on the loop: listeners first, then the oldest pending request.
func (c *Client) deliver(sess *session, msg Message) {
	if sess.closed {
		return
	}
	topic := msg.Topic()
	c.metrics.messageReceived(topic)
	c.dispatcher.Dispatch(topic, msg.Payload())
	resolved := c.correlator.Resolve(msg)
	if !resolved {
		if re, ok := remoteError(msg); ok {
			c.logger.Debug("unsolicited error reply", zap.String("topic", topic), zap.String("error", re.Message))
		}
	}
	c.history.Add(Entry{Topic: topic, Payload: msg.Payload(), Received: time.Now(), Resolved: resolved})
}

// Send issues a request and returns a future completed by the next reply with
// the same topic. There is no internal timeout; use Future.Wait with a deadline.
func (c *Client) Send(msg Message) *Future {
	topic := msg.Topic()
	if topic == "" {
		return failedFuture("", fmt.Errorf("%w: missing %q field", ErrInvalidMessage, TopicField))
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return failedFuture(topic, fmt.Errorf("%w: %v", ErrInvalidMessage, err))
	}
	c.mu.Lock()
	sess, state := c.sess, c.state
	c.mu.Unlock()
	if state != StateConnected || sess == nil {
		return failedFuture(topic, ErrNotConnected)
	}
	return c.request(sess, topic, frame)
}

// Request sends msg and waits for its reply or ctx.
func (c *Client) Request(ctx context.Context, msg Message) (Message, error) {
	return c.Send(msg).Wait(ctx)
}

func (c *Client) request(sess *session, topic string, frame []byte) *Future {
	f := newFuture(topic)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	posted := c.box.post(func() {
		if sess.closed {
			f.reject(ErrConnectionLost)
			return
		}
		c.correlator.Enqueue(topic, sess.gen, f)
	})
	if !posted {
		f.reject(ErrClosed)
		return f
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	err := sess.conn.Write(ctx, frame)
	cancel()
	if err != nil {
		c.drop(sess, fmt.Errorf("write %s: %w", topic, err))
	}
	return f
}

// Listen registers a batch of topic handlers and returns its token. The batch
// survives reconnects until Forget.
func (c *Client) Listen(handlers map[string]Handler) Token {
	token := Token(uuid.NewString())
	batch := make(map[string]Handler, len(handlers))
	for topic, h := range handlers {
		batch[topic] = h
	}
	c.box.post(func() { c.dispatcher.Subscribe(token, batch) })
	return token
}

// Forget removes the batch registered under token; unknown tokens are ignored.
func (c *Client) Forget(token Token) {
	c.box.post(func() { c.dispatcher.Unsubscribe(token) })
}

// Recent returns up to n of the latest inbound messages, oldest first.
func (c *Client) Recent(n int) []Entry {
	return c.history.LastN(n)
}

// Stats reports connection and table sizes.
func (c *Client) Stats() map[string]any {
	out := make(chan map[string]any, 1)
	ok := c.box.post(func() {
		out <- map[string]any{
			"pending":   c.correlator.Pending(""),
			"listeners": c.dispatcher.Stats(),
		}
	})
	stats := map[string]any{}
	if ok {
		stats = <-out
	}
	c.mu.Lock()
	stats["state"] = c.state.String()
	if c.sess != nil {
		stats["address"] = c.sess.addr
	}
	c.mu.Unlock()
	stats["uptime_sec"] = int(time.Since(c.start).Seconds())
	stats["history"] = c.history.Len()
	return stats
}

// Close disconnects and stops the event loop. It must not be called from a listener.
func (c *Client) Close() {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.box.close()
}

// sync waits for everything already posted to the loop to run.
func (c *Client) sync() {
	c.box.flush()
}
