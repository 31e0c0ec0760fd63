package ppdbg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// WSConn abstracts the debugger connection for testability.
type WSConn interface {
	Read(ctx context.Context) (Message, error)
	Write(ctx context.Context, frame []byte) error
	// Ping waits for the peer to answer a ping frame. Read must be running
	// concurrently for the answer to be seen.
	Ping(ctx context.Context) error
	Close(status websocket.StatusCode, reason string) error
}

type nhooyrConn struct {
	c     *websocket.Conn
	limit int64
}

// Read returns the next message. Frames that are not a JSON text object with
// a string topic, or that exceed the read limit, fail with ErrProtocol.
func (n *nhooyrConn) Read(ctx context.Context) (Message, error) {
	typ, r, err := n.c.Reader(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("%w: unexpected %v frame", ErrProtocol, typ)
	}
	b, err := io.ReadAll(io.LimitReader(r, n.limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > n.limit {
		return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocol, n.limit)
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if m.Topic() == "" {
		return nil, fmt.Errorf("%w: frame without %q field", ErrProtocol, TopicField)
	}
	return m, nil
}

func (n *nhooyrConn) Write(ctx context.Context, frame []byte) error {
	return n.c.Write(ctx, websocket.MessageText, frame)
}

func (n *nhooyrConn) Ping(ctx context.Context) error {
	return n.c.Ping(ctx)
}

func (n *nhooyrConn) Close(status websocket.StatusCode, reason string) error {
	return n.c.Close(status, reason)
}

// Dialer opens a connection to a debugger URL.
type Dialer func(ctx context.Context, target string, cfg Config) (WSConn, error)

func dialWS(ctx context.Context, target string, cfg Config) (WSConn, error) {
	opts := &websocket.DialOptions{}
	if cfg.Subprotocol != "" {
		opts.Subprotocols = []string{cfg.Subprotocol}
	}
	c, resp, err := websocket.Dial(ctx, target, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("dial %s: status %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	// Read enforces cfg.ReadLimitBytes itself so an oversized frame is
	// reported as ErrProtocol; the transport limit only has to stay above it.
	c.SetReadLimit(cfg.ReadLimitBytes + 1)
	return &nhooyrConn{c: c, limit: cfg.ReadLimitBytes}, nil
}

// targetURL turns "host:port" or a ws(s) URL into the debugger endpoint URL.
func targetURL(address, path string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty address", ErrConnectionRefused)
	}
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: bad address %q: %v", ErrConnectionRefused, address, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrConnectionRefused, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: address %q has no host", ErrConnectionRefused, address)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}
