// Package fakeppsspp is an in-process stand-in for a debugging target. It
// speaks the JSON-over-WebSocket debugger protocol, answers requests with
// scripted replies, and can push notifications or break the connection on
// demand.
package fakeppsspp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	Subprotocol    = "debugger.ppsspp.org"
	DefaultName    = "PPSSPP"
	DefaultVersion = "v1.17.1"
)

// Reply builds the frames sent back for one request. Returning nil sends nothing.
type Reply func(req map[string]any) []map[string]any

// MatchEntry is one row of the /match/list discovery document.
type MatchEntry struct {
	IP   string `json:"ip"`
	Port int    `json:"p"`
	T    int64  `json:"t"`
}

type Server struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	engine   *gin.Engine
	start    time.Time

	mu        sync.Mutex
	name      string
	version   string
	replies   map[string]Reply
	held      map[string]bool
	peers     map[*peer]struct{}
	received  []map[string]any
	matchList []MatchEntry
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets what the target reports in the version handshake.
func WithVersion(name, version string) Option {
	return func(s *Server) {
		s.name, s.version = name, version
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		logger:  zap.NewNop(),
		start:   time.Now(),
		name:    DefaultName,
		version: DefaultVersion,
		replies: make(map[string]Reply),
		held:    make(map[string]bool),
		peers:   make(map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.loggingMiddleware())

	r.GET("/debugger", s.handleDebugger)
	r.GET("/match/list", s.handleMatchList)
	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	return r
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// Handler exposes the routes for httptest or an outer server.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("fake target listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.DropAll()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Handle scripts the reply for topic, replacing the default echo.
func (s *Server) Handle(topic string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[topic] = r
	delete(s.held, topic)
}

// Hold makes requests of topic go unanswered.
func (s *Server) Hold(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[topic] = true
}

// SetMatchList sets what /match/list returns.
func (s *Server) SetMatchList(entries []MatchEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchList = entries
}

// Push sends msg to every connected client.
func (s *Server) Push(msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes data as a text frame to every connected client.
func (s *Server) SendRaw(data []byte) error {
	var errs error
	for _, p := range s.snapshotPeers() {
		errs = multierr.Append(errs, p.write(data))
	}
	return errs
}

// DropAll closes every client's socket without a close handshake. Dropped
// clients stop receiving pushes immediately.
func (s *Server) DropAll() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[*peer]struct{})
	s.mu.Unlock()
	for p := range peers {
		_ = p.conn.Close()
	}
}

// Peers is the number of connected clients.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Received returns the requests seen so far, optionally only those of topic.
func (s *Server) Received(topic string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, m := range s.received {
		if topic == "" || m["event"] == topic {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) snapshotPeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Server) handleDebugger(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	p := &peer{conn: conn}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("client read failed", zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeTo(p, map[string]any{"event": "error", "message": "Bad message: " + err.Error(), "level": 2})
			continue
		}
		for _, out := range s.respond(req) {
			s.writeTo(p, out)
		}
	}
}

func (s *Server) respond(req map[string]any) []map[string]any {
	topic, _ := req["event"].(string)
	s.mu.Lock()
	s.received = append(s.received, req)
	held := s.held[topic]
	reply, scripted := s.replies[topic]
	name, version := s.name, s.version
	s.mu.Unlock()

	switch {
	case topic == "":
		return []map[string]any{{"event": "error", "message": "Missing event", "level": 2}}
	case held:
		return nil
	case scripted:
		if reply == nil {
			return nil
		}
		return reply(req)
	case topic == "version":
		return []map[string]any{{"event": "version", "name": name, "version": version}}
	default:
		return []map[string]any{req}
	}
}

func (s *Server) writeTo(p *peer, msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal reply", zap.Error(err))
		return
	}
	if err := p.write(data); err != nil {
		s.logger.Debug("write reply", zap.Error(err))
	}
}

func (s *Server) handleMatchList(c *gin.Context) {
	s.mu.Lock()
	list := append([]MatchEntry(nil), s.matchList...)
	s.mu.Unlock()
	if list == nil {
		list = []MatchEntry{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_sec": int(time.Since(s.start).Seconds()),
		"peers":      s.Peers(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	counts := map[string]int{}
	for _, m := range s.Received("") {
		topic, _ := m["event"].(string)
		counts[topic]++
	}
	c.JSON(http.StatusOK, gin.H{"requests": counts})
}
