// Package session maintains the persistent channel to the native host:
// connect/reconnect with capped exponential backoff, FIFO message queueing
// across disconnects, and request/response correlation by requestId.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrTimeout = errors.New("request timed out")
	ErrClosed  = errors.New("session closed")
)

// Message is the host channel envelope. Data and Error are mutually
// exclusive; RequestID is raw so host-chosen ids round-trip unmodified.
type Message struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
	Command   string          `json:"command,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	TabID     string          `json:"tabId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// HandlerFunc handles one inbound message of a registered type.
type HandlerFunc func(msg Message)

// Config holds the channel's retry and heartbeat policy. This is the
// reconnect backoff policy; element-resolution retry lives elsewhere and
// must not be conflated with it.
type Config struct {
	ReconnectBase  time.Duration
	ReconnectCap   time.Duration
	MaxReconnects  int
	HeartbeatEvery time.Duration
	RequestTimeout time.Duration
}

type pendingRequest struct {
	ch    chan outcome
	timer *time.Timer
}

type outcome struct {
	data json.RawMessage
	err  error
}

type Session struct {
	url  string
	dial Dialer
	cfg  Config

	mu         sync.Mutex
	conn       Conn
	connDone   chan struct{}
	connected  bool
	connecting bool
	closed     bool
	attempts   int
	queue      [][]byte // FIFO, flushed in order on reconnect
	pending    map[uint64]*pendingRequest
	nextID     uint64

	reconnectTimer *time.Timer

	handlers   map[string]HandlerFunc
	statusSubs []func(bool)
}

func New(url string, dial Dialer, cfg Config) *Session {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 2 * time.Second
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = 60 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Session{
		url:      url,
		dial:     dial,
		cfg:      cfg,
		pending:  make(map[uint64]*pendingRequest),
		handlers: make(map[string]HandlerFunc),
	}
}

// OnType registers the handler for a message type. The handler table is
// fixed before Connect; unknown types are logged and dropped.
func (s *Session) OnType(typ string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[typ] = h
}

// SubscribeStatus registers a callback fired on every connected/disconnected
// transition.
func (s *Session) SubscribeStatus(fn func(connected bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusSubs = append(s.statusSubs, fn)
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect opens the channel. Idempotent: a connected or in-progress session
// is left alone. Dial failures schedule a backoff retry and are returned
// for observability only; callers need not act on them.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected || s.connecting {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.mu.Unlock()

	conn, err := s.dial(ctx, s.url)

	s.mu.Lock()
	if err != nil {
		s.connecting = false
		s.mu.Unlock()
		slog.Warn("host dial failed", "url", s.url, "err", err)
		s.scheduleReconnect()
		return fmt.Errorf("dial host: %w", err)
	}
	if s.closed {
		s.connecting = false
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}

	s.conn = conn
	s.connDone = make(chan struct{})
	done := s.connDone
	subs := append([]func(bool){}, s.statusSubs...)
	s.mu.Unlock()

	slog.Info("host connected", "url", s.url)
	for _, fn := range subs {
		fn(true)
	}

	// Drain the backlog before taking live sends. connected stays false
	// (and connecting true) until the queue is empty, so a Send racing
	// this flush appends behind the older messages instead of writing the
	// wire ahead of them.
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.connected = true
			s.connecting = false
			s.mu.Unlock()
			break
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for i, data := range batch {
			if err := conn.WriteMessage(data); err != nil {
				s.mu.Lock()
				s.queue = append(batch[i:], s.queue...)
				s.connecting = false
				s.mu.Unlock()
				s.handleDisconnect(conn)
				return nil
			}
		}
	}

	go s.readLoop(conn)
	if s.cfg.HeartbeatEvery > 0 {
		go s.heartbeat(conn, done)
	}
	return nil
}

// Send transmits msg if connected, else queues it and kicks off a connect.
// It never fails synchronously; delivery problems surface as a disconnect
// status event.
func (s *Session) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal outbound message", "err", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.connected {
		s.queue = append(s.queue, data)
		s.mu.Unlock()
		go func() { _ = s.Connect(context.Background()) }()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		s.mu.Lock()
		s.queue = append(s.queue, data)
		s.mu.Unlock()
		s.handleDisconnect(conn)
	}
}

// Request sends a message with a fresh requestId and waits for the
// correlated response or the timeout, whichever comes first. The pending
// entry resolves exactly once; a response arriving after the timeout finds
// no entry and is discarded.
func (s *Session) Request(msg map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	id := s.nextID
	entry := &pendingRequest{ch: make(chan outcome, 1)}
	entry.timer = time.AfterFunc(timeout, func() {
		s.resolve(id, nil, ErrTimeout)
	})
	s.pending[id] = entry
	s.mu.Unlock()

	msg["requestId"] = id
	s.Send(msg)

	out := <-entry.ch
	return out.data, out.err
}

// resolve completes a pending request. Safe to call from both the response
// path and the timeout path; whichever runs second finds the id gone.
func (s *Session) resolve(id uint64, data json.RawMessage, err error) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	entry.timer.Stop()
	s.mu.Unlock()
	entry.ch <- outcome{data: data, err: err}
}

func (s *Session) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn)
			return
		}
		s.handleMessage(data)
	}
}

// handleMessage gives pending-request correlation priority over type
// dispatch, then falls through to the fixed handler table.
func (s *Session) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("malformed host message dropped", "err", err)
		return
	}

	if len(msg.RequestID) > 0 {
		var id uint64
		if err := json.Unmarshal(msg.RequestID, &id); err == nil {
			s.mu.Lock()
			_, waiting := s.pending[id]
			s.mu.Unlock()
			if waiting {
				if msg.Error != "" {
					s.resolve(id, nil, errors.New(msg.Error))
				} else {
					s.resolve(id, msg.Data, nil)
				}
				return
			}
		}
	}

	s.mu.Lock()
	h, ok := s.handlers[msg.Type]
	s.mu.Unlock()
	if !ok {
		slog.Debug("unknown message type dropped", "type", msg.Type)
		return
	}
	// Handlers may take seconds (navigation, waits); don't stall the read
	// loop or pending responses behind them.
	go h(msg)
}

// handleDisconnect flips the session to disconnected exactly once per
// connection and schedules the next backoff attempt. Pending requests are
// left in place: their own timeouts are the only cancellation, and queued
// sends flush on reconnect.
func (s *Session) handleDisconnect(conn Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.connected = false
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	subs := append([]func(bool){}, s.statusSubs...)
	s.mu.Unlock()

	_ = conn.Close()
	slog.Warn("host disconnected")
	for _, fn := range subs {
		fn(false)
	}
	s.scheduleReconnect()
}

// backoffDelay is the wait before reconnect attempt n (1-based):
// base doubled per attempt, capped.
func (s *Session) backoffDelay(attempt int) time.Duration {
	delay := s.cfg.ReconnectBase << (attempt - 1)
	if delay > s.cfg.ReconnectCap || delay <= 0 {
		delay = s.cfg.ReconnectCap
	}
	return delay
}

// scheduleReconnect arms the next attempt. Past MaxReconnects the session
// idles until Reconnect resets the counter.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.connected || s.reconnectTimer != nil {
		return
	}
	if s.attempts >= s.cfg.MaxReconnects {
		slog.Warn("reconnect attempts exhausted, going idle", "attempts", s.attempts)
		return
	}
	s.attempts++
	delay := s.backoffDelay(s.attempts)
	slog.Info("scheduling reconnect", "attempt", s.attempts, "delay", delay)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		_ = s.Connect(context.Background())
	})
}

// Reconnect is the explicit restart: it resets the attempt counter (the
// only thing besides a live heartbeat that may) and dials immediately.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	s.attempts = 0
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.mu.Unlock()
	return s.Connect(ctx)
}

// heartbeat pings the host periodically; a confirmed pong is the only
// event that resets the reconnect attempt counter to zero.
func (s *Session) heartbeat(conn Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		_, err := s.Request(map[string]any{"type": "ping"}, 10*time.Second)
		if err != nil {
			slog.Debug("heartbeat failed", "err", err)
			continue
		}
		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
	}
}

// ReconnectAttempts reports the current backoff position.
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// QueuedMessages reports how many sends await reconnection.
func (s *Session) QueuedMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close tears the session down and rejects every pending request.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.connected = false
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	ids := make([]uint64, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, id := range ids {
		s.resolve(id, nil, ErrClosed)
	}
}
