package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 100),
		out:    make(chan []byte, 100),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(d []byte) error {
	select {
	case <-c.closed:
		return io.EOF
	default:
	}
	c.out <- d
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) drop() { _ = c.Close() }

// respond injects a host message for the session to read.
func (c *fakeConn) respond(v any) {
	data, _ := json.Marshal(v)
	c.in <- data
}

func (c *fakeConn) nextWritten(t *testing.T) map[string]any {
	t.Helper()
	select {
	case d := <-c.out:
		var m map[string]any
		if err := json.Unmarshal(d, &m); err != nil {
			t.Fatalf("unmarshal written message: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message written within 2s")
		return nil
	}
}

func testConfig() Config {
	return Config{
		ReconnectBase:  time.Millisecond,
		ReconnectCap:   8 * time.Millisecond,
		MaxReconnects:  5,
		HeartbeatEvery: 0, // off unless a test wants it
		RequestTimeout: time.Second,
	}
}

func singleConnDialer(fc *fakeConn) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		return fc, nil
	}
}

func TestRequestCorrelationOutOfOrder(t *testing.T) {
	fc := newFakeConn()
	s := New("ws://test", singleConnDialer(fc), testConfig())
	defer s.Close()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	type res struct {
		data json.RawMessage
		err  error
	}
	resA := make(chan res, 1)
	resB := make(chan res, 1)
	go func() {
		d, err := s.Request(map[string]any{"type": "a"}, time.Second)
		resA <- res{d, err}
	}()
	first := fc.nextWritten(t)
	go func() {
		d, err := s.Request(map[string]any{"type": "b"}, time.Second)
		resB <- res{d, err}
	}()
	second := fc.nextWritten(t)

	// Respond in reverse send order; correlation must go by id, not arrival.
	fc.respond(map[string]any{"requestId": second["requestId"], "data": map[string]any{"for": second["type"]}})
	fc.respond(map[string]any{"requestId": first["requestId"], "data": map[string]any{"for": first["type"]}})

	a := <-resA
	b := <-resB
	if a.err != nil || b.err != nil {
		t.Fatalf("errors: a=%v b=%v", a.err, b.err)
	}
	if !jsonHas(a.data, "for", "a") {
		t.Errorf("request a got %s", a.data)
	}
	if !jsonHas(b.data, "for", "b") {
		t.Errorf("request b got %s", b.data)
	}
}

func jsonHas(raw json.RawMessage, key, want string) bool {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	v, _ := m[key].(string)
	return v == want
}

func TestRequestTimeoutThenStaleResponse(t *testing.T) {
	fc := newFakeConn()
	s := New("ws://test", singleConnDialer(fc), testConfig())
	defer s.Close()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Request(map[string]any{"type": "slow"}, 20*time.Millisecond)
		done <- err
	}()
	sent := fc.nextWritten(t)

	if err := <-done; !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The late response finds no pending entry and is silently discarded.
	fc.respond(map[string]any{"requestId": sent["requestId"], "data": map[string]any{"late": true}})
	time.Sleep(20 * time.Millisecond)

	// Session stays usable after the stale discard.
	go func() {
		_, err := s.Request(map[string]any{"type": "ok"}, time.Second)
		done <- err
	}()
	next := fc.nextWritten(t)
	fc.respond(map[string]any{"requestId": next["requestId"], "data": map[string]any{}})
	if err := <-done; err != nil {
		t.Fatalf("second request failed: %v", err)
	}
}

func TestRequestErrorResponse(t *testing.T) {
	fc := newFakeConn()
	s := New("ws://test", singleConnDialer(fc), testConfig())
	defer s.Close()
	_ = s.Connect(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Request(map[string]any{"type": "x"}, time.Second)
		done <- err
	}()
	sent := fc.nextWritten(t)
	fc.respond(map[string]any{"requestId": sent["requestId"], "error": "host exploded"})

	err := <-done
	if err == nil || err.Error() != "host exploded" {
		t.Fatalf("expected host error, got %v", err)
	}
}

func TestQueuedSendsFlushInOrder(t *testing.T) {
	fc := newFakeConn()
	release := make(chan struct{})
	dial := func(ctx context.Context, url string) (Conn, error) {
		<-release
		return fc, nil
	}
	s := New("ws://test", dial, testConfig())
	defer s.Close()

	// Sends while disconnected never error; they queue and trigger connect.
	s.Send(map[string]any{"type": "m1"})
	s.Send(map[string]any{"type": "m2"})
	s.Send(map[string]any{"type": "m3"})
	if got := s.QueuedMessages(); got != 3 {
		t.Fatalf("queued = %d, want 3", got)
	}

	close(release)

	for _, want := range []string{"m1", "m2", "m3"} {
		if m := fc.nextWritten(t); m["type"] != want {
			t.Fatalf("flush order broken: got %v, want %s", m["type"], want)
		}
	}
}

// gatedConn stalls its first write so a test can act while the reconnect
// flush is in flight.
type gatedConn struct {
	*fakeConn
	entered chan struct{}
	release chan struct{}
	gate    sync.Once
}

func (c *gatedConn) WriteMessage(d []byte) error {
	c.gate.Do(func() {
		close(c.entered)
		<-c.release
	})
	return c.fakeConn.WriteMessage(d)
}

func TestSendDuringFlushQueuesBehindBacklog(t *testing.T) {
	gc := &gatedConn{
		fakeConn: newFakeConn(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	dial := func(ctx context.Context, url string) (Conn, error) { return gc, nil }
	s := New("ws://test", dial, testConfig())
	defer s.Close()

	// Queue a backlog while disconnected; the Sends kick off the connect.
	s.Send(map[string]any{"type": "q1"})
	s.Send(map[string]any{"type": "q2"})

	// The first backlog write is now stalled mid-flush. A send arriving
	// here must line up behind the backlog, not jump onto the wire.
	<-gc.entered
	s.Send(map[string]any{"type": "m3"})
	close(gc.release)

	for _, want := range []string{"q1", "q2", "m3"} {
		if m := gc.nextWritten(t); m["type"] != want {
			t.Fatalf("send order broken: got %v, want %s", m["type"], want)
		}
	}
}

func TestBackoffStopsAtMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string) (Conn, error) {
		dials.Add(1)
		return nil, fmt.Errorf("connection refused")
	}
	s := New("ws://test", dial, testConfig())
	defer s.Close()

	_ = s.Connect(context.Background())
	time.Sleep(200 * time.Millisecond)

	// Initial dial plus MaxReconnects retries, then idle. No sixth
	// automatic attempt.
	if got := dials.Load(); got != 6 {
		t.Fatalf("dials = %d, want 6 (1 initial + 5 retries)", got)
	}
	if got := s.ReconnectAttempts(); got != 5 {
		t.Fatalf("attempts = %d, want 5", got)
	}

	// Explicit reconnect resets the counter and dials again.
	_ = s.Reconnect(context.Background())
	if dials.Load() < 7 {
		t.Fatalf("explicit reconnect should dial, got %d total", dials.Load())
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectBase = 2 * time.Second
	cfg.ReconnectCap = 45 * time.Second
	s := New("ws://test", singleConnDialer(newFakeConn()), cfg)
	defer s.Close()

	// Delay schedule follows base x 2^(attempt-1), then sits at the cap.
	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
		5: 32 * time.Second,
		6: 45 * time.Second,
		7: 45 * time.Second,
	} {
		if got := s.backoffDelay(attempt); got != want {
			t.Errorf("attempt %d delay = %v, want %v", attempt, got, want)
		}
	}
}

func TestReconnectTimerHonorsBackoff(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	dial := func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return nil, fmt.Errorf("refused")
	}
	cfg := testConfig()
	cfg.ReconnectBase = 30 * time.Millisecond
	cfg.ReconnectCap = time.Hour
	cfg.MaxReconnects = 3
	s := New("ws://test", dial, cfg)
	defer s.Close()

	_ = s.Connect(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(stamps)
		mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("dials = %d, want 4 (1 initial + 3 retries)", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Timers can fire late but never early; each observed gap must be at
	// least the scheduled delay for that attempt.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		wantGap := cfg.ReconnectBase << (i - 1)
		if gap < wantGap {
			t.Errorf("attempt %d fired after %v, want at least %v", i, gap, wantGap)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	fc := newFakeConn()
	s := New("ws://test", singleConnDialer(fc), testConfig())
	defer s.Close()

	status := make(chan bool, 4)
	s.SubscribeStatus(func(c bool) { status <- c })

	_ = s.Connect(context.Background())
	if up := <-status; !up {
		t.Fatal("first transition should be connected")
	}
	if !s.Connected() {
		t.Fatal("session should report connected")
	}

	fc.drop()
	select {
	case up := <-status:
		if up {
			t.Fatal("second transition should be disconnected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect notification")
	}
}

func TestUnknownTypeDroppedSessionSurvives(t *testing.T) {
	fc := newFakeConn()
	s := New("ws://test", singleConnDialer(fc), testConfig())
	defer s.Close()
	_ = s.Connect(context.Background())

	fc.respond(map[string]any{"type": "never_registered", "data": map[string]any{}})
	fc.in <- []byte("{not json at all")

	got := make(chan Message, 1)
	s.OnType("notice", func(m Message) { got <- m })
	fc.respond(map[string]any{"type": "notice", "data": map[string]any{"k": "v"}})

	select {
	case m := <-got:
		if m.Type != "notice" {
			t.Fatalf("handler got %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired after junk messages")
	}
}

func TestHeartbeatResetsAttempts(t *testing.T) {
	fc := newFakeConn()
	var dials atomic.Int32
	dial := func(ctx context.Context, url string) (Conn, error) {
		if dials.Add(1) <= 2 {
			return nil, fmt.Errorf("refused")
		}
		return fc, nil
	}
	cfg := testConfig()
	cfg.HeartbeatEvery = 10 * time.Millisecond
	s := New("ws://test", dial, cfg)
	defer s.Close()

	// Auto-respond to pings like a live host.
	go func() {
		for {
			select {
			case <-fc.closed:
				return
			case d := <-fc.out:
				var m map[string]any
				if json.Unmarshal(d, &m) == nil && m["type"] == "ping" {
					fc.respond(map[string]any{"requestId": m["requestId"], "data": map[string]any{"pong": true}})
				}
			}
		}
	}()

	_ = s.Connect(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		if s.Connected() && s.ReconnectAttempts() == 0 {
			return // pong confirmed, counter reset
		}
		select {
		case <-deadline:
			t.Fatalf("attempts = %d after heartbeat window, want 0", s.ReconnectAttempts())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
