package market

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames chan []byte

	mu     sync.Mutex
	writes []any

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 32),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) drop() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.frames:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-c.done:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.drop()
	return nil
}

func (c *fakeConn) written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.writes))
	copy(out, c.writes)
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastFeedConfig() FeedConfig {
	return FeedConfig{
		URL:         "ws://fake",
		Username:    "u",
		Password:    "p",
		Backoff:     Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond},
		MaxAttempts: 3,
		ReadTimeout: time.Second,
	}
}

type statusRecorder struct {
	mu     sync.Mutex
	events []error
	conns  []bool
}

func (r *statusRecorder) listen(connected bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, connected)
	r.events = append(r.events, err)
}

func (r *statusRecorder) last() (bool, error, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return false, nil, 0
	}
	return r.conns[len(r.conns)-1], r.events[len(r.events)-1], len(r.conns)
}

func TestFeedStreamsTicksIntoCache(t *testing.T) {
	conn := newFakeConn()
	conn.push(`{"status":"ok"}`)
	conn.push(`{"symbol":"NIFTY","ltp":"18000.5","timestamp":1719900000000}`)
	conn.push(`{"message":"heartbeat"}`)

	cache := NewTickCache(16)
	feed := NewFeed(fastFeedConfig(), &fakeDialer{conns: []*fakeConn{conn}}, cache)

	var gotTick sync.Map
	feed.OnTick(func(tick Tick) { gotTick.Store(tick.Symbol, tick) })

	require.NoError(t, feed.Subscribe([]string{"NIFTY"}))
	require.NoError(t, feed.Connect(t.Context()))

	require.Eventually(t, func() bool {
		tick, ok := cache.Latest("NIFTY")
		return ok && tick.LastPrice == 18000.5
	}, time.Second, 5*time.Millisecond, "tick should land in the cache")

	require.Eventually(t, func() bool {
		_, ok := gotTick.Load("NIFTY")
		return ok
	}, time.Second, 5*time.Millisecond, "tick should reach consumers")

	require.Eventually(t, func() bool {
		return !feed.LastHeartbeat().IsZero()
	}, time.Second, 5*time.Millisecond, "heartbeat should refresh liveness")

	writes := conn.written()
	require.NotEmpty(t, writes)
	auth, ok := writes[0].(authFrame)
	require.True(t, ok, "first write must be the auth frame")
	assert.Equal(t, "u", auth.Username)

	foundSubscribe := false
	for _, w := range writes[1:] {
		if sub, ok := w.(subscribeFrame); ok && sub.Type == frameSubscribe {
			foundSubscribe = true
			assert.Contains(t, sub.Symbols, "NIFTY")
		}
	}
	assert.True(t, foundSubscribe, "queued subscription must be flushed on connect")

	feed.Shutdown()
	require.Eventually(t, func() bool {
		return feed.Status() == StateClosed
	}, time.Second, 5*time.Millisecond)
}

func TestFeedGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	feed := NewFeed(fastFeedConfig(), dialer, NewTickCache(4))

	recorder := &statusRecorder{}
	feed.OnStatusChange(recorder.listen)

	require.NoError(t, feed.Connect(t.Context()))

	require.Eventually(t, func() bool {
		connected, err, n := recorder.last()
		return n > 0 && !connected && err != nil && strings.Contains(err.Error(), "giving up")
	}, time.Second, 5*time.Millisecond, "terminal status must carry the give-up error")

	assert.Equal(t, 3, dialer.dialCount())
	assert.Equal(t, StateDisconnected, feed.Status())

	// A terminal feed accepts a fresh Connect.
	require.NoError(t, feed.Connect(t.Context()))
}

func TestFeedConnectTwice(t *testing.T) {
	conn := newFakeConn()
	conn.push(`{"status":"ok"}`)
	feed := NewFeed(fastFeedConfig(), &fakeDialer{conns: []*fakeConn{conn}}, NewTickCache(4))

	require.NoError(t, feed.Connect(t.Context()))
	require.ErrorIs(t, feed.Connect(t.Context()), ErrFeedRunning)
	feed.Shutdown()
}

func TestFeedConnectAfterShutdown(t *testing.T) {
	feed := NewFeed(fastFeedConfig(), &fakeDialer{}, NewTickCache(4))
	feed.Shutdown()
	require.ErrorIs(t, feed.Connect(t.Context()), ErrFeedClosed)
}

func TestFeedResubscribesAfterReconnect(t *testing.T) {
	first := newFakeConn()
	first.push(`{"status":"ok"}`)
	second := newFakeConn()
	second.push(`{"status":"ok"}`)
	second.push(`{"symbol":"NIFTY","ltp":"18100"}`)

	cfg := fastFeedConfig()
	cache := NewTickCache(16)
	feed := NewFeed(cfg, &fakeDialer{conns: []*fakeConn{first, second}}, cache)

	recorder := &statusRecorder{}
	feed.OnStatusChange(recorder.listen)

	require.NoError(t, feed.Subscribe([]string{"NIFTY"}))
	require.NoError(t, feed.Connect(t.Context()))

	require.Eventually(t, func() bool {
		connected, _, _ := recorder.last()
		return connected
	}, time.Second, 5*time.Millisecond)

	// Server drops the first connection.
	first.drop()

	require.Eventually(t, func() bool {
		tick, ok := cache.Latest("NIFTY")
		return ok && tick.LastPrice == 18100
	}, time.Second, 5*time.Millisecond, "ticks must resume on the second connection")

	foundSubscribe := false
	for _, w := range second.written() {
		if sub, ok := w.(subscribeFrame); ok && sub.Type == frameSubscribe {
			foundSubscribe = true
		}
	}
	assert.True(t, foundSubscribe, "desired symbols must be resubscribed on the new connection")

	feed.Shutdown()
}

func TestFeedAuthRejected(t *testing.T) {
	conn := newFakeConn()
	conn.push(`{"status":"denied","message":"bad credentials"}`)

	cfg := fastFeedConfig()
	cfg.MaxAttempts = 1
	feed := NewFeed(cfg, &fakeDialer{conns: []*fakeConn{conn}}, NewTickCache(4))

	recorder := &statusRecorder{}
	feed.OnStatusChange(recorder.listen)

	require.NoError(t, feed.Connect(t.Context()))

	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		for _, err := range recorder.events {
			if err != nil && strings.Contains(err.Error(), ErrAuthRejected.Error()) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "auth rejection must be reported")
}

func TestFeedServerErrorFrameEndsSession(t *testing.T) {
	conn := newFakeConn()
	conn.push(`{"status":"ok"}`)
	conn.push(`{"type":"error","message":"session expired"}`)

	cfg := fastFeedConfig()
	cfg.MaxAttempts = 1
	feed := NewFeed(cfg, &fakeDialer{conns: []*fakeConn{conn}}, NewTickCache(4))

	recorder := &statusRecorder{}
	feed.OnStatusChange(recorder.listen)
	require.NoError(t, feed.Connect(t.Context()))

	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		for _, err := range recorder.events {
			if err != nil && strings.Contains(err.Error(), "session expired") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestFeedSkipsMalformedFrames(t *testing.T) {
	conn := newFakeConn()
	conn.push(`{"status":"ok"}`)
	conn.push(`{not json`)
	conn.push(`{"symbol":"NIFTY","ltp":"-5"}`)
	conn.push(`{"symbol":"NIFTY","ltp":"18000"}`)

	cache := NewTickCache(8)
	feed := NewFeed(fastFeedConfig(), &fakeDialer{conns: []*fakeConn{conn}}, cache)
	require.NoError(t, feed.Connect(t.Context()))

	require.Eventually(t, func() bool {
		tick, ok := cache.Latest("NIFTY")
		return ok && tick.LastPrice == 18000
	}, time.Second, 5*time.Millisecond, "good frames after garbage must still flow")

	if recent := cache.Recent("NIFTY", 10); len(recent) != 1 {
		t.Fatalf("bad frames must not reach the cache, got %d ticks", len(recent))
	}
	feed.Shutdown()
}

func TestFeedShutdownStopsConsumers(t *testing.T) {
	baseline := runtime.NumGoroutine()

	feed := NewFeed(fastFeedConfig(), &fakeDialer{}, NewTickCache(4))
	for i := 0; i < 8; i++ {
		feed.OnTick(func(Tick) {})
	}
	feed.Shutdown()

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, time.Second, 5*time.Millisecond, "consumer goroutines must exit on shutdown")

	// Late registration after shutdown must not spawn anything.
	feed.OnTick(func(Tick) {})
	assert.LessOrEqual(t, runtime.NumGoroutine(), baseline)
}

func TestSubscribeValidation(t *testing.T) {
	feed := NewFeed(fastFeedConfig(), &fakeDialer{}, NewTickCache(4))
	require.ErrorIs(t, feed.Subscribe(nil), ErrMissingSymbols)
	require.ErrorIs(t, feed.Unsubscribe(nil), ErrMissingSymbols)
}

func TestAuthFrameWireFormat(t *testing.T) {
	data, err := json.Marshal(authFrame{Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"u","password":"p"}`, string(data))
}
