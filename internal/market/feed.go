package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// ConnState tracks the health of the streaming connection. Owned exclusively
// by the feed; transitions are the only place connection health changes.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateStreaming
	StateReconnectWait
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateStreaming:
		return "STREAMING"
	case StateReconnectWait:
		return "RECONNECT_WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StatusListener observes connectivity changes. err is non-nil when the
// change was caused by a failure.
type StatusListener func(connected bool, err error)

// FeedConfig defines the feed runtime configuration.
type FeedConfig struct {
	URL            string
	Username       string
	Password       string
	APIKey         string
	Backoff        Backoff
	MaxAttempts    int
	ReadTimeout    time.Duration
	ConsumerBuffer int
}

// Feed owns one streaming connection: it authenticates, subscribes, parses
// frames into ticks, feeds the cache, and reconnects with backoff.
type Feed struct {
	cfg    FeedConfig
	dialer Dialer
	cache  *TickCache

	mu        sync.Mutex
	state     ConnState
	conn      Conn
	desired   map[string]struct{}
	onStatus  []StatusListener
	consumers []chan Tick
	lastSeen  time.Time

	writeMu sync.Mutex

	closed  atomic.Bool
	running atomic.Bool
	cancel  context.CancelFunc
}

// NewFeed builds a feed that writes parsed ticks into cache.
func NewFeed(cfg FeedConfig, dialer Dialer, cache *TickCache) *Feed {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ConsumerBuffer <= 0 {
		cfg.ConsumerBuffer = 256
	}
	if cfg.Backoff.Base == 0 && cfg.Backoff.Max == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Feed{
		cfg:     cfg,
		dialer:  dialer,
		cache:   cache,
		state:   StateDisconnected,
		desired: make(map[string]struct{}),
	}
}

// OnTick registers a tick consumer. Delivery is non-blocking: when the
// consumer's buffer is full the oldest tick is dropped, latest wins. The
// consumer goroutine exits when the feed shuts down.
func (f *Feed) OnTick(fn func(Tick)) {
	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return
	}
	ch := make(chan Tick, f.cfg.ConsumerBuffer)
	f.consumers = append(f.consumers, ch)
	f.mu.Unlock()
	go func() {
		for tick := range ch {
			fn(tick)
		}
	}()
}

// OnStatusChange registers a connectivity listener.
func (f *Feed) OnStatusChange(fn StatusListener) {
	f.mu.Lock()
	f.onStatus = append(f.onStatus, fn)
	f.mu.Unlock()
}

// Connect starts the connection lifecycle. It returns immediately; progress
// is reported through OnStatusChange.
func (f *Feed) Connect(ctx context.Context) error {
	if f.closed.Load() {
		return ErrFeedClosed
	}
	if !f.running.CompareAndSwap(false, true) {
		return ErrFeedRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	go f.run(runCtx)
	return nil
}

// Shutdown terminates the feed permanently. No further reconnects happen.
func (f *Feed) Shutdown() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	f.mu.Lock()
	cancel := f.cancel
	conn := f.conn
	consumers := f.consumers
	f.consumers = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	for _, ch := range consumers {
		close(ch)
	}
	f.setState(StateClosed)
}

// Status returns the current connection state.
func (f *Feed) Status() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastHeartbeat returns the last time the server proved liveness.
func (f *Feed) LastHeartbeat() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeen
}

// Subscribe adds symbols to the desired set. When not streaming the set is
// queued and flushed on the next entry into streaming, so resubscription
// after a reconnect is automatic.
func (f *Feed) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return ErrMissingSymbols
	}
	f.mu.Lock()
	for _, symbol := range symbols {
		f.desired[symbol] = struct{}{}
	}
	conn := f.conn
	streaming := f.state == StateStreaming
	f.mu.Unlock()
	if !streaming || conn == nil {
		return nil
	}
	return f.sendControl(conn, frameSubscribe, symbols)
}

// Unsubscribe removes symbols from the desired set.
func (f *Feed) Unsubscribe(symbols []string) error {
	if len(symbols) == 0 {
		return ErrMissingSymbols
	}
	f.mu.Lock()
	for _, symbol := range symbols {
		delete(f.desired, symbol)
	}
	conn := f.conn
	streaming := f.state == StateStreaming
	f.mu.Unlock()
	if !streaming || conn == nil {
		return nil
	}
	return f.sendControl(conn, frameUnsubscribe, symbols)
}

func (f *Feed) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil || f.closed.Load() {
			f.finish()
			return
		}
		if attempt >= f.cfg.MaxAttempts {
			f.setState(StateDisconnected)
			f.running.Store(false)
			f.notifyStatus(false, errors.Errorf("giving up after %d consecutive connection failures", attempt))
			return
		}

		f.setState(StateConnecting)
		conn, err := f.dialer.Dial(ctx)
		if err != nil {
			attempt++
			logs.Warnf("stream dial failed (attempt %d): %+v", attempt, err)
			if !f.waitBackoff(ctx, attempt) {
				f.finish()
				return
			}
			continue
		}

		f.setState(StateAuthenticating)
		if err := f.authenticate(conn); err != nil {
			_ = conn.Close()
			attempt++
			logs.Warnf("stream auth failed (attempt %d): %+v", attempt, err)
			f.notifyStatus(false, err)
			if !f.waitBackoff(ctx, attempt) {
				f.finish()
				return
			}
			continue
		}

		f.setState(StateSubscribing)
		f.attach(conn)
		if err := f.flushSubscriptions(conn); err != nil {
			f.detach()
			_ = conn.Close()
			attempt++
			logs.Warnf("stream resubscribe failed (attempt %d): %+v", attempt, err)
			if !f.waitBackoff(ctx, attempt) {
				f.finish()
				return
			}
			continue
		}

		attempt = 0
		f.setState(StateStreaming)
		f.notifyStatus(true, nil)

		err = f.readLoop(ctx, conn)
		f.detach()
		_ = conn.Close()
		if ctx.Err() != nil || f.closed.Load() {
			f.finish()
			return
		}
		f.notifyStatus(false, err)
		attempt++
		if !f.waitBackoff(ctx, attempt) {
			f.finish()
			return
		}
	}
}

// waitBackoff sleeps min(base*2^(attempt-1), max) plus jitter. Returns false
// when the context was cancelled during the wait.
func (f *Feed) waitBackoff(ctx context.Context, attempt int) bool {
	f.setState(StateReconnectWait)
	timer := time.NewTimer(f.cfg.Backoff.Next(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (f *Feed) authenticate(conn Conn) error {
	if err := conn.WriteJSON(authFrame{
		Username: f.cfg.Username,
		Password: f.cfg.Password,
		APIKey:   f.cfg.APIKey,
	}); err != nil {
		return errors.Wrap(err, "write auth frame")
	}
	if f.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return errors.Wrap(err, "read auth response")
	}
	frame, _, err := parseFrame(data)
	if err != nil {
		return errors.Wrap(err, "parse auth response")
	}
	if frame.Status != "ok" && frame.Status != "authenticated" {
		return errors.Wrap(ErrAuthRejected, frame.Message)
	}
	return nil
}

func (f *Feed) flushSubscriptions(conn Conn) error {
	f.mu.Lock()
	symbols := make([]string, 0, len(f.desired))
	for symbol := range f.desired {
		symbols = append(symbols, symbol)
	}
	f.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	return f.sendControl(conn, frameSubscribe, symbols)
}

func (f *Feed) sendControl(conn Conn, frameType string, symbols []string) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteJSON(subscribeFrame{Type: frameType, Symbols: symbols}); err != nil {
		return errors.Wrap(err, "write control frame").With("type", frameType)
	}
	return nil
}

// readLoop is the single reader. Malformed frames are logged and skipped;
// only transport errors and server error frames end the session.
func (f *Feed) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}
		data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read stream frame")
		}
		frame, kind, err := parseFrame(data)
		if err != nil {
			logs.Warnf("skip malformed frame: %+v", err)
			continue
		}
		switch kind {
		case frameKindHeartbeat:
			f.touch()
		case frameKindTick:
			tick, err := frame.tick()
			if err != nil {
				logs.Warnf("skip bad tick frame: %+v", err)
				continue
			}
			f.cache.Put(tick)
			f.dispatch(tick)
		case frameKindError:
			return errors.Wrap(ErrServerClose, frame.Message)
		default:
			// Unknown frame classes are ignored.
		}
	}
}

// dispatch fans a tick out to consumers without ever blocking the reader.
// The lock is held across the non-blocking sends so Shutdown never closes a
// channel mid-send.
func (f *Feed) dispatch(tick Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.consumers {
		select {
		case ch <- tick:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- tick:
			default:
			}
		}
	}
}

func (f *Feed) attach(conn Conn) {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
}

func (f *Feed) detach() {
	f.mu.Lock()
	f.conn = nil
	f.mu.Unlock()
}

func (f *Feed) touch() {
	f.mu.Lock()
	f.lastSeen = time.Now()
	f.mu.Unlock()
}

func (f *Feed) setState(state ConnState) {
	f.mu.Lock()
	if f.state == StateClosed && state != StateClosed {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.mu.Unlock()
}

func (f *Feed) notifyStatus(connected bool, err error) {
	f.mu.Lock()
	listeners := f.onStatus
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(connected, err)
	}
}

func (f *Feed) finish() {
	if f.closed.Load() {
		f.setState(StateClosed)
	} else {
		f.setState(StateDisconnected)
	}
	f.running.Store(false)
}
