package relayclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/park285/cheese-relay/pkg/relaydto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type (
	MessageCallback func(relaydto.Envelope)
	StateCallback   func(State)
)

var ErrNotConnected = errors.New("relayclient: session not connected")

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Session is one player's realtime connection to a room. It redials on
// transport loss. A normal closure or an application status (4000-4999) from
// the server is final, so a replaced session never evicts its successor.
type Session struct {
	url    string
	header http.Header

	conn  *websocket.Conn
	state State
	err   error
	mu    sync.RWMutex

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration
	dialTimeout          time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type SessionOption func(*Session)

// WithReconnect sets how many redials follow a transport loss. Zero disables them.
func WithReconnect(attempts int, delay time.Duration) SessionOption {
	return func(s *Session) {
		s.maxReconnectAttempts = attempts
		if delay > 0 {
			s.reconnectDelay = delay
		}
	}
}

func WithPingInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pingInterval = d }
}

func WithDialTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

func WithHeader(h http.Header) SessionOption {
	return func(s *Session) { s.header = h.Clone() }
}

// OnMessage and OnStateChange given as options are attached before the first
// frame is read, so nothing sent on connect is missed.
func WithMessageCallback(cb MessageCallback) SessionOption {
	return func(s *Session) { s.addMessageCallback(cb) }
}

func WithStateCallback(cb StateCallback) SessionOption {
	return func(s *Session) { s.addStateCallback(cb) }
}

func newSession(wsURL string, opts ...SessionOption) *Session {
	s := &Session{
		url:                  wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: 5,
		reconnectDelay:       100 * time.Millisecond,
		pingInterval:         30 * time.Second,
		dialTimeout:          10 * time.Second,
		stopCh:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to wsURL. The first handshake is synchronous; its failure is
// returned without any redial.
func Dial(ctx context.Context, wsURL string, opts ...SessionOption) (*Session, error) {
	s := newSession(wsURL, opts...)
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	s.setState(StateConnecting)

	conn, err := s.dial(ctx)
	if err != nil {
		s.rootCancel()
		s.setState(StateFailed)
		return nil, err
	}
	s.setConn(conn)
	s.setState(StateConnected)

	s.wg.Add(1)
	go s.run(conn)
	return s, nil
}

// Connect dials the room endpoint for playerID.
func (c *Client) Connect(ctx context.Context, code, playerID string, opts ...SessionOption) (*Session, error) {
	return Dial(ctx, c.WebSocketURL(code, playerID), opts...)
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	return conn, nil
}

func (s *Session) run(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		err := s.serve(conn)
		s.setConn(nil)
		if s.isStopping() {
			return
		}
		if isTerminal(err) {
			s.fail(err)
			return
		}
		s.setState(StateDisconnected)

		conn = s.reconnect()
		if conn == nil {
			if !s.isStopping() {
				s.fail(err)
			}
			return
		}
		s.setConn(conn)
		s.setState(StateConnected)
	}
}

func (s *Session) serve(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(s.rootCtx)
	defer cancel()

	if s.pingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop(ctx, conn, cancel)
	}

	for {
		var env relaydto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			_ = conn.Close(websocket.StatusGoingAway, "reconnect")
			return err
		}
		s.dispatch(env)
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn, drop context.CancelFunc) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				drop()
				return
			}
		}
	}
}

func (s *Session) reconnect() *websocket.Conn {
	if s.maxReconnectAttempts <= 0 {
		return nil
	}
	s.setState(StateReconnecting)
	for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
		select {
		case <-s.stopCh:
			return nil
		case <-time.After(s.reconnectDelay * time.Duration(1<<uint(min(attempt-1, 5)))):
		}
		conn, err := s.dial(s.rootCtx)
		if err == nil {
			return conn
		}
	}
	return nil
}

func (s *Session) dispatch(env relaydto.Envelope) {
	s.cbM.RLock()
	callbacks := make([]callbackEntry, len(s.msgCbs))
	copy(callbacks, s.msgCbs)
	s.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(env)
		}
	}
}

// Send writes one envelope. data may be nil for types without a payload.
func (s *Session) Send(ctx context.Context, typ string, data any) error {
	env, err := relaydto.NewEnvelope(typ, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, env)
}

func (s *Session) Move(ctx context.Context, from, to, fen string) error {
	return s.Send(ctx, relaydto.TypeMove, relaydto.MovePayload{From: from, To: to, FEN: fen})
}

func (s *Session) Chat(ctx context.Context, message string) error {
	return s.Send(ctx, relaydto.TypeChat, relaydto.ChatPayload{Message: message})
}

func (s *Session) Resign(ctx context.Context) error {
	return s.Send(ctx, relaydto.TypeResign, nil)
}

func (s *Session) OnMessage(cb MessageCallback) int { return s.addMessageCallback(cb) }

func (s *Session) addMessageCallback(cb MessageCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextCbID++
	s.msgCbs = append(s.msgCbs, callbackEntry{id: s.nextCbID, callback: cb})
	return s.nextCbID
}

func (s *Session) RemoveMessageCallback(id int) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	for i, cb := range s.msgCbs {
		if cb.id == id {
			s.msgCbs = append(s.msgCbs[:i], s.msgCbs[i+1:]...)
			break
		}
	}
}

func (s *Session) OnStateChange(cb StateCallback) int { return s.addStateCallback(cb) }

func (s *Session) addStateCallback(cb StateCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextCbID++
	s.stateCbs = append(s.stateCbs, stateCallbackEntry{id: s.nextCbID, callback: cb})
	return s.nextCbID
}

func (s *Session) RemoveStateCallback(id int) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	for i, cb := range s.stateCbs {
		if cb.id == id {
			s.stateCbs = append(s.stateCbs[:i], s.stateCbs[i+1:]...)
			break
		}
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err is the error that ended the session, if it failed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// CloseStatus is the application close code the server ended the session
// with, or -1.
func (s *Session) CloseStatus() websocket.StatusCode {
	return websocket.CloseStatus(s.Err())
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setState(StateFailed)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(s.stateCbs))
	copy(callbacks, s.stateCbs)
	s.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Close ends the session and waits for its goroutines until ctx expires.
func (s *Session) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	s.rootCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if s.State() != StateFailed {
			s.setState(StateClosed)
		}
		return nil
	}
}

func (s *Session) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func isTerminal(err error) bool {
	code := websocket.CloseStatus(err)
	return code == websocket.StatusNormalClosure || (code >= 4000 && code < 5000)
}
