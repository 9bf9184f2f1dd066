// Package chatclient is the Go client of the chat server: one owned
// connection per signed-in user with bounded reconnection, token refresh
// on expiry and acknowledged room joins.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"go.uber.org/zap"
)

type Config struct {
	Tokens         Tokens
	ConnectTimeout time.Duration
	JoinTimeout    time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithStateHook is called on every state transition, outside any lock.
func WithStateHook(fn func(State)) Option {
	return func(m *Manager) { m.onState = fn }
}

type HandlerFunc func(data json.RawMessage)

type Manager struct {
	cfg       Config
	dialer    Dialer
	refresher Refresher
	clock     Clock
	onState   func(State)

	mu       sync.Mutex
	state    State
	tokens   Tokens
	conn     Conn
	active   string
	handlers map[string]map[int]HandlerFunc
	nextID   int
	pending  map[string]chan events.RoomAck
	cancel   context.CancelFunc
	done     chan struct{}

	errs chan error
}

func New(cfg Config, dialer Dialer, refresher Refresher, opts ...Option) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		refresher: refresher,
		clock:     realClock{},
		tokens:    cfg.Tokens,
		handlers:  make(map[string]map[int]HandlerFunc),
		pending:   make(map[string]chan events.RoomAck),
		errs:      make(chan error, 16),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Connect starts the connection supervisor and blocks until the first
// successful connection or a terminal failure.
func (m *Manager) Connect(ctx context.Context) error {
	const op = "chatclient.Manager.Connect"

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrRunning)
	}
	runCtx, cancel := context.WithCancel(logger.WithLogger(context.Background(), ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	ready := make(chan error, 1)
	go func() {
		defer close(done)
		m.supervise(runCtx, ready)
	}()

	select {
	case err := <-ready:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		m.Disconnect()
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (m *Manager) supervise(ctx context.Context, ready chan<- error) {
	const op = "chatclient.Manager.supervise"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op))
	log := logger.GetFromCtx(ctx)

	defer m.cleanup()

	bo := NewBackoff(m.cfg.MaxAttempts, m.cfg.BaseDelay)
	report := func(err error) {
		if ready != nil {
			ready <- err
			ready = nil
		}
	}
	fail := func(err error) {
		log.Error(ctx, "connection lost for good", zap.Error(err))
		m.setState(Disconnected)
		m.publish(err)
		report(err)
	}
	wait := func() bool {
		delay, ok := bo.OnDisconnect()
		if !ok {
			fail(ErrGaveUp)
			return false
		}
		m.setState(Disconnected)
		log.Info(ctx, "reconnecting", zap.Duration("delay", delay))
		select {
		case <-m.clock.After(delay):
			return true
		case <-ctx.Done():
			report(ctx.Err())
			return false
		}
	}

	refreshed := false
	for {
		m.setState(Connecting)

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				report(ctx.Err())
				return
			}

			var rejected *RejectedError
			if errors.As(err, &rejected) {
				if rejected.Reason != events.ReasonExpired || refreshed {
					fail(fmt.Errorf("%w: %s", ErrAuthFailed, rejected.Reason))
					return
				}

				m.setState(AuthExpired)
				refreshed = true
				if err := m.refresh(ctx); err != nil {
					fail(fmt.Errorf("%w: %v", ErrAuthFailed, err))
					return
				}
				continue
			}

			log.Warn(ctx, "failed to connect", zap.Error(err))
			if !wait() {
				return
			}
			continue
		}

		bo.Reset()
		refreshed = false

		room := m.attach(conn)
		m.setState(Connected)
		report(nil)
		if room != "" {
			go m.rejoin(ctx, room)
		}

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = m.read(ctx, conn)
		stop()
		m.detach(conn)
		if ctx.Err() != nil {
			return
		}

		log.Warn(ctx, "connection dropped", zap.Error(err))
		if !wait() {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	token := m.tokens.Access
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	return m.dialer.Dial(ctx, token)
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	refresh := m.tokens.Refresh
	m.mu.Unlock()

	if m.refresher == nil || refresh == "" {
		return errors.New("no refresh token")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	tokens, err := m.refresher.Refresh(ctx, refresh)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()

	return nil
}

func (m *Manager) rejoin(ctx context.Context, room string) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.JoinTimeout)
	defer cancel()

	if err := m.Join(ctx, room); err != nil {
		logger.GetFromCtx(ctx).Warn(ctx, "failed to rejoin room",
			zap.String("conversation_id", room), zap.Error(err))
		m.publish(err)
	}
}

func (m *Manager) read(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.GetFromCtx(ctx).Debug(ctx, "skipping malformed frame", zap.Error(err))
			continue
		}

		m.dispatch(ctx, env)
	}
}

func (m *Manager) dispatch(ctx context.Context, env events.Envelope) {
	switch env.Event {
	case events.JoinRoom:
		var ack events.RoomAck
		if err := json.Unmarshal(env.Data, &ack); err == nil {
			m.resolveJoin(ack)
		}
	case events.LeaveRoom:
		var ack events.RoomAck
		if err := json.Unmarshal(env.Data, &ack); err == nil {
			logger.GetFromCtx(ctx).Debug(ctx, "left room",
				zap.String("conversation_id", ack.ConversationID),
				zap.Bool("success", ack.Success),
				zap.String("reason", ack.Reason),
			)
		}
	}

	m.mu.Lock()
	fns := make([]HandlerFunc, 0, len(m.handlers[env.Event]))
	for _, fn := range m.handlers[env.Event] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(env.Data)
	}
}

// resolveJoin hands an ack to the join waiting for it. A refusal without a
// conversation id answers a request the server could not parse, so it fails
// every join in flight.
func (m *Manager) resolveJoin(ack events.RoomAck) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ack.ConversationID == "" && !ack.Success {
		for id, ch := range m.pending {
			delete(m.pending, id)
			ch <- ack
		}
		return
	}

	if ch, ok := m.pending[ack.ConversationID]; ok {
		delete(m.pending, ack.ConversationID)
		ch <- ack
	}
}

func (m *Manager) attach(conn Conn) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conn = conn
	return m.active
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.abortPending()
	m.mu.Unlock()

	_ = conn.Close()
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = make(map[string]map[int]HandlerFunc)
	m.abortPending()
	m.active = ""
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// abortPending fails every join still waiting for an ack. Callers hold mu.
func (m *Manager) abortPending() {
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if changed && m.onState != nil {
		m.onState(s)
	}
}

func (m *Manager) publish(err error) {
	select {
	case m.errs <- err:
	default:
	}
}

// AccessToken returns the token the next handshake will present.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tokens.Access
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Errors delivers terminal and join failures. Errors published while the
// buffer is full are dropped.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// On registers fn for a server event and returns a function removing it.
// All handlers are dropped whenever the supervisor exits.
func (m *Manager) On(event string, fn HandlerFunc) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]HandlerFunc)
	}
	m.handlers[event][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	}
}

// Join enters a conversation room and waits for the server's ack. The room
// becomes the active one and is rejoined after every reconnect.
func (m *Manager) Join(ctx context.Context, conversationID string) error {
	const op = "chatclient.Manager.Join"

	ack := make(chan events.RoomAck, 1)

	m.mu.Lock()
	if m.conn == nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	m.pending[conversationID] = ack
	m.mu.Unlock()

	if err := m.emit(events.JoinRoom, events.RoomRequest{ConversationID: conversationID}); err != nil {
		m.dropPending(conversationID, ack)
		return fmt.Errorf("%s: %w", op, err)
	}

	select {
	case res, ok := <-ack:
		if !ok {
			return fmt.Errorf("%s: %w", op, ErrNotConnected)
		}
		if !res.Success {
			return &JoinError{ConversationID: conversationID, Reason: res.Reason}
		}
	case <-ctx.Done():
		m.dropPending(conversationID, ack)
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	m.mu.Lock()
	m.active = conversationID
	m.mu.Unlock()

	return nil
}

func (m *Manager) dropPending(conversationID string, ack chan events.RoomAck) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[conversationID] == ack {
		delete(m.pending, conversationID)
	}
}

// Leave emits leave_room and forgets the room locally right away.
func (m *Manager) Leave(conversationID string) error {
	const op = "chatclient.Manager.Leave"

	m.mu.Lock()
	if m.active == conversationID {
		m.active = ""
	}
	m.mu.Unlock()

	if err := m.emit(events.LeaveRoom, events.RoomRequest{ConversationID: conversationID}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Manager) Send(req events.SendMessageRequest) error {
	const op = "chatclient.Manager.Send"

	if err := m.emit(events.SendMessage, req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Manager) Seen(req events.SeenRequest) error {
	const op = "chatclient.Manager.Seen"

	if err := m.emit(events.Seen, req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Manager) Typing(conversationID string, active bool) error {
	const op = "chatclient.Manager.Typing"

	err := m.emit(events.Typing, events.TypingRequest{ConversationID: conversationID, Active: active})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Manager) emit(event string, data any) error {
	frame, err := events.Encode(event, data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	return conn.WriteMessage(frame)
}

// Disconnect stops the supervisor and waits for it to exit.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	m.setState(Disconnected)
}

// Dispose leaves the active room before disconnecting. Handlers are
// cleared even when the manager was never connected.
func (m *Manager) Dispose() {
	m.mu.Lock()
	room := m.active
	m.mu.Unlock()

	if room != "" {
		_ = m.Leave(room)
	}

	m.Disconnect()

	m.mu.Lock()
	m.handlers = make(map[string]map[int]HandlerFunc)
	m.mu.Unlock()
}
