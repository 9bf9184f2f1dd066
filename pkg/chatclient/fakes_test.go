package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/AlexMickh/market-chat/pkg/events"
)

type fakeConn struct {
	in         chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	autoAck    bool
	joinReason string
	// blankAck answers joins the way the server answers an unparsable
	// request: a refusal without a conversation id.
	blankAck bool

	mu  sync.Mutex
	out []events.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte),
		done:    make(chan struct{}),
		autoAck: true,
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(frame []byte) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}

	var env events.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}

	c.mu.Lock()
	c.out = append(c.out, env)
	c.mu.Unlock()

	if (env.Event == events.JoinRoom || env.Event == events.LeaveRoom) && c.autoAck {
		id, _ := events.DecodeRoom(env.Data)
		ack := events.RoomAck{Success: true, ConversationID: id}
		switch {
		case env.Event == events.JoinRoom && c.blankAck:
			ack = events.RoomAck{Reason: "invalid payload"}
		case env.Event == events.JoinRoom && c.joinReason != "":
			ack = events.RoomAck{ConversationID: id, Reason: c.joinReason}
		}
		frame, _ := events.Encode(env.Event, ack)
		go c.push(frame)
	}

	return nil
}

func (c *fakeConn) push(frame []byte) {
	select {
	case c.in <- frame:
	case <-c.done:
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.out))
	for _, env := range c.out {
		names = append(names, env.Event)
	}
	return names
}

type dialResult struct {
	conn  *fakeConn
	err   error
	block bool
}

type fakeDialer struct {
	mu     sync.Mutex
	script []dialResult
	tokens []string
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (Conn, error) {
	d.mu.Lock()
	i := len(d.tokens)
	d.tokens = append(d.tokens, token)
	res := dialResult{err: errors.New("connection refused")}
	if i < len(d.script) {
		res = d.script[i]
	}
	d.mu.Unlock()

	if res.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.conn, nil
}

func (d *fakeDialer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) waited() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

type fakeRefresher struct {
	mu     sync.Mutex
	tokens Tokens
	err    error
	seen   []string
	hang   bool
}

func (r *fakeRefresher) Refresh(ctx context.Context, refresh string) (Tokens, error) {
	r.mu.Lock()
	r.seen = append(r.seen, refresh)
	hang := r.hang
	r.mu.Unlock()

	if hang {
		<-ctx.Done()
		return Tokens{}, ctx.Err()
	}
	return r.tokens, r.err
}

func (r *fakeRefresher) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (m *Manager) handlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, hs := range m.handlers {
		n += len(hs)
	}
	return n
}
