package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/gorilla/websocket"
)

// WSDialer opens sockets to the chat server with gorilla/websocket.
type WSDialer struct {
	URL       string
	Dialer    *websocket.Dialer
	WriteWait time.Duration
}

func NewWSDialer(url string) *WSDialer {
	return &WSDialer{
		URL:       url,
		Dialer:    websocket.DefaultDialer,
		WriteWait: 10 * time.Second,
	}
}

func (d *WSDialer) Dial(ctx context.Context, accessToken string) (Conn, error) {
	const op = "chatclient.WSDialer.Dial"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	conn, resp, err := d.Dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && resp.StatusCode == http.StatusUnauthorized {
			var body events.HandshakeRejection
			if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr != nil || body.Reason == "" {
				body.Reason = events.ReasonInvalid
			}
			return nil, &RejectedError{Reason: body.Reason}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &wsConn{conn: conn, writeWait: d.WriteWait}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.mu.Unlock()
	return c.conn.Close()
}
