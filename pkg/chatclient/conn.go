package chatclient

import (
	"context"
	"fmt"
	"time"

	"github.com/AlexMickh/market-chat/pkg/apperr"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	AuthExpired
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case AuthExpired:
		return "auth_expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotConnected = apperr.New(apperr.KindTransientNetwork, "not connected")
	ErrGaveUp       = apperr.New(apperr.KindTransientNetwork, "gave up reconnecting")
	ErrAuthFailed   = apperr.Unauthorized("authentication failed")
	ErrRunning      = apperr.Conflict("already connected")
)

// RejectedError is a handshake the server refused with a reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "handshake rejected: " + e.Reason
}

// JoinError reports a room join the server refused.
type JoinError struct {
	ConversationID string
	Reason         string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join %s: %s", e.ConversationID, e.Reason)
}

// Conn is a connected socket carrying envelope frames.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, accessToken string) (Conn, error)
}

type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
