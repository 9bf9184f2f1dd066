// Package ws upgrades authenticated HTTP requests to sockets and pumps
// their frames through the router.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/AlexMickh/market-chat/internal/auth"
	"github.com/AlexMickh/market-chat/internal/router"
	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8 << 20
	}
	return c
}

type Verifier interface {
	Verify(token string) (string, error)
}

type Server struct {
	verifier Verifier
	router   *router.Router
	upgrader websocket.Upgrader
	cfg      Config
}

func New(verifier Verifier, r *router.Router, cfg Config) *Server {
	return &Server{
		verifier: verifier,
		router:   r,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// native app clients send no Origin header
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "transport.ws.ServeHTTP"

	ctx := logger.GetFromCtx(r.Context()).With(r.Context(), zap.String("op", op))

	userID, err := s.verifier.Verify(auth.FromRequest(r))
	if err != nil {
		reason := auth.Reason(err)
		logger.GetFromCtx(ctx).Info(ctx, "handshake rejected", zap.String("reason", reason))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(events.HandshakeRejection{Reason: reason})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to upgrade", zap.Error(err))
		return
	}

	client := newClient(conn, userID, s.cfg)
	session := s.router.Connect(ctx, client)

	go client.writePump(ctx)
	client.readPump(ctx, session)
}
