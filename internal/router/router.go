// Package router mediates room membership and message fan-out for every
// authenticated socket.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrUnknownEvent = apperr.Validation("unknown event")
	ErrBadPayload   = apperr.Validation("malformed payload")
	ErrNotInRoom    = apperr.Validation("join the conversation first")
)

type Service interface {
	Conversation(ctx context.Context, conversationID, userID string) (models.Conversation, error)
	Append(ctx context.Context, conversationID string, chat models.Chat, image *models.Image) (models.Chat, error)
	MarkSeen(ctx context.Context, viewerID, conversationID, peerID string) (int64, error)
}

// Rooms is the room registry the router fans out through. Broadcast skips
// the connection whose id equals except.
type Rooms interface {
	Join(room string, c Conn) bool
	Leave(room string, c Conn) bool
	LeaveAll(c Conn) []string
	InRoom(room string, c Conn) bool
	Broadcast(ctx context.Context, room string, frame []byte, except string) error
}

type Router struct {
	service Service
	rooms   Rooms
	locks   *keyedMutex
}

func New(service Service, rooms Rooms) *Router {
	return &Router{
		service: service,
		rooms:   rooms,
		locks:   newKeyedMutex(),
	}
}

// Session handles the events of one connection. Handle is not safe for
// concurrent use; the transport calls it from the connection's read loop.
type Session struct {
	router *Router
	conn   Conn
}

func (r *Router) Connect(ctx context.Context, c Conn) *Session {
	logger.GetFromCtx(ctx).Info(ctx, "user connected",
		zap.String("user_id", c.UserID()),
		zap.String("conn_id", c.ID()),
	)

	return &Session{router: r, conn: c}
}

// Close drops the connection from every room it joined.
func (s *Session) Close(ctx context.Context) {
	rooms := s.router.rooms.LeaveAll(s.conn)

	logger.GetFromCtx(ctx).Info(ctx, "user disconnected",
		zap.String("user_id", s.conn.UserID()),
		zap.String("conn_id", s.conn.ID()),
		zap.Strings("rooms", rooms),
	)
}

func (s *Session) Handle(ctx context.Context, env events.Envelope) {
	ctx = logger.GetFromCtx(ctx).With(ctx,
		zap.String("event", env.Event),
		zap.String("user_id", s.conn.UserID()),
		zap.String("conn_id", s.conn.ID()),
	)

	switch env.Event {
	case events.JoinRoom:
		s.join(ctx, env.Data)
	case events.LeaveRoom:
		s.leave(ctx, env.Data)
	case events.SendMessage:
		s.send(ctx, env.Data)
	case events.Seen:
		s.seen(ctx, env.Data)
	case events.Typing:
		s.typing(ctx, env.Data)
	default:
		s.fail(ctx, env.Event, "", ErrUnknownEvent)
	}
}

func (s *Session) join(ctx context.Context, data json.RawMessage) {
	const op = "router.join"

	conversationID, err := events.DecodeRoom(data)
	if err != nil {
		s.emit(ctx, events.JoinRoom, events.RoomAck{Reason: ErrBadPayload.Message})
		return
	}

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op), zap.String("room", conversationID))

	if _, err := s.router.service.Conversation(ctx, conversationID, s.conn.UserID()); err != nil {
		logger.GetFromCtx(ctx).Warn(ctx, "join refused", zap.Error(err))
		s.emit(ctx, events.JoinRoom, events.RoomAck{
			ConversationID: conversationID,
			Reason:         apperr.Message(err),
		})
		return
	}

	if s.router.rooms.Join(conversationID, s.conn) {
		logger.GetFromCtx(ctx).Info(ctx, "joined room")
	}

	s.emit(ctx, events.JoinRoom, events.RoomAck{Success: true, ConversationID: conversationID})
}

func (s *Session) leave(ctx context.Context, data json.RawMessage) {
	conversationID, err := events.DecodeRoom(data)
	if err != nil {
		s.emit(ctx, events.LeaveRoom, events.RoomAck{Reason: ErrBadPayload.Message})
		return
	}

	if s.router.rooms.Leave(conversationID, s.conn) {
		logger.GetFromCtx(ctx).Info(ctx, "left room", zap.String("room", conversationID))
	}

	s.emit(ctx, events.LeaveRoom, events.RoomAck{Success: true, ConversationID: conversationID})
}

// send persists the message and then fans it out. The per-conversation lock
// spans both steps so the room sees messages in the order they were stored.
func (s *Session) send(ctx context.Context, data json.RawMessage) {
	const op = "router.send"

	var req events.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(ctx, events.SendMessage, "", ErrBadPayload)
		return
	}

	ctx = logger.GetFromCtx(ctx).With(ctx,
		zap.String("op", op),
		zap.String("room", req.ConversationID),
		zap.String("to", req.To),
	)

	var image *models.Image
	if len(req.Message.ImageData) > 0 {
		image = &models.Image{Data: req.Message.ImageData, ContentType: req.Message.ImageType}
	}
	chat := models.Chat{
		SentBy:  s.conn.UserID(),
		Content: req.Message.Content,
	}

	unlock := s.router.locks.Lock(req.ConversationID)
	defer unlock()

	saved, err := s.router.service.Append(ctx, req.ConversationID, chat, image)
	if err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to persist message", zap.Error(err))
		s.fail(ctx, events.SendMessage, req.Message.ClientID, err)
		return
	}

	frame, err := events.Encode(events.NewMessage, events.NewMessagePayload{
		Message:        ToWire(saved, req.Message.ClientID),
		From:           s.conn.UserID(),
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.fail(ctx, events.SendMessage, req.Message.ClientID, fmt.Errorf("%s: %w", op, err))
		return
	}

	if !s.router.rooms.InRoom(req.ConversationID, s.conn) {
		s.conn.Send(frame)
	}
	if err := s.router.rooms.Broadcast(ctx, req.ConversationID, frame, ""); err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to broadcast message", zap.Error(err))
	}

	logger.GetFromCtx(ctx).Info(ctx, "message sent", zap.String("message_id", saved.ID))
}

func (s *Session) seen(ctx context.Context, data json.RawMessage) {
	const op = "router.seen"

	var req events.SeenRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(ctx, events.Seen, "", ErrBadPayload)
		return
	}

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op), zap.String("room", req.ConversationID))

	unlock := s.router.locks.Lock(req.ConversationID)
	defer unlock()

	n, err := s.router.service.MarkSeen(ctx, s.conn.UserID(), req.ConversationID, req.PeerID)
	if err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to mark seen", zap.Error(err))
		s.fail(ctx, events.Seen, "", err)
		return
	}

	frame, err := events.Encode(events.Seen, events.SeenPayload{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		s.fail(ctx, events.Seen, "", fmt.Errorf("%s: %w", op, err))
		return
	}
	if err := s.router.rooms.Broadcast(ctx, req.ConversationID, frame, ""); err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to broadcast seen", zap.Error(err))
	}

	logger.GetFromCtx(ctx).Debug(ctx, "seen", zap.Int64("updated", n))
}

func (s *Session) typing(ctx context.Context, data json.RawMessage) {
	var req events.TypingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(ctx, events.Typing, "", ErrBadPayload)
		return
	}

	if !s.router.rooms.InRoom(req.ConversationID, s.conn) {
		s.fail(ctx, events.Typing, "", ErrNotInRoom)
		return
	}

	frame, err := events.Encode(events.Typing, events.TypingPayload{
		UserID:         s.conn.UserID(),
		Typing:         req.Active,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.fail(ctx, events.Typing, "", err)
		return
	}
	if err := s.router.rooms.Broadcast(ctx, req.ConversationID, frame, s.conn.ID()); err != nil {
		logger.GetFromCtx(ctx).Warn(ctx, "failed to relay typing", zap.Error(err))
	}
}

func (s *Session) fail(ctx context.Context, event, clientID string, err error) {
	s.emit(ctx, events.Error, events.ErrorPayload{
		Reason:   apperr.Message(err),
		Event:    event,
		ClientID: clientID,
	})
}

func (s *Session) emit(ctx context.Context, event string, data any) {
	frame, err := events.Encode(event, data)
	if err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to encode frame", zap.Error(err))
		return
	}
	if !s.conn.Send(frame) {
		logger.GetFromCtx(ctx).Warn(ctx, "connection gone, frame dropped")
	}
}

// ToWire converts a stored chat into its socket form.
func ToWire(chat models.Chat, clientID string) events.Message {
	return events.Message{
		ID:        chat.ID,
		SentBy:    chat.SentBy,
		Content:   chat.Content,
		Image:     chat.Image,
		Timestamp: chat.Timestamp,
		Viewed:    chat.Viewed,
		ClientID:  clientID,
	}
}
