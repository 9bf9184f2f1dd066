package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AlexMickh/market-chat/pkg/chatclient/cache"
	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"go.uber.org/zap"
)

// Notifier is told about messages written by somebody else. Failures never
// reach the chat flow.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg events.Message) error
}

// LogNotifier writes notifications to the context logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, userID string, msg events.Message) error {
	logger.GetFromCtx(ctx).Info(ctx, "new message",
		zap.String("user_id", userID),
		zap.String("from", msg.SentBy),
		zap.String("message_id", msg.ID),
	)
	return nil
}

// Emitter is the part of Manager the Handler needs.
type Emitter interface {
	On(event string, fn HandlerFunc) func()
	Send(req events.SendMessageRequest) error
}

// HistoryLoader fetches the stored chats of a conversation.
type HistoryLoader interface {
	History(ctx context.Context, conversationID string) ([]cache.Chat, error)
}

const historyTimeout = 10 * time.Second

// Handler routes server events into a cache.
type Handler struct {
	me       string
	cache    *cache.Cache
	notifier Notifier
	history  HistoryLoader
	ctx      context.Context

	mu       sync.Mutex
	inflight map[string]string
	offs     []func()
}

type HandlerOption func(*Handler)

// WithHistory reloads a conversation's history every time its room is
// joined, reconnects included.
func WithHistory(loader HistoryLoader) HandlerOption {
	return func(h *Handler) { h.history = loader }
}

func NewHandler(ctx context.Context, me string, c *cache.Cache, notifier Notifier, opts ...HandlerOption) *Handler {
	if notifier == nil {
		notifier = LogNotifier{}
	}

	h := &Handler{
		me:       me,
		cache:    c,
		notifier: notifier,
		ctx:      ctx,
		inflight: make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Attach subscribes the handler to e. Detach undoes it.
func (h *Handler) Attach(e Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.offs = append(h.offs,
		e.On(events.NewMessage, h.onNewMessage),
		e.On(events.Seen, h.onSeen),
		e.On(events.Error, h.onError),
	)
	if h.history != nil {
		h.offs = append(h.offs, e.On(events.JoinRoom, h.onJoined))
	}
}

func (h *Handler) Detach() {
	h.mu.Lock()
	offs := h.offs
	h.offs = nil
	h.mu.Unlock()

	for _, off := range offs {
		off()
	}
}

// Send shows the message right away as provisional and emits it. The
// provisional entry is dropped if the emit or the server rejects it.
func (h *Handler) Send(e Emitter, conversationID, to, content string) (cache.Chat, error) {
	const op = "chatclient.Handler.Send"

	chat := h.cache.AddProvisional(conversationID, h.me, content, "")

	h.mu.Lock()
	h.inflight[chat.ID] = conversationID
	h.mu.Unlock()

	err := e.Send(events.SendMessageRequest{
		ConversationID: conversationID,
		To:             to,
		Message: events.Message{
			SentBy:    h.me,
			Content:   content,
			Timestamp: chat.Timestamp,
			ClientID:  chat.ID,
		},
	})
	if err != nil {
		h.forget(chat.ID)
		h.cache.Delete(conversationID, chat.ID)
		return cache.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	return chat, nil
}

func (h *Handler) forget(clientID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conversationID, ok := h.inflight[clientID]
	delete(h.inflight, clientID)
	return conversationID, ok
}

func (h *Handler) onNewMessage(data json.RawMessage) {
	const op = "chatclient.Handler.onNewMessage"

	ctx := logger.GetFromCtx(h.ctx).With(h.ctx, zap.String("op", op))
	log := logger.GetFromCtx(ctx)

	var p events.NewMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn(ctx, "bad new_message payload", zap.Error(err))
		return
	}

	if p.Message.ClientID != "" {
		h.forget(p.Message.ClientID)
	}

	h.cache.Merge(p.ConversationID, FromWire(p.Message))

	if p.Message.SentBy != h.me {
		if err := h.notifier.Notify(ctx, h.me, p.Message); err != nil {
			log.Debug(ctx, "notification failed", zap.Error(err))
		}
	}
}

func (h *Handler) onJoined(data json.RawMessage) {
	var ack events.RoomAck
	if err := json.Unmarshal(data, &ack); err != nil || !ack.Success || ack.ConversationID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, historyTimeout)
		defer cancel()

		if err := h.Load(ctx, ack.ConversationID); err != nil {
			logger.GetFromCtx(ctx).Warn(ctx, "failed to load history",
				zap.String("conversation_id", ack.ConversationID), zap.Error(err))
		}
	}()
}

// Load replaces the cached conversation with its stored history. Sends
// whose confirmation never arrived but that the history holds stop being
// in flight.
func (h *Handler) Load(ctx context.Context, conversationID string) error {
	const op = "chatclient.Handler.Load"

	if h.history == nil {
		return fmt.Errorf("%s: no history loader", op)
	}

	chats, err := h.history.History(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, clientID := range h.cache.Replace(conversationID, chats) {
		h.forget(clientID)
	}

	return nil
}

func (h *Handler) onSeen(data json.RawMessage) {
	var p events.SeenPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	if p.MessageID != "" {
		h.cache.MarkViewed(p.ConversationID, p.MessageID)
	}
}

func (h *Handler) onError(data json.RawMessage) {
	const op = "chatclient.Handler.onError"

	ctx := logger.GetFromCtx(h.ctx).With(h.ctx, zap.String("op", op))

	var p events.ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	logger.GetFromCtx(ctx).Warn(ctx, "server error",
		zap.String("reason", p.Reason), zap.String("event", p.Event))

	if p.ClientID == "" {
		return
	}
	if conversationID, ok := h.forget(p.ClientID); ok {
		h.cache.Delete(conversationID, p.ClientID)
	}
}

func FromWire(m events.Message) cache.Chat {
	return cache.Chat{
		ID:        m.ID,
		ClientID:  m.ClientID,
		SentBy:    m.SentBy,
		Content:   m.Content,
		Image:     m.Image,
		Timestamp: m.Timestamp,
		Viewed:    m.Viewed,
	}
}
