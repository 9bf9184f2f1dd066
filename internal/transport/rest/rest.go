// Package rest serves the HTTP side of the chat: conversation lookup,
// history, inbox, read receipts, message deletion and token refresh.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/AlexMickh/market-chat/internal/auth"
	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var ErrBadBody = apperr.Validation("malformed request body")

type Service interface {
	GetOrCreate(ctx context.Context, userID, peerID string) (models.Conversation, error)
	History(ctx context.Context, conversationID, requesterID string) (models.History, error)
	ListByPeer(ctx context.Context, userID string) ([]models.LastChat, error)
	MarkSeen(ctx context.Context, viewerID, conversationID, peerID string) (int64, error)
	Delete(ctx context.Context, conversationID, messageID, requesterID string) error
}

type Tokens interface {
	Verify(token string) (string, error)
	Refresh(refresh string) (auth.Pair, error)
}

type Handler struct {
	service Service
	tokens  Tokens
}

func New(service Service, tokens Tokens) *Handler {
	return &Handler{
		service: service,
		tokens:  tokens,
	}
}

// Router builds the mux. socket is mounted at /socket-message and does its
// own authentication.
func (h *Handler) Router(ctx context.Context, socket http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(withLogger(ctx))

	r.HandleFunc("/auth/refresh-token", h.refreshToken).Methods(http.MethodPost)
	if socket != nil {
		r.Handle("/socket-message", socket).Methods(http.MethodGet)
	}

	conv := r.PathPrefix("/conversation").Subrouter()
	conv.Use(h.requireAuth)
	conv.HandleFunc("/with/{peerId}", h.getOrCreate).Methods(http.MethodGet)
	conv.HandleFunc("/chats/{conversationId}", h.history).Methods(http.MethodGet)
	conv.HandleFunc("/last-chats", h.lastChats).Methods(http.MethodGet)
	conv.HandleFunc("/seen/{conversationId}/{peerId}", h.markSeen).Methods(http.MethodPatch)
	conv.HandleFunc("/message/{conversationId}/{messageId}", h.deleteMessage).Methods(http.MethodDelete)

	return r
}

type chatUser struct {
	ID string `json:"id"`
}

type chatDTO struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	Viewed bool      `json:"viewed"`
	Image  string    `json:"image,omitempty"`
	User   chatUser  `json:"user"`
}

type profileDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type conversationDTO struct {
	ID          string     `json:"id"`
	Chats       []chatDTO  `json:"chats"`
	PeerProfile profileDTO `json:"peerProfile"`
}

type lastChatDTO struct {
	ID               string     `json:"id"`
	LastMessage      string     `json:"lastMessage"`
	Image            string     `json:"image,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	UnreadChatCounts int        `json:"unreadChatCounts"`
	PeerProfile      profileDTO `json:"peerProfile"`
}

func toProfile(p models.Profile) profileDTO {
	return profileDTO{ID: p.ID, Name: p.Name, Avatar: p.Avatar}
}

func (h *Handler) getOrCreate(w http.ResponseWriter, r *http.Request) {
	const op = "transport.rest.getOrCreate"

	ctx := logger.GetFromCtx(r.Context()).With(r.Context(), zap.String("op", op))

	conv, err := h.service.GetOrCreate(ctx, UserID(ctx), mux.Vars(r)["peerId"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]string{"conversationId": conv.ID})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	const op = "transport.rest.history"

	ctx := logger.GetFromCtx(r.Context()).With(r.Context(), zap.String("op", op))

	history, err := h.service.History(ctx, mux.Vars(r)["conversationId"], UserID(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	chats := make([]chatDTO, 0, len(history.Chats))
	for _, c := range history.Chats {
		chats = append(chats, chatDTO{
			ID:     c.ID,
			Text:   c.Content,
			Time:   c.Timestamp,
			Viewed: c.Viewed,
			Image:  c.Image,
			User:   chatUser{ID: c.SentBy},
		})
	}

	writeJSON(ctx, w, http.StatusOK, map[string]conversationDTO{
		"conversation": {
			ID:          history.ConversationID,
			Chats:       chats,
			PeerProfile: toProfile(history.Peer),
		},
	})
}

func (h *Handler) lastChats(w http.ResponseWriter, r *http.Request) {
	const op = "transport.rest.lastChats"

	ctx := logger.GetFromCtx(r.Context()).With(r.Context(), zap.String("op", op))

	last, err := h.service.ListByPeer(ctx, UserID(ctx))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	chats := make([]lastChatDTO, 0, len(last))
	for _, c := range last {
		chats = append(chats, lastChatDTO{
			ID:               c.ConversationID,
			LastMessage:      c.LastMessage,
			Image:            c.Image,
			Timestamp:        c.Timestamp,
			UnreadChatCounts: c.UnreadCount,
			PeerProfile:      toProfile(c.Peer),
		})
	}

	writeJSON(ctx, w, http.StatusOK, map[string][]lastChatDTO{"chats": chats})
}

func (h *Handler) markSeen(w http.ResponseWriter, r *http.Request) {
	const op = "transport.rest.markSeen"

	ctx := logger.GetFromCtx(r.Context()).With(r.Context(), zap.String("op", op))
	vars := mux.Vars(r)

	n, err := h.service.MarkSeen(ctx, UserID(ctx), vars["conversationId"], vars["peerId"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]any{
		"message": "Updated successfully.",
		"updated": n,
	})
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	const op = "transport.rest.deleteMessage"

	ctx := logger.GetFromCtx(r.Context()).With(r.Context(), zap.String("op", op))
	vars := mux.Vars(r)

	if err := h.service.Delete(ctx, vars["conversationId"], vars["messageId"], UserID(ctx)); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]string{"message": "Message deleted successfully"})
}

func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	const op = "transport.rest.refreshToken"

	ctx := logger.GetFromCtx(r.Context()).With(r.Context(), zap.String("op", op))

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, ErrBadBody)
		return
	}

	pair, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]auth.Pair{"tokens": pair})
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError || errors.Is(err, context.DeadlineExceeded) {
		logger.GetFromCtx(ctx).Error(ctx, "request failed", zap.Error(err))
	} else {
		logger.GetFromCtx(ctx).Debug(ctx, "request rejected", zap.Error(err))
	}

	writeJSON(ctx, w, status, map[string]string{"message": apperr.Message(err)})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to write response", zap.Error(err))
	}
}
