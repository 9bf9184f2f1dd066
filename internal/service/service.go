//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/internal/storage"
	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage     = apperr.Validation("message must have content or an image")
	ErrInvalidID        = apperr.Validation("malformed id")
	ErrSelfConversation = apperr.Validation("cannot start a conversation with yourself")
	ErrSeenOwnMessages  = apperr.Validation("cannot mark your own messages as seen")
)

type Storage interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	UpsertConversation(
		ctx context.Context,
		id string,
		participantsID string,
		participants []string,
	) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	AppendChat(ctx context.Context, conversationID string, chat models.Chat) (models.Chat, error)
	ListChats(ctx context.Context, conversationID string) ([]models.Chat, error)
	GetChat(ctx context.Context, conversationID, messageID string) (models.Chat, error)
	DeleteChat(ctx context.Context, conversationID, messageID, sentBy string) error
	LastChats(ctx context.Context, userID string) ([]models.LastChat, error)
}

type S3 interface {
	Upload(ctx context.Context, image models.Image) (string, error)
	Delete(ctx context.Context, url string) error
}

type SeenTracker interface {
	MarkSeen(ctx context.Context, peerID, conversationID string) (int64, error)
}

type Service struct {
	storage Storage
	s3      S3
	seen    SeenTracker
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces the server clock used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(storage Storage, s3 S3, seen SeenTracker, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		s3:      s3,
		seen:    seen,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the conversation between userID and peerID, creating it
// on first contact. Both argument orders yield the same conversation.
func (s *Service) GetOrCreate(ctx context.Context, userID, peerID string) (models.Conversation, error) {
	const op = "service.GetOrCreate"

	if userID == "" || peerID == "" {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, ErrInvalidID)
	}
	if userID == peerID {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, ErrSelfConversation)
	}

	for _, id := range []string{userID, peerID} {
		if _, err := s.storage.GetProfile(ctx, id); err != nil {
			return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	conv, err := s.storage.UpsertConversation(
		ctx,
		uuid.NewString(),
		models.ParticipantsKey(userID, peerID),
		models.SortedPair(userID, peerID),
	)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

// Conversation returns the conversation if userID takes part in it. Others get
// ErrConversationNotFound so existence is not leaked.
func (s *Service) Conversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	const op = "service.Conversation"

	if err := validateID(conversationID); err != nil {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	conv, err := s.storage.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}

	return conv, nil
}

// Append validates chat, uploads image if given, and appends the chat to the
// conversation log. Id and timestamp are assigned when not set. An uploaded
// image is removed again when the append fails.
func (s *Service) Append(
	ctx context.Context,
	conversationID string,
	chat models.Chat,
	image *models.Image,
) (models.Chat, error) {
	const op = "service.Append"

	ctx = logger.GetFromCtx(ctx).With(ctx,
		zap.String("op", op),
		zap.String("conversation_id", conversationID),
	)

	hasImage := image != nil && len(image.Data) > 0
	if chat.Content == "" && chat.Image == "" && !hasImage {
		return models.Chat{}, fmt.Errorf("%s: %w", op, ErrEmptyMessage)
	}

	if _, err := s.Conversation(ctx, conversationID, chat.SentBy); err != nil {
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	if hasImage {
		url, err := s.s3.Upload(ctx, *image)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindValidation {
				return models.Chat{}, fmt.Errorf("%s: %w", op, err)
			}
			return models.Chat{}, fmt.Errorf("%s: %w", op, apperr.Dependency("failed to upload image", err))
		}
		chat.Image = url
	}

	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.Timestamp.IsZero() {
		chat.Timestamp = s.now().UTC().Truncate(time.Microsecond)
	}
	chat.Viewed = false

	saved, err := s.storage.AppendChat(ctx, conversationID, chat)
	if err != nil {
		if hasImage {
			if delErr := s.s3.Delete(ctx, chat.Image); delErr != nil {
				logger.GetFromCtx(ctx).Error(ctx, "failed to remove image of unsaved chat",
					zap.String("image", chat.Image),
					zap.Error(delErr),
				)
			}
		}
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	return saved, nil
}

// Delete removes a message on behalf of its author. A message with an image
// loses its blob first; if that fails the message is kept.
func (s *Service) Delete(ctx context.Context, conversationID, messageID, requesterID string) error {
	const op = "service.Delete"

	ctx = logger.GetFromCtx(ctx).With(ctx,
		zap.String("op", op),
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
	)

	if err := validateID(conversationID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := validateID(messageID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	chat, err := s.storage.GetChat(ctx, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if chat.SentBy != requesterID {
		return fmt.Errorf("%s: %w", op, storage.ErrNotMessageAuthor)
	}

	if chat.Image != "" {
		if err := s.s3.Delete(ctx, chat.Image); err != nil {
			logger.GetFromCtx(ctx).Error(ctx, "failed to delete image, message kept", zap.Error(err))
			return fmt.Errorf("%s: %w", op, apperr.Dependency("failed to delete image", err))
		}
	}

	if err := s.storage.DeleteChat(ctx, conversationID, messageID, requesterID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// MarkSeen marks the messages peerID sent in the conversation as seen by
// viewerID.
func (s *Service) MarkSeen(ctx context.Context, viewerID, conversationID, peerID string) (int64, error) {
	const op = "service.MarkSeen"

	if peerID == "" {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidID)
	}
	if peerID == viewerID {
		return 0, fmt.Errorf("%s: %w", op, ErrSeenOwnMessages)
	}

	if _, err := s.Conversation(ctx, conversationID, viewerID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := s.seen.MarkSeen(ctx, peerID, conversationID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// History returns every chat of the conversation in stored order together
// with the profile of the other participant.
func (s *Service) History(ctx context.Context, conversationID, requesterID string) (models.History, error) {
	const op = "service.History"

	conv, err := s.Conversation(ctx, conversationID, requesterID)
	if err != nil {
		return models.History{}, fmt.Errorf("%s: %w", op, err)
	}

	chats, err := s.storage.ListChats(ctx, conversationID)
	if err != nil {
		return models.History{}, fmt.Errorf("%s: %w", op, err)
	}

	peer, err := s.storage.GetProfile(ctx, conv.Peer(requesterID))
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return models.History{}, fmt.Errorf("%s: %w", op, err)
	}
	if peer.ID == "" {
		peer.ID = conv.Peer(requesterID)
	}

	return models.History{
		ConversationID: conv.ID,
		Chats:          chats,
		Peer:           peer,
	}, nil
}

// ListByPeer returns the inbox of userID: the last chat and unread count of
// every conversation they take part in.
func (s *Service) ListByPeer(ctx context.Context, userID string) ([]models.LastChat, error) {
	const op = "service.ListByPeer"

	if userID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidID)
	}

	chats, err := s.storage.LastChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return chats, nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}
