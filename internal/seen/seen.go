// Package seen tracks read receipts: which messages of a conversation the
// non-author participant has viewed.
package seen

import (
	"context"
	"fmt"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"go.uber.org/zap"
)

type Storage interface {
	// MarkSeen sets viewed on every chat of the conversation sent by peerID
	// and reports how many rows changed.
	MarkSeen(ctx context.Context, conversationID, peerID string) (int64, error)
}

type Tracker struct {
	storage Storage
}

func New(storage Storage) *Tracker {
	return &Tracker{storage: storage}
}

// MarkSeen marks the messages authored by peerID in the conversation as
// viewed. Calling it again changes nothing.
func (t *Tracker) MarkSeen(ctx context.Context, peerID, conversationID string) (int64, error) {
	const op = "seen.MarkSeen"

	n, err := t.storage.MarkSeen(ctx, conversationID, peerID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	logger.GetFromCtx(ctx).Debug(ctx, "messages marked seen",
		zap.String("op", op),
		zap.String("conversation_id", conversationID),
		zap.String("peer_id", peerID),
		zap.Int64("flipped", n),
	)

	return n, nil
}

// IsUnread reports whether chat counts as unread for userID.
func IsUnread(chat models.Chat, userID string) bool {
	return !chat.Viewed && chat.SentBy != userID
}

// Unread counts the chats userID has not seen yet. Own messages never count.
func Unread(chats []models.Chat, userID string) int {
	n := 0
	for _, c := range chats {
		if IsUnread(c, userID) {
			n++
		}
	}
	return n
}
