package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Postgres interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db Postgres
}

func New(db Postgres) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	const op = "storage.postgres.GetProfile"

	var profile models.Profile
	sql := `SELECT id, name, avatar_url
			FROM chat.users
			WHERE id = $1`
	err := s.db.QueryRow(ctx, sql, userID).Scan(&profile.ID, &profile.Name, &profile.Avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return models.Profile{}, fmt.Errorf("%s: %w", op, err)
	}

	return profile, nil
}

// UpsertConversation inserts the conversation unless one with the same
// participants key exists, in which case the stored row is returned as is.
func (s *Storage) UpsertConversation(
	ctx context.Context,
	id string,
	participantsID string,
	participants []string,
) (models.Conversation, error) {
	const op = "storage.postgres.UpsertConversation"

	var conv models.Conversation
	sql := `INSERT INTO chat.conversations (id, participants_id, participants)
			VALUES ($1, $2, $3)
			ON CONFLICT (participants_id) DO UPDATE SET participants_id = EXCLUDED.participants_id
			RETURNING id, participants_id, participants, created_at`
	err := s.db.QueryRow(ctx, sql, id, participantsID, participants).Scan(
		&conv.ID,
		&conv.ParticipantsID,
		&conv.Participants,
		&conv.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// primary key clash on the generated id; the pair row may still be read
			return s.getConversationByKey(ctx, participantsID)
		}
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

func (s *Storage) getConversationByKey(ctx context.Context, participantsID string) (models.Conversation, error) {
	const op = "storage.postgres.getConversationByKey"

	var conv models.Conversation
	sql := `SELECT id, participants_id, participants, created_at
			FROM chat.conversations
			WHERE participants_id = $1`
	err := s.db.QueryRow(ctx, sql, participantsID).Scan(
		&conv.ID,
		&conv.ParticipantsID,
		&conv.Participants,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Conversation{}, fmt.Errorf("%s: %w", op, storage.ErrConversationAlreadyExists)
		}
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

func (s *Storage) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	const op = "storage.postgres.GetConversation"

	var conv models.Conversation
	sql := `SELECT id, participants_id, participants, created_at
			FROM chat.conversations
			WHERE id = $1`
	err := s.db.QueryRow(ctx, sql, id).Scan(
		&conv.ID,
		&conv.ParticipantsID,
		&conv.Participants,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Conversation{}, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
		}
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

// AppendChat appends chat under a row lock on its conversation, raising the
// timestamp to the last stored one when the clock went backwards.
func (s *Storage) AppendChat(ctx context.Context, conversationID string, chat models.Chat) (models.Chat, error) {
	const op = "storage.postgres.AppendChat"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM chat.conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Chat{}, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
		}
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	var last *time.Time
	err = tx.QueryRow(ctx, `SELECT max(created_at) FROM chat.chats WHERE conversation_id = $1`, conversationID).Scan(&last)
	if err != nil {
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}
	if last != nil && chat.Timestamp.Before(*last) {
		chat.Timestamp = *last
	}

	var saved models.Chat
	sql := `INSERT INTO chat.chats (id, conversation_id, sent_by, content, image, created_at, viewed)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, sent_by, content, image, created_at, viewed`
	err = tx.QueryRow(ctx, sql,
		chat.ID,
		conversationID,
		chat.SentBy,
		chat.Content,
		chat.Image,
		chat.Timestamp,
		chat.Viewed,
	).Scan(
		&saved.ID,
		&saved.SentBy,
		&saved.Content,
		&saved.Image,
		&saved.Timestamp,
		&saved.Viewed,
	)
	if err != nil {
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	return saved, nil
}

func (s *Storage) ListChats(ctx context.Context, conversationID string) ([]models.Chat, error) {
	const op = "storage.postgres.ListChats"

	sql := `SELECT id, sent_by, content, image, created_at, viewed
			FROM chat.chats
			WHERE conversation_id = $1
			ORDER BY seq`
	rows, err := s.db.Query(ctx, sql, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var chat models.Chat

		err = rows.Scan(&chat.ID, &chat.SentBy, &chat.Content, &chat.Image, &chat.Timestamp, &chat.Viewed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		chats = append(chats, chat)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return chats, nil
}

func (s *Storage) GetChat(ctx context.Context, conversationID, messageID string) (models.Chat, error) {
	const op = "storage.postgres.GetChat"

	var chat models.Chat
	sql := `SELECT id, sent_by, content, image, created_at, viewed
			FROM chat.chats
			WHERE conversation_id = $1 AND id = $2`
	err := s.db.QueryRow(ctx, sql, conversationID, messageID).Scan(
		&chat.ID,
		&chat.SentBy,
		&chat.Content,
		&chat.Image,
		&chat.Timestamp,
		&chat.Viewed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Chat{}, fmt.Errorf("%s: %w", op, storage.ErrMessageNotFound)
		}
		return models.Chat{}, fmt.Errorf("%s: %w", op, err)
	}

	return chat, nil
}

func (s *Storage) DeleteChat(ctx context.Context, conversationID, messageID, sentBy string) error {
	const op = "storage.postgres.DeleteChat"

	sql := "DELETE FROM chat.chats WHERE conversation_id = $1 AND id = $2 AND sent_by = $3"
	tag, err := s.db.Exec(ctx, sql, conversationID, messageID, sentBy)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrMessageNotFound)
	}

	return nil
}

func (s *Storage) MarkSeen(ctx context.Context, conversationID, peerID string) (int64, error) {
	const op = "storage.postgres.MarkSeen"

	sql := `UPDATE chat.chats
			SET viewed = true
			WHERE conversation_id = $1 AND sent_by = $2 AND viewed = false`
	tag, err := s.db.Exec(ctx, sql, conversationID, peerID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (s *Storage) LastChats(ctx context.Context, userID string) ([]models.LastChat, error) {
	const op = "storage.postgres.LastChats"

	sql := `SELECT c.id, l.content, l.image, l.created_at,
				(SELECT count(*) FROM chat.chats u
				 WHERE u.conversation_id = c.id AND u.viewed = false AND u.sent_by <> $1),
				p.peer_id, COALESCE(usr.name, ''), COALESCE(usr.avatar_url, '')
			FROM chat.conversations c
			JOIN LATERAL (
				SELECT content, image, created_at
				FROM chat.chats
				WHERE conversation_id = c.id
				ORDER BY seq DESC
				LIMIT 1
			) l ON true
			CROSS JOIN LATERAL (
				SELECT CASE WHEN c.participants[1] = $1 THEN c.participants[2] ELSE c.participants[1] END AS peer_id
			) p
			LEFT JOIN chat.users usr ON usr.id = p.peer_id
			WHERE $1 = ANY(c.participants)
			ORDER BY l.created_at DESC`
	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	chats := make([]models.LastChat, 0)
	for rows.Next() {
		var chat models.LastChat
		var unread int64

		err = rows.Scan(
			&chat.ConversationID,
			&chat.LastMessage,
			&chat.Image,
			&chat.Timestamp,
			&unread,
			&chat.Peer.ID,
			&chat.Peer.Name,
			&chat.Peer.Avatar,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		chat.UnreadCount = int(unread)

		chats = append(chats, chat)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return chats, nil
}
