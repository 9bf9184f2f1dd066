// Package memory keeps conversations in process memory. It backs local runs
// without Postgres and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/internal/seen"
	"github.com/AlexMickh/market-chat/internal/storage"
	"github.com/samber/lo"
)

type conversation struct {
	models.Conversation
	chats []models.Chat
}

type Storage struct {
	mu            sync.RWMutex
	users         map[string]models.Profile
	conversations map[string]*conversation // id -> conversation
	byKey         map[string]string        // participantsId -> id
	userIndex     map[string][]string      // user id -> conversation ids
}

func New(users ...models.Profile) *Storage {
	s := &Storage{
		users:         make(map[string]models.Profile),
		conversations: make(map[string]*conversation),
		byKey:         make(map[string]string),
		userIndex:     make(map[string][]string),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *Storage) AddUser(profile models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.ID] = profile
}

func (s *Storage) GetProfile(_ context.Context, userID string) (models.Profile, error) {
	const op = "storage.memory.GetProfile"

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.users[userID]
	if !ok {
		return models.Profile{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return profile, nil
}

func (s *Storage) UpsertConversation(
	_ context.Context,
	id string,
	participantsID string,
	participants []string,
) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[participantsID]; ok {
		return s.conversations[existing].Conversation, nil
	}

	conv := &conversation{
		Conversation: models.Conversation{
			ID:             id,
			ParticipantsID: participantsID,
			Participants:   append([]string(nil), participants...),
			CreatedAt:      time.Now().UTC(),
		},
	}
	s.conversations[id] = conv
	s.byKey[participantsID] = id
	for _, p := range participants {
		s.userIndex[p] = append(s.userIndex[p], id)
	}

	return conv.Conversation, nil
}

func (s *Storage) GetConversation(_ context.Context, id string) (models.Conversation, error) {
	const op = "storage.memory.GetConversation"

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}
	return conv.Conversation, nil
}

// AppendChat appends chat to the log. A timestamp older than the last stored
// one is raised to it so the log stays ordered by time.
func (s *Storage) AppendChat(_ context.Context, conversationID string, chat models.Chat) (models.Chat, error) {
	const op = "storage.memory.AppendChat"

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Chat{}, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}

	if n := len(conv.chats); n > 0 && chat.Timestamp.Before(conv.chats[n-1].Timestamp) {
		chat.Timestamp = conv.chats[n-1].Timestamp
	}
	conv.chats = append(conv.chats, chat)

	return chat, nil
}

func (s *Storage) ListChats(_ context.Context, conversationID string) ([]models.Chat, error) {
	const op = "storage.memory.ListChats"

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}
	return append([]models.Chat{}, conv.chats...), nil
}

func (s *Storage) GetChat(_ context.Context, conversationID, messageID string) (models.Chat, error) {
	const op = "storage.memory.GetChat"

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Chat{}, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}

	chat, _, found := lo.FindIndexOf(conv.chats, func(c models.Chat) bool {
		return c.ID == messageID
	})
	if !found {
		return models.Chat{}, fmt.Errorf("%s: %w", op, storage.ErrMessageNotFound)
	}
	return chat, nil
}

func (s *Storage) DeleteChat(_ context.Context, conversationID, messageID, sentBy string) error {
	const op = "storage.memory.DeleteChat"

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}

	_, idx, found := lo.FindIndexOf(conv.chats, func(c models.Chat) bool {
		return c.ID == messageID && c.SentBy == sentBy
	})
	if !found {
		return fmt.Errorf("%s: %w", op, storage.ErrMessageNotFound)
	}
	conv.chats = append(conv.chats[:idx:idx], conv.chats[idx+1:]...)

	return nil
}

func (s *Storage) MarkSeen(_ context.Context, conversationID, peerID string) (int64, error) {
	const op = "storage.memory.MarkSeen"

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}

	var n int64
	for i := range conv.chats {
		if conv.chats[i].SentBy == peerID && !conv.chats[i].Viewed {
			conv.chats[i].Viewed = true
			n++
		}
	}
	return n, nil
}

func (s *Storage) LastChats(_ context.Context, userID string) ([]models.LastChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.LastChat, 0, len(s.userIndex[userID]))
	for _, id := range s.userIndex[userID] {
		conv := s.conversations[id]
		if len(conv.chats) == 0 {
			continue
		}

		last := conv.chats[len(conv.chats)-1]
		peerID := conv.Peer(userID)
		peer, ok := s.users[peerID]
		if !ok {
			peer = models.Profile{ID: peerID}
		}

		result = append(result, models.LastChat{
			ConversationID: conv.ID,
			LastMessage:    last.Content,
			Image:          last.Image,
			Timestamp:      last.Timestamp,
			UnreadCount:    seen.Unread(conv.chats, userID),
			Peer:           peer,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	return result, nil
}
