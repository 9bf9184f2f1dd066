package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/internal/storage"
	"github.com/google/uuid"
)

func TestStorage_UpsertConversation(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := models.ParticipantsKey("alice", "bob")

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := s.UpsertConversation(ctx, uuid.NewString(), key, models.SortedPair("alice", "bob"))
			if err != nil {
				t.Errorf("UpsertConversation() error = %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("UpsertConversation() returned ids %v, want a single id", ids)
		}
	}
	if len(s.conversations) != 1 {
		t.Errorf("conversations = %d, want 1", len(s.conversations))
	}
}

func TestStorage_AppendChat(t *testing.T) {
	s := New()
	ctx := context.Background()
	conv, _ := s.UpsertConversation(ctx, uuid.NewString(), "a_b", []string{"a", "b"})
	now := time.Now()

	tests := []struct {
		name           string
		conversationID string
		chat           models.Chat
		wantTimestamp  time.Time
		wantErr        error
	}{
		{
			name:           "first chat",
			conversationID: conv.ID,
			chat:           models.Chat{ID: "1", SentBy: "a", Content: "hello", Timestamp: now},
			wantTimestamp:  now,
		},
		{
			name:           "older timestamp is raised",
			conversationID: conv.ID,
			chat:           models.Chat{ID: "2", SentBy: "b", Content: "hi", Timestamp: now.Add(-time.Minute)},
			wantTimestamp:  now,
		},
		{
			name:           "newer timestamp kept",
			conversationID: conv.ID,
			chat:           models.Chat{ID: "3", SentBy: "a", Content: "hey", Timestamp: now.Add(time.Second)},
			wantTimestamp:  now.Add(time.Second),
		},
		{
			name:           "missing conversation",
			conversationID: uuid.NewString(),
			chat:           models.Chat{ID: "4", SentBy: "a", Content: "lost"},
			wantErr:        storage.ErrConversationNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.AppendChat(ctx, tt.conversationID, tt.chat)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AppendChat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !got.Timestamp.Equal(tt.wantTimestamp) {
				t.Errorf("AppendChat() timestamp = %v, want %v", got.Timestamp, tt.wantTimestamp)
			}
		})
	}

	chats, _ := s.ListChats(ctx, conv.ID)
	for i := 1; i < len(chats); i++ {
		if chats[i].Timestamp.Before(chats[i-1].Timestamp) {
			t.Errorf("chat %d is older than chat %d", i, i-1)
		}
	}
}

func TestStorage_DeleteChat(t *testing.T) {
	s := New()
	ctx := context.Background()
	conv, _ := s.UpsertConversation(ctx, uuid.NewString(), "a_b", []string{"a", "b"})
	for _, c := range []models.Chat{
		{ID: "1", SentBy: "a", Content: "one"},
		{ID: "2", SentBy: "b", Content: "two"},
		{ID: "3", SentBy: "a", Content: "three"},
	} {
		_, _ = s.AppendChat(ctx, conv.ID, c)
	}

	tests := []struct {
		name      string
		messageID string
		sentBy    string
		wantErr   error
	}{
		{name: "not the author", messageID: "2", sentBy: "a", wantErr: storage.ErrMessageNotFound},
		{name: "unknown message", messageID: "9", sentBy: "a", wantErr: storage.ErrMessageNotFound},
		{name: "author deletes", messageID: "1", sentBy: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.DeleteChat(ctx, conv.ID, tt.messageID, tt.sentBy); !errors.Is(err, tt.wantErr) {
				t.Errorf("DeleteChat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	chats, _ := s.ListChats(ctx, conv.ID)
	if len(chats) != 2 || chats[0].ID != "2" || chats[1].ID != "3" {
		t.Errorf("ListChats() = %+v, want ids [2 3]", chats)
	}
}

func TestStorage_LastChats(t *testing.T) {
	s := New(models.Profile{ID: "a", Name: "Alice"}, models.Profile{ID: "b", Name: "Bob"})
	ctx := context.Background()
	now := time.Now()

	withChats, _ := s.UpsertConversation(ctx, uuid.NewString(), "a_b", []string{"a", "b"})
	_, _ = s.UpsertConversation(ctx, uuid.NewString(), "a_c", []string{"a", "c"})

	_, _ = s.AppendChat(ctx, withChats.ID, models.Chat{ID: "1", SentBy: "a", Content: "hello", Timestamp: now})
	_, _ = s.AppendChat(ctx, withChats.ID, models.Chat{ID: "2", SentBy: "b", Content: "yo", Timestamp: now})
	_, _ = s.AppendChat(ctx, withChats.ID, models.Chat{ID: "3", SentBy: "b", Content: "there?", Timestamp: now})

	got, err := s.LastChats(ctx, "a")
	if err != nil {
		t.Fatalf("LastChats() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("LastChats() = %+v, want one entry", got)
	}
	if got[0].LastMessage != "there?" || got[0].UnreadCount != 2 || got[0].Peer.Name != "Bob" {
		t.Errorf("LastChats() = %+v", got[0])
	}

	if _, err := s.MarkSeen(ctx, withChats.ID, "b"); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	got, _ = s.LastChats(ctx, "a")
	if got[0].UnreadCount != 0 {
		t.Errorf("UnreadCount after MarkSeen = %d, want 0", got[0].UnreadCount)
	}

	got, _ = s.LastChats(ctx, "b")
	if got[0].UnreadCount != 1 {
		t.Errorf("UnreadCount for b = %d, want 1", got[0].UnreadCount)
	}
}
