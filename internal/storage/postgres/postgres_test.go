package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestStorage_UpsertConversation(t *testing.T) {
	type fields struct {
		db Postgres
	}
	type args struct {
		ctx          context.Context
		id           string
		participants []string
	}

	pool := initStorage(t)
	a, b := uuid.NewString(), uuid.NewString()
	key := models.ParticipantsKey(a, b)
	first := uuid.NewString()

	tests := []struct {
		name   string
		fields fields
		args   args
		wantID string
	}{
		{
			name: "good case",
			fields: fields{
				db: pool,
			},
			args: args{
				ctx:          context.Background(),
				id:           first,
				participants: models.SortedPair(a, b),
			},
			wantID: first,
		},
		{
			name: "existing pair keeps first id",
			fields: fields{
				db: pool,
			},
			args: args{
				ctx:          context.Background(),
				id:           uuid.NewString(),
				participants: models.SortedPair(b, a),
			},
			wantID: first,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Storage{
				db: tt.fields.db,
			}
			got, err := s.UpsertConversation(tt.args.ctx, tt.args.id, key, tt.args.participants)
			if err != nil {
				t.Errorf("Storage.UpsertConversation() error = %v", err)
				return
			}
			if got.ID != tt.wantID {
				t.Errorf("Storage.UpsertConversation() id = %v, want %v", got.ID, tt.wantID)
			}
			if !reflect.DeepEqual(got.Participants, models.SortedPair(a, b)) {
				t.Errorf("Storage.UpsertConversation() participants = %v", got.Participants)
			}
		})
	}
	cleanup(pool, first)
}

func TestStorage_UpsertConversation_Concurrent(t *testing.T) {
	pool := initStorage(t)
	s := New(pool)
	a, b := uuid.NewString(), uuid.NewString()
	key := models.ParticipantsKey(a, b)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := s.UpsertConversation(context.Background(), uuid.NewString(), key, models.SortedPair(a, b))
			if err != nil {
				t.Errorf("Storage.UpsertConversation() error = %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("got two conversations for one pair: %v and %v", ids[0], id)
		}
	}
	cleanup(pool, ids[0])
}

func TestStorage_GetConversation(t *testing.T) {
	type args struct {
		ctx context.Context
		id  string
	}

	pool := initStorage(t)
	s := New(pool)
	a, b := uuid.NewString(), uuid.NewString()
	conv, err := s.UpsertConversation(context.Background(), uuid.NewString(), models.ParticipantsKey(a, b), models.SortedPair(a, b))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	defer cleanup(pool, conv.ID)

	tests := []struct {
		name    string
		args    args
		want    string
		wantErr error
	}{
		{
			name: "good case",
			args: args{
				ctx: context.Background(),
				id:  conv.ID,
			},
			want:    conv.ID,
			wantErr: nil,
		},
		{
			name: "id does not exists",
			args: args{
				ctx: context.Background(),
				id:  uuid.NewString(),
			},
			want:    "",
			wantErr: storage.ErrConversationNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetConversation(tt.args.ctx, tt.args.id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Storage.GetConversation() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got.ID != tt.want {
				t.Errorf("Storage.GetConversation() = %v, want %v", got.ID, tt.want)
			}
		})
	}
}

func TestStorage_AppendChat(t *testing.T) {
	pool := initStorage(t)
	s := New(pool)
	a, b := uuid.NewString(), uuid.NewString()
	conv, err := s.UpsertConversation(context.Background(), uuid.NewString(), models.ParticipantsKey(a, b), models.SortedPair(a, b))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	defer cleanup(pool, conv.ID)

	now := time.Now().UTC().Truncate(time.Microsecond)
	first, err := s.AppendChat(context.Background(), conv.ID, models.Chat{
		ID:        uuid.NewString(),
		SentBy:    a,
		Content:   "hi",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("Storage.AppendChat() error = %v", err)
	}

	second, err := s.AppendChat(context.Background(), conv.ID, models.Chat{
		ID:        uuid.NewString(),
		SentBy:    b,
		Content:   "hello",
		Timestamp: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Storage.AppendChat() error = %v", err)
	}
	if second.Timestamp.Before(first.Timestamp) {
		t.Errorf("Storage.AppendChat() timestamp went backwards: %v < %v", second.Timestamp, first.Timestamp)
	}

	_, err = s.AppendChat(context.Background(), uuid.NewString(), models.Chat{
		ID:        uuid.NewString(),
		SentBy:    a,
		Content:   "lost",
		Timestamp: now,
	})
	if !errors.Is(err, storage.ErrConversationNotFound) {
		t.Errorf("Storage.AppendChat() error = %v, wantErr %v", err, storage.ErrConversationNotFound)
	}

	chats, err := s.ListChats(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("Storage.ListChats() error = %v", err)
	}
	if len(chats) != 2 || chats[0].ID != first.ID || chats[1].ID != second.ID {
		t.Errorf("Storage.ListChats() = %#v", chats)
	}
}

func TestStorage_DeleteChat(t *testing.T) {
	type args struct {
		messageID string
		sentBy    string
	}

	pool := initStorage(t)
	s := New(pool)
	a, b := uuid.NewString(), uuid.NewString()
	conv, err := s.UpsertConversation(context.Background(), uuid.NewString(), models.ParticipantsKey(a, b), models.SortedPair(a, b))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	defer cleanup(pool, conv.ID)

	chat, err := s.AppendChat(context.Background(), conv.ID, models.Chat{
		ID:        uuid.NewString(),
		SentBy:    a,
		Content:   "hi",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name    string
		args    args
		wantErr error
	}{
		{
			name: "not author",
			args: args{
				messageID: chat.ID,
				sentBy:    b,
			},
			wantErr: storage.ErrMessageNotFound,
		},
		{
			name: "good case",
			args: args{
				messageID: chat.ID,
				sentBy:    a,
			},
			wantErr: nil,
		},
		{
			name: "already deleted",
			args: args{
				messageID: chat.ID,
				sentBy:    a,
			},
			wantErr: storage.ErrMessageNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.DeleteChat(context.Background(), conv.ID, tt.args.messageID, tt.args.sentBy)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Storage.DeleteChat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStorage_LastChats(t *testing.T) {
	pool := initStorage(t)
	s := New(pool)
	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()

	withMessages, err := s.UpsertConversation(context.Background(), uuid.NewString(), models.ParticipantsKey(a, b), models.SortedPair(a, b))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	defer cleanup(pool, withMessages.ID)
	empty, err := s.UpsertConversation(context.Background(), uuid.NewString(), models.ParticipantsKey(a, c), models.SortedPair(a, c))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	defer cleanup(pool, empty.ID)

	_, err = s.AppendChat(context.Background(), withMessages.ID, models.Chat{
		ID:        uuid.NewString(),
		SentBy:    b,
		Content:   "is it available?",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := s.LastChats(context.Background(), a)
	if err != nil {
		t.Fatalf("Storage.LastChats() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Storage.LastChats() returned %d conversations, want 1", len(got))
	}
	if got[0].UnreadCount != 1 || got[0].Peer.ID != b || got[0].LastMessage != "is it available?" {
		t.Errorf("Storage.LastChats() = %#v", got[0])
	}

	n, err := s.MarkSeen(context.Background(), withMessages.ID, b)
	if err != nil || n != 1 {
		t.Fatalf("Storage.MarkSeen() = %d, %v", n, err)
	}

	got, err = s.LastChats(context.Background(), a)
	if err != nil {
		t.Fatalf("Storage.LastChats() error = %v", err)
	}
	if got[0].UnreadCount != 0 {
		t.Errorf("Storage.LastChats() unread = %d, want 0", got[0].UnreadCount)
	}
}

func cleanup(pool *pgxpool.Pool, conversationID string) {
	_, _ = pool.Exec(context.Background(), "DELETE FROM chat.chats WHERE conversation_id = $1", conversationID)
	_, _ = pool.Exec(context.Background(), "DELETE FROM chat.conversations WHERE id = $1", conversationID)
}

func initStorage(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("CHAT_TEST_DATABASE_URL")
	if connString == "" {
		connString = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d&pool_min_conns=%d",
			"postgres",
			"root",
			"localhost",
			5422,
			"chat",
			5,
			1,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("postgres unavailable: %v", err)
	}
	var exists bool
	err = pool.QueryRow(ctx, "SELECT to_regclass('chat.chats') IS NOT NULL").Scan(&exists)
	if err != nil || !exists {
		pool.Close()
		t.Skip("chat schema not migrated")
	}
	t.Cleanup(pool.Close)

	return pool
}
