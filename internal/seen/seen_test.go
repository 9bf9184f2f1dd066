package seen

import (
	"context"
	"errors"
	"testing"

	"github.com/AlexMickh/market-chat/internal/models"
)

type fakeStorage struct {
	chats map[string][]models.Chat
	err   error
}

func (f *fakeStorage) MarkSeen(_ context.Context, conversationID, peerID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	chats := f.chats[conversationID]
	for i := range chats {
		if chats[i].SentBy == peerID && !chats[i].Viewed {
			chats[i].Viewed = true
			n++
		}
	}
	return n, nil
}

func TestTracker_MarkSeen(t *testing.T) {
	storage := &fakeStorage{chats: map[string][]models.Chat{
		"c1": {
			{ID: "1", SentBy: "alice"},
			{ID: "2", SentBy: "bob"},
			{ID: "3", SentBy: "alice"},
		},
	}}
	tracker := New(storage)

	n, err := tracker.MarkSeen(context.Background(), "alice", "c1")
	if err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	if n != 2 {
		t.Errorf("MarkSeen() flipped = %d, want 2", n)
	}
	if storage.chats["c1"][1].Viewed {
		t.Errorf("message of bob was marked seen")
	}

	n, err = tracker.MarkSeen(context.Background(), "alice", "c1")
	if err != nil {
		t.Fatalf("MarkSeen() second call error = %v", err)
	}
	if n != 0 {
		t.Errorf("MarkSeen() second call flipped = %d, want 0", n)
	}
}

func TestTracker_MarkSeenError(t *testing.T) {
	errDB := errors.New("db down")
	tracker := New(&fakeStorage{err: errDB})

	if _, err := tracker.MarkSeen(context.Background(), "alice", "c1"); !errors.Is(err, errDB) {
		t.Errorf("MarkSeen() error = %v, want %v", err, errDB)
	}
}

func TestUnread(t *testing.T) {
	chats := []models.Chat{
		{SentBy: "alice", Viewed: true},
		{SentBy: "alice", Viewed: false},
		{SentBy: "bob", Viewed: false},
		{SentBy: "alice", Viewed: false},
	}

	tests := []struct {
		name   string
		userID string
		want   int
	}{
		{name: "bob sees alice's unread", userID: "bob", want: 2},
		{name: "alice sees bob's unread", userID: "alice", want: 1},
		{name: "third party counts everything unviewed", userID: "carol", want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unread(chats, tt.userID); got != tt.want {
				t.Errorf("Unread() = %v, want %v", got, tt.want)
			}
		})
	}
}
