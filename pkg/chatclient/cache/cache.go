// Package cache keeps the client's view of conversations in memory and
// reconciles optimistic sends with what the server confirmed.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Chat struct {
	ID        string
	ClientID  string
	SentBy    string
	Content   string
	Image     string
	Timestamp time.Time
	Viewed    bool
	Pending   bool
}

// Merge folds incoming into existing and returns the new log. An entry is
// replaced in place when it has the same id, or when it is the provisional
// entry whose local id the server echoed back as ClientID. Anything else is
// appended. existing is not modified.
func Merge(existing []Chat, incoming Chat) []Chat {
	out := make([]Chat, len(existing), len(existing)+1)
	copy(out, existing)

	_, idx, found := lo.FindIndexOf(out, func(c Chat) bool {
		if c.ID == incoming.ID {
			return true
		}
		return incoming.ClientID != "" && c.Pending && c.ID == incoming.ClientID
	})
	if found {
		out[idx] = incoming
		return out
	}

	return append(out, incoming)
}

type Cache struct {
	mu            sync.RWMutex
	conversations map[string][]Chat
	now           func() time.Time
}

func New() *Cache {
	return &Cache{
		conversations: make(map[string][]Chat),
		now:           time.Now,
	}
}

// AddProvisional appends an optimistic entry and returns its local id,
// which is sent to the server as the message's client id.
func (c *Cache) AddProvisional(conversationID, sentBy, content, image string) Chat {
	chat := Chat{
		ID:        uuid.NewString(),
		SentBy:    sentBy,
		Content:   content,
		Image:     image,
		Timestamp: c.now(),
		Pending:   true,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conversations[conversationID] = append(c.conversations[conversationID], chat)

	return chat
}

func (c *Cache) Merge(conversationID string, chat Chat) {
	chat.Pending = false

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conversations[conversationID] = Merge(c.conversations[conversationID], chat)
}

// MarkViewed flips viewed on one entry. Unknown ids are ignored.
func (c *Cache) MarkViewed(conversationID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	chats := c.conversations[conversationID]
	_, idx, found := lo.FindIndexOf(chats, func(ch Chat) bool { return ch.ID == messageID })
	if !found {
		return false
	}
	chats[idx].Viewed = true

	return true
}

// MarkAllViewed flips viewed on every entry authored by sentBy.
func (c *Cache) MarkAllViewed(conversationID, sentBy string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for i, ch := range c.conversations[conversationID] {
		if ch.SentBy == sentBy && !ch.Viewed {
			c.conversations[conversationID][i].Viewed = true
			n++
		}
	}

	return n
}

// Delete removes an entry. Unknown ids are ignored.
func (c *Cache) Delete(conversationID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	chats := c.conversations[conversationID]
	kept := lo.Reject(chats, func(ch Chat, _ int) bool { return ch.ID == messageID })
	if len(kept) == len(chats) {
		return false
	}
	c.conversations[conversationID] = kept

	return true
}

// confirmSkew is how far the client clock may run ahead of the server's
// when a stored message is matched to the provisional it came from.
const confirmSkew = 5 * time.Second

// Replace loads history. A provisional entry the history already holds is
// dropped: either the stored copy carries its local id, or it has the same
// author, text and image and was stored no earlier than the provisional was
// created. That happens when the confirmation was lost with the connection.
// The local ids reconciled this way are returned.
func (c *Cache) Replace(conversationID string, chats []Chat) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := lo.Filter(c.conversations[conversationID], func(ch Chat, _ int) bool { return ch.Pending })

	out := make([]Chat, 0, len(chats)+len(pending))
	for _, ch := range chats {
		ch.Pending = false
		out = Merge(out, ch)
	}

	claimed := make(map[string]bool, len(pending))
	var confirmed []string
	for _, p := range pending {
		_, idx, found := lo.FindIndexOf(out, func(o Chat) bool {
			if o.Pending || claimed[o.ID] {
				return false
			}
			return o.ClientID == p.ID || sameMessage(o, p)
		})
		if !found {
			out = append(out, p)
			continue
		}

		claimed[out[idx].ID] = true
		out[idx].ClientID = p.ID
		confirmed = append(confirmed, p.ID)
	}

	c.conversations[conversationID] = out

	return confirmed
}

func sameMessage(stored, provisional Chat) bool {
	return stored.ClientID == "" &&
		stored.SentBy == provisional.SentBy &&
		stored.Content == provisional.Content &&
		stored.Image == provisional.Image &&
		!stored.Timestamp.Before(provisional.Timestamp.Add(-confirmSkew))
}

func (c *Cache) Conversation(conversationID string) ([]Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chats, ok := c.conversations[conversationID]
	if !ok {
		return nil, false
	}

	return append([]Chat(nil), chats...), true
}

// Chats returns a copy of the log ordered by timestamp.
func (c *Cache) Chats(conversationID string) []Chat {
	chats, _ := c.Conversation(conversationID)
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].Timestamp.Before(chats[j].Timestamp)
	})

	return chats
}

// Unread counts entries not written by me that are still unseen.
func (c *Cache) Unread(conversationID, me string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return lo.CountBy(c.conversations[conversationID], func(ch Chat) bool {
		return ch.SentBy != me && !ch.Viewed
	})
}
