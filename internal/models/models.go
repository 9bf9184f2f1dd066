package models

import (
	"sort"
	"strings"
	"time"
)

type Conversation struct {
	ID             string
	ParticipantsID string
	Participants   []string
	CreatedAt      time.Time
}

// Peer returns the participant that is not userID.
func (c Conversation) Peer(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type Chat struct {
	ID        string
	SentBy    string
	Content   string
	Image     string
	Timestamp time.Time
	Viewed    bool
}

type Profile struct {
	ID     string
	Name   string
	Avatar string
}

type History struct {
	ConversationID string
	Chats          []Chat
	Peer           Profile
}

type LastChat struct {
	ConversationID string
	LastMessage    string
	Image          string
	Timestamp      time.Time
	UnreadCount    int
	Peer           Profile
}

type Image struct {
	Data        []byte
	ContentType string
}

// ParticipantsKey is the unordered-pair key of a conversation: both ids
// sorted and joined with "_".
func ParticipantsKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// SortedPair returns both ids in lexicographic order.
func SortedPair(userA, userB string) []string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair
}
