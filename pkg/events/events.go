// Package events holds the names and payloads of the real-time wire protocol
// shared by the server and the Go client.
package events

import (
	"encoding/json"
	"time"
)

const (
	JoinRoom    = "join_room"
	LeaveRoom   = "leave_room"
	SendMessage = "send_message"
	NewMessage  = "new_message"
	Seen        = "chat:seen"
	Typing      = "chat:typing"
	Error       = "error"
)

// Handshake rejection reasons.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonExpired      = "expired"
	ReasonInvalid      = "invalid"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a chat as it travels over the socket. ClientID carries the
// sender's provisional id so optimistic entries can be reconciled.
type Message struct {
	ID        string    `json:"id"`
	SentBy    string    `json:"sentBy"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	ImageData []byte    `json:"imageData,omitempty"`
	ImageType string    `json:"imageType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Viewed    bool      `json:"viewed"`
	ClientID  string    `json:"clientId,omitempty"`
}

// RoomRequest is the payload of join_room and leave_room.
type RoomRequest struct {
	ConversationID string `json:"conversationId"`
}

// DecodeRoom reads a room request given either as an object or as a bare
// conversation id string.
func DecodeRoom(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var req RoomRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", err
	}
	return req.ConversationID, nil
}

type SendMessageRequest struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
	To             string  `json:"to"`
}

type NewMessagePayload struct {
	Message        Message `json:"message"`
	From           string  `json:"from"`
	ConversationID string  `json:"conversationId"`
}

type SeenRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	PeerID         string `json:"peerId"`
}

type SeenPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	Active         bool   `json:"active"`
}

type TypingPayload struct {
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
	ConversationID string `json:"conversationId,omitempty"`
}

// RoomAck answers join_room and leave_room.
type RoomAck struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Reason   string `json:"reason"`
	Event    string `json:"event,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// HandshakeRejection is the JSON body of a refused upgrade.
type HandshakeRejection struct {
	Reason string `json:"reason"`
}

// Encode marshals data and wraps it into an envelope frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
