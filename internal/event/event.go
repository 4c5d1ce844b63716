// Package event defines the closed set of realtime wire events and their
// JSON envelope.
package event

import (
	"encoding/json"
	"fmt"
)

// ConvType tags the conversation family an event belongs to.
type ConvType string

const (
	Direct ConvType = "dm"
	Group  ConvType = "group"
)

// Delivery statuses carried by MessageStatus.
const (
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Presence statuses carried by UserStatus.
const (
	Online  = "online"
	Offline = "offline"
)

// Event is implemented by every outbound wire event.
type Event interface {
	Name() string
}

// Message is the serialized form of a direct or group message.
type Message struct {
	ID            int64   `json:"id"`
	SenderID      int64   `json:"sender_id"`
	ReceiverID    *int64  `json:"receiver_id"`
	GroupID       *int64  `json:"group_id"`
	SenderName    string  `json:"sender_name"`
	Content       string  `json:"content"`
	MessageType   string  `json:"message_type"`
	MessageKind   string  `json:"message_kind,omitempty"`
	MediaURL      *string `json:"media_url"`
	MediaMime     *string `json:"media_mime"`
	TimestampISO  string  `json:"timestamp_iso"`
	TimestampMs   int64   `json:"timestamp_ms"`
	Status        string  `json:"status,omitempty"`
	IsRead        bool    `json:"is_read"`
	DeliveredAt   *int64  `json:"delivered_at"`
	ReadAt        *int64  `json:"read_at"`
	EditedAt      *int64  `json:"edited_at"`
	DeletedForAll bool    `json:"deleted_for_all"`
	ReplyToID     *int64  `json:"reply_to_id"`
	Forwarded     bool    `json:"forwarded"`
	Mentions      []int64 `json:"mentions,omitempty"`
	Starred       bool    `json:"starred,omitempty"`
}

type NewMessage struct {
	Type    ConvType `json:"type"`
	Message Message  `json:"message"`
}

type MessageStatus struct {
	Type       ConvType `json:"type"`
	Status     string   `json:"status"`
	MessageIDs []int64  `json:"message_ids"`
	At         int64    `json:"at"`
}

type MessageEdited struct {
	Type    ConvType `json:"type"`
	Message Message  `json:"message"`
}

type MessageDeleted struct {
	Type          ConvType `json:"type"`
	MessageID     int64    `json:"message_id"`
	DeletedForAll bool     `json:"deleted_for_all"`
}

type Typing struct {
	SenderID   int64  `json:"sender_id"`
	GroupID    *int64 `json:"group_id"`
	ReceiverID *int64 `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}

type UserStatus struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// RefreshUnread tells clients their unread badges are stale.
type RefreshUnread struct {
	Type      ConvType `json:"type"`
	MessageID *int64   `json:"message_id,omitempty"`
	GroupID   *int64   `json:"group_id,omitempty"`
}

// PresenceState is sent once to a freshly connected session.
type PresenceState struct {
	OnlineUserIDs []int64 `json:"online_user_ids"`
}

func (NewMessage) Name() string     { return "new_message" }
func (MessageStatus) Name() string  { return "message_status" }
func (MessageEdited) Name() string  { return "message_edited" }
func (MessageDeleted) Name() string { return "message_deleted" }
func (Typing) Name() string         { return "typing" }
func (UserStatus) Name() string     { return "user_status" }
func (RefreshUnread) Name() string  { return "refresh_unread" }
func (PresenceState) Name() string  { return "presence_state" }

type envelope struct {
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

// Encode serializes e into the wire envelope {"event": name, "data": e}.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode: nil event")
	}
	return json.Marshal(envelope{Event: e.Name(), Data: e})
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
