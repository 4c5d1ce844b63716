package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Inbound control events sent by clients.
const (
	InJoinGroups = "join_groups"
	InTyping     = "typing"
)

// Inbound is a client frame before its data is decoded.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ID accepts a JSON number or a numeric string. Browsers send both.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", b)
	}
	*id = ID(v)
	return nil
}

// JoinGroups asks the server to subscribe the session to group rooms.
type JoinGroups struct {
	Groups []json.RawMessage `json:"groups"`
}

// IDs returns the parseable, positive group ids. Malformed entries are skipped.
func (j JoinGroups) IDs() []int64 {
	var out []int64
	for _, raw := range j.Groups {
		var id ID
		if err := json.Unmarshal(raw, &id); err != nil || id <= 0 {
			continue
		}
		out = append(out, int64(id))
	}
	return out
}

// TypingIn is the client's typing notification.
type TypingIn struct {
	GroupID    *ID  `json:"group_id"`
	ReceiverID *ID  `json:"receiver_id"`
	IsTyping   bool `json:"is_typing"`
}

// DecodeInbound parses a raw client frame.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if in.Event == "" {
		return nil, fmt.Errorf("decode frame: missing event name")
	}
	return &in, nil
}
