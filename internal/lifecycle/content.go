package lifecycle

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/status"
	"github.com/matheus3301/relay/internal/store"
)

// Placeholder replaces the content of a message deleted for everyone.
const Placeholder = "This message was deleted"

// Draft is the user-supplied part of a new message.
type Draft struct {
	Content   string
	Type      string
	MediaURL  string
	MediaMime string
	ReplyTo   int64
}

// ValidateContent normalizes d and rejects empty or oversized content.
// It returns the trimmed content and the effective message type.
func ValidateContent(d Draft, maxLen int) (string, string, error) {
	content := strings.TrimSpace(d.Content)
	typ := d.Type
	if typ == "" {
		typ = store.TypeText
	}
	switch typ {
	case store.TypeText:
		if content == "" {
			return "", "", apperr.Invalid("validate", "message content is empty")
		}
	case store.TypeImage, store.TypeAudio, store.TypeFile:
		if strings.TrimSpace(d.MediaURL) == "" {
			return "", "", apperr.Invalid("validate", "%s message needs a media url", typ)
		}
	default:
		return "", "", apperr.Invalid("validate", "unsupported message type %q", typ)
	}
	if utf8.RuneCountInString(content) > maxLen {
		return "", "", apperr.Invalid("validate", "message exceeds %d characters", maxLen)
	}
	return content, typ, nil
}

// ConvKey identifies a conversation. Direct keys are order-independent.
type ConvKey struct {
	Group bool
	A, B  int64
}

// DirectKey returns the key of the conversation between a and b.
func DirectKey(a, b int64) ConvKey {
	if a > b {
		a, b = b, a
	}
	return ConvKey{A: a, B: b}
}

// GroupKey returns the key of a group conversation.
func GroupKey(groupID int64) ConvKey { return ConvKey{Group: true, A: groupID} }

// ResolveReply keeps replyTo only when it points at an existing message of
// the same conversation. target is the conversation of the referenced
// message, nil if it does not exist.
func ResolveReply(replyTo int64, target *ConvKey, conv ConvKey) *int64 {
	if replyTo <= 0 || target == nil || *target != conv {
		return nil
	}
	return &replyTo
}

var mentionRe = regexp.MustCompile(`@(\+?[0-9]+)`)

// ExtractMentions returns the distinct phone-shaped @tokens of content in
// order of appearance, without the @.
func ExtractMentions(content string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		tok := m[1]
		digits := strings.TrimPrefix(tok, "+")
		if len(digits) < 10 || len(digits) > 15 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// ResolveMentions maps tokens to member ids, dropping the sender, unknown
// phones, non-members and duplicates.
func ResolveMentions(tokens []string, byPhone map[string]int64, members map[int64]bool, senderID int64) []int64 {
	var out []int64
	seen := make(map[int64]bool)
	for _, tok := range tokens {
		id, ok := byPhone[tok]
		if !ok || id == senderID || !members[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ClampLimit bounds a requested page size.
func (o Options) ClampLimit(n int) int {
	if n <= 0 {
		n = o.PageDefault
	}
	if n < o.PageMin {
		n = o.PageMin
	}
	if n > o.PageMax {
		n = o.PageMax
	}
	return n
}

func isoMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// DirectView serializes a direct message for the wire.
func DirectView(m store.Message, starred bool) event.Message {
	v := event.Message{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    event.Int64(m.ReceiverID),
		SenderName:    m.SenderName,
		Content:       m.Content,
		MessageType:   m.Type,
		MediaURL:      m.MediaURL,
		MediaMime:     m.MediaMime,
		TimestampISO:  isoMillis(m.CreatedAt),
		TimestampMs:   m.CreatedAt,
		Status:        status.Of(m.DeliveredAt, m.ReadAt).Wire(),
		IsRead:        m.IsRead,
		DeliveredAt:   m.DeliveredAt,
		ReadAt:        m.ReadAt,
		EditedAt:      m.EditedAt,
		DeletedForAll: m.DeletedForAll,
		ReplyToID:     m.ReplyToID,
		Forwarded:     m.Forwarded,
		Starred:       starred,
	}
	if m.DeletedForAll {
		redact(&v)
	}
	return v
}

// GroupView serializes a group message for the wire.
func GroupView(m store.GroupMessage, mentions []int64) event.Message {
	v := event.Message{
		ID:            m.ID,
		SenderID:      m.SenderID,
		GroupID:       event.Int64(m.GroupID),
		SenderName:    m.SenderName,
		Content:       m.Content,
		MessageType:   m.Type,
		MessageKind:   m.Kind,
		MediaURL:      m.MediaURL,
		MediaMime:     m.MediaMime,
		TimestampISO:  isoMillis(m.CreatedAt),
		TimestampMs:   m.CreatedAt,
		EditedAt:      m.EditedAt,
		DeletedForAll: m.DeletedForAll,
		ReplyToID:     m.ReplyToID,
		Forwarded:     m.Forwarded,
		Mentions:      mentions,
	}
	if m.DeletedForAll {
		redact(&v)
	}
	return v
}

func redact(v *event.Message) {
	v.Content = Placeholder
	v.MessageType = store.TypeDeleted
	v.MediaURL = nil
	v.MediaMime = nil
	v.Mentions = nil
}
