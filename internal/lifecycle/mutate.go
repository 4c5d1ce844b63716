package lifecycle

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/store"
)

// subject is the part of a message the mutation checks need.
type subject struct {
	senderID   int64
	receiverID int64
	groupID    int64
	typ        string
	deleted    bool
}

func (s subject) rooms(ref Ref) []string {
	if ref.Group {
		return []string{room.GroupRoom(s.groupID)}
	}
	if s.senderID == s.receiverID {
		return []string{room.UserRoom(s.senderID)}
	}
	return []string{room.UserRoom(s.senderID), room.UserRoom(s.receiverID)}
}

func loadSubject(ctx context.Context, tx *store.Tx, op string, ref Ref) (subject, error) {
	if ref.Group {
		m, err := tx.GetGroupMessage(ctx, ref.ID)
		if err != nil {
			return subject{}, err
		}
		if m == nil {
			return subject{}, apperr.Missing(op, "message %d not found", ref.ID)
		}
		return subject{senderID: m.SenderID, groupID: m.GroupID, typ: m.Type, deleted: m.DeletedForAll}, nil
	}
	m, err := tx.GetMessage(ctx, ref.ID)
	if err != nil {
		return subject{}, err
	}
	if m == nil {
		return subject{}, apperr.Missing(op, "message %d not found", ref.ID)
	}
	return subject{senderID: m.SenderID, receiverID: m.ReceiverID, typ: m.Type, deleted: m.DeletedForAll}, nil
}

// participates reports whether userID may see the message.
func participates(ctx context.Context, tx *store.Tx, s subject, ref Ref, userID int64) (bool, error) {
	if ref.Group {
		return tx.IsAccepted(ctx, s.groupID, userID)
	}
	return s.senderID == userID || s.receiverID == userID, nil
}

// Edit replaces the content of a message the actor sent.
func (e *Engine) Edit(ctx context.Context, actorID int64, ref Ref, content string) (*event.Message, error) {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) > e.opts.MaxLength {
		return nil, apperr.Invalid("edit", "message exceeds %d characters", e.opts.MaxLength)
	}
	var view event.Message
	err := e.Run(ctx, "edit", func(tx *store.Tx, b *Batch) error {
		s, err := loadSubject(ctx, tx, "edit", ref)
		if err != nil {
			return err
		}
		if s.senderID != actorID {
			return apperr.Forbidden("edit", "only the sender may edit a message")
		}
		if s.deleted {
			return apperr.Conflicting("edit", "message was deleted")
		}
		if s.typ == store.TypeSystem {
			return apperr.Invalid("edit", "system messages cannot be edited")
		}
		if content == "" && s.typ == store.TypeText {
			return apperr.Invalid("edit", "message content is empty")
		}

		at := e.nowMs()
		if ref.Group {
			if err := tx.EditGroupMessage(ctx, ref.ID, content, at); err != nil {
				return err
			}
			m, err := tx.GetGroupMessage(ctx, ref.ID)
			if err != nil {
				return err
			}
			mentions, err := tx.Mentions(ctx, []int64{ref.ID})
			if err != nil {
				return err
			}
			view = GroupView(*m, mentions[ref.ID])
		} else {
			if err := tx.EditMessage(ctx, ref.ID, content, at); err != nil {
				return err
			}
			m, err := tx.GetMessage(ctx, ref.ID)
			if err != nil {
				return err
			}
			view = DirectView(*m, false)
		}
		for _, r := range s.rooms(ref) {
			b.Emit(r, event.MessageEdited{Type: ref.convType(), Message: view})
		}
		b.Publish(bus.KindMessageEdited, ref)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// DeleteForAll replaces a message with the deletion placeholder for every
// participant. Deleting an already deleted message is a no-op.
func (e *Engine) DeleteForAll(ctx context.Context, actorID int64, ref Ref) error {
	return e.Run(ctx, "delete_for_all", func(tx *store.Tx, b *Batch) error {
		s, err := loadSubject(ctx, tx, "delete_for_all", ref)
		if err != nil {
			return err
		}
		if s.senderID != actorID {
			return apperr.Forbidden("delete_for_all", "only the sender may delete a message for everyone")
		}
		if s.typ == store.TypeSystem {
			return apperr.Invalid("delete_for_all", "system messages cannot be deleted")
		}
		if s.deleted {
			return nil
		}
		if ref.Group {
			err = tx.DeleteGroupMessageForAll(ctx, ref.ID)
		} else {
			err = tx.DeleteMessageForAll(ctx, ref.ID)
		}
		if err != nil {
			return err
		}
		for _, r := range s.rooms(ref) {
			b.Emit(r, event.MessageDeleted{Type: ref.convType(), MessageID: ref.ID, DeletedForAll: true})
		}
		b.Publish(bus.KindMessageDeleted, ref)
		return nil
	})
}

// DeleteForMe hides a message from one participant's views only.
func (e *Engine) DeleteForMe(ctx context.Context, viewerID int64, ref Ref) error {
	return e.Run(ctx, "delete_for_me", func(tx *store.Tx, b *Batch) error {
		s, err := loadSubject(ctx, tx, "delete_for_me", ref)
		if err != nil {
			return err
		}
		ok, err := participates(ctx, tx, s, ref, viewerID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden("delete_for_me", "not a participant of message %d", ref.ID)
		}
		return tx.Hide(ctx, ref.kind(), ref.ID, viewerID, e.nowMs())
	})
}

// Star bookmarks a direct message the user participates in.
func (e *Engine) Star(ctx context.Context, userID, messageID int64) error {
	return e.Run(ctx, "star", func(tx *store.Tx, b *Batch) error {
		if err := e.checkStarrable(ctx, tx, "star", userID, messageID); err != nil {
			return err
		}
		return tx.Star(ctx, userID, messageID, e.nowMs())
	})
}

// Unstar removes a bookmark. Unstarring an unstarred message is a no-op.
func (e *Engine) Unstar(ctx context.Context, userID, messageID int64) error {
	return e.Run(ctx, "unstar", func(tx *store.Tx, b *Batch) error {
		if err := e.checkStarrable(ctx, tx, "unstar", userID, messageID); err != nil {
			return err
		}
		return tx.Unstar(ctx, userID, messageID)
	})
}

func (e *Engine) checkStarrable(ctx context.Context, tx *store.Tx, op string, userID, messageID int64) error {
	s, err := loadSubject(ctx, tx, op, Ref{ID: messageID})
	if err != nil {
		return err
	}
	if s.senderID != userID && s.receiverID != userID {
		return apperr.Forbidden(op, "not a participant of message %d", messageID)
	}
	return nil
}

// Starred lists the user's bookmarked direct messages, newest bookmark first.
func (e *Engine) Starred(ctx context.Context, userID int64) ([]event.Message, error) {
	msgs, err := e.db.StarredMessages(ctx, userID)
	if err != nil {
		return nil, apperr.Store("starred", err)
	}
	out := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, DirectView(m, true))
	}
	return out, nil
}
