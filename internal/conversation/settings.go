package conversation

import (
	"context"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/store"
)

// checkKey verifies that key names a conversation userID can see.
func (a *Aggregator) checkKey(ctx context.Context, op string, userID int64, key Key) error {
	switch key.Type {
	case store.KindDirect:
		u, err := a.db.GetUser(ctx, key.ID)
		if err != nil {
			return apperr.Store(op, err)
		}
		if u == nil {
			return apperr.Missing(op, "user %d not found", key.ID)
		}
	case store.KindGroup:
		g, err := a.db.GetGroup(ctx, key.ID)
		if err != nil {
			return apperr.Store(op, err)
		}
		if g == nil {
			return apperr.Missing(op, "group %d not found", key.ID)
		}
		ok, err := a.db.IsAccepted(ctx, key.ID, userID)
		if err != nil {
			return apperr.Store(op, err)
		}
		if !ok {
			return apperr.Forbidden(op, "not a member of group %d", key.ID)
		}
	default:
		return apperr.Invalid(op, "unknown conversation type %q", key.Type)
	}
	return nil
}

// Archive sets or clears the archive flag of a conversation.
func (a *Aggregator) Archive(ctx context.Context, userID int64, key Key, archived bool) error {
	if err := a.checkKey(ctx, "archive", userID, key); err != nil {
		return err
	}
	if err := a.db.SetArchived(ctx, userID, key.Type, key.ID, archived, a.Now().UnixMilli()); err != nil {
		return apperr.Store("archive", err)
	}
	return nil
}

// Pin places a conversation at rank among pinned ones. A nil rank unpins.
func (a *Aggregator) Pin(ctx context.Context, userID int64, key Key, rank *int64) error {
	if rank != nil && *rank < 0 {
		return apperr.Invalid("pin", "rank must not be negative")
	}
	if err := a.checkKey(ctx, "pin", userID, key); err != nil {
		return err
	}
	if err := a.db.SetPinned(ctx, userID, key.Type, key.ID, rank, a.Now().UnixMilli()); err != nil {
		return apperr.Store("pin", err)
	}
	return nil
}

// Mute silences push notifications of a conversation until the given unix
// millisecond time. Realtime events are unaffected.
func (a *Aggregator) Mute(ctx context.Context, userID int64, key Key, until int64) error {
	now := a.Now().UnixMilli()
	if until <= now {
		return apperr.Invalid("mute", "mute must end in the future")
	}
	if err := a.checkKey(ctx, "mute", userID, key); err != nil {
		return err
	}
	if err := a.db.SetMuted(ctx, userID, key.Type, key.ID, &until, now); err != nil {
		return apperr.Store("mute", err)
	}
	return nil
}

// Unmute clears a mute.
func (a *Aggregator) Unmute(ctx context.Context, userID int64, key Key) error {
	if err := a.checkKey(ctx, "unmute", userID, key); err != nil {
		return err
	}
	if err := a.db.SetMuted(ctx, userID, key.Type, key.ID, nil, a.Now().UnixMilli()); err != nil {
		return apperr.Store("unmute", err)
	}
	return nil
}

// Settings returns the overlay of one conversation. Unset overlays come
// back zero-valued.
func (a *Aggregator) Settings(ctx context.Context, userID int64, key Key) (*store.ConversationSetting, error) {
	if err := a.checkKey(ctx, "settings", userID, key); err != nil {
		return nil, err
	}
	s, err := a.db.GetSetting(ctx, userID, key.Type, key.ID)
	if err != nil {
		return nil, apperr.Store("settings", err)
	}
	if s == nil {
		s = &store.ConversationSetting{UserID: userID, ConvType: key.Type, ConvID: key.ID}
	}
	return s, nil
}
