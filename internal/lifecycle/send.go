package lifecycle

import (
	"context"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/status"
	"github.com/matheus3301/relay/internal/store"
)

// Sent is the bus payload published for every committed message.
type Sent struct {
	Type      event.ConvType
	MessageID int64
	SenderID  int64
	TargetID  int64
	Delivered bool
}

// Ref points at a direct or group message.
type Ref struct {
	Group bool
	ID    int64
}

func (r Ref) convType() event.ConvType {
	if r.Group {
		return event.Group
	}
	return event.Direct
}

func (r Ref) kind() string {
	if r.Group {
		return store.KindGroup
	}
	return store.KindDirect
}

type outgoing struct {
	content   string
	typ       string
	mediaURL  *string
	mediaMime *string
	replyTo   int64
	forwarded bool
	system    bool
}

func fromDraft(d Draft, maxLen int) (outgoing, error) {
	content, typ, err := ValidateContent(d, maxLen)
	if err != nil {
		return outgoing{}, err
	}
	out := outgoing{content: content, typ: typ, replyTo: d.ReplyTo}
	if typ != store.TypeText {
		url := d.MediaURL
		out.mediaURL = &url
		if d.MediaMime != "" {
			mime := d.MediaMime
			out.mediaMime = &mime
		}
	}
	return out, nil
}

// SendDirect stores a direct message from sender to receiver and fans it out.
func (e *Engine) SendDirect(ctx context.Context, senderID, receiverID int64, d Draft) (*event.Message, error) {
	out, err := fromDraft(d, e.opts.MaxLength)
	if err != nil {
		return nil, err
	}
	var view event.Message
	err = e.Run(ctx, "send_direct", func(tx *store.Tx, b *Batch) error {
		m, err := e.sendDirectTx(ctx, tx, b, senderID, receiverID, out)
		if err != nil {
			return err
		}
		view = DirectView(*m, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// SendDirectSystem posts a system notice from one user to another.
func (e *Engine) SendDirectSystem(ctx context.Context, fromID, toID int64, text string) (*event.Message, error) {
	var view event.Message
	err := e.Run(ctx, "send_direct_system", func(tx *store.Tx, b *Batch) error {
		m, err := e.DirectSystemTx(ctx, tx, b, fromID, toID, text)
		if err != nil {
			return err
		}
		view = DirectView(*m, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// DirectSystemTx posts a system notice inside a running transition.
func (e *Engine) DirectSystemTx(ctx context.Context, tx *store.Tx, b *Batch, fromID, toID int64, text string) (*store.Message, error) {
	return e.sendDirectTx(ctx, tx, b, fromID, toID, outgoing{content: text, typ: store.TypeSystem, system: true})
}

func (e *Engine) sendDirectTx(ctx context.Context, tx *store.Tx, b *Batch, senderID, receiverID int64, out outgoing) (*store.Message, error) {
	sender, err := tx.GetUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, apperr.Missing("send_direct", "sender %d not found", senderID)
	}
	receiver, err := tx.GetUser(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, apperr.Missing("send_direct", "user %d not found", receiverID)
	}

	now := e.nowMs()
	m := store.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		SenderName: sender.DisplayName,
		Content:    out.content,
		Type:       out.typ,
		MediaURL:   out.mediaURL,
		MediaMime:  out.mediaMime,
		CreatedAt:  now,
		Forwarded:  out.forwarded,
	}
	if out.replyTo > 0 {
		ref, err := tx.GetMessage(ctx, out.replyTo)
		if err != nil {
			return nil, err
		}
		var target *ConvKey
		if ref != nil {
			k := DirectKey(ref.SenderID, ref.ReceiverID)
			target = &k
		}
		m.ReplyToID = ResolveReply(out.replyTo, target, DirectKey(senderID, receiverID))
	}

	delivered := e.online(receiverID)
	if delivered {
		if err := status.Check(status.Sent, status.Delivered); err != nil {
			return nil, err
		}
		m.DeliveredAt = &now
	}
	if err := tx.InsertMessage(ctx, &m); err != nil {
		return nil, err
	}

	view := DirectView(m, false)
	b.Emit(room.UserRoom(receiverID), event.NewMessage{Type: event.Direct, Message: view})
	if senderID != receiverID {
		b.Emit(room.UserRoom(senderID), event.NewMessage{Type: event.Direct, Message: view})
	}
	b.Emit(room.UserRoom(receiverID), event.RefreshUnread{Type: event.Direct, MessageID: event.Int64(m.ID)})
	if delivered {
		b.Emit(room.UserRoom(senderID), event.MessageStatus{
			Type: event.Direct, Status: event.StatusDelivered, MessageIDs: []int64{m.ID}, At: now,
		})
	} else {
		b.recheck = append(b.recheck, m)
	}
	if !out.system {
		b.direct = append(b.direct, m)
	}
	b.Publish(bus.KindMessageSent, Sent{Type: event.Direct, MessageID: m.ID, SenderID: senderID, TargetID: receiverID, Delivered: delivered})
	return &m, nil
}

// SendGroup stores a message in a group the sender has accepted and fans it
// out to the group room.
func (e *Engine) SendGroup(ctx context.Context, senderID, groupID int64, d Draft) (*event.Message, error) {
	out, err := fromDraft(d, e.opts.MaxLength)
	if err != nil {
		return nil, err
	}
	var view event.Message
	err = e.Run(ctx, "send_group", func(tx *store.Tx, b *Batch) error {
		m, mentions, err := e.sendGroupTx(ctx, tx, b, senderID, groupID, out)
		if err != nil {
			return err
		}
		view = GroupView(*m, mentions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// SendSystem posts a membership notice to a group on behalf of actor.
func (e *Engine) SendSystem(ctx context.Context, groupID, actorID int64, text string) (*event.Message, error) {
	var view event.Message
	err := e.Run(ctx, "send_system", func(tx *store.Tx, b *Batch) error {
		m, err := e.SystemTx(ctx, tx, b, groupID, actorID, text)
		if err != nil {
			return err
		}
		view = GroupView(*m, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// SystemTx posts a group system notice inside a running transition. The
// actor need not be an accepted member (they may be leaving).
func (e *Engine) SystemTx(ctx context.Context, tx *store.Tx, b *Batch, groupID, actorID int64, text string) (*store.GroupMessage, error) {
	m, _, err := e.sendGroupTx(ctx, tx, b, actorID, groupID, outgoing{content: text, typ: store.TypeSystem, system: true})
	return m, err
}

func (e *Engine) sendGroupTx(ctx context.Context, tx *store.Tx, b *Batch, senderID, groupID int64, out outgoing) (*store.GroupMessage, []int64, error) {
	g, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	if g == nil {
		return nil, nil, apperr.Missing("send_group", "group %d not found", groupID)
	}
	if !out.system {
		ok, err := tx.IsAccepted(ctx, groupID, senderID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, apperr.Forbidden("send_group", "not a member of group %d", groupID)
		}
	}
	sender, err := tx.GetUser(ctx, senderID)
	if err != nil {
		return nil, nil, err
	}
	if sender == nil {
		return nil, nil, apperr.Missing("send_group", "sender %d not found", senderID)
	}

	now := e.nowMs()
	kind := store.KindUser
	if out.system {
		kind = store.KindSystem
	}
	m := store.GroupMessage{
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: sender.DisplayName,
		Content:    out.content,
		Type:       out.typ,
		Kind:       kind,
		MediaURL:   out.mediaURL,
		MediaMime:  out.mediaMime,
		CreatedAt:  now,
		Forwarded:  out.forwarded,
	}
	if out.replyTo > 0 {
		ref, err := tx.GetGroupMessage(ctx, out.replyTo)
		if err != nil {
			return nil, nil, err
		}
		var target *ConvKey
		if ref != nil {
			k := GroupKey(ref.GroupID)
			target = &k
		}
		m.ReplyToID = ResolveReply(out.replyTo, target, GroupKey(groupID))
	}
	if err := tx.InsertGroupMessage(ctx, &m); err != nil {
		return nil, nil, err
	}

	members, err := tx.AcceptedMemberIDs(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	var recipients []int64
	delivered := 0
	memberSet := make(map[int64]bool, len(members))
	for _, uid := range members {
		memberSet[uid] = true
		if uid == senderID {
			continue
		}
		recipients = append(recipients, uid)
		var at *int64
		if e.online(uid) {
			at = &now
			delivered++
		}
		if err := tx.InsertReceipt(ctx, m.ID, uid, at); err != nil {
			return nil, nil, err
		}
	}

	var mentions []int64
	if !out.system {
		if tokens := ExtractMentions(m.Content); len(tokens) > 0 {
			byPhone, err := tx.UsersByPhones(ctx, tokens)
			if err != nil {
				return nil, nil, err
			}
			mentions = ResolveMentions(tokens, byPhone, memberSet, senderID)
			if err := tx.InsertMentions(ctx, m.ID, mentions); err != nil {
				return nil, nil, err
			}
		}
	}

	view := GroupView(m, mentions)
	gr := room.GroupRoom(groupID)
	b.Emit(gr, event.NewMessage{Type: event.Group, Message: view})
	b.Emit(gr, event.RefreshUnread{Type: event.Group, GroupID: event.Int64(groupID)})
	if delivered > 0 {
		b.Emit(room.UserRoom(senderID), event.MessageStatus{
			Type: event.Group, Status: event.StatusDelivered, MessageIDs: []int64{m.ID}, At: now,
		})
	}
	if !out.system && len(recipients) > 0 {
		b.group = append(b.group, groupPush{msg: m, recipients: recipients})
	}
	b.Publish(bus.KindMessageSent, Sent{Type: event.Group, MessageID: m.ID, SenderID: senderID, TargetID: groupID, Delivered: delivered > 0})
	return &m, mentions, nil
}

// Target selects where a forwarded message goes. Exactly one field is set.
type Target struct {
	UserID  int64
	GroupID int64
}

// Forward copies a message the actor can see into another conversation.
func (e *Engine) Forward(ctx context.Context, actorID int64, src Ref, to Target) (*event.Message, error) {
	if (to.UserID == 0) == (to.GroupID == 0) {
		return nil, apperr.Invalid("forward", "exactly one of user or group target is required")
	}
	var view event.Message
	err := e.Run(ctx, "forward", func(tx *store.Tx, b *Batch) error {
		out, err := e.forwardSource(ctx, tx, actorID, src)
		if err != nil {
			return err
		}
		if to.UserID != 0 {
			m, err := e.sendDirectTx(ctx, tx, b, actorID, to.UserID, out)
			if err != nil {
				return err
			}
			view = DirectView(*m, false)
			return nil
		}
		m, mentions, err := e.sendGroupTx(ctx, tx, b, actorID, to.GroupID, out)
		if err != nil {
			return err
		}
		view = GroupView(*m, mentions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (e *Engine) forwardSource(ctx context.Context, tx *store.Tx, actorID int64, src Ref) (outgoing, error) {
	var (
		content, typ        string
		mediaURL, mediaMime *string
		deleted             bool
	)
	if src.Group {
		m, err := tx.GetGroupMessage(ctx, src.ID)
		if err != nil {
			return outgoing{}, err
		}
		if m == nil {
			return outgoing{}, apperr.Missing("forward", "message %d not found", src.ID)
		}
		ok, err := tx.IsAccepted(ctx, m.GroupID, actorID)
		if err != nil {
			return outgoing{}, err
		}
		if !ok {
			return outgoing{}, apperr.Forbidden("forward", "not a member of group %d", m.GroupID)
		}
		content, typ, mediaURL, mediaMime, deleted = m.Content, m.Type, m.MediaURL, m.MediaMime, m.DeletedForAll
	} else {
		m, err := tx.GetMessage(ctx, src.ID)
		if err != nil {
			return outgoing{}, err
		}
		if m == nil {
			return outgoing{}, apperr.Missing("forward", "message %d not found", src.ID)
		}
		if m.SenderID != actorID && m.ReceiverID != actorID {
			return outgoing{}, apperr.Forbidden("forward", "not a participant of message %d", src.ID)
		}
		content, typ, mediaURL, mediaMime, deleted = m.Content, m.Type, m.MediaURL, m.MediaMime, m.DeletedForAll
	}
	if deleted {
		return outgoing{}, apperr.Invalid("forward", "a deleted message cannot be forwarded")
	}
	if typ == store.TypeSystem {
		return outgoing{}, apperr.Invalid("forward", "system messages cannot be forwarded")
	}
	return outgoing{content: content, typ: typ, mediaURL: mediaURL, mediaMime: mediaMime, forwarded: true}, nil
}
