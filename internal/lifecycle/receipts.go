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

// bySender groups stamped message ids per sender, keeping first-seen order.
func bySender(stamped []store.Stamped) ([]int64, map[int64][]int64) {
	var order []int64
	ids := make(map[int64][]int64)
	for _, s := range stamped {
		if _, ok := ids[s.SenderID]; !ok {
			order = append(order, s.SenderID)
		}
		ids[s.SenderID] = append(ids[s.SenderID], s.MessageID)
	}
	return order, ids
}

// emitBatches queues one message_status per sender.
func emitBatches(b *Batch, t event.ConvType, to status.State, viewerID int64, stamped []store.Stamped, at int64) {
	order, ids := bySender(stamped)
	for _, sender := range order {
		b.Emit(room.UserRoom(sender), event.MessageStatus{Type: t, Status: to.Wire(), MessageIDs: ids[sender], At: at})
		b.Publish(bus.KindMessageStatus, status.Change{
			Group:      t == event.Group,
			To:         to,
			SenderID:   sender,
			ViewerID:   viewerID,
			MessageIDs: ids[sender],
			At:         at,
		})
	}
}

// MarkRead marks the listed direct messages read for viewer. Messages the
// viewer did not receive or already read are ignored. It returns how many
// changed.
func (e *Engine) MarkRead(ctx context.Context, viewerID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n := 0
	err := e.Run(ctx, "mark_read", func(tx *store.Tx, b *Batch) error {
		at := e.nowMs()
		stamped, err := tx.MarkRead(ctx, viewerID, ids, at)
		if err != nil {
			return err
		}
		n = len(stamped)
		if n > 0 {
			emitBatches(b, event.Direct, status.Read, viewerID, stamped, at)
			b.Emit(room.UserRoom(viewerID), event.RefreshUnread{Type: event.Direct})
		}
		return nil
	})
	return n, err
}

// MarkConversationRead marks everything peer sent to viewer as read.
func (e *Engine) MarkConversationRead(ctx context.Context, viewerID, peerID int64) (int, error) {
	n := 0
	err := e.Run(ctx, "mark_conversation_read", func(tx *store.Tx, b *Batch) error {
		at := e.nowMs()
		stamped, err := tx.MarkConversationRead(ctx, viewerID, peerID, at)
		if err != nil {
			return err
		}
		n = len(stamped)
		if n > 0 {
			emitBatches(b, event.Direct, status.Read, viewerID, stamped, at)
			b.Emit(room.UserRoom(viewerID), event.RefreshUnread{Type: event.Direct})
		}
		return nil
	})
	return n, err
}

// MarkGroupRead advances viewer's read marker in a group past its newest
// message and stamps the matching receipts.
func (e *Engine) MarkGroupRead(ctx context.Context, viewerID, groupID int64) error {
	return e.Run(ctx, "mark_group_read", func(tx *store.Tx, b *Batch) error {
		ok, err := tx.IsAccepted(ctx, groupID, viewerID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden("mark_group_read", "not a member of group %d", groupID)
		}
		now := e.nowMs()
		newestID, newestAt, err := tx.NewestGroupMessage(ctx, groupID)
		if err != nil {
			return err
		}
		if err := tx.SetLastRead(ctx, groupID, viewerID, max(now, newestAt), newestID); err != nil {
			return err
		}
		stamped, err := tx.MarkReceiptsRead(ctx, groupID, viewerID, now)
		if err != nil {
			return err
		}
		emitBatches(b, event.Group, status.Read, viewerID, stamped, now)
		b.Emit(room.UserRoom(viewerID), event.RefreshUnread{Type: event.Group, GroupID: event.Int64(groupID)})
		return nil
	})
}

// DeliverPending stamps delivered_at on everything addressed to a user who
// just connected, emitting one batched status per sender. It returns the
// number of messages and receipts changed.
func (e *Engine) DeliverPending(ctx context.Context, userID int64) (int, error) {
	n := 0
	err := e.Run(ctx, "deliver_pending", func(tx *store.Tx, b *Batch) error {
		at := e.nowMs()
		direct, err := tx.DeliverPendingDirect(ctx, userID, at)
		if err != nil {
			return err
		}
		group, err := tx.DeliverPendingGroup(ctx, userID, at)
		if err != nil {
			return err
		}
		n = len(direct) + len(group)
		emitBatches(b, event.Direct, status.Delivered, userID, direct, at)
		emitBatches(b, event.Group, status.Delivered, userID, group, at)
		return nil
	})
	return n, err
}
