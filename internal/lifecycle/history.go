package lifecycle

import (
	"context"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/store"
)

// DirectHistory returns one page of the conversation between viewer and
// peer, oldest first, with the viewer's overlays applied.
func (e *Engine) DirectHistory(ctx context.Context, viewerID, peerID int64, page store.Page) ([]event.Message, error) {
	peer, err := e.db.GetUser(ctx, peerID)
	if err != nil {
		return nil, apperr.Store("direct_history", err)
	}
	if peer == nil {
		return nil, apperr.Missing("direct_history", "user %d not found", peerID)
	}
	page.Limit = e.opts.ClampLimit(page.Limit)
	msgs, err := e.db.DirectHistory(ctx, viewerID, peerID, page)
	if err != nil {
		return nil, apperr.Store("direct_history", err)
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	starred, err := e.db.StarredIDs(ctx, viewerID, ids)
	if err != nil {
		return nil, apperr.Store("direct_history", err)
	}
	out := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, DirectView(m, starred[m.ID]))
	}
	return out, nil
}

// GroupHistory returns one page of a group's messages, oldest first. Only
// accepted members may read it.
func (e *Engine) GroupHistory(ctx context.Context, viewerID, groupID int64, page store.Page) ([]event.Message, error) {
	g, err := e.db.GetGroup(ctx, groupID)
	if err != nil {
		return nil, apperr.Store("group_history", err)
	}
	if g == nil {
		return nil, apperr.Missing("group_history", "group %d not found", groupID)
	}
	ok, err := e.db.IsAccepted(ctx, groupID, viewerID)
	if err != nil {
		return nil, apperr.Store("group_history", err)
	}
	if !ok {
		return nil, apperr.Forbidden("group_history", "not a member of group %d", groupID)
	}
	page.Limit = e.opts.ClampLimit(page.Limit)
	msgs, err := e.db.GroupHistory(ctx, viewerID, groupID, page)
	if err != nil {
		return nil, apperr.Store("group_history", err)
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	mentions, err := e.db.Mentions(ctx, ids)
	if err != nil {
		return nil, apperr.Store("group_history", err)
	}
	out := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, GroupView(m, mentions[m.ID]))
	}
	return out, nil
}
