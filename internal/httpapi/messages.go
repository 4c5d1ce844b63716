package httpapi

import (
	"net/http"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/store"
)

type sendRequest struct {
	ReceiverID  int64  `json:"receiver_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url"`
	MediaMime   string `json:"media_mime"`
	ReplyToID   int64  `json:"reply_to_id"`
}

func (s sendRequest) draft() lifecycle.Draft {
	return lifecycle.Draft{
		Content:   s.Content,
		Type:      s.MessageType,
		MediaURL:  s.MediaURL,
		MediaMime: s.MediaMime,
		ReplyTo:   s.ReplyToID,
	}
}

func (a *API) sendDirect(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.ReceiverID <= 0 {
		a.fail(w, r, apperr.Invalid("send", "receiver_id is required"))
		return
	}
	msg, err := a.engine.SendDirect(r.Context(), caller(r), req.ReceiverID, req.draft())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"message": msg})
}

func (a *API) sendGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req sendRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.engine.SendGroup(r.Context(), caller(r), groupID, req.draft())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"message": msg})
}

func page(r *http.Request) (store.Page, error) {
	v, err := queryInts(r, "before_id", "after_id", "limit")
	if err != nil {
		return store.Page{}, err
	}
	return store.Page{BeforeID: v[0], AfterID: v[1], Limit: int(v[2])}, nil
}

func (a *API) directHistory(w http.ResponseWriter, r *http.Request) {
	peer, err := pathID(r, "peer")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	pg, err := page(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msgs, err := a.engine.DirectHistory(r.Context(), caller(r), peer, pg)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"messages": nonNil(msgs)})
}

func (a *API) groupHistory(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	pg, err := page(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msgs, err := a.engine.GroupHistory(r.Context(), caller(r), groupID, pg)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"messages": nonNil(msgs)})
}

func nonNil(msgs []event.Message) []event.Message {
	if msgs == nil {
		return []event.Message{}
	}
	return msgs
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageIDs []int64 `json:"message_ids"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.engine.MarkRead(r.Context(), caller(r), req.MessageIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"updated": n})
}

func (a *API) markConversationRead(w http.ResponseWriter, r *http.Request) {
	peer, err := pathID(r, "peer")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.engine.MarkConversationRead(r.Context(), caller(r), peer)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"updated": n})
}

func (a *API) markGroupRead(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.MarkGroupRead(r.Context(), caller(r), groupID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) editDirect(w http.ResponseWriter, r *http.Request)         { a.edit(w, r, false) }
func (a *API) editGroup(w http.ResponseWriter, r *http.Request)          { a.edit(w, r, true) }
func (a *API) deleteDirect(w http.ResponseWriter, r *http.Request)       { a.delete(w, r, false) }
func (a *API) deleteGroupMessage(w http.ResponseWriter, r *http.Request) { a.delete(w, r, true) }
func (a *API) forwardDirect(w http.ResponseWriter, r *http.Request)      { a.forward(w, r, false) }
func (a *API) forwardGroup(w http.ResponseWriter, r *http.Request)       { a.forward(w, r, true) }

func (a *API) edit(w http.ResponseWriter, r *http.Request, group bool) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.engine.Edit(r.Context(), caller(r), lifecycle.Ref{Group: group, ID: id}, req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"message": msg})
}

// delete removes a message for everyone with ?scope=all, otherwise only for
// the caller.
func (a *API) delete(w http.ResponseWriter, r *http.Request, group bool) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ref := lifecycle.Ref{Group: group, ID: id}
	switch scope := r.URL.Query().Get("scope"); scope {
	case "all":
		err = a.engine.DeleteForAll(r.Context(), caller(r), ref)
	case "", "me":
		err = a.engine.DeleteForMe(r.Context(), caller(r), ref)
	default:
		err = apperr.Invalid("delete", "unknown scope %q", scope)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) forward(w http.ResponseWriter, r *http.Request, group bool) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		UserID  int64 `json:"user_id"`
		GroupID int64 `json:"group_id"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	msg, err := a.engine.Forward(r.Context(), caller(r), lifecycle.Ref{Group: group, ID: id},
		lifecycle.Target{UserID: req.UserID, GroupID: req.GroupID})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"message": msg})
}

func (a *API) star(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.Star(r.Context(), caller(r), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) unstar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.Unstar(r.Context(), caller(r), id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) starred(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.engine.Starred(r.Context(), caller(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"messages": nonNil(msgs)})
}
