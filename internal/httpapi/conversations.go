package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/conversation"
)

func (a *API) unread(w http.ResponseWriter, r *http.Request) {
	u, err := a.convs.UnreadCounts(r.Context(), caller(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"unread": u})
}

// listConversations returns the ordered listing. ?limit=-1 returns all;
// active_type and active_id keep the open conversation in the window.
func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	v, err := queryInts(r, "limit", "active_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var active *conversation.Key
	if t := r.URL.Query().Get("active_type"); t != "" && v[1] > 0 {
		active = &conversation.Key{Type: t, ID: v[1]}
	}
	entries, err := a.convs.List(r.Context(), caller(r), active, int(v[0]))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []conversation.Entry{}
	}
	a.ok(w, map[string]any{"conversations": entries})
}

func convKey(r *http.Request) (conversation.Key, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return conversation.Key{}, err
	}
	return conversation.Key{Type: mux.Vars(r)["type"], ID: id}, nil
}

func (a *API) settings(w http.ResponseWriter, r *http.Request) {
	key, err := convKey(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	st, err := a.convs.Settings(r.Context(), caller(r), key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"settings": settingView{
		Type:       key.Type,
		ID:         key.ID,
		Archived:   st.IsArchived,
		PinnedRank: st.PinnedRank,
		MutedUntil: st.MutedUntil,
	}})
}

func (a *API) archive(w http.ResponseWriter, r *http.Request) {
	key, err := convKey(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Archived *bool `json:"archived"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Archived == nil {
		a.fail(w, r, apperr.Invalid("archive", "archived is required"))
		return
	}
	if err := a.convs.Archive(r.Context(), caller(r), key, *req.Archived); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

// pin sets the pinned rank. A null rank unpins.
func (a *API) pin(w http.ResponseWriter, r *http.Request) {
	key, err := convKey(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Rank *int64 `json:"rank"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.convs.Pin(r.Context(), caller(r), key, req.Rank); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) mute(w http.ResponseWriter, r *http.Request) {
	key, err := convKey(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Until int64 `json:"until"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.convs.Mute(r.Context(), caller(r), key, req.Until); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) unmute(w http.ResponseWriter, r *http.Request) {
	key, err := convKey(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.convs.Unmute(r.Context(), caller(r), key); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}
