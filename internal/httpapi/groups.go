package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/matheus3301/relay/internal/apperr"
)

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string  `json:"name"`
		MemberIDs []int64 `json:"member_ids"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	g, err := a.groups.Create(r.Context(), caller(r), req.Name, req.MemberIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"group": viewGroup(g)})
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	gs, err := a.groups.AcceptedGroups(r.Context(), caller(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"groups": viewGroups(gs)})
}

func (a *API) listInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := a.groups.Invites(r.Context(), caller(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]inviteView, 0, len(invites))
	for i := range invites {
		inv := &invites[i]
		out = append(out, inviteView{Group: viewGroup(&inv.Group), InvitedBy: inv.InvitedBy, InvitedAt: inv.InvitedAt})
	}
	a.ok(w, map[string]any{"invites": out})
}

func (a *API) respondInvite(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Accept *bool `json:"accept"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Accept == nil {
		a.fail(w, r, apperr.Invalid("respond", "accept is required"))
		return
	}
	status, err := a.groups.Respond(r.Context(), caller(r), groupID, *req.Accept)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"status": status})
}

func (a *API) leaveGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.groups.Leave(r.Context(), caller(r), groupID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) toggleBlock(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	blocked, err := a.groups.ToggleBlock(r.Context(), caller(r), groupID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"blocked": blocked})
}

func (a *API) setRole(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	target, err := pathID(r, "user")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.groups.SetRole(r.Context(), caller(r), groupID, target, req.Role); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) renameGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	g, err := a.groups.Rename(r.Context(), caller(r), groupID, req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"group": viewGroup(g)})
}

func (a *API) deleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.groups.Delete(r.Context(), caller(r), groupID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) createLink(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		ExpiresAt *int64 `json:"expires_at"`
		MaxUses   *int64 `json:"max_uses"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	l, err := a.groups.CreateInviteLink(r.Context(), caller(r), groupID, req.ExpiresAt, req.MaxUses)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"link": linkView{
		Token:     l.Token,
		GroupID:   l.GroupID,
		ExpiresAt: l.ExpiresAt,
		MaxUses:   l.MaxUses,
		Uses:      l.Uses,
		CreatedAt: l.CreatedAt,
	}})
}

func (a *API) consumeLink(w http.ResponseWriter, r *http.Request) {
	g, err := a.groups.ConsumeInviteLink(r.Context(), caller(r), mux.Vars(r)["token"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"group": viewGroup(g)})
}
