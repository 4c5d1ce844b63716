package httpapi

import "github.com/matheus3301/relay/internal/store"

type userView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type groupView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	OwnerID   int64  `json:"owner_id"`
	CreatedAt int64  `json:"created_at"`
}

func viewGroup(g *store.Group) groupView {
	return groupView{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID, CreatedAt: g.CreatedAt}
}

func viewGroups(gs []store.Group) []groupView {
	out := make([]groupView, 0, len(gs))
	for i := range gs {
		out = append(out, viewGroup(&gs[i]))
	}
	return out
}

type inviteView struct {
	Group     groupView `json:"group"`
	InvitedBy *int64    `json:"invited_by"`
	InvitedAt int64     `json:"invited_at"`
}

type linkView struct {
	Token     string `json:"token"`
	GroupID   int64  `json:"group_id"`
	ExpiresAt *int64 `json:"expires_at"`
	MaxUses   *int64 `json:"max_uses"`
	Uses      int64  `json:"uses"`
	CreatedAt int64  `json:"created_at"`
}

type settingView struct {
	Type       string `json:"type"`
	ID         int64  `json:"id"`
	Archived   bool   `json:"archived"`
	PinnedRank *int64 `json:"pinned_rank"`
	MutedUntil *int64 `json:"muted_until"`
}
