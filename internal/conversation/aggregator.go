// Package conversation derives per-user conversation state: unread
// counters, the ordered conversation listing and the archive, pin and mute
// overlays.
package conversation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/store"
)

// DefaultPreviewLimit is the listing size when none is configured.
const DefaultPreviewLimit = 10

// Unread is a user's unread snapshot.
type Unread struct {
	Direct        map[int64]int   `json:"direct"`
	Groups        map[int64]int   `json:"groups"`
	Invites       int             `json:"invites"`
	LastActUsers  map[int64]int64 `json:"last_activity_users"`
	LastActGroups map[int64]int64 `json:"last_activity_groups"`
}

// Aggregator computes conversation views from the store.
type Aggregator struct {
	db           *store.DB
	logger       *zap.Logger
	previewLimit int

	Now func() time.Time
}

// NewAggregator creates an Aggregator. previewLimit <= 0 selects the default.
func NewAggregator(db *store.DB, logger *zap.Logger, previewLimit int) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	return &Aggregator{db: db, logger: logger, previewLimit: previewLimit, Now: time.Now}
}

// UnreadCounts returns the unread snapshot of userID.
func (a *Aggregator) UnreadCounts(ctx context.Context, userID int64) (*Unread, error) {
	var (
		u   Unread
		err error
	)
	if u.Direct, err = a.db.DirectUnread(ctx, userID); err != nil {
		return nil, apperr.Store("unread_counts", err)
	}
	if u.Groups, err = a.db.GroupUnread(ctx, userID); err != nil {
		return nil, apperr.Store("unread_counts", err)
	}
	if u.Invites, err = a.db.CountPendingInvites(ctx, userID); err != nil {
		return nil, apperr.Store("unread_counts", err)
	}
	if u.LastActUsers, err = a.db.DirectLastActivity(ctx, userID); err != nil {
		return nil, apperr.Store("unread_counts", err)
	}
	if u.LastActGroups, err = a.db.GroupLastActivity(ctx, userID); err != nil {
		return nil, apperr.Store("unread_counts", err)
	}
	return &u, nil
}

// List returns userID's conversations in display order, trimmed to limit
// (the configured preview limit when limit is 0, everything when negative).
// active, when set, is always part of the result if it exists.
func (a *Aggregator) List(ctx context.Context, userID int64, active *Key, limit int) ([]Entry, error) {
	unread, err := a.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	users, err := a.db.ListUsers(ctx, userID)
	if err != nil {
		return nil, apperr.Store("list_conversations", err)
	}
	groups, err := a.db.AcceptedGroups(ctx, userID)
	if err != nil {
		return nil, apperr.Store("list_conversations", err)
	}
	settings, err := a.db.ListSettings(ctx, userID)
	if err != nil {
		return nil, apperr.Store("list_conversations", err)
	}
	overlay := make(map[Key]store.ConversationSetting, len(settings))
	for _, s := range settings {
		overlay[Key{Type: s.ConvType, ID: s.ConvID}] = s
	}

	entries := make([]Entry, 0, len(users)+len(groups))
	for _, u := range users {
		entries = append(entries, Entry{
			Key:          DirectKey(u.ID),
			Name:         u.DisplayName,
			Unread:       unread.Direct[u.ID],
			LastActivity: unread.LastActUsers[u.ID],
		})
	}
	for _, g := range groups {
		entries = append(entries, Entry{
			Key:          GroupKey(g.ID),
			Name:         g.Name,
			Unread:       unread.Groups[g.ID],
			LastActivity: unread.LastActGroups[g.ID],
			CreatedAt:    g.CreatedAt,
		})
	}
	for i := range entries {
		if s, ok := overlay[entries[i].Key]; ok {
			entries[i].Archived = s.IsArchived
			entries[i].PinnedRank = s.PinnedRank
			entries[i].MutedUntil = s.MutedUntil
		}
	}

	Sort(entries)
	if limit == 0 {
		limit = a.previewLimit
	}
	return Window(entries, limit, active), nil
}
