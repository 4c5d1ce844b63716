package conversation

import (
	"sort"

	"github.com/matheus3301/relay/internal/store"
)

// Key identifies a conversation from one user's point of view. For direct
// conversations ID is the peer.
type Key struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func DirectKey(peerID int64) Key { return Key{Type: store.KindDirect, ID: peerID} }
func GroupKey(groupID int64) Key { return Key{Type: store.KindGroup, ID: groupID} }

// Entry is one row of the conversation listing.
type Entry struct {
	Key
	Name         string `json:"name"`
	Unread       int    `json:"unread"`
	LastActivity int64  `json:"last_activity,omitempty"`
	CreatedAt    int64  `json:"created_at,omitempty"`
	Archived     bool   `json:"archived"`
	PinnedRank   *int64 `json:"pinned_rank,omitempty"`
	MutedUntil   *int64 `json:"muted_until,omitempty"`
}

// sortTime is the newest message time, else the group creation time.
// Direct conversations without messages have none.
func (e Entry) sortTime() int64 {
	if e.LastActivity > 0 {
		return e.LastActivity
	}
	if e.Type == store.KindGroup {
		return e.CreatedAt
	}
	return 0
}

// Less reports whether a is listed before b.
func Less(a, b Entry) bool {
	if a.Archived != b.Archived {
		return !a.Archived
	}
	ap, bp := a.PinnedRank != nil, b.PinnedRank != nil
	if ap != bp {
		return ap
	}
	if ap && *a.PinnedRank != *b.PinnedRank {
		return *a.PinnedRank < *b.PinnedRank
	}
	at, bt := a.sortTime(), b.sortTime()
	if (at > 0) != (bt > 0) {
		return at > 0
	}
	if at != bt {
		return at > bt
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID > b.ID
}

// Sort orders entries in place: archived last, pinned by rank, then most
// recent activity first.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// Window returns the first limit entries of a sorted listing. When active
// is set and falls outside the window, it replaces the lowest-priority
// visible entry. A limit of zero or less keeps everything.
func Window(sorted []Entry, limit int, active *Key) []Entry {
	if limit <= 0 || len(sorted) <= limit {
		return sorted
	}
	out := make([]Entry, limit)
	copy(out, sorted[:limit])
	if active == nil {
		return out
	}
	for _, e := range out {
		if e.Key == *active {
			return out
		}
	}
	for _, e := range sorted[limit:] {
		if e.Key == *active {
			out[limit-1] = e
			Sort(out)
			return out
		}
	}
	return out
}
