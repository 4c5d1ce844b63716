// Package presence tracks which users have at least one live connection.
package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/relay/internal/bus"
)

// Transition reports whether a call crossed the online/offline edge.
type Transition int

const (
	None Transition = iota
	BecameOnline
	BecameOffline
)

func (t Transition) String() string {
	switch t {
	case BecameOnline:
		return "online"
	case BecameOffline:
		return "offline"
	default:
		return "none"
	}
}

// Change is the bus payload for presence edges.
type Change struct {
	UserID int64
	Online bool
}

// Tracker reference-counts connections per user.
type Tracker struct {
	mu     sync.Mutex
	counts map[int64]int
	bus    *bus.Bus
}

// NewTracker creates an empty tracker. b may be nil.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		counts: make(map[int64]int),
		bus:    b,
	}
}

// Enter records one more connection for userID.
func (t *Tracker) Enter(userID int64) Transition {
	t.mu.Lock()
	prev := t.counts[userID]
	t.counts[userID] = prev + 1
	t.mu.Unlock()

	if prev > 0 {
		return None
	}
	t.publish(userID, true)
	return BecameOnline
}

// Leave drops one connection for userID. Leaving an absent user is a no-op.
func (t *Tracker) Leave(userID int64) Transition {
	t.mu.Lock()
	n, ok := t.counts[userID]
	if !ok {
		t.mu.Unlock()
		return None
	}
	n--
	if n > 0 {
		t.counts[userID] = n
		t.mu.Unlock()
		return None
	}
	delete(t.counts, userID)
	t.mu.Unlock()

	t.publish(userID, false)
	return BecameOffline
}

// Online reports whether userID has at least one live connection.
func (t *Tracker) Online(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID] > 0
}

// Connections returns the live connection count for userID.
func (t *Tracker) Connections(userID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID]
}

// Snapshot returns the online user ids in ascending order.
func (t *Tracker) Snapshot() []int64 {
	t.mu.Lock()
	ids := make([]int64, 0, len(t.counts))
	for id := range t.counts {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (t *Tracker) publish(userID int64, online bool) {
	if t.bus == nil {
		return
	}
	kind := bus.KindPresenceOffline
	if online {
		kind = bus.KindPresenceOnline
	}
	t.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   Change{UserID: userID, Online: online},
	})
}
