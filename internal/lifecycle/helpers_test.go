package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/store"
)

type sent struct {
	room       string
	evt        event.Event
	exceptUser int64
}

type fakeFanout struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeFanout) Broadcast(room string, evt event.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room: room, evt: evt})
	return 1
}

func (f *fakeFanout) BroadcastExceptUser(room string, evt event.Event, userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room: room, evt: evt, exceptUser: userID})
	return 1
}

// named returns the events called name sent to room.
func (f *fakeFanout) named(room, name string) []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Event
	for _, s := range f.sent {
		if s.room == room && s.evt.Name() == name {
			out = append(out, s.evt)
		}
	}
	return out
}

func (f *fakeFanout) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func (f *fakeFanout) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePresence struct {
	mu     sync.Mutex
	online map[int64]bool
	// flipAfter makes a user appear online after that many checks.
	flipAfter map[int64]int
	checks    map[int64]int
}

func newFakePresence(online ...int64) *fakePresence {
	p := &fakePresence{online: map[int64]bool{}, flipAfter: map[int64]int{}, checks: map[int64]int{}}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePresence) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[userID]++
	if n, ok := p.flipAfter[userID]; ok && p.checks[userID] > n {
		return true
	}
	return p.online[userID]
}

type fakeNotifier struct {
	mu     sync.Mutex
	direct []store.Message
	group  []store.GroupMessage
}

func (n *fakeNotifier) NotifyDirect(_ context.Context, m store.Message) {
	n.mu.Lock()
	n.direct = append(n.direct, m)
	n.mu.Unlock()
}

func (n *fakeNotifier) NotifyGroup(_ context.Context, m store.GroupMessage, _ []int64) {
	n.mu.Lock()
	n.group = append(n.group, m)
	n.mu.Unlock()
}

type harness struct {
	db       *store.DB
	engine   *Engine
	fanout   *fakeFanout
	presence *fakePresence
	notifier *fakeNotifier
	clock    atomic.Int64
}

func newHarness(t *testing.T, online ...int64) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	db.SetPasswordCost(bcrypt.MinCost)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:       db,
		fanout:   &fakeFanout{},
		presence: newFakePresence(online...),
		notifier: &fakeNotifier{},
	}
	h.clock.Store(1_700_000_000_000)
	h.engine = NewEngine(db, h.fanout, h.presence, h.notifier, nil, nil, DefaultOptions())
	h.engine.Now = func() time.Time {
		return time.UnixMilli(h.clock.Add(1000))
	}
	return h
}

func (h *harness) user(t *testing.T, name, phone string) int64 {
	t.Helper()
	u, err := h.db.CreateUser(context.Background(), name, phone, "password1", 1)
	if err != nil {
		t.Fatal(err)
	}
	return u.ID
}

// group creates a group owned by owner with every member accepted.
func (h *harness) group(t *testing.T, owner int64, members ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	g := &store.Group{Name: "group", OwnerID: owner, CreatedAt: 1}
	if err := h.db.CreateGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	responded := int64(1)
	add := func(uid int64, role string) {
		if err := h.db.AddMember(ctx, &store.Member{
			GroupID: g.ID, UserID: uid, Status: store.MemberAccepted, Role: role, InvitedAt: 1, RespondedAt: &responded,
		}); err != nil {
			t.Fatal(err)
		}
	}
	add(owner, store.RoleOwner)
	for _, m := range members {
		add(m, store.RoleMember)
	}
	return g.ID
}
