package groups

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/store"
)

type fakeRooms struct {
	mu     sync.Mutex
	joined map[int64][]string
	left   map[int64][]string
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{joined: map[int64][]string{}, left: map[int64][]string{}}
}

func (f *fakeRooms) JoinUser(userID int64, r string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[userID] = append(f.joined[userID], r)
	return 1
}

func (f *fakeRooms) LeaveUser(userID int64, r string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left[userID] = append(f.left[userID], r)
	return 1
}

type fixture struct {
	db    *store.DB
	svc   *Service
	rooms *fakeRooms
	clock int64
}

func newFixture(t *testing.T) *fixture {
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

	f := &fixture{db: db, rooms: newFakeRooms(), clock: 1_700_000_000_000}
	engine := lifecycle.NewEngine(db, nil, nil, nil, nil, nil, lifecycle.DefaultOptions())
	engine.Now = func() time.Time {
		f.clock += 1000
		return time.UnixMilli(f.clock)
	}
	f.svc = NewService(db, engine, f.rooms, nil)
	return f
}

func (f *fixture) user(t *testing.T, name, phone string) int64 {
	t.Helper()
	u, err := f.db.CreateUser(context.Background(), name, phone, "password1", 1)
	if err != nil {
		t.Fatal(err)
	}
	return u.ID
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "Owner", "+15550000001")
	other := f.user(t, "Other", "+15550000002")

	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	tests := []struct {
		name    string
		group   string
		members []int64
		kind    apperr.Kind
	}{
		{"blank name", "   ", []int64{other}, apperr.Validation},
		{"long name", string(long), []int64{other}, apperr.Validation},
		{"only owner", "Team", []int64{owner}, apperr.Validation},
		{"no members", "Team", nil, apperr.Validation},
		{"unknown member", "Team", []int64{999}, apperr.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, owner, tt.group, tt.members); apperr.KindOf(err) != tt.kind {
				t.Errorf("err = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestCreateRespondAndLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "Owner", "+15550000001")
	ana := f.user(t, "Ana", "+15550000002")
	ben := f.user(t, "Ben", "+15550000003")

	g, err := f.svc.Create(ctx, owner, "  Book   club ", []int64{ana, ben, ana})
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "Book club" {
		t.Errorf("name = %q, want normalized", g.Name)
	}
	if len(f.rooms.joined[owner]) != 1 || f.rooms.joined[owner][0] != room.GroupRoom(g.ID) {
		t.Errorf("owner rooms = %v", f.rooms.joined[owner])
	}
	if _, err := f.svc.Create(ctx, owner, "BOOK CLUB", []int64{ana}); apperr.KindOf(err) != apperr.Conflict {
		t.Errorf("duplicate name err = %v, want conflict", err)
	}

	invites, err := f.svc.Invites(ctx, ana)
	if err != nil || len(invites) != 1 || invites[0].Group.ID != g.ID {
		t.Fatalf("invites = %+v, %v", invites, err)
	}
	counts, _ := f.db.DirectUnread(ctx, ana)
	if counts[owner] != 1 {
		t.Errorf("invitation DMs = %d, want 1", counts[owner])
	}

	status, err := f.svc.Respond(ctx, ana, g.ID, true)
	if err != nil || status != store.MemberAccepted {
		t.Fatalf("Respond = %q, %v", status, err)
	}
	if _, err := f.svc.Respond(ctx, ana, g.ID, true); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("second respond err = %v, want not found", err)
	}
	if status, _ := f.svc.Respond(ctx, ben, g.ID, false); status != store.MemberDeclined {
		t.Errorf("decline status = %q", status)
	}
	if len(f.rooms.joined[ana]) != 1 || len(f.rooms.joined[ben]) != 0 {
		t.Errorf("joined ana=%v ben=%v", f.rooms.joined[ana], f.rooms.joined[ben])
	}

	hist, err := f.db.GroupHistory(ctx, owner, g.ID, store.Page{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Kind != store.KindSystem || hist[0].Content != "Ana joined the group" {
		t.Fatalf("history after accept = %+v", hist)
	}

	if err := f.svc.Leave(ctx, owner, g.ID); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("owner leave err = %v", err)
	}
	if err := f.svc.Leave(ctx, ben, g.ID); apperr.KindOf(err) != apperr.Authorization {
		t.Errorf("non-member leave err = %v", err)
	}
	if err := f.svc.Leave(ctx, ana, g.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.db.IsAccepted(ctx, g.ID, ana); ok {
		t.Error("member still accepted after leaving")
	}
	if len(f.rooms.left[ana]) != 1 {
		t.Errorf("left rooms = %v", f.rooms.left[ana])
	}
	counts, _ = f.db.DirectUnread(ctx, owner)
	if counts[ana] != 1 {
		t.Errorf("owner notice DMs = %d, want 1", counts[ana])
	}
	hist, _ = f.db.GroupHistory(ctx, owner, g.ID, store.Page{Limit: 50})
	if len(hist) != 2 || hist[1].Content != "Ana left the group" {
		t.Errorf("history after leave = %+v", hist)
	}
}

func TestLeaveDropsUndeliveredReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "Owner", "+15550000001")
	ana := f.user(t, "Ana", "+15550000002")

	g, err := f.svc.Create(ctx, owner, "Club", []int64{ana})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Respond(ctx, ana, g.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.engine.SendGroup(ctx, owner, g.ID, lifecycle.Draft{Content: "while you were away"}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Leave(ctx, ana, g.ID); err != nil {
		t.Fatal(err)
	}

	stamped, err := f.db.DeliverPendingGroup(ctx, ana, f.clock+1)
	if err != nil {
		t.Fatal(err)
	}
	if len(stamped) != 0 {
		t.Errorf("receipts delivered after leaving = %+v, want none", stamped)
	}
}

func TestRolesRenameDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "Owner", "+15550000001")
	ana := f.user(t, "Ana", "+15550000002")
	g, err := f.svc.Create(ctx, owner, "Team", []int64{ana})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Respond(ctx, ana, g.ID, true); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.SetRole(ctx, ana, g.ID, ana, store.RoleAdmin); apperr.KindOf(err) != apperr.Authorization {
		t.Errorf("non-owner set role err = %v", err)
	}
	if err := f.svc.SetRole(ctx, owner, g.ID, owner, store.RoleMember); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("owner demotion err = %v", err)
	}
	if err := f.svc.SetRole(ctx, owner, g.ID, ana, store.RoleOwner); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("promote to owner err = %v", err)
	}
	if err := f.svc.SetRole(ctx, owner, g.ID, ana, store.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	m, _ := f.db.GetMember(ctx, g.ID, ana)
	if m.Role != store.RoleAdmin {
		t.Errorf("role = %q, want admin", m.Role)
	}

	if _, err := f.svc.Rename(ctx, ana, g.ID, "Mine"); apperr.KindOf(err) != apperr.Authorization {
		t.Errorf("admin rename err = %v", err)
	}
	renamed, err := f.svc.Rename(ctx, owner, g.ID, "team")
	if err != nil || renamed.Name != "team" {
		t.Errorf("case-only rename = %+v, %v", renamed, err)
	}

	blocked, err := f.svc.ToggleBlock(ctx, ana, g.ID)
	if err != nil || !blocked {
		t.Errorf("ToggleBlock = %v, %v", blocked, err)
	}
	if blocked, _ := f.svc.ToggleBlock(ctx, ana, g.ID); blocked {
		t.Error("second toggle should unblock")
	}

	if err := f.svc.Delete(ctx, ana, g.ID); apperr.KindOf(err) != apperr.Authorization {
		t.Errorf("admin delete err = %v", err)
	}
	if err := f.svc.Delete(ctx, owner, g.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.db.GetGroup(ctx, g.ID); got != nil {
		t.Error("group still exists")
	}
	if len(f.rooms.left[ana]) != 1 || len(f.rooms.left[owner]) != 1 {
		t.Errorf("room cleanup ana=%v owner=%v", f.rooms.left[ana], f.rooms.left[owner])
	}
}

func TestInviteLinkMaxUses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "Owner", "+15550000001")
	invitee := f.user(t, "Invitee", "+15550000002")
	u5 := f.user(t, "Five", "+15550000005")
	u6 := f.user(t, "Six", "+15550000006")
	g, err := f.svc.Create(ctx, owner, "Team", []int64{invitee})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.CreateInviteLink(ctx, invitee, g.ID, nil, nil); apperr.KindOf(err) != apperr.Authorization {
		t.Errorf("pending member link err = %v", err)
	}
	one := int64(1)
	link, err := f.svc.CreateInviteLink(ctx, owner, g.ID, nil, &one)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.ConsumeInviteLink(ctx, u5, link.Token); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if ok, _ := f.db.IsAccepted(ctx, g.ID, u5); !ok {
		t.Error("user 5 not accepted")
	}
	if _, err := f.svc.ConsumeInviteLink(ctx, u6, link.Token); apperr.KindOf(err) != apperr.Conflict {
		t.Errorf("exhausted consume err = %v, want conflict", err)
	}
	if _, err := f.svc.ConsumeInviteLink(ctx, u5, link.Token); err != nil {
		t.Errorf("rejoin err = %v, want no-op", err)
	}
	stored, _ := f.db.GetInviteLink(ctx, link.Token)
	if stored.Uses != 1 {
		t.Errorf("uses = %d, want 1", stored.Uses)
	}
	if len(f.rooms.joined[u5]) != 1 || len(f.rooms.joined[u6]) != 0 {
		t.Errorf("joined u5=%v u6=%v", f.rooms.joined[u5], f.rooms.joined[u6])
	}

	// A pending invitee consuming a link becomes accepted.
	unlimited, err := f.svc.CreateInviteLink(ctx, owner, g.ID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConsumeInviteLink(ctx, invitee, unlimited.Token); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.db.IsAccepted(ctx, g.ID, invitee); !ok {
		t.Error("pending invitee not accepted")
	}
}

func TestInviteLinkExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "Owner", "+15550000001")
	other := f.user(t, "Other", "+15550000002")
	g, err := f.svc.Create(ctx, owner, "Team", []int64{other})
	if err != nil {
		t.Fatal(err)
	}

	past := f.clock - 1
	if _, err := f.svc.CreateInviteLink(ctx, owner, g.ID, &past, nil); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("past expiry err = %v", err)
	}
	soon := f.clock + 5_000
	link, err := f.svc.CreateInviteLink(ctx, owner, g.ID, &soon, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.clock += 10_000
	if _, err := f.svc.ConsumeInviteLink(ctx, other, link.Token); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("expired consume err = %v, want validation", err)
	}
	if _, err := f.svc.ConsumeInviteLink(ctx, other, "no-such-token"); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("unknown token err = %v", err)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"  a  b ":   "a b",
		"team":      "team",
		"\tx\ny  z": "x y z",
		"   ":       "",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
