package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/presence"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/store"
)

type env struct {
	db      *store.DB
	engine  *lifecycle.Engine
	tracker *presence.Tracker
	rooms   *room.Router
	jwt     *auth.JWT
	gw      *Gateway
	server  *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithLogger(t, zap.NewNop())
}

func newEnvWithLogger(t *testing.T, logger *zap.Logger) *env {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	db.SetPasswordCost(bcrypt.MinCost)

	rooms := room.NewRouter(logger)
	tracker := presence.NewTracker(nil)
	engine := lifecycle.NewEngine(db, rooms, tracker, nil, nil, logger, lifecycle.DefaultOptions())
	jwt, err := auth.NewJWT("secret", "relay", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	gw := New(db, rooms, tracker, engine, jwt, logger, nil)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
		_ = db.Close()
	})
	return &env{db: db, engine: engine, tracker: tracker, rooms: rooms, jwt: jwt, gw: gw, server: srv}
}

func (e *env) user(t *testing.T, name, phone string) int64 {
	t.Helper()
	u, err := e.db.CreateUser(context.Background(), name, phone, "password1", 1)
	if err != nil {
		t.Fatal(err)
	}
	return u.ID
}

func (e *env) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	tok, err := e.jwt.Sign(userID)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// expect reads frames until one named name arrives.
func expect(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if f.Event == name {
			return f.Data
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		t.Fatal(err)
	}
}

func TestRejectsMissingToken(t *testing.T) {
	e := newEnv(t)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestConnectPresenceAndBackfill(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "Alice", "+15550000001")
	bob := e.user(t, "Bob", "+15550000002")

	a := e.dial(t, alice)
	var ps struct {
		OnlineUserIDs []int64 `json:"online_user_ids"`
	}
	if err := json.Unmarshal(expect(t, a, "presence_state"), &ps); err != nil {
		t.Fatal(err)
	}
	if len(ps.OnlineUserIDs) != 1 || ps.OnlineUserIDs[0] != alice {
		t.Errorf("presence_state = %v", ps.OnlineUserIDs)
	}

	// Bob is offline, so the message stays undelivered until he connects.
	msg, err := e.engine.SendDirect(ctx, alice, bob, lifecycle.Draft{Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.DeliveredAt != nil {
		t.Fatal("message delivered to an offline user")
	}

	b := e.dial(t, bob)
	var us struct {
		UserID int64  `json:"user_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(expect(t, a, "user_status"), &us); err != nil {
		t.Fatal(err)
	}
	if us.UserID != bob || us.Status != "online" {
		t.Errorf("user_status = %+v", us)
	}
	var st struct {
		Status     string  `json:"status"`
		MessageIDs []int64 `json:"message_ids"`
	}
	if err := json.Unmarshal(expect(t, a, "message_status"), &st); err != nil {
		t.Fatal(err)
	}
	if st.Status != "delivered" || len(st.MessageIDs) != 1 || st.MessageIDs[0] != msg.ID {
		t.Errorf("message_status = %+v", st)
	}
	expect(t, b, "presence_state")

	// Typing relays to the receiver only.
	send(t, b, "typing", map[string]any{"receiver_id": alice, "is_typing": true})
	var ty struct {
		SenderID int64 `json:"sender_id"`
		IsTyping bool  `json:"is_typing"`
	}
	if err := json.Unmarshal(expect(t, a, "typing"), &ty); err != nil {
		t.Fatal(err)
	}
	if ty.SenderID != bob || !ty.IsTyping {
		t.Errorf("typing = %+v", ty)
	}

	_ = b.Close()
	if err := json.Unmarshal(expect(t, a, "user_status"), &us); err != nil {
		t.Fatal(err)
	}
	if us.UserID != bob || us.Status != "offline" {
		t.Errorf("user_status after close = %+v", us)
	}
	if e.tracker.Online(bob) {
		t.Error("bob still online after disconnect")
	}
}

func TestSecondSessionKeepsUserOnline(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "Alice", "+15550000001")
	bob := e.user(t, "Bob", "+15550000002")

	a := e.dial(t, alice)
	expect(t, a, "presence_state")
	b1 := e.dial(t, bob)
	expect(t, b1, "presence_state")
	expect(t, a, "user_status")
	b2 := e.dial(t, bob)
	expect(t, b2, "presence_state")

	_ = b1.Close()
	deadline := time.Now().Add(2 * time.Second)
	for e.tracker.Connections(bob) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want 1", e.tracker.Connections(bob))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !e.tracker.Online(bob) {
		t.Error("bob offline with a session left")
	}
}

func TestJoinGroupsRequiresMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.user(t, "Owner", "+15550000001")
	outsider := e.user(t, "Out", "+15550000002")

	g := &store.Group{Name: "Team", OwnerID: owner, CreatedAt: 1}
	if err := e.db.CreateGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	at := int64(1)
	if err := e.db.AddMember(ctx, &store.Member{
		GroupID: g.ID, UserID: owner, Status: store.MemberAccepted, Role: store.RoleOwner, InvitedAt: 1, RespondedAt: &at,
	}); err != nil {
		t.Fatal(err)
	}

	o := e.dial(t, owner)
	expect(t, o, "presence_state")
	x := e.dial(t, outsider)
	expect(t, x, "presence_state")

	send(t, x, "join_groups", map[string]any{"groups": []any{g.ID, "nope"}})
	// Typing into a group the session never joined is dropped; a later
	// direct typing event proves the earlier frames were processed.
	send(t, x, "typing", map[string]any{"group_id": g.ID, "is_typing": true})
	send(t, x, "typing", map[string]any{"receiver_id": owner, "is_typing": true})

	var ty struct {
		GroupID    *int64 `json:"group_id"`
		ReceiverID *int64 `json:"receiver_id"`
	}
	if err := json.Unmarshal(expect(t, o, "typing"), &ty); err != nil {
		t.Fatal(err)
	}
	if ty.GroupID != nil || ty.ReceiverID == nil {
		t.Errorf("owner got group typing from an outsider: %+v", ty)
	}
	if n := e.rooms.Stats().Rooms[room.GroupRoom(g.ID)]; n != 1 {
		t.Errorf("group room sessions = %d, want 1", n)
	}
}

func TestShutdownClosesSessionsBeforeReturning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := newEnvWithLogger(t, zap.New(core))
	alice := e.user(t, "Alice", "+15550000001")

	a := e.dial(t, alice)
	expect(t, a, "presence_state")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	// Cleanup has already run, so the store can go away now.
	if e.tracker.Online(alice) {
		t.Error("alice still online after shutdown")
	}
	if got := logs.FilterMessage("failed to touch last seen").Len(); got != 0 {
		t.Errorf("last-seen touch failed %d times during shutdown", got)
	}

	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := a.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("close error = %v, want going away", err)
			}
			break
		}
	}

	tok, _ := e.jwt.Sign(alice)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + tok
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial after shutdown succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

// statusRecorder is a session that keeps the user_status events it gets.
type statusRecorder struct {
	mu     sync.Mutex
	events []event.UserStatus
}

func (r *statusRecorder) ID() string    { return "recorder" }
func (r *statusRecorder) UserID() int64 { return 999 }

func (r *statusRecorder) Send(evt event.Event) bool {
	if us, ok := evt.(event.UserStatus); ok {
		r.mu.Lock()
		r.events = append(r.events, us)
		r.mu.Unlock()
	}
	return true
}

func TestPresenceEdgesBroadcastInOrder(t *testing.T) {
	e := newEnv(t)
	rec := &statusRecorder{}
	e.rooms.Join(rec, room.UserRoom(rec.UserID()))

	const user = int64(7)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.gw.enter(user)
				e.gw.leave(user)
			}
		}()
	}
	wg.Wait()
	e.gw.enter(user)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) == 0 {
		t.Fatal("no user_status broadcast")
	}
	// Edges must alternate, starting online and ending online.
	want := event.Online
	for i, us := range rec.events {
		if us.Status != want {
			t.Fatalf("event %d = %s, want %s", i, us.Status, want)
		}
		if want == event.Online {
			want = event.Offline
		} else {
			want = event.Online
		}
	}
	if last := rec.events[len(rec.events)-1]; last.Status != event.Online {
		t.Errorf("last edge = %s, want online", last.Status)
	}
}
