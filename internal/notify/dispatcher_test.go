package notify

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/store"
)

// fakeTransport records payloads and fails for endpoints listed in fail.
type fakeTransport struct {
	mu   sync.Mutex
	sent map[string][]Payload
	fail map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: map[string][]Payload{}, fail: map[string]bool{}}
}

func (f *fakeTransport) Send(_ context.Context, sub store.PushSubscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[sub.Endpoint] {
		return errors.New("410 Gone")
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	f.sent[sub.Endpoint] = append(f.sent[sub.Endpoint], p)
	return nil
}

func (f *fakeTransport) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[endpoint])
}

type onlineSet map[int64]bool

func (o onlineSet) Online(id int64) bool { return o[id] }

func testDB(t *testing.T) *store.DB {
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
	return db
}

func mkUser(t *testing.T, db *store.DB, phone string) int64 {
	t.Helper()
	u, err := db.CreateUser(context.Background(), "User "+phone, phone, "password1", 1)
	if err != nil {
		t.Fatal(err)
	}
	return u.ID
}

func subscribe(t *testing.T, d *Dispatcher, userID int64, endpoint string) {
	t.Helper()
	var s Subscription
	s.Endpoint = endpoint
	s.Keys.P256dh = "p256dh"
	s.Keys.Auth = "auth"
	if err := d.Subscribe(context.Background(), userID, s, "test"); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, ch <-chan bus.Event, n int) []bus.Event {
	t.Helper()
	var got []bus.Event
	for len(got) < n {
		select {
		case evt := <-ch:
			got = append(got, evt)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d push results, want %d", len(got), n)
		}
	}
	return got
}

func TestDirectPushDelivered(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	tr := newFakeTransport()
	logger, _ := zap.NewDevelopment()
	d := NewDispatcher(db, tr, onlineSet{}, b, logger, DefaultOptions())
	ctx := context.Background()

	alice := mkUser(t, db, "+15550000001")
	bob := mkUser(t, db, "+15550000002")
	subscribe(t, d, bob, "https://push.example/bob")

	results, unsub := b.Subscribe("push.", 10)
	defer unsub()
	d.Start(ctx)
	defer d.Stop()

	d.NotifyDirect(ctx, store.Message{ID: 7, SenderID: alice, ReceiverID: bob, SenderName: "Alice", Content: "hi", Type: store.TypeText})
	evts := waitFor(t, results, 1)
	if evts[0].Kind != bus.KindPushSent {
		t.Fatalf("kind = %q, want %q", evts[0].Kind, bus.KindPushSent)
	}
	p := tr.sent["https://push.example/bob"][0]
	if p.Title != "Alice" || p.Body != "hi" || p.Tag == "" || p.URL == "" || p.Icon == "" {
		t.Errorf("payload = %+v", p)
	}
	if p.Meta["message_id"] != float64(7) {
		t.Errorf("meta = %v", p.Meta)
	}
}

func TestFailedPushDisablesSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	tr := newFakeTransport()
	tr.fail["https://push.example/stale"] = true
	d := NewDispatcher(db, tr, nil, b, nil, DefaultOptions())
	ctx := context.Background()

	bob := mkUser(t, db, "+15550000002")
	subscribe(t, d, bob, "https://push.example/stale")
	subscribe(t, d, bob, "https://push.example/fresh")

	results, unsub := b.Subscribe("push.", 10)
	defer unsub()
	d.Start(ctx)
	defer d.Stop()

	if !d.Notify(ctx, bob, store.KindDirect, 1, Payload{Title: "x"}) {
		t.Fatal("notification not queued")
	}
	evts := waitFor(t, results, 2)
	failed := 0
	for _, e := range evts {
		if e.Kind == bus.KindPushFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed results = %d, want 1", failed)
	}

	subs, err := db.ActiveSubscriptions(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Endpoint != "https://push.example/fresh" {
		t.Errorf("active subscriptions = %+v", subs)
	}

	// A disabled endpoint is not retried.
	d.Notify(ctx, bob, store.KindDirect, 1, Payload{Title: "y"})
	waitFor(t, results, 1)
	if n := tr.count("https://push.example/fresh"); n != 2 {
		t.Errorf("fresh endpoint pushes = %d, want 2", n)
	}
}

func TestNotifySkips(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	bob := mkUser(t, db, "+15550000002")
	carol := mkUser(t, db, "+15550000003")

	now := time.UnixMilli(1_000_000)
	until := now.UnixMilli() + 60_000
	if err := db.SetMuted(ctx, bob, store.KindDirect, 42, &until, 1); err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(db, newFakeTransport(), onlineSet{carol: true}, nil, nil, DefaultOptions())
	d.Now = func() time.Time { return now }

	if d.Notify(ctx, bob, store.KindDirect, 42, Payload{}) {
		t.Error("muted conversation was queued")
	}
	if !d.Notify(ctx, bob, store.KindDirect, 43, Payload{}) {
		t.Error("unmuted conversation was not queued")
	}
	if d.Notify(ctx, carol, store.KindDirect, 42, Payload{}) {
		t.Error("online recipient was queued")
	}

	d.Now = func() time.Time { return now.Add(2 * time.Minute) }
	if !d.Notify(ctx, bob, store.KindDirect, 42, Payload{}) {
		t.Error("expired mute still suppresses pushes")
	}

	opts := DefaultOptions()
	opts.OnlyOffline = false
	always := NewDispatcher(db, newFakeTransport(), onlineSet{carol: true}, nil, nil, opts)
	if !always.Notify(ctx, carol, store.KindDirect, 42, Payload{}) {
		t.Error("online recipient skipped with only_offline disabled")
	}

	disabled := NewDispatcher(db, nil, nil, nil, nil, DefaultOptions())
	if disabled.Notify(ctx, bob, store.KindDirect, 43, Payload{}) {
		t.Error("dispatcher without transport queued a job")
	}
}

func TestFullQueueDrops(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	bob := mkUser(t, db, "+15550000002")

	opts := DefaultOptions()
	opts.QueueSize = 1
	d := NewDispatcher(db, newFakeTransport(), nil, nil, nil, opts)

	if !d.Notify(ctx, bob, store.KindDirect, 1, Payload{}) {
		t.Fatal("first job not queued")
	}
	if d.Notify(ctx, bob, store.KindDirect, 1, Payload{}) {
		t.Error("job queued past capacity")
	}
}

func TestSubscribeValidation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	bob := mkUser(t, db, "+15550000002")
	d := NewDispatcher(db, nil, nil, nil, nil, DefaultOptions())

	var s Subscription
	s.Endpoint = "http://insecure.example/x"
	s.Keys.P256dh, s.Keys.Auth = "k", "a"
	if err := d.Subscribe(ctx, bob, s, ""); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("http endpoint err = %v", err)
	}
	s.Endpoint = "https://push.example/x"
	s.Keys.Auth = ""
	if err := d.Subscribe(ctx, bob, s, ""); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("missing keys err = %v", err)
	}
	if err := d.Unsubscribe(ctx, bob, "https://push.example/none"); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("unknown endpoint err = %v", err)
	}
}

func TestPreview(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		typ, content, want string
	}{
		{store.TypeText, "hello", "hello"},
		{store.TypeImage, "", "Photo"},
		{store.TypeImage, "look", "look"},
		{store.TypeAudio, "", "Voice message"},
		{store.TypeFile, "", "File"},
		{store.TypeText, string(long), string(long[:previewRunes]) + "…"},
	}
	for _, tt := range tests {
		if got := preview(tt.typ, tt.content); got != tt.want {
			t.Errorf("preview(%q, %.10q) = %.10q, want %.10q", tt.typ, tt.content, got, tt.want)
		}
	}
}

func TestNewWebPushRequiresKeys(t *testing.T) {
	if _, err := NewWebPush(VAPID{}, 60); err == nil {
		t.Error("expected error without keys")
	}
	pub, priv, err := GenerateVAPID()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewWebPush(VAPID{PublicKey: pub, PrivateKey: priv, Subscriber: "ops@example.com"}, 0); err != nil {
		t.Errorf("NewWebPush() = %v", err)
	}
}
