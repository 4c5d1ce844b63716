// Package lifecycle owns every state change of a message: send, delivery,
// read, edit, delete, star and forward. Realtime events and push jobs are
// collected while a transaction runs and released only after it commits.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/store"
)

// Fanout delivers events to rooms. *room.Router implements it.
type Fanout interface {
	Broadcast(room string, evt event.Event) int
	BroadcastExceptUser(room string, evt event.Event, userID int64) int
}

// Presence answers whether a user has a live connection.
type Presence interface {
	Online(userID int64) bool
}

// Notifier queues push notifications for committed messages.
type Notifier interface {
	NotifyDirect(ctx context.Context, msg store.Message)
	NotifyGroup(ctx context.Context, msg store.GroupMessage, recipients []int64)
}

// Options bounds message content and history pages.
type Options struct {
	MaxLength   int
	PageDefault int
	PageMin     int
	PageMax     int
}

// DefaultOptions returns the stock limits.
func DefaultOptions() Options {
	return Options{MaxLength: 5000, PageDefault: 50, PageMin: 20, PageMax: 200}
}

// Engine is the message lifecycle engine.
type Engine struct {
	db       *store.DB
	rooms    Fanout
	presence Presence
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	// Now is the clock. Tests replace it.
	Now func() time.Time
}

// NewEngine creates a lifecycle engine. notifier and b may be nil.
func NewEngine(db *store.DB, rooms Fanout, presence Presence, notifier Notifier, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MaxLength <= 0 {
		opts.MaxLength = def.MaxLength
	}
	if opts.PageMin <= 0 {
		opts.PageMin = def.PageMin
	}
	if opts.PageMax < opts.PageMin {
		opts.PageMax = def.PageMax
	}
	if opts.PageDefault <= 0 {
		opts.PageDefault = def.PageDefault
	}
	return &Engine{
		db:       db,
		rooms:    rooms,
		presence: presence,
		notifier: notifier,
		bus:      b,
		logger:   logger,
		opts:     opts,
		Now:      time.Now,
	}
}

func (e *Engine) nowMs() int64 { return e.Now().UnixMilli() }

func (e *Engine) online(userID int64) bool {
	return e.presence != nil && e.presence.Online(userID)
}

// outbound is one event addressed to a room.
type outbound struct {
	room       string
	evt        event.Event
	exceptUser int64
}

type groupPush struct {
	msg        store.GroupMessage
	recipients []int64
}

// Batch collects what a transition releases after commit.
type Batch struct {
	events  []outbound
	direct  []store.Message
	group   []groupPush
	bus     []bus.Event
	recheck []store.Message
	after   []func()
}

// Emit queues evt for every session in roomName.
func (b *Batch) Emit(roomName string, evt event.Event) {
	b.events = append(b.events, outbound{room: roomName, evt: evt})
}

// EmitExcept queues evt for roomName, skipping the sessions of userID.
func (b *Batch) EmitExcept(roomName string, evt event.Event, userID int64) {
	b.events = append(b.events, outbound{room: roomName, evt: evt, exceptUser: userID})
}

// Publish queues a bus event.
func (b *Batch) Publish(kind string, payload any) {
	b.bus = append(b.bus, bus.Event{Kind: kind, Payload: payload})
}

// After queues fn to run once the transaction committed.
func (b *Batch) After(fn func()) {
	b.after = append(b.after, fn)
}

// Run executes fn in one transaction and flushes the batch only when it
// commits. Unclassified errors are reported as Internal.
func (e *Engine) Run(ctx context.Context, op string, fn func(tx *store.Tx, b *Batch) error) error {
	b := &Batch{}
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		return fn(tx, b)
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		e.logger.Error("transition failed", zap.String("op", op), zap.Error(err))
		return apperr.Store(op, err)
	}
	e.flush(ctx, b)
	return nil
}

func (e *Engine) flush(ctx context.Context, b *Batch) {
	for _, out := range b.events {
		if e.rooms == nil {
			break
		}
		if out.exceptUser != 0 {
			e.rooms.BroadcastExceptUser(out.room, out.evt, out.exceptUser)
			continue
		}
		e.rooms.Broadcast(out.room, out.evt)
	}
	if e.notifier != nil {
		for _, m := range b.direct {
			e.notifier.NotifyDirect(ctx, m)
		}
		for _, p := range b.group {
			e.notifier.NotifyGroup(ctx, p.msg, p.recipients)
		}
	}
	if e.bus != nil {
		now := e.Now()
		for _, evt := range b.bus {
			evt.Timestamp = now
			e.bus.Publish(evt)
		}
	}
	for _, m := range b.recheck {
		e.recheckDelivery(ctx, m)
	}
	for _, fn := range b.after {
		fn()
	}
}

// recheckDelivery covers a recipient that connected between the presence
// check inside the transaction and the commit.
func (e *Engine) recheckDelivery(ctx context.Context, m store.Message) {
	if !e.online(m.ReceiverID) {
		return
	}
	at := e.nowMs()
	changed, err := e.db.StampDelivered(ctx, m.ID, at)
	if err != nil {
		e.logger.Warn("delivery recheck failed", zap.Int64("message_id", m.ID), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	e.emitStatusNow(event.Direct, event.StatusDelivered, m.SenderID, []int64{m.ID}, at)
}

func (e *Engine) emitStatusNow(t event.ConvType, st string, senderID int64, ids []int64, at int64) {
	if e.rooms == nil {
		return
	}
	e.rooms.Broadcast(room.UserRoom(senderID), event.MessageStatus{Type: t, Status: st, MessageIDs: ids, At: at})
}
