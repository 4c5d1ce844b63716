// Package notify delivers Web Push notifications for messages whose
// recipients are not watching. Jobs go through a bounded queue drained by a
// fixed pool of workers; a failed push disables the subscription and is
// never retried.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/store"
)

// Payload is the JSON document handed to the service worker.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	URL   string         `json:"url"`
	Tag   string         `json:"tag"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Presence answers whether a user has a live connection.
type Presence interface {
	Online(userID int64) bool
}

// Options tunes the dispatcher.
type Options struct {
	Workers     int
	QueueSize   int
	OnlyOffline bool
	Icon        string
	Badge       string
}

// DefaultOptions returns the stock dispatcher settings.
func DefaultOptions() Options {
	return Options{Workers: 2, QueueSize: 256, OnlyOffline: true, Icon: "/static/icon-192.png", Badge: "/static/badge-72.png"}
}

// Result is published on the bus after each push attempt.
type Result struct {
	UserID         int64
	SubscriptionID int64
	Err            string
}

type job struct {
	userID  int64
	payload Payload
}

// Dispatcher queues and sends push notifications.
type Dispatcher struct {
	db        *store.DB
	transport Transport
	presence  Presence
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options
	jobs      chan job
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	Now func() time.Time
}

// NewDispatcher creates a dispatcher. A nil transport disables pushes.
func NewDispatcher(db *store.DB, transport Transport, presence Presence, b *bus.Bus, logger *zap.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	return &Dispatcher{
		db:        db,
		transport: transport,
		presence:  presence,
		bus:       b,
		logger:    logger,
		opts:      opts,
		jobs:      make(chan job, opts.QueueSize),
		Now:       time.Now,
	}
}

// Enabled reports whether a transport is configured.
func (d *Dispatcher) Enabled() bool { return d.transport != nil }

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Stop cancels the workers and waits for them. Queued jobs are dropped.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// NotifyDirect queues a push for the receiver of a direct message.
func (d *Dispatcher) NotifyDirect(ctx context.Context, m store.Message) {
	d.Notify(ctx, m.ReceiverID, store.KindDirect, m.SenderID, Payload{
		Title: m.SenderName,
		Body:  preview(m.Type, m.Content),
		URL:   fmt.Sprintf("/?dm=%d", m.SenderID),
		Tag:   fmt.Sprintf("dm-%d", m.SenderID),
		Meta:  map[string]any{"type": store.KindDirect, "sender_id": m.SenderID, "message_id": m.ID},
	})
}

// NotifyGroup queues a push for each recipient of a group message.
func (d *Dispatcher) NotifyGroup(ctx context.Context, m store.GroupMessage, recipients []int64) {
	if !d.Enabled() || len(recipients) == 0 {
		return
	}
	title := "Group"
	g, err := d.db.GetGroup(ctx, m.GroupID)
	if err != nil {
		d.logger.Warn("push group lookup failed", zap.Int64("group_id", m.GroupID), zap.Error(err))
	} else if g != nil {
		title = g.Name
	}
	p := Payload{
		Title: title,
		Body:  m.SenderName + ": " + preview(m.Type, m.Content),
		URL:   fmt.Sprintf("/?group=%d", m.GroupID),
		Tag:   fmt.Sprintf("group-%d", m.GroupID),
		Meta:  map[string]any{"type": store.KindGroup, "group_id": m.GroupID, "sender_id": m.SenderID, "message_id": m.ID},
	}
	for _, uid := range recipients {
		d.Notify(ctx, uid, store.KindGroup, m.GroupID, p)
	}
}

// Notify queues p for recipient unless the conversation is muted or the
// recipient is online. It reports whether the job was queued.
func (d *Dispatcher) Notify(ctx context.Context, recipient int64, convType string, convID int64, p Payload) bool {
	if !d.Enabled() {
		return false
	}
	if d.opts.OnlyOffline && d.presence != nil && d.presence.Online(recipient) {
		return false
	}
	until, err := d.db.MutedUntil(ctx, recipient, convType, convID)
	if err != nil {
		d.logger.Warn("push mute lookup failed", zap.Int64("user_id", recipient), zap.Error(err))
		return false
	}
	if until > d.Now().UnixMilli() {
		return false
	}
	if p.Icon == "" {
		p.Icon = d.opts.Icon
	}
	if p.Badge == "" {
		p.Badge = d.opts.Badge
	}
	select {
	case d.jobs <- job{userID: recipient, payload: p}:
		return true
	default:
		d.logger.Warn("push queue full, dropping notification", zap.Int64("user_id", recipient), zap.String("tag", p.Tag))
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			d.deliver(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	subs, err := d.db.ActiveSubscriptions(ctx, j.userID)
	if err != nil {
		d.logger.Error("failed to read push subscriptions", zap.Int64("user_id", j.userID), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(j.payload)
	if err != nil {
		d.logger.Error("failed to encode push payload", zap.Error(err))
		return
	}
	for _, sub := range subs {
		res := Result{UserID: j.userID, SubscriptionID: sub.ID}
		if err := d.transport.Send(ctx, sub, body); err != nil {
			res.Err = err.Error()
			d.logger.Warn("push failed, disabling subscription",
				zap.Int64("user_id", j.userID), zap.Int64("subscription_id", sub.ID), zap.Error(err))
			if err := d.db.DeactivateSubscription(ctx, sub.ID, d.Now().UnixMilli()); err != nil {
				d.logger.Error("failed to disable subscription", zap.Int64("subscription_id", sub.ID), zap.Error(err))
			}
			d.publish(bus.KindPushFailed, res)
			continue
		}
		d.publish(bus.KindPushSent, res)
	}
}

func (d *Dispatcher) publish(kind string, res Result) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(bus.Event{Kind: kind, Timestamp: d.Now(), Payload: res})
}

const previewRunes = 120

func preview(typ, content string) string {
	switch typ {
	case store.TypeImage:
		if content == "" {
			return "Photo"
		}
	case store.TypeAudio:
		return "Voice message"
	case store.TypeFile:
		if content == "" {
			return "File"
		}
	}
	if utf8.RuneCountInString(content) > previewRunes {
		r := []rune(content)
		return string(r[:previewRunes]) + "…"
	}
	return content
}
