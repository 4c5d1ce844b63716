// Package gateway accepts websocket connections, keeps presence and room
// membership in step with them and relays the client control events.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/event"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/presence"
	"github.com/matheus3301/relay/internal/room"
	"github.com/matheus3301/relay/internal/store"
)

// Gateway is the websocket endpoint.
type Gateway struct {
	db       *store.DB
	rooms    *room.Router
	presence *presence.Tracker
	engine   *lifecycle.Engine
	jwt      *auth.JWT
	logger   *zap.Logger
	upgrader websocket.Upgrader
	origins  map[string]bool

	// edgeMu orders presence edges with their user_status broadcasts.
	edgeMu sync.Mutex

	// ctx is canceled by Shutdown, which ends every session.
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// New creates a gateway. An empty allowedOrigins accepts same-host origins only.
func New(db *store.DB, rooms *room.Router, tracker *presence.Tracker, engine *lifecycle.Engine, jwt *auth.JWT, logger *zap.Logger, allowedOrigins []string) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		db:       db,
		rooms:    rooms,
		presence: tracker,
		engine:   engine,
		jwt:      jwt,
		logger:   logger,
		origins:  make(map[string]bool, len(allowedOrigins)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range allowedOrigins {
		g.origins[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if g.origins["*"] || g.origins[strings.ToLower(origin)] {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP authenticates and upgrades the request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := g.jwt.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	u, err := g.db.GetUser(r.Context(), userID)
	if err != nil {
		g.logger.Error("websocket user lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if u == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	g.sessions.Add(1)
	g.mu.Unlock()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.sessions.Done()
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, userID, g.logger)
	g.connect(c)
	go c.writePump(g.ctx.Done())
	go func() {
		defer g.sessions.Done()
		c.readPump(func(raw []byte) { g.handle(c, raw) })
		g.disconnect(c)
	}()
}

// Shutdown closes every session and waits until their cleanup has run or
// ctx ends. New connections are refused afterwards.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect registers a fresh session: rooms, presence, backfill.
func (g *Gateway) connect(c *client) {
	g.rooms.Join(c, room.UserRoom(c.userID))
	groups, err := g.db.AcceptedGroups(g.ctx, c.userID)
	if err != nil {
		c.logger.Warn("failed to load groups on connect", zap.Error(err))
	}
	for _, grp := range groups {
		g.rooms.Join(c, room.GroupRoom(grp.ID))
	}

	g.enter(c.userID)
	c.Send(event.PresenceState{OnlineUserIDs: g.presence.Snapshot()})

	if n, err := g.engine.DeliverPending(g.ctx, c.userID); err != nil {
		c.logger.Warn("delivery backfill failed", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("delivery backfill", zap.Int("messages", n))
	}
	g.touch(g.ctx, c.userID)
	c.logger.Info("session connected", zap.Int("groups", len(groups)))
}

// disconnect runs once per session after its read pump exits.
func (g *Gateway) disconnect(c *client) {
	c.close()
	g.rooms.LeaveAll(c)
	g.leave(c.userID)
	// Sessions ended by Shutdown still record their last activity.
	g.touch(context.WithoutCancel(g.ctx), c.userID)
	c.logger.Info("session disconnected")
}

// enter and leave hold edgeMu across the presence change and its broadcast,
// so peers receive a user's online/offline edges in the order they happened.
func (g *Gateway) enter(userID int64) {
	g.edgeMu.Lock()
	defer g.edgeMu.Unlock()
	if g.presence.Enter(userID) == presence.BecameOnline {
		g.rooms.BroadcastAll(event.UserStatus{UserID: userID, Status: event.Online})
	}
}

func (g *Gateway) leave(userID int64) {
	g.edgeMu.Lock()
	defer g.edgeMu.Unlock()
	if g.presence.Leave(userID) == presence.BecameOffline {
		g.rooms.BroadcastAll(event.UserStatus{UserID: userID, Status: event.Offline})
	}
}

func (g *Gateway) touch(ctx context.Context, userID int64) {
	if err := g.db.TouchLastSeen(ctx, userID, time.Now().UnixMilli()); err != nil {
		g.logger.Warn("failed to touch last seen", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// handle dispatches one inbound frame. Malformed frames are ignored.
func (g *Gateway) handle(c *client, raw []byte) {
	in, err := event.DecodeInbound(raw)
	if err != nil {
		c.logger.Debug("ignoring frame", zap.Error(err))
		return
	}
	switch in.Event {
	case event.InJoinGroups:
		var jg event.JoinGroups
		if err := json.Unmarshal(in.Data, &jg); err != nil {
			c.logger.Debug("ignoring join_groups", zap.Error(err))
			return
		}
		g.joinGroups(c, jg.IDs())
	case event.InTyping:
		var ti event.TypingIn
		if err := json.Unmarshal(in.Data, &ti); err != nil {
			c.logger.Debug("ignoring typing", zap.Error(err))
			return
		}
		g.typing(c, ti)
	default:
		c.logger.Debug("ignoring unknown event", zap.String("event", in.Event))
	}
}

// joinGroups subscribes the session to the groups it is an accepted member of.
func (g *Gateway) joinGroups(c *client, ids []int64) {
	for _, id := range ids {
		ok, err := g.db.IsAccepted(g.ctx, id, c.userID)
		if err != nil {
			c.logger.Warn("membership check failed", zap.Int64("group_id", id), zap.Error(err))
			continue
		}
		if ok {
			g.rooms.Join(c, room.GroupRoom(id))
		}
	}
}

// typing relays a typing indicator without touching the store.
func (g *Gateway) typing(c *client, ti event.TypingIn) {
	switch {
	case ti.GroupID != nil:
		gid := int64(*ti.GroupID)
		r := room.GroupRoom(gid)
		if !g.rooms.InRoom(c, r) {
			return
		}
		g.rooms.BroadcastExceptUser(r, event.Typing{SenderID: c.userID, GroupID: &gid, IsTyping: ti.IsTyping}, c.userID)
	case ti.ReceiverID != nil:
		rid := int64(*ti.ReceiverID)
		if rid <= 0 || rid == c.userID {
			return
		}
		g.rooms.Broadcast(room.UserRoom(rid), event.Typing{SenderID: c.userID, ReceiverID: &rid, IsTyping: ti.IsTyping})
	}
}
