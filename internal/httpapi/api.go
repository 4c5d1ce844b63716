// Package httpapi exposes the chat core over a JSON HTTP API.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/conversation"
	"github.com/matheus3301/relay/internal/groups"
	"github.com/matheus3301/relay/internal/lifecycle"
	"github.com/matheus3301/relay/internal/notify"
	"github.com/matheus3301/relay/internal/store"
)

// API holds the services behind the HTTP routes.
type API struct {
	db          *store.DB
	engine      *lifecycle.Engine
	convs       *conversation.Aggregator
	groups      *groups.Service
	push        *notify.Dispatcher
	jwt         *auth.JWT
	gateway     http.Handler
	vapidPublic string
	logger      *zap.Logger
}

// Deps are the collaborators of the API. Gateway and Push may be nil.
type Deps struct {
	DB          *store.DB
	Engine      *lifecycle.Engine
	Convs       *conversation.Aggregator
	Groups      *groups.Service
	Push        *notify.Dispatcher
	JWT         *auth.JWT
	Gateway     http.Handler
	VAPIDPublic string
	Logger      *zap.Logger
}

func New(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		db:          d.DB,
		engine:      d.Engine,
		convs:       d.Convs,
		groups:      d.Groups,
		push:        d.Push,
		jwt:         d.JWT,
		gateway:     d.Gateway,
		vapidPublic: d.VAPIDPublic,
		logger:      logger,
	}
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.recoverer)

	if a.gateway != nil {
		r.Handle("/ws", a.gateway)
	}
	r.HandleFunc("/api/login", a.login).Methods(http.MethodPost)
	r.HandleFunc("/api/push/vapid-public-key", a.vapidKey).Methods(http.MethodGet)

	p := r.PathPrefix("/api").Subrouter()
	p.Use(a.jwt.Middleware)

	p.HandleFunc("/messages", a.sendDirect).Methods(http.MethodPost)
	p.HandleFunc("/messages/read", a.markRead).Methods(http.MethodPost)
	p.HandleFunc("/messages/starred", a.starred).Methods(http.MethodGet)
	p.HandleFunc("/messages/{peer:[0-9]+}", a.directHistory).Methods(http.MethodGet)
	p.HandleFunc("/messages/{peer:[0-9]+}/read", a.markConversationRead).Methods(http.MethodPost)
	p.HandleFunc("/messages/{id:[0-9]+}", a.editDirect).Methods(http.MethodPatch)
	p.HandleFunc("/messages/{id:[0-9]+}", a.deleteDirect).Methods(http.MethodDelete)
	p.HandleFunc("/messages/{id:[0-9]+}/forward", a.forwardDirect).Methods(http.MethodPost)
	p.HandleFunc("/messages/{id:[0-9]+}/star", a.star).Methods(http.MethodPut)
	p.HandleFunc("/messages/{id:[0-9]+}/star", a.unstar).Methods(http.MethodDelete)

	p.HandleFunc("/groups", a.createGroup).Methods(http.MethodPost)
	p.HandleFunc("/groups", a.listGroups).Methods(http.MethodGet)
	p.HandleFunc("/groups/invites", a.listInvites).Methods(http.MethodGet)
	p.HandleFunc("/groups/join/{token}", a.consumeLink).Methods(http.MethodPost)
	p.HandleFunc("/groups/{id:[0-9]+}", a.renameGroup).Methods(http.MethodPatch)
	p.HandleFunc("/groups/{id:[0-9]+}", a.deleteGroup).Methods(http.MethodDelete)
	p.HandleFunc("/groups/{id:[0-9]+}/respond", a.respondInvite).Methods(http.MethodPost)
	p.HandleFunc("/groups/{id:[0-9]+}/leave", a.leaveGroup).Methods(http.MethodPost)
	p.HandleFunc("/groups/{id:[0-9]+}/block", a.toggleBlock).Methods(http.MethodPost)
	p.HandleFunc("/groups/{id:[0-9]+}/members/{user:[0-9]+}/role", a.setRole).Methods(http.MethodPut)
	p.HandleFunc("/groups/{id:[0-9]+}/links", a.createLink).Methods(http.MethodPost)
	p.HandleFunc("/groups/{id:[0-9]+}/messages", a.sendGroup).Methods(http.MethodPost)
	p.HandleFunc("/groups/{id:[0-9]+}/messages", a.groupHistory).Methods(http.MethodGet)
	p.HandleFunc("/groups/{id:[0-9]+}/read", a.markGroupRead).Methods(http.MethodPost)
	p.HandleFunc("/group-messages/{id:[0-9]+}", a.editGroup).Methods(http.MethodPatch)
	p.HandleFunc("/group-messages/{id:[0-9]+}", a.deleteGroupMessage).Methods(http.MethodDelete)
	p.HandleFunc("/group-messages/{id:[0-9]+}/forward", a.forwardGroup).Methods(http.MethodPost)

	p.HandleFunc("/unread", a.unread).Methods(http.MethodGet)
	p.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	p.HandleFunc("/conversations/{type}/{id:[0-9]+}", a.settings).Methods(http.MethodGet)
	p.HandleFunc("/conversations/{type}/{id:[0-9]+}/archive", a.archive).Methods(http.MethodPut)
	p.HandleFunc("/conversations/{type}/{id:[0-9]+}/pin", a.pin).Methods(http.MethodPut)
	p.HandleFunc("/conversations/{type}/{id:[0-9]+}/mute", a.mute).Methods(http.MethodPut)
	p.HandleFunc("/conversations/{type}/{id:[0-9]+}/mute", a.unmute).Methods(http.MethodDelete)

	p.HandleFunc("/push/subscribe", a.subscribe).Methods(http.MethodPost)
	p.HandleFunc("/push/unsubscribe", a.unsubscribe).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
	})
	return r
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				a.logger.Error("handler panic", zap.String("path", r.URL.Path), zap.Any("panic", v))
				writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// login exchanges credentials for a bearer token.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	u, err := a.db.CheckPassword(r.Context(), req.Phone, req.Password)
	if err != nil {
		a.fail(w, r, apperr.Store("login", err))
		return
	}
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid phone or password"})
		return
	}
	tok, err := a.jwt.Sign(u.ID)
	if err != nil {
		a.fail(w, r, apperr.Wrap(apperr.Internal, "login", err))
		return
	}
	a.ok(w, map[string]any{"token": tok, "user": userView{ID: u.ID, Name: u.DisplayName}})
}

func (a *API) vapidKey(w http.ResponseWriter, r *http.Request) {
	if a.vapidPublic == "" {
		a.fail(w, r, apperr.Wrap(apperr.Transient, "vapid", errPushDisabled))
		return
	}
	a.ok(w, map[string]any{"public_key": a.vapidPublic})
}
