package httpapi

import (
	"errors"
	"net/http"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/notify"
)

var errPushDisabled = errors.New("push notifications are not configured")

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	if a.push == nil {
		a.fail(w, r, apperr.Wrap(apperr.Transient, "subscribe", errPushDisabled))
		return
	}
	var sub notify.Subscription
	if err := decode(r, &sub); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.push.Subscribe(r.Context(), caller(r), sub, r.UserAgent()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}

func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	if a.push == nil {
		a.fail(w, r, apperr.Wrap(apperr.Transient, "unsubscribe", errPushDisabled))
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.push.Unsubscribe(r.Context(), caller(r), req.Endpoint); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, nil)
}
