package notify

import (
	"context"
	"net/url"
	"strings"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/store"
)

// Subscription is a browser PushSubscription as serialized by toJSON().
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe registers or reactivates an endpoint for userID.
func (d *Dispatcher) Subscribe(ctx context.Context, userID int64, s Subscription, userAgent string) error {
	u, err := url.Parse(s.Endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return apperr.Invalid("push_subscribe", "endpoint must be an https url")
	}
	if strings.TrimSpace(s.Keys.P256dh) == "" || strings.TrimSpace(s.Keys.Auth) == "" {
		return apperr.Invalid("push_subscribe", "subscription keys are required")
	}
	err = d.db.UpsertSubscription(ctx, &store.PushSubscription{
		UserID:    userID,
		Endpoint:  s.Endpoint,
		P256dh:    s.Keys.P256dh,
		Auth:      s.Keys.Auth,
		UserAgent: userAgent,
	}, d.Now().UnixMilli())
	if err != nil {
		return apperr.Store("push_subscribe", err)
	}
	return nil
}

// Unsubscribe disables an endpoint of userID.
func (d *Dispatcher) Unsubscribe(ctx context.Context, userID int64, endpoint string) error {
	ok, err := d.db.Unsubscribe(ctx, userID, endpoint, d.Now().UnixMilli())
	if err != nil {
		return apperr.Store("push_unsubscribe", err)
	}
	if !ok {
		return apperr.Missing("push_unsubscribe", "subscription not found")
	}
	return nil
}
