package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/matheus3301/relay/internal/store"
)

// Transport sends one encoded payload to one subscription.
type Transport interface {
	Send(ctx context.Context, sub store.PushSubscription, payload []byte) error
}

// VAPID holds the application server keys.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
}

// WebPush is the Web Push protocol transport.
type WebPush struct {
	keys   VAPID
	ttl    int
	client *http.Client
}

// NewWebPush returns a transport signing with keys. ttl is in seconds.
func NewWebPush(keys VAPID, ttl int) (*WebPush, error) {
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil, fmt.Errorf("vapid keys are not configured")
	}
	if keys.Subscriber == "" {
		return nil, fmt.Errorf("vapid subscriber is not configured")
	}
	if ttl <= 0 {
		ttl = 60
	}
	return &WebPush{keys: keys, ttl: ttl, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

// Send delivers payload. Any non-2xx response is an error.
func (w *WebPush) Send(ctx context.Context, sub store.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.keys.Subscriber,
		VAPIDPublicKey:  w.keys.PublicKey,
		VAPIDPrivateKey: w.keys.PrivateKey,
		TTL:             w.ttl,
	})
	if err != nil {
		return fmt.Errorf("webpush: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webpush: push service returned %s", resp.Status)
	}
	return nil
}

// GenerateVAPID creates a new key pair.
func GenerateVAPID() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}
