// Package notify sends the fire-and-forget "new content" nudge after a
// successful save or send. A notification failure is logged and never fails
// or delays the write that triggered it.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type Notifier interface {
	// Notify is non-blocking; implementations do their work on a goroutine.
	Notify(kind string)
}

// HTTPNotifier POSTs to a webhook-style endpoint.
type HTTPNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    slog.Default().With("component", "notify"),
	}
}

func (n *HTTPNotifier) Notify(kind string) {
	if n.url == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(`{"kind":"`+kind+`"}`))
		if err != nil {
			n.log.Warn("notification failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.client.Do(req)
		if err != nil {
			n.log.Warn("notification failed", "error", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

// PushNotifier delivers the nudge straight to the peer's web-push
// subscription.
type PushNotifier struct {
	subscription *webpush.Subscription
	vapidPublic  string
	vapidPrivate string
	subscriber   string
	log          *slog.Logger
}

func NewPushNotifier(subscription *webpush.Subscription, subscriber, vapidPublic, vapidPrivate string) *PushNotifier {
	return &PushNotifier{
		subscription: subscription,
		vapidPublic:  vapidPublic,
		vapidPrivate: vapidPrivate,
		subscriber:   subscriber,
		log:          slog.Default().With("component", "notify"),
	}
}

func (n *PushNotifier) Notify(kind string) {
	if n.subscription == nil {
		return
	}
	go func() {
		resp, err := webpush.SendNotification([]byte(`{"kind":"`+kind+`"}`), n.subscription, &webpush.Options{
			Subscriber:      n.subscriber,
			VAPIDPublicKey:  n.vapidPublic,
			VAPIDPrivateKey: n.vapidPrivate,
			TTL:             60,
		})
		if err != nil {
			n.log.Warn("push notification failed", "error", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

// Noop is used when no notification target is configured.
type Noop struct{}

func (Noop) Notify(string) {}
