// Package webhook posts JSON notifications to external automation endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"secscan.app/internal/obs"
)

// Event names a notification target.
type Event string

const (
	EventPaymentConfirmed Event = "payment_confirmed"
	EventPaymentExpired   Event = "payment_expired"
	EventRecoveryCode     Event = "recovery_code"
)

// ErrDisabled is returned when no URL is configured for an event.
var ErrDisabled = errors.New("webhook: endpoint not configured")

// Endpoints maps events to URLs. Empty URLs disable the event.
type Endpoints struct {
	PaymentConfirmed string
	PaymentExpired   string
	RecoveryCode     string
}

func (e Endpoints) url(ev Event) string {
	switch ev {
	case EventPaymentConfirmed:
		return e.PaymentConfirmed
	case EventPaymentExpired:
		return e.PaymentExpired
	case EventRecoveryCode:
		return e.RecoveryCode
	}
	return ""
}

// Sender is what the domain services depend on.
type Sender interface {
	// Send delivers payload once; failures are returned for logging only.
	Send(ctx context.Context, ev Event, payload any) error
	// SendOnce delivers payload unless key was already delivered.
	// The bool reports whether a delivery happened.
	SendOnce(ctx context.Context, ev Event, key string, payload any) (bool, error)
}

// Notifier is the HTTP Sender.
type Notifier struct {
	endpoints Endpoints
	client    *http.Client
	dedup     Dedup
	log       *logrus.Logger
}

var _ Sender = (*Notifier)(nil)

// NewNotifier builds a Notifier. A nil dedup falls back to an in-memory set.
func NewNotifier(endpoints Endpoints, timeout time.Duration, dedup Dedup) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if dedup == nil {
		dedup = NewMemoryDedup(72 * time.Hour)
	}
	return &Notifier{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
		dedup:     dedup,
		log:       obs.Logger(),
	}
}

func (n *Notifier) Send(ctx context.Context, ev Event, payload any) error {
	target := strings.TrimSpace(n.endpoints.url(ev))
	if target == "" {
		obs.WebhookDelivered(string(ev), "skipped")
		return ErrDisabled
	}
	err := n.post(ctx, target, payload)
	if err != nil {
		obs.WebhookDelivered(string(ev), "failed")
		n.log.WithFields(logrus.Fields{"event": ev, "error": err.Error()}).Warn("webhook_failed")
		return err
	}
	obs.WebhookDelivered(string(ev), "sent")
	n.log.WithField("event", ev).Info("webhook_sent")
	return nil
}

func (n *Notifier) SendOnce(ctx context.Context, ev Event, key string, payload any) (bool, error) {
	key = string(ev) + ":" + key
	claimed, err := n.dedup.Claim(ctx, key)
	if err != nil {
		return false, fmt.Errorf("webhook dedup: %w", err)
	}
	if !claimed {
		obs.WebhookDelivered(string(ev), "duplicate")
		return false, nil
	}
	if err := n.Send(ctx, ev, payload); err != nil {
		// a later poll may retry a delivery that never landed
		if !errors.Is(err, ErrDisabled) {
			_ = n.dedup.Release(ctx, key)
		}
		return false, err
	}
	return true, nil
}

func (n *Notifier) post(ctx context.Context, target string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
