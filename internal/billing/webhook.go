package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clmhub.io/internal/obs"
)

const (
	// SignatureHeader carries the payment processor's webhook signature.
	SignatureHeader = "Stripe-Signature"
	// SettingKey is the company setting the webhook keeps current.
	SettingKey = "billing.subscription"

	DefaultTolerance = 300 * time.Second

	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"

	webhookOutcomeApplied      = "applied"
	webhookOutcomeIgnored      = "ignored"
	webhookOutcomeFailed       = "failed"
	webhookOutcomeBadSignature = "bad_signature"
)

var (
	ErrWebhookNotConfigured = errors.New("missing webhook secret")
	ErrMissingSignature     = errors.New("missing stripe-signature")
	ErrInvalidSignature     = errors.New("webhook signature error: no valid v1 signature")
	ErrSignatureTooOld      = errors.New("webhook signature error: timestamp outside tolerance")
)

// WebhookEvent is the part of a processor event the service reads.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Verifier checks "t=<unix>,v1=<hex hmac>" signatures over "<t>.<body>".
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier builds a verifier. A zero tolerance uses 300s; a negative one disables the age check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

// Verify authenticates body and decodes the event. Nothing in body is trusted before the check passes.
func (v *Verifier) Verify(header string, body []byte, receivedAt time.Time) (WebhookEvent, error) {
	if v == nil || v.secret == "" {
		return WebhookEvent{}, ErrWebhookNotConfigured
	}
	if strings.TrimSpace(header) == "" {
		return WebhookEvent{}, ErrMissingSignature
	}
	timestamp, signatures := parseSignatureHeader(header)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || ts <= 0 || len(signatures) == 0 {
		obs.WebhookEvents.WithLabelValues("unknown", webhookOutcomeBadSignature).Inc()
		return WebhookEvent{}, ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	valid := false
	for _, sigHex := range signatures {
		decoded, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			valid = true
			break
		}
	}
	if !valid {
		obs.WebhookEvents.WithLabelValues("unknown", webhookOutcomeBadSignature).Inc()
		return WebhookEvent{}, ErrInvalidSignature
	}
	if v.tolerance > 0 {
		skew := receivedAt.UTC().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			obs.WebhookEvents.WithLabelValues("unknown", webhookOutcomeBadSignature).Inc()
			return WebhookEvent{}, ErrSignatureTooOld
		}
	}

	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: webhook body is not JSON", ErrInvalidInput)
	}
	evt.ID = strings.TrimSpace(evt.ID)
	evt.Type = strings.TrimSpace(evt.Type)
	return evt, nil
}

func parseSignatureHeader(header string) (string, []string) {
	var t string
	v1 := make([]string, 0, 2)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		switch {
		case k == "t" && t == "":
			t = val
		case k == "v1" && val != "":
			v1 = append(v1, val)
		}
	}
	return t, v1
}

// SettingsStore writes per-company JSON settings.
type SettingsStore interface {
	UpsertSetting(ctx context.Context, companyID, key string, value json.RawMessage) error
}

// Webhooks applies verified processor events to company billing settings.
type Webhooks struct {
	settings SettingsStore
	now      func() time.Time
}

// NewWebhooks wires webhook application.
func NewWebhooks(settings SettingsStore) *Webhooks {
	return &Webhooks{settings: settings, now: time.Now}
}

type stripeObject struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Customer     json.RawMessage   `json:"customer"`
	Subscription json.RawMessage   `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// SettingValue is what gets stored under billing.subscription.
type SettingValue struct {
	Status               string    `json:"status"`
	StripeCustomerID     *string   `json:"stripe_customer_id"`
	StripeSubscriptionID *string   `json:"stripe_subscription_id"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Apply stores the billing state carried by evt. It reports false for event types
// that are not handled or that carry no company_id metadata.
func (w *Webhooks) Apply(ctx context.Context, evt WebhookEvent) (bool, error) {
	applied, err := w.apply(ctx, evt)
	outcome := webhookOutcomeIgnored
	switch {
	case err != nil:
		outcome = webhookOutcomeFailed
	case applied:
		outcome = webhookOutcomeApplied
	}
	obs.WebhookEvents.WithLabelValues(evt.Type, outcome).Inc()
	return applied, err
}

func (w *Webhooks) apply(ctx context.Context, evt WebhookEvent) (bool, error) {
	if evt.Type != EventCheckoutCompleted && evt.Type != EventSubscriptionUpdated && evt.Type != EventSubscriptionDeleted {
		return false, nil
	}
	var obj stripeObject
	if err := json.Unmarshal(evt.Data.Object, &obj); err != nil {
		return false, fmt.Errorf("%w: event object: %v", ErrInvalidInput, err)
	}
	companyID := strings.TrimSpace(obj.Metadata["company_id"])
	if companyID == "" {
		return false, nil
	}
	value := SettingValue{
		StripeCustomerID: expandableID(obj.Customer),
		UpdatedAt:        w.now().UTC(),
	}
	if evt.Type == EventCheckoutCompleted {
		value.Status = StatusActive
		value.StripeSubscriptionID = expandableID(obj.Subscription)
	} else {
		value.Status = obj.Status
		if obj.ID != "" {
			id := obj.ID
			value.StripeSubscriptionID = &id
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	if err := w.settings.UpsertSetting(ctx, companyID, SettingKey, raw); err != nil {
		return false, err
	}
	return true, nil
}

// expandableID reads a processor reference that is either an id string or an expanded object.
func expandableID(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
		return &obj.ID
	}
	return nil
}
