package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clmhub.io/internal/obs"
)

// ErrCheckoutNotConfigured is returned when no processor secret key is set.
var ErrCheckoutNotConfigured = errors.New("missing STRIPE_SECRET_KEY")

// CheckoutRequest describes a hosted checkout session for one company.
type CheckoutRequest struct {
	CompanyID  string `json:"company_id"`
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	CreatedBy  string `json:"-"`
}

// CheckoutSession is the processor's answer.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutClient creates subscription checkout sessions.
type CheckoutClient struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewCheckoutClient builds a client. baseURL defaults to the public processor API.
func NewCheckoutClient(secretKey, baseURL string, client *http.Client) *CheckoutClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.stripe.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CheckoutClient{
		secretKey: strings.TrimSpace(secretKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
	}
}

// CreateSession posts a subscription-mode checkout session.
func (c *CheckoutClient) CreateSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if c == nil || c.secretKey == "" {
		return CheckoutSession{}, ErrCheckoutNotConfigured
	}
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.PriceID = strings.TrimSpace(req.PriceID)
	req.SuccessURL = strings.TrimSpace(req.SuccessURL)
	req.CancelURL = strings.TrimSpace(req.CancelURL)
	if req.CompanyID == "" || req.PriceID == "" || req.SuccessURL == "" || req.CancelURL == "" {
		return CheckoutSession{}, fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", req.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("metadata[company_id]", req.CompanyID)
	form.Set("metadata[created_by]", req.CreatedBy)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return CheckoutSession{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		obs.OutboundCalls.WithLabelValues("stripe", "error").Inc()
		return CheckoutSession{}, fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		obs.OutboundCalls.WithLabelValues("stripe", "error").Inc()
		return CheckoutSession{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.OutboundCalls.WithLabelValues("stripe", "rejected").Inc()
		var failure struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := "Stripe error"
		if json.Unmarshal(body, &failure) == nil && failure.Error.Message != "" {
			msg = failure.Error.Message
		}
		return CheckoutSession{}, errors.New(msg)
	}
	obs.OutboundCalls.WithLabelValues("stripe", "ok").Inc()

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return CheckoutSession{}, fmt.Errorf("decode checkout session: %w", err)
	}
	return session, nil
}
