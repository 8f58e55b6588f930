package mail

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

	"clmhub.io/internal/obs"
)

var ErrInvalidInput = errors.New("mail: invalid input")

const (
	defaultFrom    = "no-reply@example.com"
	defaultBaseURL = "https://api.sendgrid.com"
	stubbedMessage = "SENDGRID_API_KEY not set (stubbed)"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Result reports whether the message left the relay.
type Result struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// Relay sends transactional email through SendGrid.
type Relay struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

// NewRelay builds a relay. Without an API key, Send succeeds without delivering.
func NewRelay(apiKey, from string, client *http.Client) *Relay {
	if strings.TrimSpace(from) == "" {
		from = defaultFrom
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Relay{apiKey: strings.TrimSpace(apiKey), from: strings.TrimSpace(from), baseURL: defaultBaseURL, client: client}
}

type address struct {
	Email string `json:"email"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type personalization struct {
	To []address `json:"to"`
}

type payload struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

func buildPayload(from string, m Message) payload {
	p := payload{
		Personalizations: []personalization{{To: []address{{Email: m.To}}}},
		From:             address{Email: from},
		Subject:          m.Subject,
	}
	if m.Text != "" {
		p.Content = append(p.Content, content{Type: "text/plain", Value: m.Text})
	}
	if m.HTML != "" {
		p.Content = append(p.Content, content{Type: "text/html", Value: m.HTML})
	}
	return p
}

// Send validates and relays m.
func (r *Relay) Send(ctx context.Context, m Message) (Result, error) {
	m.To = strings.TrimSpace(m.To)
	m.Subject = strings.TrimSpace(m.Subject)
	if m.To == "" || m.Subject == "" {
		return Result{}, fmt.Errorf("%w: missing fields", ErrInvalidInput)
	}
	if strings.TrimSpace(m.HTML) == "" && strings.TrimSpace(m.Text) == "" {
		return Result{}, fmt.Errorf("%w: html or text body is required", ErrInvalidInput)
	}
	if r.apiKey == "" {
		obs.OutboundCalls.WithLabelValues("sendgrid", "stubbed").Inc()
		return Result{Sent: false, Message: stubbedMessage}, nil
	}

	buf, err := json.Marshal(buildPayload(r.from, m))
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v3/mail/send", bytes.NewReader(buf))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		obs.OutboundCalls.WithLabelValues("sendgrid", "error").Inc()
		return Result{}, fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		obs.OutboundCalls.WithLabelValues("sendgrid", "rejected").Inc()
		return Result{}, fmt.Errorf("SendGrid error: %d %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	obs.OutboundCalls.WithLabelValues("sendgrid", "ok").Inc()
	return Result{Sent: true}, nil
}
