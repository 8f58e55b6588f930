package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clmhub.io/internal/obs"
)

const (
	defaultGeminiModel = "gemini-1.5-flash"
	defaultGeminiBase  = "https://generativelanguage.googleapis.com"
)

// Gemini calls the generateContent endpoint.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGemini builds a Gemini provider.
func NewGemini(apiKey, model string, client *http.Client) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Gemini{apiKey: strings.TrimSpace(apiKey), model: model, baseURL: defaultGeminiBase, client: client}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: missing GEMINI_API_KEY", ErrNotConfigured)
	}
	payload := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{"temperature": 0.2},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		obs.OutboundCalls.WithLabelValues("gemini", "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		obs.OutboundCalls.WithLabelValues("gemini", "error").Inc()
		return nil, err
	}
	if resp.StatusCode >= 300 {
		obs.OutboundCalls.WithLabelValues("gemini", "rejected").Inc()
		return nil, providerError(body, "Gemini error")
	}
	if !json.Valid(body) {
		obs.OutboundCalls.WithLabelValues("gemini", "error").Inc()
		return nil, fmt.Errorf("gemini: response is not JSON")
	}
	obs.OutboundCalls.WithLabelValues("gemini", "ok").Inc()
	return json.RawMessage(body), nil
}

// providerError extracts error.message from a failed provider response.
func providerError(body []byte, fallback string) error {
	var out struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &out) == nil && out.Error.Message != "" {
		return fmt.Errorf("%s", out.Error.Message)
	}
	return fmt.Errorf("%s", fallback)
}
