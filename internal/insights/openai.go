package insights

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

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultOpenAIBase  = "https://api.openai.com"
)

// OpenAI calls the chat completions endpoint.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAI builds an OpenAI provider.
func NewOpenAI(apiKey, model string, client *http.Client) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAI{apiKey: strings.TrimSpace(apiKey), model: model, baseURL: defaultOpenAIBase, client: client}
}

func (o *OpenAI) Name() string { return "openai" }

// Generate returns the full completion response; the first choice must be present.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("%w: missing OPENAI_API_KEY", ErrNotConfigured)
	}
	payload := map[string]any{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a contract analysis assistant for an enterprise CLM. Answer with JSON only."},
			{"role": "user", "content": prompt},
		},
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		obs.OutboundCalls.WithLabelValues("openai", "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		obs.OutboundCalls.WithLabelValues("openai", "error").Inc()
		return nil, err
	}
	if resp.StatusCode >= 300 {
		obs.OutboundCalls.WithLabelValues("openai", "rejected").Inc()
		return nil, providerError(body, "openai error: "+resp.Status)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		obs.OutboundCalls.WithLabelValues("openai", "error").Inc()
		return nil, err
	}
	if len(out.Choices) == 0 {
		obs.OutboundCalls.WithLabelValues("openai", "error").Inc()
		return nil, errors.New("no choices returned")
	}
	obs.OutboundCalls.WithLabelValues("openai", "ok").Inc()
	return json.RawMessage(body), nil
}
