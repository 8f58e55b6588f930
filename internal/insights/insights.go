package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clmhub.io/internal/contracts"
)

var (
	ErrInvalidInput  = errors.New("insights: invalid input")
	ErrNotConfigured = errors.New("insights: provider not configured")
)

// SettingPrefix prefixes the company setting that holds a contract's latest insights.
const SettingPrefix = "contract_ai_insights:"

// Provider turns a prompt into the model's raw response document.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (json.RawMessage, error)
}

// ContractReader loads a contract within a company.
type ContractReader interface {
	Contract(ctx context.Context, companyID, id string) (contracts.Contract, error)
}

// SettingsStore persists per-company JSON settings.
type SettingsStore interface {
	UpsertSetting(ctx context.Context, companyID, key string, value json.RawMessage) error
}

// Insights is the stored analysis of one contract. Output is the provider response, unmodified.
type Insights struct {
	ContractID  string          `json:"contract_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Provider    string          `json:"provider"`
	Output      json.RawMessage `json:"output"`
}

// Analyzer runs contract analysis through an LLM provider.
type Analyzer struct {
	contracts ContractReader
	settings  SettingsStore
	provider  Provider
	now       func() time.Time
}

// NewAnalyzer wires the analyzer. A nil provider makes every call fail with ErrNotConfigured.
func NewAnalyzer(contracts ContractReader, settings SettingsStore, provider Provider) *Analyzer {
	return &Analyzer{contracts: contracts, settings: settings, provider: provider, now: time.Now}
}

// SettingKey is the settings key for contractID.
func SettingKey(contractID string) string {
	return SettingPrefix + contractID
}

// BuildPrompt renders the analysis prompt for c.
func BuildPrompt(c contracts.Contract) string {
	content := ""
	if c.Content != nil {
		content = *c.Content
	}
	return strings.Join([]string{
		"You are a contract analysis assistant for an enterprise CLM.",
		"Return JSON with keys: summary, risks (array), obligations (array), key_dates (array), suggested_redlines (array).",
		"Contract title: " + c.Title,
		"Contract status: " + c.Status,
		"Contract HTML:",
		content,
	}, "\n")
}

// Analyze generates and stores insights for a contract of the company.
func (a *Analyzer) Analyze(ctx context.Context, companyID, contractID string) (Insights, error) {
	companyID = strings.TrimSpace(companyID)
	contractID = strings.TrimSpace(contractID)
	if companyID == "" || contractID == "" {
		return Insights{}, fmt.Errorf("%w: missing fields", ErrInvalidInput)
	}
	c, err := a.contracts.Contract(ctx, companyID, contractID)
	if err != nil {
		return Insights{}, err
	}
	if a.provider == nil {
		return Insights{}, ErrNotConfigured
	}
	output, err := a.provider.Generate(ctx, BuildPrompt(c))
	if err != nil {
		return Insights{}, err
	}
	result := Insights{
		ContractID:  contractID,
		GeneratedAt: a.now().UTC(),
		Provider:    a.provider.Name(),
		Output:      output,
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Insights{}, err
	}
	if err := a.settings.UpsertSetting(ctx, companyID, SettingKey(contractID), raw); err != nil {
		return Insights{}, err
	}
	return result, nil
}

// Options selects and configures a provider.
type Options struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string
}

// NewProvider returns the configured provider, or nil when its API key is missing.
func NewProvider(opts Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "gemini":
		if strings.TrimSpace(opts.GeminiAPIKey) == "" {
			return nil, nil
		}
		return NewGemini(opts.GeminiAPIKey, opts.GeminiModel, nil), nil
	case "openai":
		if strings.TrimSpace(opts.OpenAIAPIKey) == "" {
			return nil, nil
		}
		return NewOpenAI(opts.OpenAIAPIKey, opts.OpenAIModel, nil), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}
