package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the server configuration resolved from the environment.
type Settings struct {
	HTTPAddr string
	GRPCAddr string
	PGDSN    string
	RedisURL string

	AuthSecret string
	TokenTTL   time.Duration

	RateBurst  int
	RatePerSec int

	BlobDir       string
	BlobSecret    string
	SignedURLTTL  time.Duration
	PublicBaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeTolerance     time.Duration
	StripeAPIBase       string

	SendGridAPIKey string
	SendGridFrom   string

	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string
}

// ErrMissingAuthSecret is returned by Validate when no token secret is configured.
var ErrMissingAuthSecret = errors.New("config: CLM_AUTH_SECRET is required")

// Load reads an optional .env file and then the process environment.
// Keys are prefixed with CLM_, except the provider keys that keep their conventional names.
func Load(envFiles ...string) (Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// a missing .env is normal outside development
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix("CLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("token_ttl", time.Hour)
	v.SetDefault("rate_burst", 40)
	v.SetDefault("rate_per_sec", 20)
	v.SetDefault("blob_dir", "./data/blobs")
	v.SetDefault("signed_url_ttl", 60*time.Second)
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("sendgrid_from", "no-reply@example.com")
	v.SetDefault("llm_provider", "gemini")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("stripe_api_base", "https://api.stripe.com")
	v.SetDefault("stripe_tolerance", 300*time.Second)

	for _, key := range []string{
		"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_TOLERANCE_SECONDS",
		"SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL", "GEMINI_API_KEY", "OPENAI_API_KEY",
	} {
		_ = v.BindEnv(strings.ToLower(key), key)
	}

	s := Settings{
		HTTPAddr:            v.GetString("http_addr"),
		GRPCAddr:            v.GetString("grpc_addr"),
		PGDSN:               v.GetString("pg_dsn"),
		RedisURL:            v.GetString("redis_url"),
		AuthSecret:          strings.TrimSpace(v.GetString("auth_secret")),
		TokenTTL:            v.GetDuration("token_ttl"),
		RateBurst:           v.GetInt("rate_burst"),
		RatePerSec:          v.GetInt("rate_per_sec"),
		BlobDir:             v.GetString("blob_dir"),
		BlobSecret:          v.GetString("blob_secret"),
		SignedURLTTL:        v.GetDuration("signed_url_ttl"),
		PublicBaseURL:       strings.TrimRight(v.GetString("public_base_url"), "/"),
		StripeSecretKey:     v.GetString("stripe_secret_key"),
		StripeWebhookSecret: v.GetString("stripe_webhook_secret"),
		StripeTolerance:     v.GetDuration("stripe_tolerance"),
		StripeAPIBase:       v.GetString("stripe_api_base"),
		SendGridAPIKey:      v.GetString("sendgrid_api_key"),
		SendGridFrom:        v.GetString("sendgrid_from"),
		LLMProvider:         strings.ToLower(v.GetString("llm_provider")),
		GeminiAPIKey:        v.GetString("gemini_api_key"),
		GeminiModel:         v.GetString("gemini_model"),
		OpenAIAPIKey:        v.GetString("openai_api_key"),
		OpenAIModel:         v.GetString("openai_model"),
	}
	if secs := v.GetInt("stripe_tolerance_seconds"); secs > 0 {
		s.StripeTolerance = time.Duration(secs) * time.Second
	}
	if from := strings.TrimSpace(v.GetString("sendgrid_from_email")); from != "" {
		s.SendGridFrom = from
	}
	if s.BlobSecret == "" {
		s.BlobSecret = s.AuthSecret
	}
	return s, nil
}

// Validate checks the settings required to serve traffic.
func (s Settings) Validate() error {
	if s.AuthSecret == "" {
		return ErrMissingAuthSecret
	}
	if s.RatePerSec <= 0 || s.RateBurst <= 0 {
		return errors.New("config: rate limit must be positive")
	}
	return nil
}
