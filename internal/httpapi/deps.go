package httpapi

import (
	"fmt"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/auth"
	"clmhub.io/internal/billing"
	"clmhub.io/internal/blob"
	"clmhub.io/internal/company"
	"clmhub.io/internal/config"
	"clmhub.io/internal/contracts"
	"clmhub.io/internal/docs"
	"clmhub.io/internal/insights"
	"clmhub.io/internal/mail"
	"clmhub.io/internal/signature"
	"clmhub.io/internal/stream"
)

// Store is everything the services persist through. Both the Postgres and the
// memory store satisfy it.
type Store interface {
	auth.UserStore
	auth.MembershipStore
	company.Store
	contracts.Store
	contracts.DocumentStore
	signature.Store
	audit.Store
	billing.Store
	billing.SettingsStore
	insights.SettingsStore
	Pinger
}

// NewDeps wires every service over store. events receives domain events; hub feeds
// the realtime endpoints and may be the same object events delivers to.
func NewDeps(store Store, s config.Settings, hub *stream.Hub, events stream.Publisher) (Deps, *audit.Emitter, error) {
	tokens, err := auth.NewTokens(s.AuthSecret, s.TokenTTL)
	if err != nil {
		return Deps{}, nil, err
	}
	bucket, err := blob.NewFSBucket(s.BlobDir, contracts.Bucket)
	if err != nil {
		return Deps{}, nil, fmt.Errorf("open blob bucket: %w", err)
	}
	signer, err := blob.NewSigner(s.BlobSecret, s.PublicBaseURL)
	if err != nil {
		return Deps{}, nil, err
	}
	provider, err := insights.NewProvider(insights.Options{
		Provider:     s.LLMProvider,
		GeminiAPIKey: s.GeminiAPIKey,
		GeminiModel:  s.GeminiModel,
		OpenAIAPIKey: s.OpenAIAPIKey,
		OpenAIModel:  s.OpenAIModel,
	})
	if err != nil {
		return Deps{}, nil, err
	}

	recorder := audit.NewRecorder(store)
	emitter := audit.NewEmitter(recorder, 0)
	deps := Deps{
		Auth:         auth.NewService(store, tokens),
		Guard:        auth.NewGuard(auth.NewResolver(store)),
		Companies:    company.NewService(store, events),
		Contracts:    contracts.NewService(store, emitter, events),
		Documents:    contracts.NewDocuments(store, bucket, signer, events),
		Signatures:   signature.NewService(store, events),
		Audit:        recorder,
		Billing:      billing.NewService(store, events),
		Checkout:     billing.NewCheckoutClient(s.StripeSecretKey, s.StripeAPIBase, nil),
		Verifier:     billing.NewVerifier(s.StripeWebhookSecret, s.StripeTolerance),
		Webhooks:     billing.NewWebhooks(store),
		Insights:     insights.NewAnalyzer(store, store, provider),
		Mail:         mail.NewRelay(s.SendGridAPIKey, s.SendGridFrom, nil),
		Docs:         docs.NewLibrary(),
		Hub:          hub,
		Bucket:       bucket,
		Signer:       signer,
		Probe:        ReadyProbe{Store: store},
		RateBurst:    s.RateBurst,
		RatePerSec:   s.RatePerSec,
		SignedURLTTL: s.SignedURLTTL,
	}
	return deps, emitter, nil
}
