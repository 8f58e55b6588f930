// Package httpapi exposes the CLM services over HTTP: the /functions/v1 endpoints,
// the REST surface, realtime feeds, signed storage downloads and the docs pages.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/auth"
	"clmhub.io/internal/billing"
	"clmhub.io/internal/blob"
	"clmhub.io/internal/company"
	"clmhub.io/internal/contracts"
	"clmhub.io/internal/docs"
	"clmhub.io/internal/insights"
	"clmhub.io/internal/mail"
	"clmhub.io/internal/obs"
	"clmhub.io/internal/signature"
	"clmhub.io/internal/stream"
)

const (
	jsonBodyLimit   = 1 << 20
	uploadBodyLimit = 25 << 20
)

// Pinger is anything whose reachability decides readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing store before the service reports ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Auth       *auth.Service
	Guard      *auth.Guard
	Companies  *company.Service
	Contracts  *contracts.Service
	Documents  *contracts.Documents
	Signatures *signature.Service
	Audit      *audit.Recorder
	Billing    *billing.Service
	Checkout   *billing.CheckoutClient
	Verifier   *billing.Verifier
	Webhooks   *billing.Webhooks
	Insights   *insights.Analyzer
	Mail       *mail.Relay
	Docs       *docs.Library
	Hub        *stream.Hub
	Bucket     blob.Bucket
	Signer     *blob.Signer

	Probe        ReadyProbe
	Version      string
	RateBurst    int
	RatePerSec   int
	SignedURLTTL time.Duration
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	router chi.Router
	now    func() time.Time
}

// New builds the router over deps.
func New(deps Deps) *API {
	if deps.Docs == nil {
		deps.Docs = docs.NewLibrary()
	}
	if deps.RateBurst <= 0 {
		deps.RateBurst = 40
	}
	if deps.RatePerSec <= 0 {
		deps.RatePerSec = 20
	}
	a := &API{deps: deps, now: time.Now}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())
	r.Get("/docs", a.docsPage)
	r.Get("/docs/{page}", a.docsPage)

	r.Route("/functions/v1", func(fr chi.Router) {
		fr.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.deps.RateBurst, a.deps.RatePerSec) })
		fr.Use(MaxBodyBytes(jsonBodyLimit))
		fr.HandleFunc("/invite-user", a.function(a.authenticated(a.inviteUser)))
		fr.HandleFunc("/create-checkout-session", a.function(a.authenticated(a.createCheckoutSession)))
		fr.HandleFunc("/create-envelope", a.function(a.authenticated(a.createEnvelope)))
		fr.HandleFunc("/sign-envelope", a.function(a.authenticated(a.signEnvelope)))
		fr.HandleFunc("/create-audit-log", a.function(a.authenticated(a.createAuditLog)))
		fr.HandleFunc("/analyze-contract", a.function(a.authenticated(a.analyzeContract)))
		fr.HandleFunc("/send-email", a.function(a.authenticated(a.sendEmail)))
		fr.HandleFunc("/subscription-manager", a.function(a.authenticated(a.subscriptionManager)))
		fr.HandleFunc("/ensure-user-profile", a.function(a.authenticated(a.ensureUserProfile)))
		fr.HandleFunc("/stripe-webhook", a.function(a.stripeWebhook))
	})

	r.Route("/v1", func(vr chi.Router) {
		vr.Use(CORS)
		vr.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.deps.RateBurst, a.deps.RatePerSec) })

		vr.With(MaxBodyBytes(jsonBodyLimit)).Post("/auth/signup", a.signUp)
		vr.With(MaxBodyBytes(jsonBodyLimit)).Post("/auth/signin", a.signIn)
		vr.Get("/storage/{bucket}/*", a.storageObject)

		vr.With(a.withAuth(false)).Get("/me/companies", a.listMyCompanies)
		vr.With(a.withAuth(false), MaxBodyBytes(jsonBodyLimit)).Post("/companies", a.createCompany)
		vr.Route("/companies/{companyID}", func(cr chi.Router) {
			cr.Group(func(jr chi.Router) {
				jr.Use(a.withAuth(false))
				jr.Use(MaxBodyBytes(jsonBodyLimit))
				jr.Get("/permissions", a.myPermissions)
				jr.Get("/contracts", a.listContracts)
				jr.Post("/contracts", a.createContract)
				jr.Get("/contracts/{contractID}", a.getContract)
				jr.Patch("/contracts/{contractID}/status", a.updateContractStatus)
				jr.Get("/contracts/{contractID}/versions", a.listVersions)
				jr.Post("/contracts/{contractID}/versions", a.saveVersion)
				jr.Get("/contracts/{contractID}/documents", a.listDocuments)
				jr.Get("/contracts/{contractID}/audit", a.contractAudit)
				jr.Get("/signature-tasks", a.signatureTasks)
				jr.Get("/invoices", a.listInvoices)
				jr.Post("/roles", a.createRole)
				jr.Put("/roles/{roleID}/permissions", a.setRolePermissions)
			})
			cr.With(a.withAuth(false), MaxBodyBytes(uploadBodyLimit)).Post("/contracts/{contractID}/documents", a.uploadDocument)
			cr.Group(func(sr chi.Router) {
				// browsers cannot set headers on EventSource or WebSocket requests
				sr.Use(a.withAuth(true))
				sr.Get("/events", a.Stream)
				sr.Get("/ws", a.WebSocket)
			})
		})
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "clm-api",
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Probe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
