// Package memory is an in-process implementation of every domain store,
// used by tests and by the API server when no database is configured.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/auth"
	"clmhub.io/internal/billing"
	"clmhub.io/internal/company"
	"clmhub.io/internal/contracts"
	"clmhub.io/internal/insights"
	"clmhub.io/internal/signature"
)

type membershipKey struct {
	companyID string
	userID    string
}

type settingKey struct {
	companyID string
	key       string
}

// Store keeps all state in maps guarded by one mutex.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users       map[string]auth.User
	companies   map[string]company.Company
	memberships map[membershipKey]auth.Membership
	roles       map[string]auth.Role
	rolePerms   map[string][]string

	contracts map[string]contracts.Contract
	versions  map[string][]contracts.Version
	documents []contracts.Document

	envelopes  map[string]signature.Envelope
	recipients map[string]signature.Recipient
	sigEvents  []signature.Event

	auditEntries []audit.Entry

	plans         map[string]billing.Plan
	subscriptions map[string]billing.Subscription
	billingEvents []billing.Event
	invoices      []billing.Invoice

	settings map[settingKey]json.RawMessage
}

var (
	_ auth.UserStore          = (*Store)(nil)
	_ auth.MembershipStore    = (*Store)(nil)
	_ company.Store           = (*Store)(nil)
	_ contracts.Store         = (*Store)(nil)
	_ contracts.DocumentStore = (*Store)(nil)
	_ signature.Store         = (*Store)(nil)
	_ audit.Store             = (*Store)(nil)
	_ billing.Store           = (*Store)(nil)
	_ billing.SettingsStore   = (*Store)(nil)
	_ insights.SettingsStore  = (*Store)(nil)
)

// New returns an empty store seeded with the default plan catalogue.
func New() *Store {
	s := &Store{
		now:           time.Now,
		users:         make(map[string]auth.User),
		companies:     make(map[string]company.Company),
		memberships:   make(map[membershipKey]auth.Membership),
		roles:         make(map[string]auth.Role),
		rolePerms:     make(map[string][]string),
		contracts:     make(map[string]contracts.Contract),
		versions:      make(map[string][]contracts.Version),
		envelopes:     make(map[string]signature.Envelope),
		recipients:    make(map[string]signature.Recipient),
		plans:         make(map[string]billing.Plan),
		subscriptions: make(map[string]billing.Subscription),
		settings:      make(map[settingKey]json.RawMessage),
	}
	for _, p := range billing.DefaultPlans {
		s.plans[p.ID] = p
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// UpsertSetting stores a per-company JSON setting.
func (s *Store) UpsertSetting(_ context.Context, companyID, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settingKey{companyID, key}] = append(json.RawMessage(nil), value...)
	return nil
}

// Setting returns a stored setting; ok is false when none exists.
func (s *Store) Setting(_ context.Context, companyID, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[settingKey{companyID, key}]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

// InsertAuditEntry appends an audit entry.
func (s *Store) InsertAuditEntry(_ context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditEntries = append(s.auditEntries, e)
	return e, nil
}

// ListAuditEntries returns matching entries, newest first.
func (s *Store) ListAuditEntries(_ context.Context, q audit.ListQuery) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []audit.Entry{}
	for _, e := range s.auditEntries {
		if e.CompanyID != q.CompanyID {
			continue
		}
		if q.EntityType != "" && e.EntityType != q.EntityType {
			continue
		}
		if q.EntityID != "" && e.EntityID != q.EntityID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
