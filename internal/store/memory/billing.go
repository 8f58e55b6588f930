package memory

import (
	"context"
	"sort"

	"clmhub.io/internal/billing"
)

// Plan returns a catalogue plan.
func (s *Store) Plan(_ context.Context, id string) (billing.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return billing.Plan{}, billing.ErrNotFound
	}
	return p, nil
}

// UpsertSubscription writes the company's subscription row.
func (s *Store) UpsertSubscription(_ context.Context, sub billing.Subscription) (billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.CompanyID] = sub
	return sub, nil
}

// Subscription returns the company's subscription.
func (s *Store) Subscription(_ context.Context, companyID string) (billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[companyID]
	if !ok {
		return billing.Subscription{}, billing.ErrNotFound
	}
	return sub, nil
}

// SetSubscriptionPlan switches the company's plan.
func (s *Store) SetSubscriptionPlan(_ context.Context, companyID, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[companyID]
	if !ok {
		return billing.ErrNotFound
	}
	sub.PlanID = planID
	s.subscriptions[companyID] = sub
	return nil
}

// SetCancelAtPeriodEnd flags the subscription for cancellation.
func (s *Store) SetCancelAtPeriodEnd(_ context.Context, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[companyID]
	if !ok {
		return billing.ErrNotFound
	}
	sub.CancelAtPeriodEnd = true
	s.subscriptions[companyID] = sub
	return nil
}

// AppendBillingEvent records a billing history entry.
func (s *Store) AppendBillingEvent(_ context.Context, e billing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.billingEvents = append(s.billingEvents, e)
	return nil
}

// BillingEvents returns the company's billing history, oldest first.
func (s *Store) BillingEvents(companyID string) []billing.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []billing.Event
	for _, e := range s.billingEvents {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	return out
}

// InsertInvoice records an invoice.
func (s *Store) InsertInvoice(_ context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, inv)
	return nil
}

// ListInvoices returns the company's invoices, newest first.
func (s *Store) ListInvoices(_ context.Context, companyID string) ([]billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []billing.Invoice{}
	for _, inv := range s.invoices {
		if inv.CompanyID == companyID {
			out = append(out, inv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
