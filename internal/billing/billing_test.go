package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	plans  map[string]Plan
	subs   map[string]Subscription
	events []Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		plans: map[string]Plan{
			"starter": {ID: "starter", Name: "Starter", Price: 29, TrialDays: 14},
			"pro":     {ID: "pro", Name: "Pro", Price: 99},
		},
		subs: map[string]Subscription{},
	}
}

func (f *fakeStore) Plan(_ context.Context, id string) (Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return Plan{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) UpsertSubscription(_ context.Context, sub Subscription) (Subscription, error) {
	f.subs[sub.CompanyID] = sub
	return sub, nil
}

func (f *fakeStore) Subscription(_ context.Context, companyID string) (Subscription, error) {
	sub, ok := f.subs[companyID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (f *fakeStore) SetSubscriptionPlan(_ context.Context, companyID, planID string) error {
	sub, ok := f.subs[companyID]
	if !ok {
		return ErrNotFound
	}
	sub.PlanID = planID
	f.subs[companyID] = sub
	return nil
}

func (f *fakeStore) SetCancelAtPeriodEnd(_ context.Context, companyID string) error {
	sub, ok := f.subs[companyID]
	if !ok {
		return ErrNotFound
	}
	sub.CancelAtPeriodEnd = true
	f.subs[companyID] = sub
	return nil
}

func (f *fakeStore) AppendBillingEvent(_ context.Context, e Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) ListInvoices(context.Context, string) ([]Invoice, error) {
	return nil, nil
}

func TestNewSubscriptionTrialOrActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	trial := NewSubscription("c1", Plan{ID: "starter", TrialDays: 14}, " pm_1 ", now)
	if trial.Status != StatusTrialing {
		t.Fatalf("expected trialing, got %s", trial.Status)
	}
	if trial.TrialEndsAt == nil || !trial.TrialEndsAt.Equal(now.AddDate(0, 0, 14)) {
		t.Fatalf("unexpected trial end: %v", trial.TrialEndsAt)
	}
	if !trial.CurrentPeriodEnd.Equal(now.AddDate(0, 0, 30)) {
		t.Fatalf("unexpected period end: %v", trial.CurrentPeriodEnd)
	}
	if trial.PaymentMethodID == nil || *trial.PaymentMethodID != "pm_1" {
		t.Fatalf("payment method not kept: %v", trial.PaymentMethodID)
	}

	active := NewSubscription("c1", Plan{ID: "pro"}, "", now)
	if active.Status != StatusActive || active.TrialEndsAt != nil || active.PaymentMethodID != nil {
		t.Fatalf("unexpected subscription: %+v", active)
	}
}

func TestManageLifecycle(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	out, err := svc.Manage(ctx, Request{Action: ActionCreateSubscription, CompanyID: "c1", PlanID: "starter"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !out.Success || out.Message != "Subscription created. Status: trialing" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(store.events) != 1 || store.events[0].Type != EventSubscriptionCreated || store.events[0].Description != "Subscribed to Starter" {
		t.Fatalf("unexpected events: %+v", store.events)
	}
	var meta map[string]string
	if err := json.Unmarshal(store.events[0].Metadata, &meta); err != nil || meta["plan_id"] != "starter" || meta["status"] != "trialing" {
		t.Fatalf("unexpected metadata: %s", store.events[0].Metadata)
	}

	if _, err := svc.Manage(ctx, Request{Action: ActionChangePlan, CompanyID: "c1", PlanID: "pro"}); err != nil {
		t.Fatalf("change plan: %v", err)
	}
	if store.subs["c1"].PlanID != "pro" {
		t.Fatalf("plan not changed: %+v", store.subs["c1"])
	}

	out, err = svc.Manage(ctx, Request{Action: ActionCancelSubscription, CompanyID: "c1"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !store.subs["c1"].CancelAtPeriodEnd || out.Message != "Subscription set to cancel at period end" {
		t.Fatalf("cancel not applied: %+v %+v", store.subs["c1"], out)
	}
	if got := store.events[len(store.events)-1].Type; got != EventSubscriptionCanceled {
		t.Fatalf("unexpected last event %s", got)
	}
}

func TestManageWithoutSubscription(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	out, err := svc.Manage(ctx, Request{Action: ActionChangePlan, CompanyID: "c9", PlanID: "pro"})
	if err != nil || !out.Success {
		t.Fatalf("change plan: %+v %v", out, err)
	}
	out, err = svc.Manage(ctx, Request{Action: ActionCancelSubscription, CompanyID: "c9"})
	if err != nil || !out.Success {
		t.Fatalf("cancel: %+v %v", out, err)
	}
	if _, ok := store.subs["c9"]; ok {
		t.Fatal("no subscription should be created")
	}
	if len(store.events) != 2 || store.events[0].Type != EventPlanChanged || store.events[1].Type != EventSubscriptionCanceled {
		t.Fatalf("expected both events recorded, got %+v", store.events)
	}
}

func TestManageRejections(t *testing.T) {
	svc := NewService(newFakeStore(), nil)
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{name: "missing action", req: Request{CompanyID: "c1"}, want: ErrInvalidInput},
		{name: "missing company", req: Request{Action: ActionCancelSubscription}, want: ErrInvalidInput},
		{name: "unknown action", req: Request{Action: "refund", CompanyID: "c1"}, want: ErrInvalidAction},
		{name: "unknown plan", req: Request{Action: ActionCreateSubscription, CompanyID: "c1", PlanID: "gold"}, want: ErrInvalidPlan},
		{name: "blank plan", req: Request{Action: ActionChangePlan, CompanyID: "c1"}, want: ErrInvalidPlan},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Manage(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestListInvoicesNeverNil(t *testing.T) {
	svc := NewService(newFakeStore(), nil)
	inv, err := svc.ListInvoices(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if inv == nil {
		t.Fatal("expected empty slice")
	}
}
