package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clmhub.io/internal/ids"
	"clmhub.io/internal/stream"
)

var (
	ErrInvalidInput  = errors.New("billing: invalid input")
	ErrNotFound      = errors.New("billing: not found")
	ErrInvalidPlan   = errors.New("invalid plan")
	ErrInvalidAction = errors.New("invalid action")
)

// Subscription manager actions.
const (
	ActionCreateSubscription = "create_subscription"
	ActionChangePlan         = "change_plan"
	ActionCancelSubscription = "cancel_subscription"

	StatusTrialing = "trialing"
	StatusActive   = "active"

	EventSubscriptionCreated  = "subscription_created"
	EventPlanChanged          = "plan_changed"
	EventSubscriptionCanceled = "subscription_canceled"

	billingPeriod = 30 * 24 * time.Hour
)

// Plan is a purchasable subscription tier.
type Plan struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	TrialDays int     `json:"trial_days"`
}

// DefaultPlans is the catalogue seeded into fresh databases.
var DefaultPlans = []Plan{
	{ID: "starter", Name: "Starter", Price: 29, TrialDays: 14},
	{ID: "growth", Name: "Growth", Price: 99, TrialDays: 14},
	{ID: "enterprise", Name: "Enterprise", Price: 499},
}

// Subscription is the single subscription row of a company.
type Subscription struct {
	CompanyID          string     `json:"company_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	PaymentMethodID    *string    `json:"payment_method_id"`
}

// Event is an append-only billing history record.
type Event struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"company_id"`
	Type        string          `json:"event_type"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Invoice is a billed amount for a company.
type Invoice struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	AmountDue     float64   `json:"amount_due"`
	Status        string    `json:"status"`
	InvoicePDFURL *string   `json:"invoice_pdf_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists plans, subscriptions, billing events and invoices.
type Store interface {
	Plan(ctx context.Context, id string) (Plan, error)
	UpsertSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	Subscription(ctx context.Context, companyID string) (Subscription, error)
	SetSubscriptionPlan(ctx context.Context, companyID, planID string) error
	SetCancelAtPeriodEnd(ctx context.Context, companyID string) error
	AppendBillingEvent(ctx context.Context, e Event) error
	ListInvoices(ctx context.Context, companyID string) ([]Invoice, error)
}

// Request is a subscription manager call.
type Request struct {
	Action          string `json:"action"`
	CompanyID       string `json:"company_id"`
	PlanID          string `json:"plan_id,omitempty"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// Outcome reports what Manage did.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Service runs the subscription lifecycle. Callers authorize before calling it.
type Service struct {
	store  Store
	events stream.Publisher
	now    func() time.Time
}

// NewService wires the billing service.
func NewService(store Store, events stream.Publisher) *Service {
	if events == nil {
		events = stream.Discard{}
	}
	return &Service{store: store, events: events, now: time.Now}
}

// Manage dispatches one subscription manager action.
func (s *Service) Manage(ctx context.Context, req Request) (Outcome, error) {
	req.Action = strings.TrimSpace(req.Action)
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.PlanID = strings.TrimSpace(req.PlanID)
	if req.Action == "" || req.CompanyID == "" {
		return Outcome{}, fmt.Errorf("%w: missing required fields: action, company_id", ErrInvalidInput)
	}
	var (
		out Outcome
		err error
	)
	switch req.Action {
	case ActionCreateSubscription:
		out, err = s.createSubscription(ctx, req)
	case ActionChangePlan:
		out, err = s.changePlan(ctx, req)
	case ActionCancelSubscription:
		out, err = s.cancel(ctx, req)
	default:
		return Outcome{}, ErrInvalidAction
	}
	if err != nil {
		return Outcome{}, err
	}
	s.events.Publish(stream.NewEvent(stream.TypeSubscriptionChanged, req.CompanyID, "", map[string]any{"action": req.Action}))
	return out, nil
}

func (s *Service) plan(ctx context.Context, id string) (Plan, error) {
	if id == "" {
		return Plan{}, ErrInvalidPlan
	}
	p, err := s.store.Plan(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Plan{}, ErrInvalidPlan
	}
	return p, err
}

// NewSubscription computes the row for a fresh subscription to plan.
func NewSubscription(companyID string, plan Plan, paymentMethodID string, now time.Time) Subscription {
	now = now.UTC()
	sub := Subscription{
		CompanyID:          companyID,
		PlanID:             plan.ID,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(billingPeriod),
	}
	if plan.TrialDays > 0 {
		ends := now.Add(time.Duration(plan.TrialDays) * 24 * time.Hour)
		sub.Status = StatusTrialing
		sub.TrialEndsAt = &ends
	}
	if pm := strings.TrimSpace(paymentMethodID); pm != "" {
		sub.PaymentMethodID = &pm
	}
	return sub
}

func (s *Service) createSubscription(ctx context.Context, req Request) (Outcome, error) {
	plan, err := s.plan(ctx, req.PlanID)
	if err != nil {
		return Outcome{}, err
	}
	sub, err := s.store.UpsertSubscription(ctx, NewSubscription(req.CompanyID, plan, req.PaymentMethodID, s.now()))
	if err != nil {
		return Outcome{}, err
	}
	if err := s.appendEvent(ctx, req.CompanyID, EventSubscriptionCreated, "Subscribed to "+plan.Name,
		map[string]any{"plan_id": plan.ID, "status": sub.Status}); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Message: "Subscription created. Status: " + sub.Status}, nil
}

func (s *Service) changePlan(ctx context.Context, req Request) (Outcome, error) {
	plan, err := s.plan(ctx, req.PlanID)
	if err != nil {
		return Outcome{}, err
	}
	// a company without a subscription still gets the event
	if err := s.store.SetSubscriptionPlan(ctx, req.CompanyID, plan.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return Outcome{}, err
	}
	if err := s.appendEvent(ctx, req.CompanyID, EventPlanChanged, "Changed plan to "+plan.Name,
		map[string]any{"plan_id": plan.ID}); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Message: "Plan changed"}, nil
}

func (s *Service) cancel(ctx context.Context, req Request) (Outcome, error) {
	if err := s.store.SetCancelAtPeriodEnd(ctx, req.CompanyID); err != nil && !errors.Is(err, ErrNotFound) {
		return Outcome{}, err
	}
	if err := s.appendEvent(ctx, req.CompanyID, EventSubscriptionCanceled, "Subscription canceled (at period end)", nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Message: "Subscription set to cancel at period end"}, nil
}

func (s *Service) appendEvent(ctx context.Context, companyID, typ, description string, metadata map[string]any) error {
	e := Event{ID: ids.New(), CompanyID: companyID, Type: typ, Description: description, CreatedAt: s.now().UTC()}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		e.Metadata = raw
	}
	return s.store.AppendBillingEvent(ctx, e)
}

// Subscription returns the company's subscription.
func (s *Service) Subscription(ctx context.Context, companyID string) (Subscription, error) {
	return s.store.Subscription(ctx, strings.TrimSpace(companyID))
}

// ListInvoices returns the company's invoices, newest first.
func (s *Service) ListInvoices(ctx context.Context, companyID string) ([]Invoice, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return nil, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	inv, err := s.store.ListInvoices(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		inv = []Invoice{}
	}
	return inv, nil
}
