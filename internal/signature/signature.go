package signature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clmhub.io/internal/ids"
	"clmhub.io/internal/obs"
	"clmhub.io/internal/stream"
)

var (
	ErrInvalidInput = errors.New("signature: invalid input")
	ErrNotFound     = errors.New("signature: not found")
	ErrNoTask       = errors.New("no signature task for this user")
)

// Envelope and recipient states, event types.
const (
	ProviderInternal = "internal"
	RoleSigner       = "signer"

	EnvelopePendingSignature = "pending_signature"
	EnvelopeFullySigned      = "fully_signed"

	RecipientPending = "pending"
	RecipientSigned  = "signed"

	EventEnvelopeCreated     = "envelope.created"
	EventEnvelopeSent        = "envelope.sent"
	EventRecipientSigned     = "recipient.signed"
	EventEnvelopeFullySigned = "envelope.fully_signed"

	ResultSigned        = "signed"
	ResultAlreadySigned = "already_signed"
)

// Envelope groups the recipients asked to sign one contract.
type Envelope struct {
	ID          string     `json:"id"`
	CompanyID   string     `json:"company_id"`
	ContractID  string     `json:"contract_id"`
	Provider    string     `json:"provider"`
	Status      string     `json:"status"`
	CreatedBy   string     `json:"created_by"`
	SentAt      *time.Time `json:"sent_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Recipient is one signer of an envelope. It moves to signed exactly once.
type Recipient struct {
	ID           string     `json:"id"`
	EnvelopeID   string     `json:"envelope_id"`
	CompanyID    string     `json:"company_id"`
	Email        string     `json:"email"`
	UserID       *string    `json:"user_id"`
	Role         string     `json:"recipient_role"`
	SigningOrder int        `json:"signing_order"`
	Status       string     `json:"status"`
	SignedAt     *time.Time `json:"signed_at"`
}

// Event is an append-only envelope lifecycle record.
type Event struct {
	ID          string          `json:"id"`
	EnvelopeID  string          `json:"envelope_id"`
	RecipientID *string         `json:"recipient_id,omitempty"`
	CompanyID   string          `json:"company_id"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Task is an unsigned recipient row of the caller joined with its envelope.
type Task struct {
	RecipientID     string    `json:"recipient_id"`
	EnvelopeID      string    `json:"envelope_id"`
	RecipientStatus string    `json:"recipient_status"`
	EnvelopeStatus  string    `json:"envelope_status"`
	ContractID      string    `json:"contract_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// RecipientInput is one requested signer.
type RecipientInput struct {
	Email        string `json:"email"`
	SigningOrder *int   `json:"signing_order,omitempty"`
}

// Result is the outcome of a Sign call.
type Result struct {
	Status         string `json:"status"`
	EnvelopeStatus string `json:"envelope_status"`
}

// Store persists envelopes, recipients and events.
type Store interface {
	UserIDsByEmail(ctx context.Context, emails []string) (map[string]string, error)
	// CreateEnvelope writes the envelope, its recipients and events and marks the contract
	// pending_signature in one unit. ErrNotFound when the contract is not in the company.
	CreateEnvelope(ctx context.Context, env Envelope, recipients []Recipient, events []Event) error
	RecipientForUser(ctx context.Context, companyID, envelopeID, userID string) (Recipient, error)
	// MarkRecipientSigned flips a not yet signed recipient; false when it was already signed.
	MarkRecipientSigned(ctx context.Context, recipientID string, at time.Time) (bool, error)
	AppendEvent(ctx context.Context, evt Event) error
	// CompleteEnvelope marks the envelope fully signed only if no unsigned recipient remains,
	// appending evt in the same step. It reports whether the envelope changed.
	CompleteEnvelope(ctx context.Context, companyID, envelopeID string, at time.Time, evt Event) (bool, error)
	Envelope(ctx context.Context, companyID, envelopeID string) (Envelope, error)
	ListTasks(ctx context.Context, companyID, userID string) ([]Task, error)
}

// Service runs the internal signature workflow.
type Service struct {
	store  Store
	events stream.Publisher
	now    func() time.Time
}

// NewService wires the workflow.
func NewService(store Store, events stream.Publisher) *Service {
	if events == nil {
		events = stream.Discard{}
	}
	return &Service{store: store, events: events, now: time.Now}
}

func payload(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// CreateEnvelope sends a contract for signature to the given recipients.
func (s *Service) CreateEnvelope(ctx context.Context, companyID, contractID, createdBy string, inputs []RecipientInput) (Envelope, []Recipient, error) {
	companyID = strings.TrimSpace(companyID)
	contractID = strings.TrimSpace(contractID)
	if companyID == "" || contractID == "" || len(inputs) == 0 {
		return Envelope{}, nil, fmt.Errorf("%w: missing fields", ErrInvalidInput)
	}
	emails := make([]string, 0, len(inputs))
	for _, in := range inputs {
		email := strings.ToLower(strings.TrimSpace(in.Email))
		if email == "" {
			return Envelope{}, nil, fmt.Errorf("%w: recipient email is required", ErrInvalidInput)
		}
		emails = append(emails, email)
	}
	userIDs, err := s.store.UserIDsByEmail(ctx, emails)
	if err != nil {
		return Envelope{}, nil, err
	}

	now := s.now().UTC()
	env := Envelope{
		ID:         ids.New(),
		CompanyID:  companyID,
		ContractID: contractID,
		Provider:   ProviderInternal,
		Status:     EnvelopePendingSignature,
		CreatedBy:  createdBy,
		SentAt:     &now,
		CreatedAt:  now,
	}
	recipients := make([]Recipient, 0, len(inputs))
	for i, in := range inputs {
		order := i + 1
		if in.SigningOrder != nil {
			order = *in.SigningOrder
		}
		r := Recipient{
			ID:           ids.New(),
			EnvelopeID:   env.ID,
			CompanyID:    companyID,
			Email:        emails[i],
			Role:         RoleSigner,
			SigningOrder: order,
			Status:       RecipientPending,
		}
		if uid, ok := userIDs[emails[i]]; ok {
			r.UserID = &uid
		}
		recipients = append(recipients, r)
	}
	events := []Event{
		{ID: ids.New(), EnvelopeID: env.ID, CompanyID: companyID, Type: EventEnvelopeCreated, Payload: payload(map[string]any{"contract_id": contractID}), CreatedAt: now},
		{ID: ids.New(), EnvelopeID: env.ID, CompanyID: companyID, Type: EventEnvelopeSent, Payload: payload(map[string]any{"sent_at": now.Format(time.RFC3339Nano)}), CreatedAt: now},
	}
	if err := s.store.CreateEnvelope(ctx, env, recipients, events); err != nil {
		return Envelope{}, nil, err
	}
	obs.SignatureTransitions.WithLabelValues("envelope_sent").Inc()
	s.events.Publish(stream.NewEvent(stream.TypeEnvelopeCreated, companyID, env.ID, map[string]any{"contract_id": contractID, "recipients": len(recipients)}))
	return env, recipients, nil
}

// Sign records the caller's signature. Repeated calls are no-ops reporting already_signed.
func (s *Service) Sign(ctx context.Context, companyID, envelopeID, userID, email string) (Result, error) {
	companyID = strings.TrimSpace(companyID)
	envelopeID = strings.TrimSpace(envelopeID)
	userID = strings.TrimSpace(userID)
	if companyID == "" || envelopeID == "" {
		return Result{}, fmt.Errorf("%w: missing fields", ErrInvalidInput)
	}
	if userID == "" {
		return Result{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	r, err := s.store.RecipientForUser(ctx, companyID, envelopeID, userID)
	if errors.Is(err, ErrNotFound) {
		return Result{}, ErrNoTask
	}
	if err != nil {
		return Result{}, err
	}
	if r.Status == RecipientSigned {
		return s.alreadySigned(ctx, companyID, envelopeID), nil
	}

	now := s.now().UTC()
	changed, err := s.store.MarkRecipientSigned(ctx, r.ID, now)
	if err != nil {
		return Result{}, err
	}
	if !changed {
		return s.alreadySigned(ctx, companyID, envelopeID), nil
	}
	obs.SignatureTransitions.WithLabelValues("recipient_signed").Inc()

	recipientID := r.ID
	if err := s.store.AppendEvent(ctx, Event{
		ID:          ids.New(),
		EnvelopeID:  envelopeID,
		RecipientID: &recipientID,
		CompanyID:   companyID,
		Type:        EventRecipientSigned,
		Payload:     payload(map[string]any{"user_id": userID, "email": strings.ToLower(strings.TrimSpace(email))}),
		CreatedAt:   now,
	}); err != nil {
		return Result{}, err
	}
	s.events.Publish(stream.NewEvent(stream.TypeRecipientSigned, companyID, envelopeID, map[string]any{"recipient_id": r.ID}))

	completed, err := s.store.CompleteEnvelope(ctx, companyID, envelopeID, now, Event{
		ID:         ids.New(),
		EnvelopeID: envelopeID,
		CompanyID:  companyID,
		Type:       EventEnvelopeFullySigned,
		Payload:    payload(map[string]any{"completed_at": now.Format(time.RFC3339Nano)}),
		CreatedAt:  now,
	})
	if err != nil {
		return Result{}, err
	}
	status := EnvelopePendingSignature
	if completed {
		status = EnvelopeFullySigned
		obs.SignatureTransitions.WithLabelValues("envelope_fully_signed").Inc()
		s.events.Publish(stream.NewEvent(stream.TypeEnvelopeFullySigned, companyID, envelopeID, nil))
	}
	return Result{Status: ResultSigned, EnvelopeStatus: status}, nil
}

func (s *Service) alreadySigned(ctx context.Context, companyID, envelopeID string) Result {
	res := Result{Status: ResultAlreadySigned}
	if env, err := s.store.Envelope(ctx, companyID, envelopeID); err == nil {
		res.EnvelopeStatus = env.Status
	}
	return res
}

// Envelope returns an envelope of the company.
func (s *Service) Envelope(ctx context.Context, companyID, envelopeID string) (Envelope, error) {
	return s.store.Envelope(ctx, strings.TrimSpace(companyID), strings.TrimSpace(envelopeID))
}

// ListMyTasks returns the caller's pending signatures in the company, newest first.
func (s *Service) ListMyTasks(ctx context.Context, companyID, userID string) ([]Task, error) {
	companyID = strings.TrimSpace(companyID)
	userID = strings.TrimSpace(userID)
	if companyID == "" {
		return nil, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	if userID == "" {
		return []Task{}, nil
	}
	tasks, err := s.store.ListTasks(ctx, companyID, userID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return tasks, nil
}
