package contracts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/ids"
	"clmhub.io/internal/stream"
)

var (
	ErrInvalidInput = errors.New("contracts: invalid input")
	ErrNotFound     = errors.New("contracts: not found")
	ErrConflict     = errors.New("contracts: already exists")
)

// Contract lifecycle statuses.
const (
	StatusDraft            = "draft"
	StatusInReview         = "in_review"
	StatusPendingApproval  = "pending_approval"
	StatusSentForSignature = "sent_for_signature"
	StatusFullyExecuted    = "fully_executed"
	StatusActive           = "active"
	StatusExpired          = "expired"
	StatusTerminated       = "terminated"
	StatusSuperseded       = "superseded"
	StatusArchived         = "archived"

	statusAll = "all"

	DefaultPageSize = 20
	maxPageSize     = 200
)

// Statuses lists the lifecycle vocabulary in order.
var Statuses = []string{
	StatusDraft, StatusInReview, StatusPendingApproval, StatusSentForSignature, StatusFullyExecuted,
	StatusActive, StatusExpired, StatusTerminated, StatusSuperseded, StatusArchived,
}

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalSkipped  = "skipped"
	ApprovalCanceled = "canceled"
)

// ValidStatus reports whether s is a lifecycle status.
func ValidStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Contract is a company owned agreement with a denormalized current content snapshot.
type Contract struct {
	ID               string     `json:"id"`
	CompanyID        string     `json:"company_id"`
	Title            string     `json:"title"`
	Description      *string    `json:"description"`
	Status           string     `json:"status"`
	CounterpartyName *string    `json:"counterparty_name"`
	EffectiveDate    *time.Time `json:"effective_date"`
	EndDate          *time.Time `json:"end_date"`
	TotalValue       *float64   `json:"total_value"`
	Currency         *string    `json:"currency"`
	SignatureStatus  *string    `json:"signature_status,omitempty"`
	Content          *string    `json:"content"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Version is an immutable content snapshot, numbered per contract from 1.
type Version struct {
	ID            string    `json:"id"`
	ContractID    string    `json:"contract_id"`
	VersionNumber int       `json:"version_number"`
	Status        string    `json:"status"`
	AuthorID      string    `json:"author_id,omitempty"`
	Content       *string   `json:"content"`
	Summary       *string   `json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListParams are the caller supplied filters for List.
type ListParams struct {
	CompanyID string
	Page      int
	PageSize  int
	Status    string
	Search    string
}

// ListQuery is what the store executes. CompanyID is always set.
type ListQuery struct {
	CompanyID string
	Status    string
	Search    string
	Offset    int
	Limit     int
}

// Page is one page of contracts plus the total matching count.
type Page struct {
	Contracts []Contract `json:"contracts"`
	Total     int        `json:"total"`
}

// Store persists contracts and versions.
type Store interface {
	ListContracts(ctx context.Context, q ListQuery) ([]Contract, int, error)
	Contract(ctx context.Context, companyID, id string) (Contract, error)
	CreateContract(ctx context.Context, c Contract) (Contract, error)
	UpdateContractStatus(ctx context.Context, companyID, id, status string) (Contract, error)
	ListVersions(ctx context.Context, companyID, contractID string) ([]Version, error)
	// AppendVersion numbers v as max+1 for the contract, stores it with the contract's
	// current status and copies its content onto the contract, all atomically.
	AppendVersion(ctx context.Context, companyID string, v Version) (Version, error)
}

// AuditEmitter records audit entries without blocking the caller.
type AuditEmitter interface {
	Emit(ctx context.Context, e audit.Entry)
}

// Service is the contracts and versions domain service. Every call is scoped by company id.
type Service struct {
	store  Store
	audit  AuditEmitter
	events stream.Publisher
	now    func() time.Time
}

// NewService wires the service. Nil emitter or publisher disable those side effects.
func NewService(store Store, emitter AuditEmitter, events stream.Publisher) *Service {
	if events == nil {
		events = stream.Discard{}
	}
	return &Service{store: store, audit: emitter, events: events, now: time.Now}
}

func requireScope(companyID, contractID string) (string, string, error) {
	companyID = strings.TrimSpace(companyID)
	contractID = strings.TrimSpace(contractID)
	if companyID == "" {
		return "", "", fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	if contractID == "" {
		return "", "", fmt.Errorf("%w: contract id is required", ErrInvalidInput)
	}
	return companyID, contractID, nil
}

// BuildListQuery turns list params into a store query. The company filter is mandatory.
func BuildListQuery(p ListParams) (ListQuery, error) {
	companyID := strings.TrimSpace(p.CompanyID)
	if companyID == "" {
		return ListQuery{}, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	status := strings.TrimSpace(p.Status)
	if status == statusAll {
		status = ""
	}
	if status != "" && !ValidStatus(status) {
		return ListQuery{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return ListQuery{
		CompanyID: companyID,
		Status:    status,
		Search:    strings.TrimSpace(p.Search),
		Offset:    (page - 1) * size,
		Limit:     size,
	}, nil
}

// LikePattern builds a case-insensitive substring pattern with LIKE wildcards escaped.
func LikePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}

// List returns one page of the company's contracts, most recently updated first.
func (s *Service) List(ctx context.Context, p ListParams) (Page, error) {
	q, err := BuildListQuery(p)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.store.ListContracts(ctx, q)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Contract{}
	}
	return Page{Contracts: items, Total: total}, nil
}

// Get returns a contract owned by the company.
func (s *Service) Get(ctx context.Context, companyID, contractID string) (Contract, error) {
	companyID, contractID, err := requireScope(companyID, contractID)
	if err != nil {
		return Contract{}, err
	}
	return s.store.Contract(ctx, companyID, contractID)
}

// Create starts a new draft contract.
func (s *Service) Create(ctx context.Context, companyID, title string) (Contract, error) {
	companyID = strings.TrimSpace(companyID)
	title = strings.TrimSpace(title)
	if companyID == "" {
		return Contract{}, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	if title == "" {
		return Contract{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	c, err := s.store.CreateContract(ctx, Contract{
		ID:        ids.New(),
		CompanyID: companyID,
		Title:     title,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Contract{}, err
	}
	s.events.Publish(stream.NewEvent(stream.TypeContractCreated, companyID, c.ID, map[string]any{"title": c.Title}))
	return c, nil
}

// UpdateStatus moves a contract to another lifecycle status.
func (s *Service) UpdateStatus(ctx context.Context, companyID, contractID, status string) (Contract, error) {
	companyID, contractID, err := requireScope(companyID, contractID)
	if err != nil {
		return Contract{}, err
	}
	status = strings.TrimSpace(status)
	if !ValidStatus(status) {
		return Contract{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	c, err := s.store.UpdateContractStatus(ctx, companyID, contractID, status)
	if err != nil {
		return Contract{}, err
	}
	s.events.Publish(stream.NewEvent(stream.TypeContractStatusChanged, companyID, c.ID, map[string]any{"status": c.Status}))
	return c, nil
}

// ListVersions returns the contract's versions, newest first.
func (s *Service) ListVersions(ctx context.Context, companyID, contractID string) ([]Version, error) {
	companyID, contractID, err := requireScope(companyID, contractID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Contract(ctx, companyID, contractID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, companyID, contractID)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []Version{}
	}
	return versions, nil
}

// SaveNewVersion appends a version carrying content and makes it the contract's current content.
// The audit entry is written in the background; its failure never reaches the caller.
func (s *Service) SaveNewVersion(ctx context.Context, companyID, contractID, authorID, content string) (Version, error) {
	companyID, contractID, err := requireScope(companyID, contractID)
	if err != nil {
		return Version{}, err
	}
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return Version{}, fmt.Errorf("%w: not authenticated", ErrInvalidInput)
	}
	body := content
	v, err := s.store.AppendVersion(ctx, companyID, Version{
		ID:         ids.New(),
		ContractID: contractID,
		AuthorID:   authorID,
		Content:    &body,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return Version{}, err
	}
	if s.audit != nil {
		s.audit.Emit(ctx, audit.Entry{
			CompanyID:  companyID,
			ActorID:    authorID,
			EntityType: audit.EntityContractVersion,
			EntityID:   v.ID,
			Action:     "updated",
			NewValue:   audit.JSON(map[string]any{"contract_id": contractID, "version_number": v.VersionNumber}),
		})
	}
	s.events.Publish(stream.NewEvent(stream.TypeVersionSaved, companyID, contractID, map[string]any{"version_number": v.VersionNumber}))
	return v, nil
}
