package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clmhub.io/internal/ids"
)

var (
	ErrInvalidInput = errors.New("audit: invalid input")
	ErrNotFound     = errors.New("audit: not found")
)

const (
	// EntityContract is the entity_type used for contract level entries.
	EntityContract = "contract"
	// EntityContractVersion is the entity_type written when a version is saved.
	EntityContractVersion = "contract_version"

	DefaultListLimit = 50
	maxListLimit     = 500
)

// Entry is one row of the append-only audit log.
type Entry struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"company_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActorEmail string          `json:"actor_email,omitempty"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	Action     string          `json:"action"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListQuery selects entries for one entity inside a company.
type ListQuery struct {
	CompanyID  string
	EntityType string
	EntityID   string
	Limit      int
}

// Store persists audit entries.
type Store interface {
	InsertAuditEntry(ctx context.Context, e Entry) (Entry, error)
	ListAuditEntries(ctx context.Context, q ListQuery) ([]Entry, error)
}

// Recorder validates and writes audit entries.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder builds a recorder over the store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends an entry. company_id, entity_type and action are required.
func (r *Recorder) Record(ctx context.Context, e Entry) (Entry, error) {
	e.CompanyID = strings.TrimSpace(e.CompanyID)
	e.EntityType = strings.TrimSpace(e.EntityType)
	e.EntityID = strings.TrimSpace(e.EntityID)
	e.Action = strings.TrimSpace(e.Action)
	e.ActorEmail = strings.ToLower(strings.TrimSpace(e.ActorEmail))
	switch {
	case e.CompanyID == "":
		return Entry{}, fmt.Errorf("%w: missing company_id", ErrInvalidInput)
	case e.EntityType == "" || e.Action == "":
		return Entry{}, fmt.Errorf("%w: missing entity_type/action", ErrInvalidInput)
	}
	for _, raw := range []json.RawMessage{e.OldValue, e.NewValue} {
		if len(raw) > 0 && !json.Valid(raw) {
			return Entry{}, fmt.Errorf("%w: old_value/new_value must be JSON", ErrInvalidInput)
		}
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	return r.store.InsertAuditEntry(ctx, e)
}

// ListForContract returns the newest entries about a contract, limit defaulting to 50.
func (r *Recorder) ListForContract(ctx context.Context, companyID, contractID string, limit int) ([]Entry, error) {
	companyID = strings.TrimSpace(companyID)
	contractID = strings.TrimSpace(contractID)
	if companyID == "" || contractID == "" {
		return nil, fmt.Errorf("%w: company and contract are required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return r.store.ListAuditEntries(ctx, ListQuery{
		CompanyID:  companyID,
		EntityType: EntityContract,
		EntityID:   contractID,
		Limit:      limit,
	})
}

// JSON marshals v for OldValue/NewValue, returning nil on failure.
func JSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
