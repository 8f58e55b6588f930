package company

import (
	"encoding/json"
	"fmt"
	"strings"

	"clmhub.io/internal/config"
)

// PendingKey is where a not-yet-submitted onboarding action is kept between sessions.
const PendingKey = "clm:onboarding:pending"

const activeCompanyKeyPrefix = "clm.activeCompanyId."

// Onboarding action types.
const (
	ActionCreateOrg = "create_org"
	ActionJoinOrg   = "join_org"
)

// NormalizeInviteCode trims and lowercases an invite code. It is idempotent.
func NormalizeInviteCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Action is the onboarding step a new user chose.
type Action struct {
	Type        string `json:"type"`
	CompanyName string `json:"companyName,omitempty"`
	InviteCode  string `json:"inviteCode,omitempty"`
}

// BuildCreateOrgAction validates a company name for the create flow.
func BuildCreateOrgAction(name string) (Action, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Action{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	return Action{Type: ActionCreateOrg, CompanyName: name}, nil
}

// BuildJoinOrgAction validates an invite code for the join flow.
func BuildJoinOrgAction(code string) (Action, error) {
	code = NormalizeInviteCode(code)
	if code == "" {
		return Action{}, fmt.Errorf("%w: invite code is required", ErrInvalidInput)
	}
	return Action{Type: ActionJoinOrg, InviteCode: code}, nil
}

// PendingStore keeps the pending onboarding action in client storage.
type PendingStore struct {
	storage config.Storage
}

// NewPendingStore wraps storage.
func NewPendingStore(storage config.Storage) *PendingStore {
	return &PendingStore{storage: storage}
}

// Save stores a.
func (p *PendingStore) Save(a Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return p.storage.Set(PendingKey, string(data))
}

// Load returns the pending action. Missing or unreadable values report false.
func (p *PendingStore) Load() (Action, bool) {
	raw, ok := p.storage.Get(PendingKey)
	if !ok || strings.TrimSpace(raw) == "" {
		return Action{}, false
	}
	var a Action
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return Action{}, false
	}
	switch a.Type {
	case ActionCreateOrg, ActionJoinOrg:
		return a, true
	}
	return Action{}, false
}

// Clear removes the pending action.
func (p *PendingStore) Clear() error {
	return p.storage.Delete(PendingKey)
}

// ActiveSelection remembers which company a user last worked in.
type ActiveSelection struct {
	storage config.Storage
}

// NewActiveSelection wraps storage.
func NewActiveSelection(storage config.Storage) *ActiveSelection {
	return &ActiveSelection{storage: storage}
}

func activeCompanyKey(userID string) string {
	return activeCompanyKeyPrefix + userID
}

// Remember persists companyID as the user's active company.
func (a *ActiveSelection) Remember(userID, companyID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if companyID == "" {
		return a.storage.Delete(activeCompanyKey(userID))
	}
	return a.storage.Set(activeCompanyKey(userID), companyID)
}

// Resolve picks the active company from the user's current companies: the stored one when
// still present, otherwise the only company when there is exactly one.
func (a *ActiveSelection) Resolve(userID string, companies []Summary) (Summary, bool) {
	if stored, ok := a.storage.Get(activeCompanyKey(userID)); ok && stored != "" {
		for _, c := range companies {
			if c.Company.ID == stored {
				return c, true
			}
		}
	}
	if len(companies) == 1 {
		return companies[0], true
	}
	return Summary{}, false
}
