package company

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clmhub.io/internal/auth"
	"clmhub.io/internal/ids"
	"clmhub.io/internal/stream"
)

var (
	ErrInvalidInput      = errors.New("company: invalid input")
	ErrNotFound          = errors.New("company: not found")
	ErrConflict          = errors.New("company: already exists")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrUserNotFound      = errors.New("user not found (must sign up first)")
)

// Company is a tenant.
type Company struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	InviteCode          *string   `json:"invite_code,omitempty"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
}

// Summary pairs a company with the caller's membership in it.
type Summary struct {
	Company    Company         `json:"company"`
	Membership auth.Membership `json:"membership"`
}

// Store persists companies, memberships and roles.
type Store interface {
	ListMyCompanies(ctx context.Context, userID string) ([]Summary, error)
	CreateCompanyWithOwner(ctx context.Context, c Company, owner auth.Membership) (Company, error)
	CompanyByInviteCode(ctx context.Context, code string) (Company, error)
	UpsertMembership(ctx context.Context, m auth.Membership) (auth.Membership, error)
	// JoinMembership writes flags and joined_at but keeps an existing role.
	JoinMembership(ctx context.Context, m auth.Membership) (auth.Membership, error)
	// UserByEmail returns auth.ErrNotFound when no account uses email.
	UserByEmail(ctx context.Context, email string) (auth.User, error)
	CreateRole(ctx context.Context, role auth.Role) (auth.Role, error)
	SetRolePermissions(ctx context.Context, companyID, roleID string, keys []string) error
	RolePermissionKeys(ctx context.Context, companyID, roleID string) ([]string, error)
}

// Service implements the company directory.
type Service struct {
	store  Store
	events stream.Publisher
	now    func() time.Time
}

// NewService wires the directory. A nil publisher discards events.
func NewService(store Store, events stream.Publisher) *Service {
	if events == nil {
		events = stream.Discard{}
	}
	return &Service{store: store, events: events, now: time.Now}
}

// ListMyCompanies returns the caller's active memberships, most recently joined first.
func (s *Service) ListMyCompanies(ctx context.Context, userID string) ([]Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.ListMyCompanies(ctx, userID)
}

// CreateCompany creates a company and makes the caller its admin in one step.
func (s *Service) CreateCompany(ctx context.Context, userID, name string) (Summary, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" {
		return Summary{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if name == "" {
		return Summary{}, fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	code := ids.InviteCode(4)
	now := s.now().UTC()
	c := Company{ID: ids.New(), Name: name, InviteCode: &code, CreatedAt: now}
	owner := auth.Membership{
		CompanyID: c.ID,
		UserID:    userID,
		IsAdmin:   true,
		IsActive:  true,
		JoinedAt:  &now,
	}
	created, err := s.store.CreateCompanyWithOwner(ctx, c, owner)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Company: created, Membership: owner}, nil
}

// JoinByInviteCode adds the caller as an active non-admin member of the company owning code.
func (s *Service) JoinByInviteCode(ctx context.Context, userID, code string) (auth.Membership, error) {
	userID = strings.TrimSpace(userID)
	code = NormalizeInviteCode(code)
	if userID == "" {
		return auth.Membership{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if code == "" {
		return auth.Membership{}, fmt.Errorf("%w: missing invite_code", ErrInvalidInput)
	}
	c, err := s.store.CompanyByInviteCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return auth.Membership{}, ErrInvalidInviteCode
	}
	if err != nil {
		return auth.Membership{}, err
	}
	now := s.now().UTC()
	m, err := s.store.JoinMembership(ctx, auth.Membership{
		CompanyID: c.ID,
		UserID:    userID,
		IsAdmin:   false,
		IsActive:  true,
		JoinedAt:  &now,
	})
	if err != nil {
		return auth.Membership{}, err
	}
	s.events.Publish(stream.NewEvent(stream.TypeMembershipChanged, c.ID, userID, map[string]any{"mode": "join_by_invite_code"}))
	return m, nil
}

// AddMemberInput describes an admin adding an existing user by email.
type AddMemberInput struct {
	CompanyID string
	Email     string
	RoleID    *string
	IsAdmin   bool
}

// AddMemberByEmail upserts an active membership for a user that has already signed up.
// The caller must already hold roles.manage in the company.
func (s *Service) AddMemberByEmail(ctx context.Context, in AddMemberInput) (auth.Membership, error) {
	companyID := strings.TrimSpace(in.CompanyID)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if companyID == "" || email == "" {
		return auth.Membership{}, fmt.Errorf("%w: missing company_id/email", ErrInvalidInput)
	}
	var roleID *string
	if in.RoleID != nil && strings.TrimSpace(*in.RoleID) != "" {
		r := strings.TrimSpace(*in.RoleID)
		roleID = &r
	}
	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		return auth.Membership{}, ErrUserNotFound
	}
	if err != nil {
		return auth.Membership{}, err
	}
	now := s.now().UTC()
	m, err := s.store.UpsertMembership(ctx, auth.Membership{
		CompanyID: companyID,
		UserID:    user.ID,
		RoleID:    roleID,
		IsAdmin:   in.IsAdmin,
		IsActive:  true,
		InvitedAt: &now,
		JoinedAt:  &now,
	})
	if err != nil {
		return auth.Membership{}, err
	}
	s.events.Publish(stream.NewEvent(stream.TypeMembershipChanged, companyID, user.ID, map[string]any{"mode": "admin_add_by_email"}))
	return m, nil
}

// CreateRole adds a named role to the company.
func (s *Service) CreateRole(ctx context.Context, companyID, name string) (auth.Role, error) {
	companyID = strings.TrimSpace(companyID)
	name = strings.TrimSpace(name)
	if companyID == "" || name == "" {
		return auth.Role{}, fmt.Errorf("%w: company id and role name are required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, auth.Role{ID: ids.New(), CompanyID: companyID, Name: name, CreatedAt: s.now().UTC()})
}

// SetRolePermissions replaces the role's grants. Every key must belong to the vocabulary.
func (s *Service) SetRolePermissions(ctx context.Context, companyID, roleID string, keys []string) ([]string, error) {
	companyID = strings.TrimSpace(companyID)
	roleID = strings.TrimSpace(roleID)
	if companyID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: company id and role id are required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(keys))
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !auth.ValidPermission(k) {
			return nil, fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, k)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		clean = append(clean, k)
	}
	if err := s.store.SetRolePermissions(ctx, companyID, roleID, clean); err != nil {
		return nil, err
	}
	return clean, nil
}

// RolePermissionKeys lists the keys granted to a role.
func (s *Service) RolePermissionKeys(ctx context.Context, companyID, roleID string) ([]string, error) {
	return s.store.RolePermissionKeys(ctx, strings.TrimSpace(companyID), strings.TrimSpace(roleID))
}
