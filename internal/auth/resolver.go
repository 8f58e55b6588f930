package auth

import (
	"context"
	"errors"
	"sort"
	"strings"

	"clmhub.io/internal/obs"
)

// MembershipStore loads memberships and role grants.
type MembershipStore interface {
	ActiveMembership(ctx context.Context, companyID, userID string) (Membership, error)
	RolePermissionKeys(ctx context.Context, companyID, roleID string) ([]string, error)
}

// Access is the caller's resolved capability set in one company.
// The zero value has no active company and grants nothing.
type Access struct {
	Membership *Membership
	keys       map[string]struct{}
}

// NewAccess builds an Access from an already loaded membership and its role keys.
func NewAccess(m *Membership, keys []string) Access {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return Access{Membership: m, keys: set}
}

// Can reports whether the caller holds key in the active company.
func (a Access) Can(key string) bool {
	if a.Membership == nil {
		return false
	}
	if a.Membership.IsAdmin {
		return true
	}
	_, ok := a.keys[key]
	return ok
}

// IsAdmin reports whether the active membership carries the admin flag.
func (a Access) IsAdmin() bool {
	return a.Membership != nil && a.Membership.IsAdmin
}

// Keys returns the effective permission keys, sorted. Admins get the whole vocabulary.
func (a Access) Keys() []string {
	if a.Membership == nil {
		return []string{}
	}
	if a.Membership.IsAdmin {
		out := make([]string, len(AllPermissions))
		copy(out, AllPermissions)
		sort.Strings(out)
		return out
	}
	out := make([]string, 0, len(a.keys))
	for k := range a.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolver loads Access for a (company, user) pair.
type Resolver struct {
	store MembershipStore
}

// NewResolver builds a resolver over the membership store.
func NewResolver(store MembershipStore) *Resolver {
	return &Resolver{store: store}
}

// Load resolves the caller's access. Missing membership gives an Access without an
// active company; any failure while loading role keys leaves the key set empty.
func (r *Resolver) Load(ctx context.Context, companyID, userID string) Access {
	m, err := r.membership(ctx, companyID, userID)
	if err != nil {
		if !errors.Is(err, ErrNotMember) {
			obs.Warn("permission_load_failed", map[string]any{"company_id": companyID, "user_id": userID, "error": err})
		}
		return Access{}
	}
	return r.access(ctx, m)
}

func (r *Resolver) access(ctx context.Context, m Membership) Access {
	if m.IsAdmin || m.RoleID == nil || *m.RoleID == "" {
		return NewAccess(&m, nil)
	}
	keys, err := r.store.RolePermissionKeys(ctx, m.CompanyID, *m.RoleID)
	if err != nil {
		obs.Warn("permission_load_failed", map[string]any{"company_id": m.CompanyID, "role_id": *m.RoleID, "error": err})
		return NewAccess(&m, nil)
	}
	return NewAccess(&m, keys)
}

func (r *Resolver) membership(ctx context.Context, companyID, userID string) (Membership, error) {
	companyID = strings.TrimSpace(companyID)
	userID = strings.TrimSpace(userID)
	if companyID == "" || userID == "" {
		return Membership{}, ErrNotMember
	}
	m, err := r.store.ActiveMembership(ctx, companyID, userID)
	if errors.Is(err, ErrNotFound) {
		return Membership{}, ErrNotMember
	}
	if err != nil {
		return Membership{}, err
	}
	if !m.IsActive {
		return Membership{}, ErrNotMember
	}
	return m, nil
}

// Guard is the single membership-then-permission check used by every privileged endpoint.
type Guard struct {
	resolver *Resolver
}

// NewGuard builds a guard over the resolver.
func NewGuard(resolver *Resolver) *Guard {
	return &Guard{resolver: resolver}
}

// RequireMember returns the caller's access or ErrNotMember.
// Store failures are returned as-is so callers can answer 500 instead of 403.
func (g *Guard) RequireMember(ctx context.Context, companyID, userID string) (Access, error) {
	m, err := g.resolver.membership(ctx, companyID, userID)
	if err != nil {
		return Access{}, err
	}
	return g.resolver.access(ctx, m), nil
}

// RequirePermission admits admins and members whose role grants key.
func (g *Guard) RequirePermission(ctx context.Context, companyID, userID, key string) (Access, error) {
	access, err := g.RequireMember(ctx, companyID, userID)
	if err != nil {
		return Access{}, err
	}
	if !access.Can(key) {
		return Access{}, &PermissionError{Key: key}
	}
	return access, nil
}
