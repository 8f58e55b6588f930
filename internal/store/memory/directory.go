package memory

import (
	"context"
	"sort"
	"strings"

	"clmhub.io/internal/auth"
	"clmhub.io/internal/company"
)

// CreateUser adds an account; emails are unique.
func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return auth.User{}, auth.ErrConflict
		}
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

// UserByEmail finds an account by lowercase email.
func (s *Store) UserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

// UserByID finds an account by id.
func (s *Store) UserByID(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

// UpsertProfile creates or refreshes the profile fields of a user.
func (s *Store) UpsertProfile(_ context.Context, id, email, fullName string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	u, ok := s.users[id]
	if !ok {
		u = auth.User{ID: id, CreatedAt: now}
	}
	if email != "" {
		u.Email = email
	}
	if fullName != "" {
		u.FullName = fullName
	}
	u.UpdatedAt = now
	s.users[id] = u
	return u, nil
}

// UserIDsByEmail maps each known email to its user id.
func (s *Store) UserIDsByEmail(_ context.Context, emails []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		want[e] = struct{}{}
	}
	out := make(map[string]string)
	for _, u := range s.users {
		if _, ok := want[u.Email]; ok {
			out[u.Email] = u.ID
		}
	}
	return out, nil
}

// ActiveMembership returns the caller's active membership in the company.
func (s *Store) ActiveMembership(_ context.Context, companyID, userID string) (auth.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey{companyID, userID}]
	if !ok || !m.IsActive {
		return auth.Membership{}, auth.ErrNotFound
	}
	return m, nil
}

// ListMyCompanies returns the user's active memberships, most recently joined first.
func (s *Store) ListMyCompanies(_ context.Context, userID string) ([]company.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []company.Summary{}
	for key, m := range s.memberships {
		if key.userID != userID || !m.IsActive {
			continue
		}
		c, ok := s.companies[key.companyID]
		if !ok {
			continue
		}
		out = append(out, company.Summary{Company: c, Membership: m})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Membership.JoinedAt, out[j].Membership.JoinedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out, nil
}

// CreateCompanyWithOwner adds the company and its first admin together.
func (s *Store) CreateCompanyWithOwner(_ context.Context, c company.Company, owner auth.Membership) (company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.companies[c.ID]; exists {
		return company.Company{}, company.ErrConflict
	}
	if c.InviteCode != nil {
		for _, other := range s.companies {
			if other.InviteCode != nil && *other.InviteCode == *c.InviteCode {
				return company.Company{}, company.ErrConflict
			}
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.companies[c.ID] = c
	owner.CompanyID = c.ID
	s.memberships[membershipKey{c.ID, owner.UserID}] = owner
	return c, nil
}

// CompanyByInviteCode finds the company owning code.
func (s *Store) CompanyByInviteCode(_ context.Context, code string) (company.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if c.InviteCode != nil && *c.InviteCode == code {
			return c, nil
		}
	}
	return company.Company{}, company.ErrNotFound
}

// UpsertMembership writes the (company, user) membership. A nil InvitedAt keeps the stored one.
func (s *Store) UpsertMembership(_ context.Context, m auth.Membership) (auth.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[m.CompanyID]; !ok {
		return auth.Membership{}, company.ErrNotFound
	}
	key := membershipKey{m.CompanyID, m.UserID}
	if prev, ok := s.memberships[key]; ok && m.InvitedAt == nil {
		m.InvitedAt = prev.InvitedAt
	}
	s.memberships[key] = m
	return m, nil
}

// JoinMembership is UpsertMembership without touching an existing role.
func (s *Store) JoinMembership(_ context.Context, m auth.Membership) (auth.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[m.CompanyID]; !ok {
		return auth.Membership{}, company.ErrNotFound
	}
	key := membershipKey{m.CompanyID, m.UserID}
	if prev, ok := s.memberships[key]; ok {
		m.RoleID = prev.RoleID
		if m.InvitedAt == nil {
			m.InvitedAt = prev.InvitedAt
		}
	}
	s.memberships[key] = m
	return m, nil
}

// CreateRole adds a role; names are unique within a company.
func (s *Store) CreateRole(_ context.Context, role auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[role.CompanyID]; !ok {
		return auth.Role{}, company.ErrNotFound
	}
	for _, r := range s.roles {
		if r.CompanyID == role.CompanyID && strings.EqualFold(r.Name, role.Name) {
			return auth.Role{}, company.ErrConflict
		}
	}
	s.roles[role.ID] = role
	return role, nil
}

// SetRolePermissions replaces the grants of a company role.
func (s *Store) SetRolePermissions(_ context.Context, companyID, roleID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok || r.CompanyID != companyID {
		return company.ErrNotFound
	}
	s.rolePerms[roleID] = append([]string(nil), keys...)
	return nil
}

// RolePermissionKeys lists a company role's grants, sorted.
func (s *Store) RolePermissionKeys(_ context.Context, companyID, roleID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok || r.CompanyID != companyID {
		return nil, company.ErrNotFound
	}
	keys := append([]string{}, s.rolePerms[roleID]...)
	sort.Strings(keys)
	return keys, nil
}
