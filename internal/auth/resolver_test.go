package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type stubMembershipStore struct {
	membershipFn func(context.Context, string, string) (Membership, error)
	roleKeysFn   func(context.Context, string, string) ([]string, error)
}

func (s *stubMembershipStore) ActiveMembership(ctx context.Context, companyID, userID string) (Membership, error) {
	if s.membershipFn != nil {
		return s.membershipFn(ctx, companyID, userID)
	}
	return Membership{}, ErrNotFound
}

func (s *stubMembershipStore) RolePermissionKeys(ctx context.Context, companyID, roleID string) ([]string, error) {
	if s.roleKeysFn != nil {
		return s.roleKeysFn(ctx, companyID, roleID)
	}
	return nil, nil
}

func strPtr(s string) *string { return &s }

func TestAccessCanMatchesAdminOrGrant(t *testing.T) {
	grantSets := [][]string{
		nil,
		{PermAuditView},
		{PermContractsCreate, PermContractsUpdate},
		AllPermissions,
	}
	for _, keys := range grantSets {
		for _, admin := range []bool{false, true} {
			access := NewAccess(&Membership{CompanyID: "c1", UserID: "u1", IsAdmin: admin, IsActive: true}, keys)
			for _, key := range AllPermissions {
				want := admin || slices.Contains(keys, key)
				if got := access.Can(key); got != want {
					t.Fatalf("Can(%q) admin=%v keys=%v: got %v want %v", key, admin, keys, got, want)
				}
				if got := CanPermission(admin, keys, key); got != want {
					t.Fatalf("CanPermission(%q) admin=%v keys=%v: got %v want %v", key, admin, keys, got, want)
				}
			}
		}
	}
}

func TestAccessWithoutCompanyGrantsNothing(t *testing.T) {
	var access Access
	for _, key := range AllPermissions {
		if access.Can(key) {
			t.Fatalf("zero Access granted %q", key)
		}
	}
	if len(access.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", access.Keys())
	}
}

func TestResolverLoadFailsClosed(t *testing.T) {
	store := &stubMembershipStore{
		membershipFn: func(_ context.Context, companyID, userID string) (Membership, error) {
			return Membership{CompanyID: companyID, UserID: userID, RoleID: strPtr("r1"), IsActive: true}, nil
		},
		roleKeysFn: func(context.Context, string, string) ([]string, error) {
			return nil, errors.New("connection reset")
		},
	}
	access := NewResolver(store).Load(context.Background(), "c1", "u1")
	if access.Membership == nil {
		t.Fatal("expected the membership to stay active")
	}
	for _, key := range AllPermissions {
		if access.Can(key) {
			t.Fatalf("expected empty key set after load failure, %q granted", key)
		}
	}
}

func TestResolverLoadStoreErrorHasNoCompany(t *testing.T) {
	store := &stubMembershipStore{
		membershipFn: func(context.Context, string, string) (Membership, error) {
			return Membership{}, errors.New("db down")
		},
	}
	access := NewResolver(store).Load(context.Background(), "c1", "u1")
	if access.Membership != nil || access.Can(PermAuditView) {
		t.Fatalf("expected empty access, got %+v", access)
	}
}

func TestGuardDecisions(t *testing.T) {
	memberships := map[string]Membership{
		"admin":    {CompanyID: "c1", UserID: "admin", IsAdmin: true, IsActive: true},
		"editor":   {CompanyID: "c1", UserID: "editor", RoleID: strPtr("role-editor"), IsActive: true},
		"norole":   {CompanyID: "c1", UserID: "norole", IsActive: true},
		"inactive": {CompanyID: "c1", UserID: "inactive", IsAdmin: true, IsActive: false},
	}
	store := &stubMembershipStore{
		membershipFn: func(_ context.Context, companyID, userID string) (Membership, error) {
			m, ok := memberships[userID]
			if !ok || companyID != "c1" {
				return Membership{}, ErrNotFound
			}
			return m, nil
		},
		roleKeysFn: func(_ context.Context, _ string, roleID string) ([]string, error) {
			if roleID == "role-editor" {
				return []string{PermContractsUpdate}, nil
			}
			return nil, nil
		},
	}
	guard := NewGuard(NewResolver(store))
	ctx := context.Background()

	cases := []struct {
		name    string
		company string
		user    string
		perm    string
		wantErr error
	}{
		{name: "admin bypasses roles", company: "c1", user: "admin", perm: PermOrgManage},
		{name: "granted key", company: "c1", user: "editor", perm: PermContractsUpdate},
		{name: "missing key", company: "c1", user: "editor", perm: PermOrgManage, wantErr: ErrForbidden},
		{name: "no role", company: "c1", user: "norole", perm: PermAuditView, wantErr: ErrForbidden},
		{name: "inactive admin", company: "c1", user: "inactive", perm: PermAuditView, wantErr: ErrNotMember},
		{name: "stranger", company: "c1", user: "stranger", perm: PermAuditView, wantErr: ErrNotMember},
		{name: "other company", company: "c2", user: "admin", perm: PermAuditView, wantErr: ErrNotMember},
		{name: "blank company", company: " ", user: "admin", perm: PermAuditView, wantErr: ErrNotMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := guard.RequirePermission(ctx, tc.company, tc.user, tc.perm)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	var permErr *PermissionError
	_, err := guard.RequirePermission(ctx, "c1", "editor", PermAIManage)
	if !errors.As(err, &permErr) || permErr.Error() != "missing permission: ai.manage" {
		t.Fatalf("unexpected permission error: %v", err)
	}
}

func TestValidPermission(t *testing.T) {
	if !ValidPermission(PermContractsSendForSign) {
		t.Fatal("expected send_for_signature to be valid")
	}
	if ValidPermission("contracts.launch_missiles") {
		t.Fatal("unexpected key accepted")
	}
}
