package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clmhub.io/internal/auth"
	"clmhub.io/internal/company"
)

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, full_name, password_hash)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, u.ID, u.Email, u.FullName, u.PasswordHash)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, mapWriteError(err, auth.ErrConflict, auth.ErrNotFound)
	}
	return u, nil
}

const userColumns = `id, email, full_name, password_hash, created_at, updated_at`

func scanUser(row *sql.Row) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = lower(trim($1))`, email))
}

func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

// UpsertProfile creates the user row when missing; blank fields keep stored values.
func (s *Store) UpsertProfile(ctx context.Context, id, email, fullName string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, `
		insert into users (id, email, full_name)
		values ($1, $2, $3)
		on conflict (id) do update
		set email = coalesce(nullif(excluded.email, ''), users.email),
		    full_name = coalesce(nullif(excluded.full_name, ''), users.full_name),
		    updated_at = now()
		returning `+userColumns, id, email, fullName))
}

func (s *Store) UserIDsByEmail(ctx context.Context, emails []string) (map[string]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	out := make(map[string]string, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `select email, id from users where email = any($1)`, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var email, id string
		if err := rows.Scan(&email, &id); err != nil {
			return nil, err
		}
		out[email] = id
	}
	return out, rows.Err()
}

const membershipColumns = `company_id, user_id, role_id, is_admin, is_active, invited_at, joined_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(row scanner) (auth.Membership, error) {
	var (
		m       auth.Membership
		roleID  sql.NullString
		invited sql.NullTime
		joined  sql.NullTime
	)
	if err := row.Scan(&m.CompanyID, &m.UserID, &roleID, &m.IsAdmin, &m.IsActive, &invited, &joined); err != nil {
		return auth.Membership{}, err
	}
	if roleID.Valid {
		m.RoleID = &roleID.String
	}
	m.InvitedAt = timePtr(invited)
	m.JoinedAt = timePtr(joined)
	return m, nil
}

func (s *Store) ActiveMembership(ctx context.Context, companyID, userID string) (auth.Membership, error) {
	if s.db == nil {
		return auth.Membership{}, errNoDB
	}
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		select `+membershipColumns+`
		from company_users
		where company_id = $1 and user_id = $2 and is_active
	`, companyID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Membership{}, auth.ErrNotFound
	}
	return m, err
}

func (s *Store) ListMyCompanies(ctx context.Context, userID string) ([]company.Summary, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select c.id, c.name, c.invite_code, c.onboarding_completed, c.created_at,
			cu.company_id, cu.user_id, cu.role_id, cu.is_admin, cu.is_active, cu.invited_at, cu.joined_at
		from company_users cu
		join companies c on c.id = cu.company_id
		where cu.user_id = $1 and cu.is_active
		order by cu.joined_at desc nulls last
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []company.Summary{}
	for rows.Next() {
		var (
			sum     company.Summary
			invite  sql.NullString
			roleID  sql.NullString
			invited sql.NullTime
			joined  sql.NullTime
		)
		m := &sum.Membership
		if err := rows.Scan(&sum.Company.ID, &sum.Company.Name, &invite, &sum.Company.OnboardingCompleted,
			&sum.Company.CreatedAt, &m.CompanyID, &m.UserID, &roleID, &m.IsAdmin, &m.IsActive,
			&invited, &joined); err != nil {
			return nil, err
		}
		if invite.Valid {
			sum.Company.InviteCode = &invite.String
		}
		if roleID.Valid {
			m.RoleID = &roleID.String
		}
		m.InvitedAt = timePtr(invited)
		m.JoinedAt = timePtr(joined)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CreateCompanyWithOwner inserts the company and its admin membership in one transaction.
func (s *Store) CreateCompanyWithOwner(ctx context.Context, c company.Company, owner auth.Membership) (company.Company, error) {
	if s.db == nil {
		return company.Company{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return company.Company{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `
		insert into companies (id, name, invite_code, onboarding_completed)
		values ($1, $2, $3, $4)
		returning created_at
	`, c.ID, c.Name, c.InviteCode, c.OnboardingCompleted).Scan(&c.CreatedAt); err != nil {
		return company.Company{}, mapWriteError(err, company.ErrConflict, company.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into company_users (company_id, user_id, role_id, is_admin, is_active, invited_at, joined_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, owner.UserID, owner.RoleID, owner.IsAdmin, owner.IsActive, owner.InvitedAt, owner.JoinedAt); err != nil {
		return company.Company{}, mapWriteError(err, company.ErrConflict, company.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return company.Company{}, err
	}
	return c, nil
}

func (s *Store) CompanyByInviteCode(ctx context.Context, code string) (company.Company, error) {
	if s.db == nil {
		return company.Company{}, errNoDB
	}
	var (
		c      company.Company
		invite sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, invite_code, onboarding_completed, created_at
		from companies where invite_code = $1
	`, code).Scan(&c.ID, &c.Name, &invite, &c.OnboardingCompleted, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return company.Company{}, company.ErrNotFound
	}
	if err != nil {
		return company.Company{}, err
	}
	if invite.Valid {
		c.InviteCode = &invite.String
	}
	return c, nil
}

// UpsertMembership overwrites role, flags and joined_at; a nil invited_at keeps the stored one.
func (s *Store) UpsertMembership(ctx context.Context, m auth.Membership) (auth.Membership, error) {
	if s.db == nil {
		return auth.Membership{}, errNoDB
	}
	out, err := scanMembership(s.db.QueryRowContext(ctx, `
		insert into company_users (company_id, user_id, role_id, is_admin, is_active, invited_at, joined_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (company_id, user_id) do update
		set role_id = excluded.role_id,
		    is_admin = excluded.is_admin,
		    is_active = excluded.is_active,
		    invited_at = coalesce(excluded.invited_at, company_users.invited_at),
		    joined_at = excluded.joined_at
		returning `+membershipColumns,
		m.CompanyID, m.UserID, m.RoleID, m.IsAdmin, m.IsActive, m.InvitedAt, m.JoinedAt))
	if err != nil {
		return auth.Membership{}, mapWriteError(err, company.ErrConflict, company.ErrNotFound)
	}
	return out, nil
}

// JoinMembership inserts or reactivates a membership; an existing role_id is kept.
func (s *Store) JoinMembership(ctx context.Context, m auth.Membership) (auth.Membership, error) {
	if s.db == nil {
		return auth.Membership{}, errNoDB
	}
	out, err := scanMembership(s.db.QueryRowContext(ctx, `
		insert into company_users (company_id, user_id, role_id, is_admin, is_active, invited_at, joined_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (company_id, user_id) do update
		set is_admin = excluded.is_admin,
		    is_active = excluded.is_active,
		    invited_at = coalesce(excluded.invited_at, company_users.invited_at),
		    joined_at = excluded.joined_at
		returning `+membershipColumns,
		m.CompanyID, m.UserID, m.RoleID, m.IsAdmin, m.IsActive, m.InvitedAt, m.JoinedAt))
	if err != nil {
		return auth.Membership{}, mapWriteError(err, company.ErrConflict, company.ErrNotFound)
	}
	return out, nil
}

func (s *Store) CreateRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, company_id, name)
		values ($1, $2, $3)
		returning created_at
	`, role.ID, role.CompanyID, role.Name).Scan(&role.CreatedAt)
	if err != nil {
		return auth.Role{}, mapWriteError(err, company.ErrConflict, company.ErrNotFound)
	}
	return role, nil
}

// SetRolePermissions replaces the role's grants in one transaction.
func (s *Store) SetRolePermissions(ctx context.Context, companyID, roleID string, keys []string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from roles where id = $1 and company_id = $2)
	`, roleID, companyID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return company.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_key)
			values ($1, $2)
			on conflict do nothing
		`, roleID, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RolePermissionKeys(ctx context.Context, companyID, roleID string) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select rp.permission_key
		from role_permissions rp
		join roles r on r.id = rp.role_id
		where r.id = $1 and r.company_id = $2
		order by rp.permission_key
	`, roleID, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
