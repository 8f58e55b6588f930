// Package pg implements every domain store on PostgreSQL through database/sql and pgx.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/auth"
	"clmhub.io/internal/billing"
	"clmhub.io/internal/company"
	"clmhub.io/internal/contracts"
	"clmhub.io/internal/insights"
	"clmhub.io/internal/signature"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var errNoDB = errors.New("database connection unavailable")

type Store struct {
	db *sql.DB
}

var (
	_ auth.UserStore          = (*Store)(nil)
	_ auth.MembershipStore    = (*Store)(nil)
	_ company.Store           = (*Store)(nil)
	_ contracts.Store         = (*Store)(nil)
	_ contracts.DocumentStore = (*Store)(nil)
	_ signature.Store         = (*Store)(nil)
	_ audit.Store             = (*Store)(nil)
	_ billing.Store           = (*Store)(nil)
	_ billing.SettingsStore   = (*Store)(nil)
	_ insights.SettingsStore  = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

// UpsertSetting writes one per-company JSON setting.
func (s *Store) UpsertSetting(ctx context.Context, companyID, key string, value json.RawMessage) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into company_settings (company_id, key, value, updated_at)
		values ($1, $2, $3, now())
		on conflict (company_id, key) do update
		set value = excluded.value, updated_at = now()
	`, companyID, key, []byte(value))
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return company.ErrNotFound
	}
	return err
}

// Setting reads a per-company setting; ok is false when the key is unset.
func (s *Store) Setting(ctx context.Context, companyID, key string) (json.RawMessage, bool, error) {
	if s.db == nil {
		return nil, false, errNoDB
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		select value from company_settings where company_id = $1 and key = $2
	`, companyID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}

func (s *Store) InsertAuditEntry(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if s.db == nil {
		return audit.Entry{}, errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		insert into audit_logs (id, company_id, actor_id, actor_email, entity_type, entity_id, action,
			old_value, new_value, user_agent, ip_address, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, coalesce($12, now()))
		returning created_at
	`, e.ID, e.CompanyID, nullIfEmpty(e.ActorID), nullIfEmpty(e.ActorEmail), e.EntityType,
		nullIfEmpty(e.EntityID), e.Action, nullJSON(e.OldValue), nullJSON(e.NewValue),
		nullIfEmpty(e.UserAgent), nullIfEmpty(e.IPAddress), nullTime(e.CreatedAt)).Scan(&e.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return audit.Entry{}, audit.ErrNotFound
		}
		return audit.Entry{}, err
	}
	return e, nil
}

func (s *Store) ListAuditEntries(ctx context.Context, q audit.ListQuery) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, company_id, coalesce(actor_id, ''), coalesce(actor_email, ''), entity_type,
			coalesce(entity_id, ''), action, old_value, new_value,
			coalesce(user_agent, ''), coalesce(ip_address, ''), created_at
		from audit_logs
		where company_id = $1
		  and ($2 = '' or entity_type = $2)
		  and ($3 = '' or entity_id = $3)
		order by created_at desc
		limit $4
	`, q.CompanyID, q.EntityType, q.EntityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e              audit.Entry
			oldRaw, newRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.ActorID, &e.ActorEmail, &e.EntityType, &e.EntityID,
			&e.Action, &oldRaw, &newRaw, &e.UserAgent, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldValue, e.NewValue = rawOrNil(oldRaw), rawOrNil(newRaw)
		out = append(out, e)
	}
	return out, rows.Err()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError turns constraint violations into the caller's sentinels.
func mapWriteError(err, conflict, notFound error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return conflict
		case pgErrForeignKeyViolation:
			return notFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
