package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clmhub.io/internal/signature"
)

// CreateEnvelope writes the envelope, recipients and events and flags the contract
// pending signature in one transaction.
func (s *Store) CreateEnvelope(ctx context.Context, env signature.Envelope, recipients []signature.Recipient, events []signature.Event) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update contracts set signature_status = $3, updated_at = now()
		where id = $1 and company_id = $2
	`, env.ContractID, env.CompanyID, signature.EnvelopePendingSignature)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return signature.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		insert into signature_envelopes (id, company_id, contract_id, provider, status, created_by,
			sent_at, completed_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, coalesce($9, now()))
	`, env.ID, env.CompanyID, env.ContractID, env.Provider, env.Status, env.CreatedBy,
		env.SentAt, env.CompletedAt, nullTime(env.CreatedAt)); err != nil {
		return mapWriteError(err, signature.ErrInvalidInput, signature.ErrNotFound)
	}
	for _, r := range recipients {
		if _, err := tx.ExecContext(ctx, `
			insert into signature_recipients (id, envelope_id, company_id, email, user_id, recipient_role,
				signing_order, status, signed_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, r.ID, r.EnvelopeID, r.CompanyID, r.Email, r.UserID, r.Role, r.SigningOrder, r.Status, r.SignedAt); err != nil {
			return mapWriteError(err, signature.ErrInvalidInput, signature.ErrNotFound)
		}
	}
	for _, evt := range events {
		if err := insertSignatureEvent(ctx, tx, evt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSignatureEvent(ctx context.Context, db execer, evt signature.Event) error {
	payload := []byte(evt.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := db.ExecContext(ctx, `
		insert into signature_events (id, envelope_id, recipient_id, company_id, event_type, payload, created_at)
		values ($1, $2, $3, $4, $5, $6, coalesce($7, now()))
	`, evt.ID, evt.EnvelopeID, evt.RecipientID, evt.CompanyID, evt.Type, payload, nullTime(evt.CreatedAt))
	return mapWriteError(err, signature.ErrInvalidInput, signature.ErrNotFound)
}

func (s *Store) RecipientForUser(ctx context.Context, companyID, envelopeID, userID string) (signature.Recipient, error) {
	if s.db == nil {
		return signature.Recipient{}, errNoDB
	}
	var r signature.Recipient
	err := s.db.QueryRowContext(ctx, `
		select id, envelope_id, company_id, email, user_id, recipient_role, signing_order, status, signed_at
		from signature_recipients
		where company_id = $1 and envelope_id = $2 and user_id = $3
		order by signing_order
		limit 1
	`, companyID, envelopeID, userID).Scan(&r.ID, &r.EnvelopeID, &r.CompanyID, &r.Email, &r.UserID,
		&r.Role, &r.SigningOrder, &r.Status, &r.SignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return signature.Recipient{}, signature.ErrNotFound
	}
	return r, err
}

// MarkRecipientSigned only touches rows that are not signed yet.
func (s *Store) MarkRecipientSigned(ctx context.Context, recipientID string, at time.Time) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update signature_recipients set status = $2, signed_at = $3
		where id = $1 and status <> $2
	`, recipientID, signature.RecipientSigned, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from signature_recipients where id = $1)
	`, recipientID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, signature.ErrNotFound
	}
	return false, nil
}

func (s *Store) AppendEvent(ctx context.Context, evt signature.Event) error {
	if s.db == nil {
		return errNoDB
	}
	return insertSignatureEvent(ctx, s.db, evt)
}

// CompleteEnvelope is a single conditional update: it only matches while no unsigned
// recipient remains, so concurrent last signers complete the envelope once.
func (s *Store) CompleteEnvelope(ctx context.Context, companyID, envelopeID string, at time.Time, evt signature.Event) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update signature_envelopes e set status = $3, completed_at = $4
		where e.id = $1 and e.company_id = $2 and e.status <> $3
		  and not exists (
			select 1 from signature_recipients r
			where r.envelope_id = e.id and r.status <> $5
		  )
	`, envelopeID, companyID, signature.EnvelopeFullySigned, at, signature.RecipientSigned)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := insertSignatureEvent(ctx, tx, evt); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Envelope(ctx context.Context, companyID, envelopeID string) (signature.Envelope, error) {
	if s.db == nil {
		return signature.Envelope{}, errNoDB
	}
	var env signature.Envelope
	err := s.db.QueryRowContext(ctx, `
		select id, company_id, contract_id, provider, status, created_by, sent_at, completed_at, created_at
		from signature_envelopes
		where id = $1 and company_id = $2
	`, envelopeID, companyID).Scan(&env.ID, &env.CompanyID, &env.ContractID, &env.Provider, &env.Status,
		&env.CreatedBy, &env.SentAt, &env.CompletedAt, &env.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return signature.Envelope{}, signature.ErrNotFound
	}
	return env, err
}

func (s *Store) ListTasks(ctx context.Context, companyID, userID string) ([]signature.Task, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.envelope_id, r.status, e.status, e.contract_id, e.created_at
		from signature_recipients r
		join signature_envelopes e on e.id = r.envelope_id
		where r.company_id = $1 and r.user_id = $2 and r.status <> $3
		order by e.created_at desc
	`, companyID, userID, signature.RecipientSigned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []signature.Task{}
	for rows.Next() {
		var t signature.Task
		if err := rows.Scan(&t.RecipientID, &t.EnvelopeID, &t.RecipientStatus, &t.EnvelopeStatus,
			&t.ContractID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
