package pg

import (
	"context"
	"database/sql"
	"errors"

	"clmhub.io/internal/billing"
)

func (s *Store) Plan(ctx context.Context, id string) (billing.Plan, error) {
	if s.db == nil {
		return billing.Plan{}, errNoDB
	}
	var p billing.Plan
	err := s.db.QueryRowContext(ctx, `
		select id, name, price::float8, trial_days from billing_plans where id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.TrialDays)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Plan{}, billing.ErrNotFound
	}
	return p, err
}

const subscriptionColumns = `company_id, plan_id, status, current_period_start, current_period_end,
	trial_ends_at, cancel_at_period_end, payment_method_id`

func scanSubscription(row scanner) (billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(&sub.CompanyID, &sub.PlanID, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.TrialEndsAt, &sub.CancelAtPeriodEnd, &sub.PaymentMethodID)
	return sub, err
}

// UpsertSubscription replaces the company's single subscription row.
func (s *Store) UpsertSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	if s.db == nil {
		return billing.Subscription{}, errNoDB
	}
	out, err := scanSubscription(s.db.QueryRowContext(ctx, `
		insert into company_subscriptions (company_id, plan_id, status, current_period_start,
			current_period_end, trial_ends_at, cancel_at_period_end, payment_method_id, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
		on conflict (company_id) do update
		set plan_id = excluded.plan_id,
		    status = excluded.status,
		    current_period_start = excluded.current_period_start,
		    current_period_end = excluded.current_period_end,
		    trial_ends_at = excluded.trial_ends_at,
		    cancel_at_period_end = excluded.cancel_at_period_end,
		    payment_method_id = excluded.payment_method_id,
		    updated_at = now()
		returning `+subscriptionColumns,
		sub.CompanyID, sub.PlanID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TrialEndsAt, sub.CancelAtPeriodEnd, sub.PaymentMethodID))
	if err != nil {
		return billing.Subscription{}, mapWriteError(err, billing.ErrInvalidInput, billing.ErrNotFound)
	}
	return out, nil
}

func (s *Store) Subscription(ctx context.Context, companyID string) (billing.Subscription, error) {
	if s.db == nil {
		return billing.Subscription{}, errNoDB
	}
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
		select `+subscriptionColumns+` from company_subscriptions where company_id = $1
	`, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Subscription{}, billing.ErrNotFound
	}
	return sub, err
}

func (s *Store) SetSubscriptionPlan(ctx context.Context, companyID, planID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update company_subscriptions set plan_id = $2, updated_at = now() where company_id = $1
	`, companyID, planID)
	return affectedOrNotFound(res, mapWriteError(err, billing.ErrInvalidInput, billing.ErrNotFound), billing.ErrNotFound)
}

func (s *Store) SetCancelAtPeriodEnd(ctx context.Context, companyID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update company_subscriptions set cancel_at_period_end = true, updated_at = now() where company_id = $1
	`, companyID)
	return affectedOrNotFound(res, err, billing.ErrNotFound)
}

func (s *Store) AppendBillingEvent(ctx context.Context, e billing.Event) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into billing_events (id, company_id, event_type, description, metadata, created_at)
		values ($1, $2, $3, $4, $5, coalesce($6, now()))
	`, e.ID, e.CompanyID, e.Type, e.Description, nullJSON(e.Metadata), nullTime(e.CreatedAt))
	return mapWriteError(err, billing.ErrInvalidInput, billing.ErrNotFound)
}

func (s *Store) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into invoices (id, company_id, amount_due, status, invoice_pdf_url, created_at)
		values ($1, $2, $3, $4, $5, coalesce($6, now()))
	`, inv.ID, inv.CompanyID, inv.AmountDue, inv.Status, inv.InvoicePDFURL, nullTime(inv.CreatedAt))
	return mapWriteError(err, billing.ErrInvalidInput, billing.ErrNotFound)
}

func (s *Store) ListInvoices(ctx context.Context, companyID string) ([]billing.Invoice, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, company_id, amount_due::float8, status, invoice_pdf_url, created_at
		from invoices
		where company_id = $1
		order by created_at desc
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []billing.Invoice{}
	for rows.Next() {
		var inv billing.Invoice
		if err := rows.Scan(&inv.ID, &inv.CompanyID, &inv.AmountDue, &inv.Status, &inv.InvoicePDFURL, &inv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func affectedOrNotFound(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
