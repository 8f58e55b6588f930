package pg

import (
	"context"
	"database/sql"
	"errors"

	"clmhub.io/internal/contracts"
)

const contractColumns = `id, company_id, title, description, status, counterparty_name, effective_date,
	end_date, total_value::float8, currency, signature_status, content, created_at, updated_at`

func scanContract(row scanner) (contracts.Contract, error) {
	var c contracts.Contract
	err := row.Scan(&c.ID, &c.CompanyID, &c.Title, &c.Description, &c.Status, &c.CounterpartyName,
		&c.EffectiveDate, &c.EndDate, &c.TotalValue, &c.Currency, &c.SignatureStatus, &c.Content,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListContracts always filters on company_id; search matches title or counterparty.
func (s *Store) ListContracts(ctx context.Context, q contracts.ListQuery) ([]contracts.Contract, int, error) {
	if s.db == nil {
		return nil, 0, errNoDB
	}
	pattern := ""
	if q.Search != "" {
		pattern = contracts.LikePattern(q.Search)
	}
	const filter = `
		where company_id = $1
		  and ($2 = '' or status = $2)
		  and ($3 = '' or title ilike $3 escape '\' or counterparty_name ilike $3 escape '\')`

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from contracts`+filter,
		q.CompanyID, q.Status, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = contracts.DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, `select `+contractColumns+` from contracts`+filter+`
		order by updated_at desc, id desc
		limit $4 offset $5`, q.CompanyID, q.Status, pattern, limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []contracts.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (s *Store) Contract(ctx context.Context, companyID, id string) (contracts.Contract, error) {
	if s.db == nil {
		return contracts.Contract{}, errNoDB
	}
	c, err := scanContract(s.db.QueryRowContext(ctx, `
		select `+contractColumns+` from contracts where id = $1 and company_id = $2
	`, id, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Contract{}, contracts.ErrNotFound
	}
	return c, err
}

func (s *Store) CreateContract(ctx context.Context, c contracts.Contract) (contracts.Contract, error) {
	if s.db == nil {
		return contracts.Contract{}, errNoDB
	}
	out, err := scanContract(s.db.QueryRowContext(ctx, `
		insert into contracts (id, company_id, title, description, status, counterparty_name,
			effective_date, end_date, total_value, currency, signature_status, content,
			created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			coalesce($13, now()), coalesce($14, now()))
		returning `+contractColumns,
		c.ID, c.CompanyID, c.Title, c.Description, c.Status, c.CounterpartyName, c.EffectiveDate,
		c.EndDate, c.TotalValue, c.Currency, c.SignatureStatus, c.Content,
		nullTime(c.CreatedAt), nullTime(c.UpdatedAt)))
	if err != nil {
		return contracts.Contract{}, mapWriteError(err, contracts.ErrConflict, contracts.ErrNotFound)
	}
	return out, nil
}

func (s *Store) UpdateContractStatus(ctx context.Context, companyID, id, status string) (contracts.Contract, error) {
	if s.db == nil {
		return contracts.Contract{}, errNoDB
	}
	c, err := scanContract(s.db.QueryRowContext(ctx, `
		update contracts set status = $3, updated_at = now()
		where id = $1 and company_id = $2
		returning `+contractColumns, id, companyID, status))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Contract{}, contracts.ErrNotFound
	}
	return c, err
}

const versionColumns = `id, contract_id, version_number, status, coalesce(author_id, ''), content, summary, created_at`

func scanVersion(row scanner) (contracts.Version, error) {
	var v contracts.Version
	err := row.Scan(&v.ID, &v.ContractID, &v.VersionNumber, &v.Status, &v.AuthorID, &v.Content, &v.Summary, &v.CreatedAt)
	return v, err
}

func (s *Store) ListVersions(ctx context.Context, companyID, contractID string) ([]contracts.Version, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+versionColumns+`
		from contract_versions
		where contract_id = $1
		  and exists (select 1 from contracts c where c.id = $1 and c.company_id = $2)
		order by version_number desc
	`, contractID, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []contracts.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AppendVersion locks the contract row so concurrent appends number contiguously.
func (s *Store) AppendVersion(ctx context.Context, companyID string, v contracts.Version) (contracts.Version, error) {
	if s.db == nil {
		return contracts.Version{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.Version{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		select status from contracts where id = $1 and company_id = $2 for update
	`, v.ContractID, companyID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Version{}, contracts.ErrNotFound
	}
	if err != nil {
		return contracts.Version{}, err
	}

	out, err := scanVersion(tx.QueryRowContext(ctx, `
		insert into contract_versions (id, contract_id, version_number, status, author_id, content, summary, created_at)
		select $1, $2, coalesce(max(version_number), 0) + 1, $3, $4, $5, $6, coalesce($7, now())
		from contract_versions where contract_id = $2
		returning `+versionColumns,
		v.ID, v.ContractID, status, nullIfEmpty(v.AuthorID), v.Content, v.Summary, nullTime(v.CreatedAt)))
	if err != nil {
		return contracts.Version{}, mapWriteError(err, contracts.ErrConflict, contracts.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		update contracts set content = $2, updated_at = now() where id = $1 and company_id = $3
	`, v.ContractID, v.Content, companyID); err != nil {
		return contracts.Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return contracts.Version{}, err
	}
	return out, nil
}

const documentColumns = `id, company_id, contract_id, version_id, file_name, storage_bucket, storage_path,
	file_type, file_size_bytes, coalesce(uploaded_by, ''), uploaded_at`

func scanDocument(row scanner) (contracts.Document, error) {
	var d contracts.Document
	err := row.Scan(&d.ID, &d.CompanyID, &d.ContractID, &d.VersionID, &d.FileName, &d.StorageBucket,
		&d.StoragePath, &d.FileType, &d.FileSizeBytes, &d.UploadedBy, &d.UploadedAt)
	return d, err
}

// InsertDocument rejects contracts outside the document's company.
func (s *Store) InsertDocument(ctx context.Context, d contracts.Document) (contracts.Document, error) {
	if s.db == nil {
		return contracts.Document{}, errNoDB
	}
	out, err := scanDocument(s.db.QueryRowContext(ctx, `
		insert into contract_documents (id, company_id, contract_id, version_id, file_name, storage_bucket,
			storage_path, file_type, file_size_bytes, uploaded_by, uploaded_at)
		select $1, c.company_id, c.id, $4, $5, $6, $7, $8, $9, $10, coalesce($11, now())
		from contracts c
		where c.id = $3 and c.company_id = $2
		returning `+documentColumns,
		d.ID, d.CompanyID, d.ContractID, d.VersionID, d.FileName, d.StorageBucket, d.StoragePath,
		d.FileType, d.FileSizeBytes, nullIfEmpty(d.UploadedBy), nullTime(d.UploadedAt)))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Document{}, contracts.ErrNotFound
	}
	if err != nil {
		return contracts.Document{}, mapWriteError(err, contracts.ErrConflict, contracts.ErrNotFound)
	}
	return out, nil
}

func (s *Store) ListDocuments(ctx context.Context, companyID, contractID string) ([]contracts.Document, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+documentColumns+`
		from contract_documents
		where company_id = $1 and contract_id = $2
		order by uploaded_at desc
	`, companyID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []contracts.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
