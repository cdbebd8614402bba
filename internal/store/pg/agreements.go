package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/auxora-tech/casa-saas/internal/signature"
)

// Agreements implements signature.Store.
type Agreements struct{ q querier }

var _ signature.Store = (*Agreements)(nil)

const agreementColumns = `id, tenant_id, client_id, provider, document_id, client_email, guardian_email, status,
	field_values, signed_at, casa_rep_signed_at, client_signed_at, guardian_signed_at, created_at, updated_at`

func (s *Agreements) Create(ctx context.Context, a *signature.Agreement) error {
	fields, err := encodeJSON(a.FieldValues)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		insert into agreements (`+agreementColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, a.ID, nullIfEmpty(a.TenantID), a.ClientID, string(a.Provider), a.DocumentID,
		nullIfEmpty(a.ClientEmail), nullIfEmpty(a.GuardianEmail), string(a.Status), fields,
		nullTime(a.SignedAt), nullTime(a.CasaRepSignedAt), nullTime(a.ClientSignedAt), nullTime(a.GuardianSignedAt),
		a.CreatedAt, a.UpdatedAt)
	return mapWriteErr(err, signature.ErrConflict)
}

func (s *Agreements) Find(ctx context.Context, id string) (*signature.Agreement, error) {
	return scanAgreement(s.q.QueryRowContext(ctx, `select `+agreementColumns+` from agreements where id = $1`, id))
}

func (s *Agreements) FindByDocument(ctx context.Context, provider signature.Provider, documentID string) (*signature.Agreement, error) {
	return scanAgreement(s.q.QueryRowContext(ctx, `
		select `+agreementColumns+`
		from agreements
		where provider = $1 and document_id = $2
	`, string(provider), documentID))
}

// Update is a compare-and-set on status.
func (s *Agreements) Update(ctx context.Context, a *signature.Agreement, from signature.Status) error {
	fields, err := encodeJSON(a.FieldValues)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		update agreements
		set status = $2, field_values = $3, signed_at = $4,
		    casa_rep_signed_at = $5, client_signed_at = $6, guardian_signed_at = $7, updated_at = $8
		where id = $1 and status = $9
	`, a.ID, string(a.Status), fields, nullTime(a.SignedAt),
		nullTime(a.CasaRepSignedAt), nullTime(a.ClientSignedAt), nullTime(a.GuardianSignedAt),
		a.UpdatedAt, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return signature.ErrConflict
	}
	return nil
}

func scanAgreement(row *sql.Row) (*signature.Agreement, error) {
	var (
		a                         signature.Agreement
		tenant, client, guardian  sql.NullString
		fields                    []byte
		signed, casaRep, byClient sql.NullTime
		byGuardian                sql.NullTime
	)
	err := row.Scan(&a.ID, &tenant, &a.ClientID, &a.Provider, &a.DocumentID, &client, &guardian, &a.Status,
		&fields, &signed, &casaRep, &byClient, &byGuardian, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, signature.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.TenantID = tenant.String
	a.ClientEmail, a.GuardianEmail = client.String, guardian.String
	a.SignedAt = timePtr(signed)
	a.CasaRepSignedAt = timePtr(casaRep)
	a.ClientSignedAt = timePtr(byClient)
	a.GuardianSignedAt = timePtr(byGuardian)
	if a.FieldValues, err = decodeJSON[string](fields); err != nil {
		return nil, err
	}
	return &a, nil
}
