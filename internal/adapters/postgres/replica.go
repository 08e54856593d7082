package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

// Replica implements ports.ReplicaReader and ports.ReplicaWriter on the
// companies table.
type Replica struct{ db *DB }

func (db *DB) Replica() *Replica { return &Replica{db: db} }

var (
	_ ports.ReplicaReader = (*Replica)(nil)
	_ ports.ReplicaWriter = (*Replica)(nil)
)

var replicaColumns = []string{
	"org_nr", "name_protection_seq", "registration_country", "name", "legal_form",
	"deregistered_on", "deregistration_cause", "ongoing_proceedings", "registered_on",
	"business_description", "postal_address",
}

const selectCompany = `
	SELECT org_nr, COALESCE(name_protection_seq, ''), COALESCE(registration_country, ''), name,
		COALESCE(legal_form, ''), deregistered_on, COALESCE(deregistration_cause, ''),
		COALESCE(ongoing_proceedings, ''), registered_on, COALESCE(business_description, ''),
		COALESCE(postal_address, '')
	FROM companies`

// Search matches names by substring and ranks them by trigram similarity.
func (r *Replica) Search(ctx context.Context, query string, limit int) ([]domain.ReplicaCompany, error) {
	rows, err := r.db.Pool.Query(ctx, selectCompany+`
		WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY similarity(name, $2) DESC, name
		LIMIT $3
	`, escapeLike(query), query, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanCompany)
}

func (r *Replica) GetByOrgNumber(ctx context.Context, orgnr domain.OrgNumber) (domain.ReplicaCompany, bool, error) {
	rows, err := r.db.Pool.Query(ctx, selectCompany+` WHERE org_nr = $1`, orgnr.String())
	if err != nil {
		return domain.ReplicaCompany{}, false, err
	}
	c, err := pgx.CollectOneRow(rows, scanCompany)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReplicaCompany{}, false, nil
	}
	if err != nil {
		return domain.ReplicaCompany{}, false, err
	}
	return c, true, nil
}

func scanCompany(row pgx.CollectableRow) (domain.ReplicaCompany, error) {
	var c domain.ReplicaCompany
	err := row.Scan(&c.OrgNumber, &c.NameProtectionSeq, &c.RegistrationCountry, &c.Name, &c.LegalForm,
		&c.DeregisteredOn, &c.DeregistrationCause, &c.OngoingProceedings, &c.RegisteredOn,
		&c.BusinessDescription, &c.PostalAddress)
	return c, err
}

// UpsertCompanies copies the batch into a transaction-scoped staging table
// and merges it on org number. Later rows win over earlier ones within a
// batch.
func (r *Replica) UpsertCompanies(ctx context.Context, batch []domain.ReplicaCompany) (n int64, err error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		CREATE TEMP TABLE companies_stage (LIKE companies INCLUDING DEFAULTS, seq bigserial) ON COMMIT DROP
	`); err != nil {
		return 0, err
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"companies_stage"}, replicaColumns, pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
		c := batch[i]
		return []any{
			c.OrgNumber, nullable(c.NameProtectionSeq), nullable(c.RegistrationCountry), c.Name,
			nullable(c.LegalForm), c.DeregisteredOn, nullable(c.DeregistrationCause),
			nullable(c.OngoingProceedings), c.RegisteredOn, nullable(c.BusinessDescription),
			nullable(c.PostalAddress),
		}, nil
	})); err != nil {
		return 0, err
	}

	cols := strings.Join(replicaColumns, ", ")
	updates := make([]string, 0, len(replicaColumns))
	for _, c := range replicaColumns[1:] {
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO companies (`+cols+`, imported_at)
		SELECT DISTINCT ON (org_nr) `+cols+`, $1::timestamptz
		FROM companies_stage
		ORDER BY org_nr, seq DESC
		ON CONFLICT (org_nr) DO UPDATE SET `+strings.Join(updates, ", ")+`, imported_at = EXCLUDED.imported_at
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
