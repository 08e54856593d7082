// Package sqlite keeps the company replica in a single SQLite file, for
// running name search without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Replica implements ports.ReplicaReader and ports.ReplicaWriter.
type Replica struct {
	db   *sql.DB
	path string
}

var (
	_ ports.ReplicaReader = (*Replica)(nil)
	_ ports.ReplicaWriter = (*Replica)(nil)
)

// Open opens (creating if needed) the replica file and applies migrations.
func Open(ctx context.Context, path string) (*Replica, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer at a time; readers share the WAL
	db.SetMaxOpenConns(4)

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Replica{db: db, path: path}, nil
}

func (r *Replica) Close() error { return r.db.Close() }

func (r *Replica) Path() string { return r.path }

const selectCompany = `
	SELECT org_nr, COALESCE(name_protection_seq, ''), COALESCE(registration_country, ''), name,
		COALESCE(legal_form, ''), COALESCE(deregistered_on, ''), COALESCE(deregistration_cause, ''),
		COALESCE(ongoing_proceedings, ''), COALESCE(registered_on, ''), COALESCE(business_description, ''),
		COALESCE(postal_address, '')
	FROM companies`

// Search matches names case-insensitively by substring. Names starting with
// the query rank first.
func (r *Replica) Search(ctx context.Context, query string, limit int) ([]domain.ReplicaCompany, error) {
	rows, err := r.db.QueryContext(ctx, selectCompany+`
		WHERE name LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY instr(lower(name), lower(?)), name
		LIMIT ?
	`, escapeLike(query), query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ReplicaCompany{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Replica) GetByOrgNumber(ctx context.Context, orgnr domain.OrgNumber) (domain.ReplicaCompany, bool, error) {
	c, err := scanCompany(r.db.QueryRowContext(ctx, selectCompany+` WHERE org_nr = ?`, orgnr.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReplicaCompany{}, false, nil
	}
	if err != nil {
		return domain.ReplicaCompany{}, false, err
	}
	return c, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompany(row scanner) (domain.ReplicaCompany, error) {
	var (
		c                        domain.ReplicaCompany
		deregistered, registered string
	)
	err := row.Scan(&c.OrgNumber, &c.NameProtectionSeq, &c.RegistrationCountry, &c.Name, &c.LegalForm,
		&deregistered, &c.DeregistrationCause, &c.OngoingProceedings, &registered,
		&c.BusinessDescription, &c.PostalAddress)
	if err != nil {
		return c, err
	}
	c.DeregisteredOn = parseDay(deregistered)
	c.RegisteredOn = parseDay(registered)
	return c, nil
}

// UpsertCompanies writes the batch in one transaction.
func (r *Replica) UpsertCompanies(ctx context.Context, batch []domain.ReplicaCompany) (n int64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO companies (org_nr, name_protection_seq, registration_country, name, legal_form,
			deregistered_on, deregistration_cause, ongoing_proceedings, registered_on,
			business_description, postal_address, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_nr) DO UPDATE SET
			name_protection_seq = excluded.name_protection_seq,
			registration_country = excluded.registration_country,
			name = excluded.name,
			legal_form = excluded.legal_form,
			deregistered_on = excluded.deregistered_on,
			deregistration_cause = excluded.deregistration_cause,
			ongoing_proceedings = excluded.ongoing_proceedings,
			registered_on = excluded.registered_on,
			business_description = excluded.business_description,
			postal_address = excluded.postal_address,
			imported_at = excluded.imported_at
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, c := range batch {
		if _, err = stmt.ExecContext(ctx,
			c.OrgNumber, nullable(c.NameProtectionSeq), nullable(c.RegistrationCountry), c.Name,
			nullable(c.LegalForm), formatDay(c.DeregisteredOn), nullable(c.DeregistrationCause),
			nullable(c.OngoingProceedings), formatDay(c.RegisteredOn), nullable(c.BusinessDescription),
			nullable(c.PostalAddress), now,
		); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", c.OrgNumber, err)
		}
		n++
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatDay(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}

func parseDay(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
