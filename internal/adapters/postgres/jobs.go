package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

// Jobs implements ports.JobRepository on prefetch_jobs.
type Jobs struct{ db *DB }

func (db *DB) Jobs() *Jobs { return &Jobs{db: db} }

var _ ports.JobRepository = (*Jobs)(nil)

// Enqueue adds a job, or returns the id of the job already pending for the
// same company and year.
func (j *Jobs) Enqueue(ctx context.Context, orgnr domain.OrgNumber, year int) (string, error) {
	var id string
	err := j.db.Pool.QueryRow(ctx, `
		INSERT INTO prefetch_jobs (id, org_nr, year)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_nr, year) WHERE status IN ('queued', 'running')
		DO UPDATE SET org_nr = EXCLUDED.org_nr
		RETURNING id::text
	`, uuid.NewString(), orgnr.String(), year).Scan(&id)
	return id, err
}

// ClaimNext selects the oldest queued job using SKIP LOCKED and marks it running.
func (j *Jobs) ClaimNext(ctx context.Context) (job domain.PrefetchJob, found bool, err error) {
	tx, err := j.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	// lock the next queued job
	var id string
	err = tx.QueryRow(ctx, `
		SELECT id FROM prefetch_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE prefetch_jobs SET status = 'running', started_at = now(), attempts = attempts + 1
		WHERE id = $1
		RETURNING `+jobColumns, id)
	if err != nil {
		return job, false, err
	}
	job, err = pgx.CollectOneRow(rows, scanJob)
	if err != nil {
		return job, false, err
	}
	return job, true, nil
}

func (j *Jobs) MarkCompleted(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := j.db.Pool.Exec(ctx, `
		UPDATE prefetch_jobs SET status = 'completed', last_error = NULL, finished_at = now() WHERE id = $1
	`, jobID)
	return err
}

func (j *Jobs) MarkFailed(ctx context.Context, jobID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := j.db.Pool.Exec(ctx, `
		UPDATE prefetch_jobs SET status = 'failed', last_error = $2, finished_at = now() WHERE id = $1
	`, jobID, reason)
	return err
}

func (j *Jobs) Get(ctx context.Context, jobID string) (domain.PrefetchJob, error) {
	notFound := &domain.NotFoundError{Entity: "prefetch job", Key: jobID}
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.PrefetchJob{}, notFound
	}
	rows, err := j.db.Pool.Query(ctx, `SELECT `+jobColumns+` FROM prefetch_jobs WHERE id = $1`, jobID)
	if err != nil {
		return domain.PrefetchJob{}, err
	}
	job, err := pgx.CollectOneRow(rows, scanJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PrefetchJob{}, notFound
	}
	return job, err
}

const jobColumns = `id::text, org_nr, year, status, attempts, COALESCE(last_error, ''), queued_at, started_at, finished_at`

func scanJob(row pgx.CollectableRow) (domain.PrefetchJob, error) {
	var (
		job   domain.PrefetchJob
		orgnr string
	)
	err := row.Scan(&job.ID, &orgnr, &job.Year, &job.Status, &job.Attempts, &job.LastError,
		&job.QueuedAt, &job.StartedAt, &job.FinishedAt)
	job.OrgNumber = domain.OrgNumber(orgnr)
	return job, err
}
