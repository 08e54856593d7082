package ports

import (
	"context"

	"bolagsdata/internal/domain"
)

// JobRepository supports enqueueing, claiming and updating prefetch jobs.
type JobRepository interface {
	Enqueue(ctx context.Context, orgnr domain.OrgNumber, year int) (jobID string, err error)
	ClaimNext(ctx context.Context) (job domain.PrefetchJob, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	Get(ctx context.Context, jobID string) (domain.PrefetchJob, error)
}
