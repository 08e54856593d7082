package prefetch

import (
	"context"
	"fmt"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

// Service enqueues financial-statement warm-up jobs for the background
// runner and reports their status.
type Service struct {
	jobs ports.JobRepository
}

func New(jobs ports.JobRepository) *Service { return &Service{jobs: jobs} }

func (s *Service) Enqueue(ctx context.Context, orgnr domain.OrgNumber, year int) (string, error) {
	if year < 0 || year > 9999 {
		return "", domain.WithCorrelation(ctx, &domain.ValidationError{Field: "year", Reason: fmt.Sprintf("%d is out of range", year)})
	}
	id, err := s.jobs.Enqueue(ctx, orgnr, year)
	if err != nil {
		return "", fmt.Errorf("enqueue prefetch %s/%d: %w", orgnr, year, err)
	}
	return id, nil
}

func (s *Service) Status(ctx context.Context, jobID string) (domain.PrefetchJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	return job, domain.WithCorrelation(ctx, err)
}
