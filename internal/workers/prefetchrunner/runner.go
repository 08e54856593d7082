package prefetchrunner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bolagsdata/internal/correlation"
	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/ports"
)

// Processor performs the work for one claimed job.
type Processor interface {
	Process(ctx context.Context, job domain.PrefetchJob) error
}

// FinancialsProcessor warms the financial-statement cache.
type FinancialsProcessor struct{ Financials ports.Financials }

func (p FinancialsProcessor) Process(ctx context.Context, job domain.PrefetchJob) error {
	_, err := p.Financials.GetFinancials(ctx, job.OrgNumber, job.Year)
	return err
}

// Run starts worker goroutines that claim jobs and process them. It returns
// once ctx is cancelled and all workers have finished their current job.
func Run(ctx context.Context, repo ports.JobRepository, processor Processor, concurrency int, pollInterval time.Duration, logger *slog.Logger) {
	if concurrency < 1 {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}
	jobsCh := make(chan domain.PrefetchJob, concurrency)

	// dispatcher loop
	go func() {
		defer close(jobsCh)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					job, found, err := repo.ClaimNext(ctx)
					if err != nil {
						if !errors.Is(err, context.Canceled) {
							logger.Error("job claim error", "error", err)
						}
						break
					}
					if !found {
						break
					}
					select {
					case jobsCh <- job:
					case <-ctx.Done():
						// Claimed but never handed to a worker; a job left running
						// would block new prefetches for the same company and year.
						if err := repo.MarkFailed(context.WithoutCancel(ctx), job.ID, "shutdown before processing"); err != nil {
							logger.Error("mark failed error", "job", job.ID, "error", err)
						}
						return
					}
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for job := range jobsCh {
				Process(ctx, repo, processor, job, logger.With("worker", idx))
			}
		}(i)
	}
	wg.Wait()
}

// Process runs one claimed job and records its outcome. Each job gets its
// own correlation id so its registry calls can be traced.
func Process(ctx context.Context, repo ports.JobRepository, processor Processor, job domain.PrefetchJob, logger *slog.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx = correlation.WithID(ctx, "job-"+job.ID)
	if err := processor.Process(ctx, job); err != nil {
		// Completion is recorded even during shutdown.
		if merr := repo.MarkFailed(context.WithoutCancel(ctx), job.ID, err.Error()); merr != nil {
			logger.ErrorContext(ctx, "mark failed error", "job", job.ID, "error", merr)
		}
		logger.WarnContext(ctx, "prefetch job failed", "job", job.ID, "orgnr", job.OrgNumber, "year", job.Year, "error", err)
		return
	}
	if err := repo.MarkCompleted(context.WithoutCancel(ctx), job.ID); err != nil {
		logger.ErrorContext(ctx, "mark completed error", "job", job.ID, "error", err)
		return
	}
	logger.InfoContext(ctx, "prefetch job completed", "job", job.ID, "orgnr", job.OrgNumber, "year", job.Year)
}
