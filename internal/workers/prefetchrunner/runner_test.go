package prefetchrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolagsdata/internal/correlation"
	"bolagsdata/internal/domain"
)

type memJobs struct {
	mu        sync.Mutex
	queue     []domain.PrefetchJob
	claimed   int
	completed []string
	failed    map[string]string
}

func newMemJobs(n int) *memJobs {
	m := &memJobs{failed: map[string]string{}}
	for i := 0; i < n; i++ {
		m.queue = append(m.queue, domain.PrefetchJob{ID: fmt.Sprintf("j%d", i), OrgNumber: "5560360793", Year: 2000 + i})
	}
	return m
}

func (m *memJobs) Enqueue(context.Context, domain.OrgNumber, int) (string, error) {
	return "", errors.New("not used")
}

func (m *memJobs) ClaimNext(ctx context.Context) (domain.PrefetchJob, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PrefetchJob{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return domain.PrefetchJob{}, false, nil
	}
	j := m.queue[0]
	m.queue = m.queue[1:]
	m.claimed++
	return j, true, nil
}

func (m *memJobs) MarkCompleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *memJobs) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = reason
	return nil
}

func (m *memJobs) Get(context.Context, string) (domain.PrefetchJob, error) {
	return domain.PrefetchJob{}, errors.New("not used")
}

func (m *memJobs) done() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed) + len(m.failed)
}

type processorFunc func(ctx context.Context, job domain.PrefetchJob) error

func (f processorFunc) Process(ctx context.Context, job domain.PrefetchJob) error { return f(ctx, job) }

func TestRun_ProcessesAllJobs(t *testing.T) {
	repo := newMemJobs(10)
	var (
		mu   sync.Mutex
		seen = map[string]string{}
	)
	proc := processorFunc(func(ctx context.Context, job domain.PrefetchJob) error {
		mu.Lock()
		seen[job.ID] = correlation.FromContext(ctx)
		mu.Unlock()
		if job.Year%3 == 0 {
			return &domain.NotFoundError{Entity: "annual report", Key: job.OrgNumber.String()}
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		Run(ctx, repo, proc, 3, 5*time.Millisecond, nil)
		close(finished)
	}()

	require.Eventually(t, func() bool { return repo.done() == 10 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Len(t, repo.failed, 4, "years 2000, 2003, 2006, 2009")
	assert.Contains(t, repo.failed["j3"], "not found")
	assert.Len(t, repo.completed, 6)
	assert.Equal(t, "job-j0", seen["j0"])
}

func TestRun_ShutdownRecordsEveryClaimedJob(t *testing.T) {
	repo := newMemJobs(5)
	proc := processorFunc(func(ctx context.Context, job domain.PrefetchJob) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		Run(ctx, repo, proc, 1, time.Millisecond, nil)
		close(finished)
	}()

	// One job in the worker, one buffered, one held by the blocked dispatcher.
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.claimed == 3
	}, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, repo.claimed, repo.done(), "every claimed job gets an outcome")
	assert.Equal(t, "shutdown before processing", repo.failed["j2"])
	assert.Len(t, repo.queue, 2)
}

func TestRun_ZeroConcurrencyReturns(t *testing.T) {
	repo := newMemJobs(1)
	Run(context.Background(), repo, processorFunc(func(context.Context, domain.PrefetchJob) error { return nil }), 0, time.Millisecond, nil)
	assert.Zero(t, repo.done())
}

func TestProcess_RecordsOutcomeAfterCancel(t *testing.T) {
	repo := newMemJobs(0)
	ctx, cancel := context.WithCancel(context.Background())
	proc := processorFunc(func(ctx context.Context, job domain.PrefetchJob) error {
		cancel()
		return ctx.Err()
	})

	Process(ctx, repo, proc, domain.PrefetchJob{ID: "x"}, nil)
	assert.Equal(t, context.Canceled.Error(), repo.failed["x"])
}

func TestFinancialsProcessor(t *testing.T) {
	f := &fakeFinancials{}
	err := FinancialsProcessor{Financials: f}.Process(context.Background(), domain.PrefetchJob{OrgNumber: "5560360793", Year: 2022})
	require.NoError(t, err)
	assert.Equal(t, 2022, f.year)
}

type fakeFinancials struct{ year int }

func (f *fakeFinancials) GetFinancials(_ context.Context, _ domain.OrgNumber, year int) (domain.FinancialStatement, error) {
	f.year = year
	return domain.FinancialStatement{}, nil
}
