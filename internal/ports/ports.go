package ports

import (
	"context"
	"encoding/json"

	"bolagsdata/internal/domain"
)

// Registry is the upstream company-registry API.
type Registry interface {
	GetOrganisation(ctx context.Context, orgnr domain.OrgNumber) (json.RawMessage, error)
	ListDocuments(ctx context.Context, orgnr domain.OrgNumber) ([]domain.DocumentDescriptor, error)
	DownloadDocument(ctx context.Context, documentID string) ([]byte, error)
}

// Companies provides identity snapshots, filings and replica search.
type Companies interface {
	GetIdentity(ctx context.Context, orgnr domain.OrgNumber) (domain.CompanyIdentity, error)
	ListDocuments(ctx context.Context, orgnr domain.OrgNumber) ([]domain.DocumentDescriptor, error)
	Search(ctx context.Context, query string, limit int) ([]domain.ReplicaCompany, error)
}

// Financials provides extracted annual-report figures.
type Financials interface {
	GetFinancials(ctx context.Context, orgnr domain.OrgNumber, year int) (domain.FinancialStatement, error)
}

// Prefetcher enqueues and tracks financial-statement warm-up jobs.
type Prefetcher interface {
	Enqueue(ctx context.Context, orgnr domain.OrgNumber, year int) (jobID string, err error)
	Status(ctx context.Context, jobID string) (domain.PrefetchJob, error)
}

// StatusReporter exposes the in-memory resilience state.
type StatusReporter interface {
	Breakers() []domain.CircuitState
	Budgets() []domain.RateBudget
	Token() domain.AccessToken
}
