package financials

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/extractor"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/ports"
	"bolagsdata/internal/services/cache"
)

// Documents lists a company's filings, normally through the cached
// companies service.
type Documents interface {
	ListDocuments(ctx context.Context, orgnr domain.OrgNumber) ([]domain.DocumentDescriptor, error)
}

// Service extracts annual-report figures. A statement for a closed period is
// stored without expiry unless TTL says otherwise.
type Service struct {
	cache     *cache.Service
	documents Documents
	registry  ports.Registry
	archive   ports.ArchiveStore
	ttl       time.Duration
	logger    *slog.Logger
}

// New builds the service. archive may be nil, in which case bundles are not
// kept.
func New(c *cache.Service, docs Documents, reg ports.Registry, archive ports.ArchiveStore, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{cache: c, documents: docs, registry: reg, archive: archive, ttl: ttl, logger: logger}
}

// GetFinancials returns the statement for the financial year ending in year.
// Year 0 selects the latest filed period.
func (s *Service) GetFinancials(ctx context.Context, orgnr domain.OrgNumber, year int) (domain.FinancialStatement, error) {
	if year < 0 || year > 9999 {
		return domain.FinancialStatement{}, domain.WithCorrelation(ctx, &domain.ValidationError{Field: "year", Reason: fmt.Sprintf("%d is out of range", year)})
	}
	if year == 0 {
		latest, err := s.latestYear(ctx, orgnr)
		if err != nil {
			return domain.FinancialStatement{}, err
		}
		year = latest
	}

	key := fmt.Sprintf("%s:%d", orgnr, year)
	return cache.Get(ctx, s.cache, cache.Request{
		Dataset:  domain.DatasetFinancials,
		Key:      key,
		TTL:      s.ttl,
		Endpoint: "GetFinancials",
		Method:   "GET",
	}, func(ctx context.Context) (domain.FinancialStatement, error) {
		return s.fetch(ctx, orgnr, year)
	})
}

func (s *Service) latestYear(ctx context.Context, orgnr domain.OrgNumber) (int, error) {
	docs, err := s.documents.ListDocuments(ctx, orgnr)
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, d := range docs {
		if d.PeriodEnd != nil && d.PeriodEnd.Year() > latest {
			latest = d.PeriodEnd.Year()
		}
	}
	if latest == 0 {
		return 0, domain.WithCorrelation(ctx, &domain.NotFoundError{Entity: "annual report", Key: orgnr.String()})
	}
	return latest, nil
}

func (s *Service) fetch(ctx context.Context, orgnr domain.OrgNumber, year int) (domain.FinancialStatement, error) {
	docs, err := s.documents.ListDocuments(ctx, orgnr)
	if err != nil {
		return domain.FinancialStatement{}, err
	}
	desc, ok := pickDocument(docs, year)
	if !ok {
		return domain.FinancialStatement{}, &domain.NotFoundError{Entity: "annual report", Key: fmt.Sprintf("%s:%d", orgnr, year)}
	}

	bundle, err := s.registry.DownloadDocument(ctx, desc.DocumentID)
	if err != nil {
		return domain.FinancialStatement{}, err
	}
	archivePath := s.store(ctx, orgnr, desc.DocumentID, bundle)

	stmt, err := extractor.Extract(bundle)
	if err != nil {
		s.logger.WarnContext(ctx, "annual report extraction failed", "orgnr", orgnr, "document", desc.DocumentID, "error", err)
		return domain.FinancialStatement{}, err
	}
	stmt.OrgNumber = orgnr
	stmt.DocumentID = desc.DocumentID
	stmt.ArchivePath = archivePath
	if stmt.Period.To == nil && desc.PeriodEnd != nil {
		end := *desc.PeriodEnd
		stmt.Period.To = &end
	}
	s.logger.InfoContext(ctx, "annual report extracted", "orgnr", orgnr, "year", year, "fields", stmt.FieldCount())
	return stmt, nil
}

// store keeps the original bundle and returns its path, or "" when it could
// not be kept. Archive failures never fail the lookup.
func (s *Service) store(ctx context.Context, orgnr domain.OrgNumber, documentID string, bundle []byte) string {
	if s.archive == nil {
		return ""
	}
	p := ArchivePath(orgnr, documentID)
	if err := s.archive.Put(ctx, p, bundle); err != nil {
		s.logger.WarnContext(ctx, "archive write failed", "path", p, "error", err)
		return ""
	}
	return p
}

// ArchivePath is where the bundle of one document is kept.
func ArchivePath(orgnr domain.OrgNumber, documentID string) string {
	return path.Join("annual-reports", orgnr.String(), path.Base(documentID)+".zip")
}

// pickDocument selects the filing for the period ending in year. An amended
// filing registered later replaces the earlier one.
func pickDocument(docs []domain.DocumentDescriptor, year int) (domain.DocumentDescriptor, bool) {
	var (
		best  domain.DocumentDescriptor
		found bool
	)
	for _, d := range docs {
		if d.PeriodEnd == nil || d.PeriodEnd.Year() != year {
			continue
		}
		if !found || registeredAfter(d, best) {
			best, found = d, true
		}
	}
	return best, found
}

func registeredAfter(a, b domain.DocumentDescriptor) bool {
	if a.RegisteredAt == nil {
		return false
	}
	return b.RegisteredAt == nil || a.RegisteredAt.After(*b.RegisteredAt)
}
