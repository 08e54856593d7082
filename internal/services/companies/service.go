package companies

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/ports"
	"bolagsdata/internal/registry"
	"bolagsdata/internal/services/cache"
)

// TTLs per dataset.
type TTLs struct {
	Identity  time.Duration
	Documents time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{Identity: 30 * 24 * time.Hour, Documents: 7 * 24 * time.Hour}
}

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Service answers identity and filing lookups cache-first, and name search
// from the local replica.
type Service struct {
	cache    *cache.Service
	registry ports.Registry
	replica  ports.ReplicaReader
	ttl      TTLs
	logger   *slog.Logger
}

func New(c *cache.Service, reg ports.Registry, replica ports.ReplicaReader, ttl TTLs, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{cache: c, registry: reg, replica: replica, ttl: ttl, logger: logger}
}

// GetIdentity returns the registry snapshot. The raw registry response is what
// gets cached; an answer with no organisation is never stored.
func (s *Service) GetIdentity(ctx context.Context, orgnr domain.OrgNumber) (domain.CompanyIdentity, error) {
	raw, err := cache.Get(ctx, s.cache, cache.Request{
		Dataset:  domain.DatasetIdentity,
		Key:      orgnr.String(),
		TTL:      s.ttl.Identity,
		Endpoint: "GetIdentity",
		Method:   "GET",
	}, func(ctx context.Context) (json.RawMessage, error) {
		raw, err := s.registry.GetOrganisation(ctx, orgnr)
		if err != nil {
			return nil, err
		}
		if _, err := s.parse(raw, orgnr); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return domain.CompanyIdentity{}, err
	}
	id, err := s.parse(raw, orgnr)
	return id, domain.WithCorrelation(ctx, err)
}

func (s *Service) parse(raw json.RawMessage, orgnr domain.OrgNumber) (domain.CompanyIdentity, error) {
	id, err := registry.ParseOrganisation(raw)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			nf.Key = orgnr.String()
		}
		return domain.CompanyIdentity{}, err
	}
	if id.OrgNumber == "" {
		id.OrgNumber = orgnr
	}
	return id, nil
}

// ListDocuments returns the filed documents, newest period first as the
// registry orders them.
func (s *Service) ListDocuments(ctx context.Context, orgnr domain.OrgNumber) ([]domain.DocumentDescriptor, error) {
	return cache.Get(ctx, s.cache, cache.Request{
		Dataset:  domain.DatasetDocuments,
		Key:      orgnr.String(),
		TTL:      s.ttl.Documents,
		Endpoint: "ListDocuments",
		Method:   "GET",
	}, func(ctx context.Context) ([]domain.DocumentDescriptor, error) {
		return s.registry.ListDocuments(ctx, orgnr)
	})
}

// Search reads the local replica only. A query that parses as an org number
// matches that company exactly; anything else is a name search.
func (s *Service) Search(ctx context.Context, query string, limit int) (out []domain.ReplicaCompany, err error) {
	start := s.cache.Now()
	query = strings.TrimSpace(query)
	defer func() {
		s.cache.Record(ctx, cache.Request{Key: query, Endpoint: "Search", Method: "GET"}, start, err)
	}()

	if query == "" {
		return nil, &domain.ValidationError{Field: "q", Reason: "empty query"}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	if orgnr, err := domain.ParseOrgNumber(query); err == nil {
		c, found, err := s.replica.GetByOrgNumber(ctx, orgnr)
		if err != nil {
			return nil, err
		}
		if !found {
			return []domain.ReplicaCompany{}, nil
		}
		return []domain.ReplicaCompany{c}, nil
	}

	if len([]rune(query)) < 2 {
		return nil, &domain.ValidationError{Field: "q", Reason: "at least 2 characters required"}
	}
	out, err = s.replica.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "replica search", "query", query, "results", len(out))
	return out, nil
}
