package ports

import (
	"context"
	"encoding/json"

	"bolagsdata/internal/domain"
)

// CacheEntry is the persisted form of a cache entry; the payload stays opaque
// JSON so one store serves every dataset.
type CacheEntry = domain.CachedEntry[json.RawMessage]

// CacheStore persists cache entries keyed by (dataset, key).
type CacheStore interface {
	Get(ctx context.Context, dataset domain.Dataset, key string) (entry CacheEntry, found bool, err error)
	// Put replaces the entry and bumps its fetch count.
	Put(ctx context.Context, entry CacheEntry) error
	IncrementHit(ctx context.Context, dataset domain.Dataset, key string) error
}

// RequestLogSink appends request log entries. Write-only.
type RequestLogSink interface {
	Append(ctx context.Context, entry domain.RequestLogEntry) error
}

// ReplicaReader serves name search from the local bulk replica.
type ReplicaReader interface {
	Search(ctx context.Context, query string, limit int) ([]domain.ReplicaCompany, error)
	GetByOrgNumber(ctx context.Context, orgnr domain.OrgNumber) (company domain.ReplicaCompany, found bool, err error)
}

// ReplicaWriter upserts bulk replica rows keyed by org number.
type ReplicaWriter interface {
	UpsertCompanies(ctx context.Context, rows []domain.ReplicaCompany) (int64, error)
}

// ArchiveStore keeps the original document bundles.
type ArchiveStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}
