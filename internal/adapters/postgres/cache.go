package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

type cacheTable struct {
	name string
	key  string
}

// One table per dataset. Names come from this map only, never from input.
var cacheTables = map[domain.Dataset]cacheTable{
	domain.DatasetIdentity:   {name: "company_identity_cache", key: "org_nr"},
	domain.DatasetDocuments:  {name: "document_list_cache", key: "org_nr"},
	domain.DatasetFinancials: {name: "financial_statements", key: "cache_key"},
}

func tableFor(d domain.Dataset) (cacheTable, error) {
	t, ok := cacheTables[d]
	if !ok {
		return cacheTable{}, fmt.Errorf("unknown dataset %q", d)
	}
	return t, nil
}

// CacheStore implements ports.CacheStore.
type CacheStore struct{ db *DB }

func (db *DB) CacheStore() *CacheStore { return &CacheStore{db: db} }

var _ ports.CacheStore = (*CacheStore)(nil)

func (s *CacheStore) Get(ctx context.Context, d domain.Dataset, key string) (ports.CacheEntry, bool, error) {
	t, err := tableFor(d)
	if err != nil {
		return ports.CacheEntry{}, false, err
	}
	e := ports.CacheEntry{Dataset: d, Key: key}
	var payload []byte
	err = s.db.Pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT payload, fetched_at, expires_at, hit_count, fetch_count
		FROM %s WHERE %s = $1
	`, t.name, t.key), key).Scan(&payload, &e.FetchedAt, &e.ExpiresAt, &e.HitCount, &e.FetchCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.CacheEntry{}, false, nil
	}
	if err != nil {
		return ports.CacheEntry{}, false, err
	}
	e.Payload = json.RawMessage(payload)
	return e, true, nil
}

// Put replaces the payload and freshness of an entry. The hit counter
// survives a refresh; the fetch counter is bumped.
func (s *CacheStore) Put(ctx context.Context, e ports.CacheEntry) error {
	t, err := tableFor(e.Dataset)
	if err != nil {
		return err
	}
	var expires *time.Time
	if e.ExpiresAt != nil {
		v := e.ExpiresAt.UTC()
		expires = &v
	}
	_, err = s.db.Pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, payload, fetched_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (%[2]s) DO UPDATE SET
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at,
			expires_at = EXCLUDED.expires_at,
			fetch_count = %[1]s.fetch_count + 1
	`, t.name, t.key), e.Key, []byte(e.Payload), e.FetchedAt.UTC(), expires)
	return err
}

func (s *CacheStore) IncrementHit(ctx context.Context, d domain.Dataset, key string) error {
	t, err := tableFor(d)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET hit_count = hit_count + 1 WHERE %s = $1`, t.name, t.key), key)
	return err
}

// RequestLog implements ports.RequestLogSink on the request_log table.
type RequestLog struct{ db *DB }

func (db *DB) RequestLog() *RequestLog { return &RequestLog{db: db} }

var _ ports.RequestLogSink = (*RequestLog)(nil)

func (r *RequestLog) Append(ctx context.Context, e domain.RequestLogEntry) error {
	var corr *string
	if e.CorrelationID != "" {
		corr = &e.CorrelationID
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO request_log (endpoint, method, subject_key, status_code, duration_ms, cache_hit, correlation_id, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.Endpoint, e.Method, e.SubjectKey, e.StatusCode, e.DurationMs, e.CacheHit, corr, e.Timestamp.UTC())
	return err
}
