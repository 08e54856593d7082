// Package cache implements the cache-first read path shared by every
// registry-backed lookup.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"bolagsdata/internal/correlation"
	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/ports"
)

// Request names the cache slot and how the call is logged. TTL 0 stores the
// entry without expiry.
type Request struct {
	Dataset  domain.Dataset
	Key      string
	TTL      time.Duration
	Endpoint string
	Method   string
}

// Service holds the cache store and request-log sink. Counter updates and log
// writes run in the background; Drain waits for them.
type Service struct {
	store  ports.CacheStore
	logs   ports.RequestLogSink
	clock  clockwork.Clock
	logger *slog.Logger

	bg sync.WaitGroup
}

const backgroundTimeout = 5 * time.Second

func New(store ports.CacheStore, logs ports.RequestLogSink, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, logs: logs, clock: clock, logger: logger}
}

// Get serves req from the cache while the entry is fresh, otherwise calls
// fetch and stores its result. Fetch errors are returned unchanged and are
// never cached. Cache store failures degrade to a miss.
func Get[T any](ctx context.Context, s *Service, req Request, fetch func(context.Context) (T, error)) (out T, err error) {
	start := s.clock.Now()
	hit := false
	defer func() { s.logRequest(ctx, req, start, hit, err) }()

	if v, ok := lookup[T](ctx, s, req, start); ok {
		hit = true
		return v, nil
	}

	out, err = fetch(ctx)
	if err != nil {
		var zero T
		return zero, domain.WithCorrelation(ctx, err)
	}
	s.put(ctx, req, out)
	return out, nil
}

func lookup[T any](ctx context.Context, s *Service, req Request, now time.Time) (T, bool) {
	var zero T
	entry, found, err := s.store.Get(ctx, req.Dataset, req.Key)
	if err != nil {
		s.logger.WarnContext(ctx, "cache read failed, treating as miss", "dataset", req.Dataset, "key", req.Key, "error", err)
		return zero, false
	}
	if !found || !entry.Fresh(now) {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(entry.Payload, &v); err != nil {
		s.logger.WarnContext(ctx, "cached payload undecodable, refetching", "dataset", req.Dataset, "key", req.Key, "error", err)
		return zero, false
	}
	s.background(ctx, func(ctx context.Context) {
		if err := s.store.IncrementHit(ctx, req.Dataset, req.Key); err != nil {
			s.logger.WarnContext(ctx, "hit count update failed", "dataset", req.Dataset, "key", req.Key, "error", err)
		}
	})
	return v, true
}

func (s *Service) put(ctx context.Context, req Request, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "cache payload encode failed", "dataset", req.Dataset, "key", req.Key, "error", err)
		return
	}
	now := s.clock.Now()
	entry := ports.CacheEntry{
		Dataset:   req.Dataset,
		Key:       req.Key,
		Payload:   payload,
		FetchedAt: now,
	}
	if req.TTL > 0 {
		exp := now.Add(req.TTL)
		entry.ExpiresAt = &exp
	}
	if err := s.store.Put(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", "dataset", req.Dataset, "key", req.Key, "error", err)
	}
}

func (s *Service) logRequest(ctx context.Context, req Request, start time.Time, hit bool, err error) {
	entry := domain.RequestLogEntry{
		Endpoint:      req.Endpoint,
		Method:        req.Method,
		SubjectKey:    req.Key,
		StatusCode:    domain.StatusCode(err),
		DurationMs:    s.clock.Since(start).Milliseconds(),
		CacheHit:      hit,
		CorrelationID: correlation.FromContext(ctx),
		Timestamp:     start,
	}
	if s.logs == nil {
		return
	}
	s.background(ctx, func(ctx context.Context) {
		if err := s.logs.Append(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "request log append failed", "endpoint", entry.Endpoint, "error", err)
		}
	})
}

// Record writes the request-log entry for an operation that bypasses the
// cache.
func (s *Service) Record(ctx context.Context, req Request, start time.Time, err error) {
	s.logRequest(ctx, req, start, false, err)
}

// background runs fn detached from the caller's cancellation.
func (s *Service) background(ctx context.Context, fn func(context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Drain blocks until background counter updates and log writes finish.
func (s *Service) Drain() { s.bg.Wait() }

// Now is the service clock, exposed so callers share one notion of time.
func (s *Service) Now() time.Time { return s.clock.Now() }
