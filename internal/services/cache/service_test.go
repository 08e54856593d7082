package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolagsdata/internal/correlation"
	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

type memStore struct {
	mu         sync.Mutex
	entries    map[string]ports.CacheEntry
	puts       int
	increments int
	getErr     error
	putErr     error
	incErr     error
}

var _ ports.CacheStore = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{entries: map[string]ports.CacheEntry{}} }

func (m *memStore) Get(_ context.Context, dataset domain.Dataset, key string) (ports.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return ports.CacheEntry{}, false, m.getErr
	}
	e, ok := m.entries[string(dataset)+"/"+key]
	return e, ok, nil
}

func (m *memStore) Put(_ context.Context, e ports.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	prev := m.entries[string(e.Dataset)+"/"+e.Key]
	e.FetchCount = prev.FetchCount + 1
	m.entries[string(e.Dataset)+"/"+e.Key] = e
	return nil
}

func (m *memStore) IncrementHit(_ context.Context, dataset domain.Dataset, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return m.incErr
	}
	m.increments++
	e := m.entries[string(dataset)+"/"+key]
	e.HitCount++
	m.entries[string(dataset)+"/"+key] = e
	return nil
}

type memSink struct {
	mu      sync.Mutex
	entries []domain.RequestLogEntry
}

func (s *memSink) Append(_ context.Context, e domain.RequestLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

type identity struct {
	Name string `json:"name"`
}

func setup() (*Service, *memStore, *memSink, *clockwork.FakeClock) {
	store, sink := newMemStore(), &memSink{}
	clock := clockwork.NewFakeClock()
	return New(store, sink, clock, nil), store, sink, clock
}

func counting(calls *int, v identity, err error) func(context.Context) (identity, error) {
	return func(context.Context) (identity, error) {
		*calls++
		return v, err
	}
}

var req = Request{Dataset: domain.DatasetIdentity, Key: "5560360793", TTL: 30 * 24 * time.Hour, Endpoint: "GetIdentity", Method: "GET"}

func TestGet_ColdMissThenHit(t *testing.T) {
	svc, store, sink, clock := setup()
	ctx := context.Background()
	calls := 0
	fetch := counting(&calls, identity{Name: "Saab AB"}, nil)

	v, err := Get(ctx, svc, req, fetch)
	require.NoError(t, err)
	assert.Equal(t, "Saab AB", v.Name)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, store.puts)

	entry := store.entries["identity/5560360793"]
	require.NotNil(t, entry.ExpiresAt)
	assert.Equal(t, clock.Now().Add(req.TTL), *entry.ExpiresAt)

	v, err = Get(ctx, svc, req, fetch)
	require.NoError(t, err)
	svc.Drain()
	assert.Equal(t, "Saab AB", v.Name)
	assert.Equal(t, 1, calls, "hit performs no upstream call")
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, 1, store.increments)

	require.Len(t, sink.entries, 2)
	assert.False(t, sink.entries[0].CacheHit)
	assert.True(t, sink.entries[1].CacheHit)
	assert.Equal(t, http.StatusOK, sink.entries[1].StatusCode)
	assert.Equal(t, "5560360793", sink.entries[1].SubjectKey)
}

func TestGet_ExpiredEntryBehavesAsColdMiss(t *testing.T) {
	svc, store, _, clock := setup()
	ctx := context.Background()
	calls := 0
	fetch := counting(&calls, identity{Name: "v"}, nil)

	_, err := Get(ctx, svc, req, fetch)
	require.NoError(t, err)

	clock.Advance(req.TTL)
	_, err = Get(ctx, svc, req, fetch)
	require.NoError(t, err)
	svc.Drain()

	assert.Equal(t, 2, calls, "a read at expiresAt refetches")
	assert.Zero(t, store.increments)
	entry := store.entries["identity/5560360793"]
	assert.Equal(t, clock.Now().Add(req.TTL), *entry.ExpiresAt)
	assert.Equal(t, int64(2), entry.FetchCount)
}

func TestGet_ZeroTTLNeverExpires(t *testing.T) {
	svc, store, _, clock := setup()
	ctx := context.Background()
	r := Request{Dataset: domain.DatasetFinancials, Key: "5560360793:2023"}
	calls := 0
	fetch := counting(&calls, identity{Name: "v"}, nil)

	_, err := Get(ctx, svc, r, fetch)
	require.NoError(t, err)
	assert.Nil(t, store.entries["financials/5560360793:2023"].ExpiresAt)

	clock.Advance(10 * 365 * 24 * time.Hour)
	_, err = Get(ctx, svc, r, fetch)
	require.NoError(t, err)
	svc.Drain()
	assert.Equal(t, 1, calls)
}

func TestGet_FetchErrorPropagatesAndIsNotCached(t *testing.T) {
	svc, store, sink, _ := setup()
	ctx := correlation.WithID(context.Background(), "corr-42")
	notFound := &domain.NotFoundError{Entity: "organisation", Key: "5560360793"}
	calls := 0

	_, err := Get(ctx, svc, req, counting(&calls, identity{}, notFound))
	svc.Drain()
	require.Error(t, err)
	assert.Same(t, notFound, err, "fetch errors are returned unchanged")
	assert.Equal(t, "corr-42", domain.CorrelationOf(err))
	assert.Zero(t, store.puts)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, http.StatusNotFound, sink.entries[0].StatusCode)
	assert.Equal(t, "corr-42", sink.entries[0].CorrelationID)
}

func TestGet_StoreFailuresDegradeToMiss(t *testing.T) {
	svc, store, _, _ := setup()
	store.getErr = errors.New("connection refused")
	store.putErr = errors.New("connection refused")
	calls := 0

	v, err := Get(context.Background(), svc, req, counting(&calls, identity{Name: "fresh"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v.Name)
	assert.Equal(t, 1, calls)
}

func TestGet_HitCountFailureDoesNotFailRead(t *testing.T) {
	svc, store, _, _ := setup()
	ctx := context.Background()
	calls := 0
	fetch := counting(&calls, identity{Name: "v"}, nil)
	_, err := Get(ctx, svc, req, fetch)
	require.NoError(t, err)

	store.incErr = errors.New("deadlock detected")
	v, err := Get(ctx, svc, req, fetch)
	svc.Drain()
	require.NoError(t, err)
	assert.Equal(t, "v", v.Name)
	assert.Equal(t, 1, calls)
}

func TestGet_UndecodablePayloadRefetches(t *testing.T) {
	svc, store, _, clock := setup()
	exp := clock.Now().Add(time.Hour)
	store.entries["identity/5560360793"] = ports.CacheEntry{
		Dataset: domain.DatasetIdentity, Key: "5560360793",
		Payload: json.RawMessage(`[1,2,3]`), FetchedAt: clock.Now(), ExpiresAt: &exp,
	}
	calls := 0

	v, err := Get(context.Background(), svc, req, counting(&calls, identity{Name: "repaired"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "repaired", v.Name)
	assert.Equal(t, 1, calls)
}
