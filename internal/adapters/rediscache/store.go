// Package rediscache is a ports.CacheStore backed by Redis hashes, for
// deployments that keep the registry cache out of Postgres.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/ports"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

const (
	fieldPayload    = "payload"
	fieldFetchedAt  = "fetched_at"
	fieldExpiresAt  = "expires_at"
	fieldHitCount   = "hit_count"
	fieldFetchCount = "fetch_count"
)

// Store keeps one hash per entry. Expired entries are left for Redis to
// evict a grace period after ExpiresAt; reads treat them as misses before
// that.
type Store struct {
	client *redis.Client
	prefix string
	grace  time.Duration
}

var _ ports.CacheStore = (*Store)(nil)

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "bolagsdata:cache"
	}
	return &Store{client: client, prefix: prefix, grace: 24 * time.Hour}
}

func (s *Store) key(d domain.Dataset, key string) string {
	return s.prefix + ":" + string(d) + ":" + key
}

func (s *Store) Get(ctx context.Context, d domain.Dataset, key string) (ports.CacheEntry, bool, error) {
	data, err := s.client.HGetAll(ctx, s.key(d, key)).Result()
	if err != nil {
		return ports.CacheEntry{}, false, err
	}
	payload, ok := data[fieldPayload]
	if !ok {
		return ports.CacheEntry{}, false, nil
	}

	e := ports.CacheEntry{Dataset: d, Key: key, Payload: json.RawMessage(payload)}
	if e.FetchedAt, err = parseUnixNano(data[fieldFetchedAt]); err != nil {
		return ports.CacheEntry{}, false, fmt.Errorf("entry %s: %w", s.key(d, key), err)
	}
	if raw := data[fieldExpiresAt]; raw != "" {
		exp, err := parseUnixNano(raw)
		if err != nil {
			return ports.CacheEntry{}, false, fmt.Errorf("entry %s: %w", s.key(d, key), err)
		}
		e.ExpiresAt = &exp
	}
	e.HitCount, _ = strconv.ParseInt(data[fieldHitCount], 10, 64)
	e.FetchCount, _ = strconv.ParseInt(data[fieldFetchCount], 10, 64)
	return e, true, nil
}

func (s *Store) Put(ctx context.Context, e ports.CacheEntry) error {
	k := s.key(e.Dataset, e.Key)
	expires := ""
	if e.ExpiresAt != nil {
		expires = strconv.FormatInt(e.ExpiresAt.UnixNano(), 10)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k,
			fieldPayload, []byte(e.Payload),
			fieldFetchedAt, strconv.FormatInt(e.FetchedAt.UnixNano(), 10),
			fieldExpiresAt, expires,
		)
		p.HIncrBy(ctx, k, fieldFetchCount, 1)
		if e.ExpiresAt != nil {
			p.ExpireAt(ctx, k, e.ExpiresAt.Add(s.grace))
		} else {
			p.Persist(ctx, k)
		}
		return nil
	})
	return err
}

// IncrementHit only touches entries that exist, so a late hit never
// resurrects an evicted key.
func (s *Store) IncrementHit(ctx context.Context, d domain.Dataset, key string) error {
	err := incrementIfExists.Run(ctx, s.client, []string{s.key(d, key)}, fieldPayload, fieldHitCount).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

var incrementIfExists = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
	return redis.call("HINCRBY", KEYS[1], ARGV[2], 1)
end
return false
`)

func parseUnixNano(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return time.Unix(0, n).UTC(), nil
}
