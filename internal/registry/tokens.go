package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/resilience"
)

// TokenSettings configures the client-credentials grant.
type TokenSettings struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Margin       time.Duration // default 60s
	Timeout      time.Duration // per request, default 30s
}

// TokenManager caches the registry bearer token and refreshes it through the
// authorization endpoint. At most one refresh runs at a time; concurrent
// callers share its result.
type TokenManager struct {
	cfg        clientcredentials.Config
	margin     time.Duration
	timeout    time.Duration
	httpClient *http.Client
	clock      clockwork.Clock
	limiter    *resilience.Limiter
	breaker    *resilience.Breaker
	logger     *slog.Logger

	group     singleflight.Group
	refreshes atomic.Int64

	mu      sync.Mutex
	current domain.AccessToken
}

// NewTokenManager wires the grant to its own limiter and breaker. A nil
// httpClient means http.DefaultClient.
func NewTokenManager(settings TokenSettings, httpClient *http.Client, clock clockwork.Clock,
	limiter *resilience.Limiter, breaker *resilience.Breaker, logger *slog.Logger) *TokenManager {
	if settings.Margin <= 0 {
		settings.Margin = 60 * time.Second
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &TokenManager{
		cfg: clientcredentials.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			TokenURL:     settings.TokenURL,
			Scopes:       settings.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		margin:     settings.Margin,
		timeout:    settings.Timeout,
		httpClient: httpClient,
		clock:      clock,
		limiter:    limiter,
		breaker:    breaker,
		logger:     logger,
	}
}

// Token returns the cached token while more than the safety margin remains,
// otherwise joins or starts a refresh.
func (m *TokenManager) Token(ctx context.Context) (domain.AccessToken, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	return m.refresh(ctx)
}

// ForceRefresh discards the cached token, even one that has not expired, and
// fetches a new one. Used after the registry answers 401.
func (m *TokenManager) ForceRefresh(ctx context.Context) (domain.AccessToken, error) {
	m.mu.Lock()
	m.current = domain.AccessToken{}
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "token discarded, forcing refresh")
	return m.refresh(ctx)
}

// Snapshot returns the cached token metadata. The value is never serialized.
func (m *TokenManager) Snapshot() domain.AccessToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Refreshes counts successful calls to the authorization endpoint.
func (m *TokenManager) Refreshes() int64 { return m.refreshes.Load() }

func (m *TokenManager) cached() (domain.AccessToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Usable(m.clock.Now(), m.margin) {
		return m.current, true
	}
	return domain.AccessToken{}, false
}

func (m *TokenManager) refresh(ctx context.Context) (domain.AccessToken, error) {
	// The flight outlives any single caller: a waiter that gives up must not
	// abort the round trip the others are sharing.
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan("token", func() (any, error) {
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		return m.fetch(detached)
	})

	select {
	case <-ctx.Done():
		return domain.AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.AccessToken{}, domain.WithCorrelation(ctx, res.Err)
		}
		return res.Val.(domain.AccessToken), nil
	}
}

func (m *TokenManager) fetch(ctx context.Context) (domain.AccessToken, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return domain.AccessToken{}, err
		}
	}
	call := func(ctx context.Context) (domain.AccessToken, error) {
		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

		raw, err := m.cfg.Token(ctx)
		if err != nil {
			return domain.AccessToken{}, tokenError(err)
		}
		now := m.clock.Now()
		tok := domain.AccessToken{
			Value:     raw.AccessToken,
			Scope:     m.scope(raw),
			ExpiresAt: m.expiry(raw, now),
		}
		if !tok.Usable(now, m.margin) {
			return domain.AccessToken{}, &domain.UpstreamError{
				Op:       "token",
				Attempts: 1,
				Err:      fmt.Errorf("issued token expires at %s, inside the %s safety margin", tok.ExpiresAt.Format(time.RFC3339), m.margin),
			}
		}
		return tok, nil
	}

	var (
		tok domain.AccessToken
		err error
	)
	if m.breaker != nil {
		tok, err = resilience.Do(ctx, m.breaker, call)
	} else {
		tok, err = call(ctx)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "token refresh failed", "error", err)
		return domain.AccessToken{}, err
	}

	m.mu.Lock()
	m.current = tok
	m.mu.Unlock()
	m.refreshes.Add(1)
	m.logger.InfoContext(ctx, "token refreshed", "expires_at", tok.ExpiresAt)
	return tok, nil
}

// expiry measures expires_in against the injected clock. The oauth2 package
// computes Expiry from the wall clock, which is only used as a fallback.
func (m *TokenManager) expiry(tok *oauth2.Token, now time.Time) time.Time {
	var secs int64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		secs = int64(v)
	case json.Number:
		secs, _ = v.Int64()
	case string:
		secs, _ = strconv.ParseInt(v, 10, 64)
	}
	if secs > 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	return tok.Expiry
}

func (m *TokenManager) scope(tok *oauth2.Token) string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return s
	}
	return strings.Join(m.cfg.Scopes, " ")
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &domain.UpstreamError{Op: "token", StatusCode: re.Response.StatusCode, Attempts: 1, Err: err}
	}
	return &domain.UpstreamError{Op: "token", Attempts: 1, Err: err}
}
