// Package registry is the adapter for the company-registry API: a bearer
// token manager and a client with one method per registry operation.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"bolagsdata/internal/correlation"
	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/resilience"
)

const maxResponseBytes = 64 << 20

// Tokens is the part of TokenManager the client depends on.
type Tokens interface {
	Token(ctx context.Context) (domain.AccessToken, error)
	ForceRefresh(ctx context.Context) (domain.AccessToken, error)
}

type ClientSettings struct {
	BaseURL     string
	Timeout     time.Duration // per attempt, default 30s
	MaxRetries  uint64        // retries after the first attempt, default 3
	BackoffBase time.Duration // first backoff, doubled per retry, default 1s
}

// Client calls the registry. Every call runs its whole retry sequence inside
// the registry breaker; each attempt waits for a limiter slot first.
type Client struct {
	settings ClientSettings
	http     *http.Client
	tokens   Tokens
	limiter  *resilience.Limiter
	breaker  *resilience.Breaker
	logger   *slog.Logger
}

func NewClient(settings ClientSettings, httpClient *http.Client, tokens Tokens,
	limiter *resilience.Limiter, breaker *resilience.Breaker, logger *slog.Logger) *Client {
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.MaxRetries == 0 {
		settings.MaxRetries = 3
	}
	if settings.BackoffBase <= 0 {
		settings.BackoffBase = time.Second
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		settings: settings,
		http:     httpClient,
		tokens:   tokens,
		limiter:  limiter,
		breaker:  breaker,
		logger:   logger,
	}
}

// GetOrganisation returns the raw organisationer response for one company.
func (c *Client) GetOrganisation(ctx context.Context, orgnr domain.OrgNumber) (json.RawMessage, error) {
	body, err := c.do(ctx, request{
		op:     "organisationer",
		method: http.MethodPost,
		path:   "/organisationer",
		body:   identityRequest{Identitetsbeteckning: orgnr.String()},
		entity: "organisation",
		key:    orgnr.String(),
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// ListDocuments returns the descriptors of the company's filed documents.
func (c *Client) ListDocuments(ctx context.Context, orgnr domain.OrgNumber) ([]domain.DocumentDescriptor, error) {
	body, err := c.do(ctx, request{
		op:     "dokumentlista",
		method: http.MethodPost,
		path:   "/dokumentlista",
		body:   identityRequest{Identitetsbeteckning: orgnr.String()},
		entity: "document list",
		key:    orgnr.String(),
	})
	if err != nil {
		return nil, err
	}
	docs, err := parseDocumentList(body)
	return docs, domain.WithCorrelation(ctx, err)
}

// DownloadDocument returns the archive bytes of one document.
func (c *Client) DownloadDocument(ctx context.Context, documentID string) ([]byte, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, &domain.ValidationError{Field: "documentId", Reason: "empty", CorrelationID: correlation.FromContext(ctx)}
	}
	return c.do(ctx, request{
		op:     "dokument",
		method: http.MethodGet,
		path:   "/dokument/" + url.PathEscape(documentID),
		accept: "application/zip",
		entity: "document",
		key:    documentID,
	})
}

type request struct {
	op, method, path string
	body             any
	accept           string
	entity, key      string
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return nil, fmt.Errorf("encode %s request: %w", r.op, err)
		}
	}

	start := time.Now()
	body, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return c.withRetry(ctx, r, payload)
	})
	if err != nil {
		err = domain.WithCorrelation(ctx, err)
		c.logger.WarnContext(ctx, "registry call failed", "op", r.op, "key", r.key, "status", domain.StatusCode(err), "error", err)
		return nil, err
	}
	c.logger.DebugContext(ctx, "registry call", "op", r.op, "key", r.key, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())
	return body, nil
}

// backoff waits BackoffBase before the first retry and doubles the wait for
// each one after, up to MaxRetries retries.
func (c *Client) backoff() retry.Backoff {
	return retry.WithMaxRetries(c.settings.MaxRetries, retry.NewExponential(c.settings.BackoffBase))
}

func (c *Client) withRetry(ctx context.Context, r request, payload []byte) ([]byte, error) {
	var (
		out       []byte
		attempts  int
		refreshed bool
	)
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempts++
		body, err := c.attempt(ctx, r, payload)
		if isUnauthorized(err) && !refreshed {
			refreshed = true
			if _, rerr := c.tokens.ForceRefresh(ctx); rerr != nil {
				return rerr
			}
			attempts++
			body, err = c.attempt(ctx, r, payload)
		}
		if err != nil {
			var ue *domain.UpstreamError
			if errors.As(err, &ue) && ue.Retryable() {
				c.logger.DebugContext(ctx, "registry attempt failed, retrying", "op", r.op, "attempt", attempts, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		out = body
		return nil
	})
	if err != nil {
		var ue *domain.UpstreamError
		if errors.As(err, &ue) && ue.Op == r.op {
			ue.Attempts = attempts
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) attempt(ctx context.Context, r request, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := c.limiter.Jitter(ctx); err != nil {
			return nil, err
		}
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.settings.BaseURL+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", r.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.UpstreamError{Op: r.op, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.NotFoundError{Entity: r.entity, Key: r.key}
	default:
		return nil, &domain.UpstreamError{Op: r.op, StatusCode: resp.StatusCode, Err: errors.New(snippet(data))}
	}
}

func isUnauthorized(err error) bool {
	var ue *domain.UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusUnauthorized
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
