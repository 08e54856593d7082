// Package resilience holds the failure-isolation primitives shared by the
// registry client and the token manager: a circuit breaker and a token-bucket
// limiter with a burst guard.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"bolagsdata/internal/correlation"
	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
)

// BreakerSettings configures a Breaker. Zero values take the defaults.
type BreakerSettings struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the circuit, default 5
	SuccessThreshold int           // half-open successes that close it, default 2
	Timeout          time.Duration // open cooldown before a probe, default 60s

	// IsFailure decides whether an error counts against the collaborator.
	// Defaults to DefaultIsFailure. Cancelled calls and rejections by another
	// breaker are ignored before IsFailure is consulted.
	IsFailure func(error) bool
}

// DefaultIsFailure counts every error except answers the collaborator gave
// correctly (not-found, validation).
func DefaultIsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
		return false
	}
	return true
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeIgnored says nothing about the collaborator: counters and state
	// stay as they are.
	outcomeIgnored
)

func (b *Breaker) classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrCircuitOpen):
		return outcomeIgnored
	case b.settings.IsFailure(err):
		return outcomeFailure
	}
	return outcomeSuccess
}

// Breaker is a per-collaborator circuit breaker. All state changes happen
// under mu; counters are never exposed for mutation.
type Breaker struct {
	settings BreakerSettings
	clock    clockwork.Clock
	logger   *slog.Logger

	mu            sync.Mutex
	state         domain.BreakerState
	generation    uint64
	failures      int
	successes     int
	openedAt      time.Time
	lastFailureAt time.Time
	probing       bool
}

// NewBreaker builds a closed breaker. A nil clock means the real clock.
func NewBreaker(settings BreakerSettings, clock clockwork.Clock, logger *slog.Logger) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 2
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.IsFailure == nil {
		settings.IsFailure = DefaultIsFailure
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Breaker{settings: settings, clock: clock, logger: logger.With("breaker", settings.Name)}
}

// Name returns the collaborator name the breaker guards.
func (b *Breaker) Name() string { return b.settings.Name }

// Execute runs fn unless the circuit is open. When rejected, fn is not called
// and the error is a *domain.CircuitOpenError carrying the remaining cooldown.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, probe, err := b.before(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.after(ctx, gen, probe, err)
	return err
}

// Do is Execute for functions that return a value.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (b *Breaker) before(ctx context.Context) (uint64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case domain.StateClosed:
		return b.generation, false, nil
	case domain.StateOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.settings.Timeout {
			return 0, false, b.rejection(ctx, b.settings.Timeout-elapsed)
		}
		b.transition(ctx, domain.StateHalfOpen, now)
	}

	// Half-open: one probe at a time.
	if b.probing {
		return 0, false, b.rejection(ctx, 0)
	}
	b.probing = true
	return b.generation, true, nil
}

func (b *Breaker) after(ctx context.Context, gen uint64, probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	// The call started under an earlier state; its outcome no longer applies.
	if gen != b.generation {
		return
	}

	result := b.classify(err)
	if result == outcomeIgnored {
		return
	}
	now := b.clock.Now()
	failed := result == outcomeFailure
	if failed {
		b.lastFailureAt = now
	}

	switch b.state {
	case domain.StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.transition(ctx, domain.StateOpen, now)
		}
	case domain.StateHalfOpen:
		if failed {
			b.transition(ctx, domain.StateOpen, now)
			return
		}
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.transition(ctx, domain.StateClosed, now)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(ctx context.Context, to domain.BreakerState, now time.Time) {
	from := b.state
	b.state = to
	b.generation++
	switch to {
	case domain.StateOpen:
		b.openedAt = now
		b.successes = 0
	case domain.StateHalfOpen:
		b.successes = 0
	case domain.StateClosed:
		b.failures = 0
		b.successes = 0
		b.openedAt = time.Time{}
	}
	b.logger.WarnContext(ctx, "circuit state change", "from", from.String(), "to", to.String(), "failures", b.failures)
}

func (b *Breaker) rejection(ctx context.Context, remaining time.Duration) error {
	return &domain.CircuitOpenError{
		Name:          b.settings.Name,
		Remaining:     remaining,
		CorrelationID: correlation.FromContext(ctx),
	}
}

// Snapshot returns a copy of the breaker's counters. It does not advance an open
// breaker to half-open; only a call does that.
func (b *Breaker) Snapshot() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := domain.CircuitState{
		Name:         b.settings.Name,
		State:        b.state,
		StateName:    b.state.String(),
		FailureCount: b.failures,
		SuccessCount: b.successes,
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		s.LastFailureAt = &t
	}
	return s
}
