// Package status reports the in-memory resilience state of the process.
package status

import (
	"bolagsdata/internal/domain"
	"bolagsdata/internal/resilience"
)

// TokenSnapshotter is satisfied by registry.TokenManager.
type TokenSnapshotter interface {
	Snapshot() domain.AccessToken
}

type Service struct {
	breakers []*resilience.Breaker
	limiters []*resilience.Limiter
	tokens   TokenSnapshotter
}

func New(breakers []*resilience.Breaker, limiters []*resilience.Limiter, tokens TokenSnapshotter) *Service {
	return &Service{breakers: breakers, limiters: limiters, tokens: tokens}
}

func (s *Service) Breakers() []domain.CircuitState {
	out := make([]domain.CircuitState, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

func (s *Service) Budgets() []domain.RateBudget {
	out := make([]domain.RateBudget, 0, len(s.limiters))
	for _, l := range s.limiters {
		out = append(out, l.Budget())
	}
	return out
}

func (s *Service) Token() domain.AccessToken {
	if s.tokens == nil {
		return domain.AccessToken{}
	}
	return s.tokens.Snapshot()
}
