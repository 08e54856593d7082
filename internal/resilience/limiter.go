package resilience

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"bolagsdata/internal/domain"
)

// LimiterSettings configures a Limiter. Zero values take the defaults.
type LimiterSettings struct {
	Name        string
	PerMinute   int           // refill rate and bucket capacity, default 60
	BurstMax    int           // admissions allowed per BurstWindow, default 3
	BurstWindow time.Duration // default 5s
	JitterMax   time.Duration // upper bound for Jitter, 0 disables it
}

// Limiter admits calls from a continuously refilled token bucket and
// additionally caps admissions within a short sliding window, so a full
// bucket still cannot be drained in one burst. State lives in memory only;
// a new Limiter starts with a full bucket.
type Limiter struct {
	settings LimiterSettings
	clock    clockwork.Clock

	mu     sync.Mutex
	bucket *rate.Limiter
	recent []time.Time
}

func NewLimiter(settings LimiterSettings, clock clockwork.Clock) *Limiter {
	if settings.PerMinute <= 0 {
		settings.PerMinute = 60
	}
	if settings.BurstMax <= 0 {
		settings.BurstMax = 3
	}
	if settings.BurstWindow <= 0 {
		settings.BurstWindow = 5 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	perSecond := rate.Limit(float64(settings.PerMinute) / 60)
	return &Limiter{
		settings: settings,
		clock:    clock,
		bucket:   rate.NewLimiter(perSecond, settings.PerMinute),
		recent:   make([]time.Time, 0, settings.BurstMax),
	}
}

// Wait blocks until both a burst slot and a token are available, or ctx ends.
// The token is only taken once the burst slot is granted, so a cancelled wait
// leaves the bucket as it found it.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.prune(now)
		if len(l.recent) >= l.settings.BurstMax {
			cooldown := l.recent[0].Add(l.settings.BurstWindow).Sub(now)
			l.mu.Unlock()
			if err := l.sleep(ctx, cooldown); err != nil {
				return err
			}
			continue
		}

		res := l.bucket.ReserveN(now, 1)
		d := res.DelayFrom(now)
		if d == 0 {
			l.recent = append(l.recent, now)
			l.mu.Unlock()
			return nil
		}
		// Not yet due: give the token back and sleep until it would be.
		res.CancelAt(now)
		l.mu.Unlock()
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Jitter sleeps a random duration in [0, JitterMax).
func (l *Limiter) Jitter(ctx context.Context) error {
	if l.settings.JitterMax <= 0 {
		return nil
	}
	return l.sleep(ctx, time.Duration(rand.Int64N(int64(l.settings.JitterMax))))
}

// Budget reports the current token balance and burst-window usage.
func (l *Limiter) Budget() domain.RateBudget {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.prune(now)
	return domain.RateBudget{
		Name:             l.settings.Name,
		Tokens:           l.bucket.TokensAt(now),
		At:               now,
		RecentAdmissions: len(l.recent),
	}
}

// prune drops admissions that left the burst window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	i := 0
	for i < len(l.recent) && now.Sub(l.recent[i]) >= l.settings.BurstWindow {
		i++
	}
	if i > 0 {
		l.recent = append(l.recent[:0], l.recent[i:]...)
	}
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := l.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
