// Package ratelimit blocks posting while the remote call budget is empty.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/retry"
)

// MinBuffer is the smallest wait added on top of a reset time.
const MinBuffer = 5 * time.Second

// Budget is a snapshot of the remote service's remaining calls.
// It is advisory: other activity on the account can consume it at any time.
type Budget struct {
	Remaining int
	ResetAt   time.Time
}

// BudgetSource queries the current budget.
type BudgetSource interface {
	RateBudget(ctx context.Context) (Budget, error)
}

// Config tunes the gate.
type Config struct {
	// Buffer is added to the time until reset. Values below MinBuffer are raised.
	// Default: 10s
	Buffer time.Duration

	// Strict waits Buffer when the budget query fails instead of failing open.
	Strict bool
}

// Gate checks the budget before each post.
type Gate struct {
	source BudgetSource
	config Config
	log    *zap.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	onWait func(time.Duration)
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithSleep overrides the wait function.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(g *Gate) { g.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// WithOnWait registers a callback invoked with each wait duration.
func WithOnWait(fn func(time.Duration)) Option {
	return func(g *Gate) { g.onWait = fn }
}

// NewGate creates a gate backed by source.
func NewGate(source BudgetSource, config Config, opts ...Option) *Gate {
	if config.Buffer == 0 {
		config.Buffer = 10 * time.Second
	}
	if config.Buffer < MinBuffer {
		config.Buffer = MinBuffer
	}

	g := &Gate{
		source: source,
		config: config,
		log:    zap.NewNop(),
		now:    time.Now,
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAndWait returns true when budget remains. When the budget is empty it
// sleeps until the reset time plus the buffer and returns false; the caller
// may proceed without checking again.
func (g *Gate) CheckAndWait(ctx context.Context) bool {
	budget, err := g.source.RateBudget(ctx)
	if err != nil {
		if g.config.Strict {
			g.log.Warn("rate limit check failed, waiting buffer", zap.Error(err), zap.Duration("wait", g.config.Buffer))
			g.wait(ctx, g.config.Buffer)
			return false
		}
		g.log.Warn("rate limit check failed, continuing", zap.Error(err))
		return true
	}

	if budget.Remaining > 0 {
		g.log.Info("rate limit budget", zap.Int("remaining", budget.Remaining))
		return true
	}

	wait := g.WaitFor(budget)
	g.log.Info("rate limit reached, waiting for reset",
		zap.Duration("wait", wait.Round(time.Second)),
		zap.Time("reset_at", budget.ResetAt.UTC()),
	)
	g.wait(ctx, wait)
	return false
}

// WaitFor returns how long an empty budget must be waited out.
func (g *Gate) WaitFor(b Budget) time.Duration {
	until := b.ResetAt.Sub(g.now())
	if until < 0 {
		until = 0
	}
	return until + g.config.Buffer
}

func (g *Gate) wait(ctx context.Context, d time.Duration) {
	if g.onWait != nil {
		g.onWait(d)
	}
	if err := g.sleep(ctx, d); err != nil {
		g.log.Debug("rate limit wait interrupted", zap.Error(err))
	}
}
