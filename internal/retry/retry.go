// Package retry runs a single remote operation with bounded backoff.
//
// Failures are split into two kinds. RateLimited failures (the remote side
// explicitly throttled the call) are retried with exponential backoff plus
// jitter. Every other failure is retried with a flat delay. Once MaxAttempts
// is reached the last failure is escalated as an *ExhaustedError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Kind classifies a failed attempt.
type Kind int

const (
	// KindOther covers network, auth, validation and server errors.
	KindOther Kind = iota
	// KindRateLimited means the remote service signalled throttling.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// Policy configures the backoff schedule.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	// Default: 5
	MaxAttempts int

	// InitialDelay seeds the delay sequence.
	// Default: 15s
	InitialDelay time.Duration

	// Multiplier grows the delay after each rate-limited attempt.
	// Default: 2.0
	Multiplier float64

	// Jitter is the upper bound of the uniform random addition applied to
	// rate-limited waits. Zero disables jitter.
	Jitter time.Duration
}

// DefaultPolicy mirrors the pacing used for posting tweets.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 15 * time.Second,
		Multiplier:   2.0,
		Jitter:       5 * time.Second,
	}
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int // 1-indexed attempt that failed
	Max    int
	Kind   Kind
	Wait   time.Duration
	Err    error
}

// Executor wraps operations with the retry policy.
type Executor struct {
	policy Policy

	classify func(error) Kind
	onRetry  func(Attempt)
	sleep    func(context.Context, time.Duration) error
	jitter   func(time.Duration) time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier overrides how errors are mapped to a Kind.
func WithClassifier(fn func(error) Kind) Option {
	return func(e *Executor) { e.classify = fn }
}

// WithOnRetry registers a progress callback invoked before each backoff wait.
func WithOnRetry(fn func(Attempt)) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// WithSleep replaces the wait function. Used by tests to avoid real sleeps.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithJitter replaces the random source. fn receives the jitter bound and
// must return a value in [0, bound).
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(e *Executor) { e.jitter = fn }
}

// New creates an Executor, filling zero policy fields with defaults.
func New(policy Policy, opts ...Option) *Executor {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = def.Multiplier
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}

	e := &Executor{
		policy:   policy,
		classify: Classify,
		sleep:    Sleep,
		jitter:   UniformJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute runs op until it succeeds, fails MaxAttempts times, or ctx is done.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	delay := e.policy.InitialDelay

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		kind := e.classify(err)
		if attempt >= e.policy.MaxAttempts {
			return &ExhaustedError{Kind: kind, Attempts: attempt, Err: err}
		}

		// Rate-limited waits grow; other failures reuse the current delay.
		wait := delay
		if kind == KindRateLimited {
			delay = time.Duration(float64(delay) * e.policy.Multiplier)
			wait = delay
			if e.policy.Jitter > 0 {
				wait += e.jitter(e.policy.Jitter)
			}
		}

		if e.onRetry != nil {
			e.onRetry(Attempt{
				Number: attempt,
				Max:    e.policy.MaxAttempts,
				Kind:   kind,
				Wait:   wait,
				Err:    err,
			})
		}

		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Classify is the default classifier: errors wrapping ErrRateLimited are
// KindRateLimited, everything else is KindOther.
func Classify(err error) Kind {
	if errors.Is(err, ErrRateLimited) {
		return KindRateLimited
	}
	return KindOther
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UniformJitter returns a uniformly distributed duration in [0, bound).
func UniformJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return time.Duration(rand.Int64N(int64(bound)))
}

// Backoff returns the rate-limited delay (without jitter) that precedes
// attempt k, i.e. InitialDelay * Multiplier^(k-1). Attempt 1 has none.
func (p Policy) Backoff(k int) time.Duration {
	if k <= 1 {
		return 0
	}
	d := float64(p.InitialDelay)
	for i := 1; i < k; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

func (a Attempt) String() string {
	return fmt.Sprintf("attempt %d/%d failed (%s), waiting %s", a.Number, a.Max, a.Kind, a.Wait.Round(100*time.Millisecond))
}
