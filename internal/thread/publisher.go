// Package thread publishes an ordered list of drafts as a reply chain.
//
// Each reply's parent is the tweet posted immediately before it, so the
// thread is a linear chain rather than a star rooted at the head. Posting is
// strictly sequential. Before every post the rate limit gate is consulted and
// every post runs through the retry executor. When a post still fails after
// its retries the remaining drafts are abandoned; tweets already posted stay
// live.
//
// Publishing is not idempotent: calling Publish again with the same drafts
// posts them again.
package thread

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/retry"
)

// Poster creates a single tweet. parentID is empty for the thread head.
type Poster interface {
	CreatePost(ctx context.Context, text, parentID string) (string, error)
}

// Gate reports whether budget remains, sleeping first when it does not.
type Gate interface {
	CheckAndWait(ctx context.Context) bool
}

// Recorder receives publish events, e.g. for metrics.
type Recorder interface {
	Posted(reply bool)
	Aborted(index int)
	Completed(posted int)
}

// Spacing controls the waits between posts.
type Spacing struct {
	// Initial is waited once before the head tweet.
	Initial time.Duration
	// Reply i waits min(Base + i*Step, Cap) plus up to Jitter.
	Base   time.Duration
	Step   time.Duration
	Cap    time.Duration
	Jitter time.Duration
	// Cooldown is waited after a reply exhausts its retries.
	Cooldown time.Duration
}

// DefaultSpacing spaces replies 20s, 25s, 30s, 30s... apart.
func DefaultSpacing() Spacing {
	return Spacing{
		Initial:  5 * time.Second,
		Base:     15 * time.Second,
		Step:     5 * time.Second,
		Cap:      30 * time.Second,
		Jitter:   5 * time.Second,
		Cooldown: 60 * time.Second,
	}
}

// ReplyDelay is the spacing before reply i (1-indexed), excluding jitter.
func (s Spacing) ReplyDelay(i int) time.Duration {
	d := s.Base + time.Duration(i)*s.Step
	if s.Cap > 0 && d > s.Cap {
		d = s.Cap
	}
	return d
}

// Publisher posts threads through a Poster.
type Publisher struct {
	poster   Poster
	gate     Gate
	executor *retry.Executor
	spacing  Spacing
	log      *zap.Logger
	recorder Recorder

	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Publisher) { p.log = log }
}

// WithRecorder sets the event recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Publisher) { p.recorder = r }
}

// WithSleep overrides the wait function for spacing and cooldown.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Publisher) { p.sleep = fn }
}

// WithJitter overrides the random source for spacing jitter.
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(p *Publisher) { p.jitter = fn }
}

// NewPublisher creates a Publisher.
func NewPublisher(poster Poster, gate Gate, executor *retry.Executor, spacing Spacing, opts ...Option) *Publisher {
	p := &Publisher{
		poster:   poster,
		gate:     gate,
		executor: executor,
		spacing:  spacing,
		log:      zap.NewNop(),
		sleep:    retry.Sleep,
		jitter:   retry.UniformJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish posts drafts as a thread. An empty list is a no-op. The returned
// error is non-nil only when the thread was aborted or ctx was cancelled; the
// Result always reports what was posted.
func (p *Publisher) Publish(ctx context.Context, drafts []string) (Result, error) {
	st := newState(drafts)
	if len(drafts) == 0 {
		st.phase = PhaseDone
		return st.result(), nil
	}

	st.phase = PhasePostingHead
	for len(st.remaining) > 0 {
		i := st.posted
		if i > 0 {
			st.phase = PhasePostingReply
		}

		// A false return means the gate already slept; do not wait again.
		p.gate.CheckAndWait(ctx)
		if err := ctx.Err(); err != nil {
			return p.abort(st, err), err
		}

		delay := p.spacing.Initial
		if i > 0 {
			delay = p.spacing.ReplyDelay(i) + p.jitter(p.spacing.Jitter)
		}
		if err := p.wait(ctx, delay); err != nil {
			return p.abort(st, err), err
		}

		id, err := p.post(ctx, i, st.remaining[0], st.headID)
		if err != nil {
			if i > 0 && ctx.Err() == nil {
				p.log.Warn("cooling down after failed reply", zap.Duration("wait", p.spacing.Cooldown))
				_ = p.wait(ctx, p.spacing.Cooldown)
			}
			return p.abort(st, err), err
		}
		st.advance(id)
		if p.recorder != nil {
			p.recorder.Posted(i > 0)
		}
	}

	st.phase = PhaseDone
	res := st.result()
	p.log.Info("thread published", zap.Int("posted", res.Posted), zap.String("head_id", res.HeadID()))
	if p.recorder != nil {
		p.recorder.Completed(res.Posted)
	}
	return res, nil
}

func (p *Publisher) post(ctx context.Context, index int, text, parentID string) (string, error) {
	log := p.log.With(zap.Int("index", index))
	if parentID != "" {
		log = log.With(zap.String("parent_id", parentID))
	}

	var id string
	err := p.executor.Execute(ctx, func(ctx context.Context) error {
		var err error
		id, err = p.poster.CreatePost(ctx, text, parentID)
		return err
	})
	if err != nil {
		log.Error("post failed", zap.Error(err))
		return "", err
	}

	if index == 0 {
		log.Info("main tweet posted", zap.String("id", id), zap.String("preview", Preview(text)))
	} else {
		log.Info("reply posted", zap.String("id", id), zap.String("preview", Preview(text)))
	}
	return id, nil
}

func (p *Publisher) abort(st *state, cause error) Result {
	st.phase = PhaseAborted
	res := st.result()
	p.log.Error("thread aborted",
		zap.Int("posted", res.Posted),
		zap.Int("aborted_at", res.AbortedAt),
		zap.Int("total", res.Total),
		zap.Error(cause),
	)
	if p.recorder != nil {
		p.recorder.Aborted(res.AbortedAt)
	}
	return res
}

func (p *Publisher) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	p.log.Debug("spacing", zap.Duration("wait", d.Round(100*time.Millisecond)))
	return p.sleep(ctx, d)
}

// Preview shortens text for progress logs.
func Preview(text string) string {
	const n = 50
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
