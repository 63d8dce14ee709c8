package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/blog"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/config"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/generator"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/ledger"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/metrics"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/pipeline"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/ratelimit"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/retry"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/session"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/thread"
)

// baseHTTPClient is wrapped by the oauth1 transport; nil uses the default.
var baseHTTPClient *http.Client

// newGenerator builds the thread generator.
var newGenerator = func(cfg *config.Config, log *zap.Logger) (generator.Generator, error) {
	if err := cfg.RequireGenerator(); err != nil {
		return nil, err
	}
	return generator.New(generator.Config{
		APIKey:      cfg.Generator.APIKey,
		Model:       cfg.Generator.Model,
		BaseURL:     cfg.Generator.BaseURL,
		MinInterval: cfg.Generator.MinInterval,
	}, log)
}

// openSession authenticates once; a rejected key stops startup.
func openSession(ctx context.Context, cfg *config.Config, log *zap.Logger) (*session.Session, error) {
	if err := cfg.RequireTwitter(); err != nil {
		return nil, err
	}
	sess, err := session.New(session.Credentials{
		ConsumerKey:    cfg.Twitter.ConsumerKey,
		ConsumerSecret: cfg.Twitter.ConsumerSecret,
		AccessToken:    cfg.Twitter.AccessToken,
		AccessSecret:   cfg.Twitter.AccessSecret,
	}, baseHTTPClient, session.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if _, err := sess.Verify(ctx); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return sess, nil
}

// buildProcessor wires the generator and, unless dry-running, the session,
// gate, retry executor, publisher and ledger. m may be nil.
func buildProcessor(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer, m *metrics.Metrics) (*pipeline.Processor, func(), error) {
	gen, err := newGenerator(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	if cfg.DryRun {
		p := pipeline.New(blog.NewReader(log), gen, pipeline.WithLogger(log), pipeline.WithDryRun(out))
		return p, func() {}, nil
	}

	sess, err := openSession(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	store, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, nil, err
	}

	gateOpts := []ratelimit.Option{ratelimit.WithLogger(log)}
	retryOpts := []retry.Option{retry.WithOnRetry(logRetry(log, m))}
	pubOpts := []thread.Option{thread.WithLogger(log)}
	if m != nil {
		gateOpts = append(gateOpts, ratelimit.WithOnWait(m.GateWaited))
		pubOpts = append(pubOpts, thread.WithRecorder(m))
	}

	gate := ratelimit.NewGate(sess, ratelimit.Config{
		Buffer: cfg.Gate.Buffer,
		Strict: cfg.Gate.Strict,
	}, gateOpts...)

	executor := retry.New(retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       cfg.Retry.Jitter,
	}, retryOpts...)

	pub := thread.NewPublisher(sess, gate, executor, thread.Spacing{
		Initial:  cfg.Spacing.Initial,
		Base:     cfg.Spacing.Base,
		Step:     cfg.Spacing.Step,
		Cap:      cfg.Spacing.Cap,
		Jitter:   cfg.Spacing.Jitter,
		Cooldown: cfg.Spacing.Cooldown,
	}, pubOpts...)

	p := pipeline.New(blog.NewReader(log), gen,
		pipeline.WithLogger(log),
		pipeline.WithPublisher(pub),
		pipeline.WithStore(store),
	)
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close ledger", zap.Error(err))
		}
	}
	return p, closeFn, nil
}

// logRetry reports each retried attempt. m may be nil.
func logRetry(log *zap.Logger, m *metrics.Metrics) func(retry.Attempt) {
	return func(a retry.Attempt) {
		msg := "error, retrying"
		if a.Kind == retry.KindRateLimited {
			msg = "rate limit hit, waiting"
		}
		log.Warn(msg,
			zap.Int("attempt", a.Number),
			zap.Int("max_attempts", a.Max),
			zap.Duration("wait", a.Wait),
			zap.Error(a.Err),
		)
		m.Retried(a)
	}
}
