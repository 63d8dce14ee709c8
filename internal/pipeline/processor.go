// Package pipeline turns posts into published threads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/blog"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/generator"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/ledger"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/thread"
)

// ErrNoPublisher is returned when publishing without a publisher configured.
var ErrNoPublisher = errors.New("pipeline: no publisher configured")

// Publisher posts drafts as a thread.
type Publisher interface {
	Publish(ctx context.Context, drafts []string) (thread.Result, error)
}

// Store remembers finished publishes.
type Store interface {
	Published(ctx context.Context, path, hash string) (bool, error)
	Record(ctx context.Context, e ledger.Entry) error
}

// Processor reads a post, generates its thread and publishes it, or prints
// it in dry-run mode.
type Processor struct {
	reader *blog.Reader
	gen    generator.Generator
	pub    Publisher
	store  Store
	out    io.Writer
	log    *zap.Logger
	runID  string
}

// Option configures a Processor.
type Option func(*Processor)

// WithPublisher sets the thread publisher.
func WithPublisher(p Publisher) Option {
	return func(pr *Processor) { pr.pub = p }
}

// WithStore sets the ledger used to skip and record publishes.
func WithStore(s Store) Option {
	return func(pr *Processor) { pr.store = s }
}

// WithDryRun prints drafts to w instead of publishing them.
func WithDryRun(w io.Writer) Option {
	return func(pr *Processor) { pr.out = w }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(pr *Processor) { pr.log = log }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(pr *Processor) { pr.runID = id }
}

// New creates a Processor.
func New(reader *blog.Reader, gen generator.Generator, opts ...Option) *Processor {
	p := &Processor{reader: reader, gen: gen}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	p.log = p.log.With(zap.String("run_id", p.runID))
	if p.reader == nil {
		p.reader = blog.NewReader(p.log)
	}
	return p
}

// RunID returns the id recorded with every publish of this processor.
func (p *Processor) RunID() string {
	return p.runID
}

// DryRun reports whether drafts are printed instead of published.
func (p *Processor) DryRun() bool {
	return p.out != nil
}

// Process handles the post at path.
func (p *Processor) Process(ctx context.Context, path string) error {
	post := p.reader.Read(path)
	log := p.log.With(zap.String("post", post.Name()))
	log.Info("processing post")

	if !p.DryRun() && p.store != nil && post.Hash != "" {
		done, err := p.store.Published(ctx, path, post.Hash)
		if err != nil {
			log.Warn("ledger lookup failed", zap.Error(err))
		} else if done {
			log.Info("already published, skipping")
			return nil
		}
	}

	drafts, err := p.gen.Generate(ctx, post)
	if err != nil {
		return fmt.Errorf("generate %s: %w", post.Name(), err)
	}

	if p.DryRun() {
		fmt.Fprintln(p.out, "\nGenerated tweets (dry run):")
		for i, d := range drafts {
			fmt.Fprintf(p.out, "\nTweet %d:\n%s\n", i+1, d)
		}
		return nil
	}

	if p.pub == nil {
		return ErrNoPublisher
	}
	res, pubErr := p.pub.Publish(ctx, drafts)
	if res.Total > 0 {
		p.record(ctx, log, path, post.Hash, res)
	}
	if pubErr != nil {
		return fmt.Errorf("publish %s: %w", post.Name(), pubErr)
	}
	return nil
}

func (p *Processor) record(ctx context.Context, log *zap.Logger, path, hash string, res thread.Result) {
	if p.store == nil {
		return
	}
	e := ledger.Entry{
		Path:     path,
		Hash:     hash,
		RunID:    p.runID,
		Total:    res.Total,
		Posted:   res.Posted,
		TweetIDs: res.IDs,
	}
	if res.Aborted {
		at := res.AbortedAt
		e.AbortedAt = &at
	}
	// Posted tweets are recorded even when the caller has been cancelled.
	if err := p.store.Record(context.WithoutCancel(ctx), e); err != nil {
		log.Error("failed to record publication", zap.Error(err))
	}
}

// ProcessDir handles every post in dir in name order. A failed post is
// logged and the next one is processed; cancellation stops the loop.
func (p *Processor) ProcessDir(ctx context.Context, dir string) error {
	p.log.Info("processing blog posts", zap.String("dir", dir))

	paths, err := blog.List(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		p.log.Info("No markdown files found in the specified directory")
		return nil
	}

	var errs []error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Process(ctx, path); err != nil {
			if ctx.Err() != nil {
				return err
			}
			p.log.Error("post failed", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Consume processes paths from ch one at a time until ch is closed or ctx
// is done.
func (p *Processor) Consume(ctx context.Context, ch <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.Process(ctx, path); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.log.Error("post failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
