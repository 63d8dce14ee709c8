// Package generator turns a blog post into thread drafts with an LLM.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/blog"
)

const (
	// DefaultModel is served by Gemini's OpenAI-compatible endpoint.
	DefaultModel   = "gemini-2.0-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	defaultTemperature = 0.7
)

// Generator produces ordered tweet drafts for a post: head first, then replies.
type Generator interface {
	Generate(ctx context.Context, post blog.Post) ([]string, error)
}

// Config configures the LLM generator.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// MinInterval is the minimum spacing between LLM requests.
	// Default: 4s
	MinInterval time.Duration
}

// LLM generates drafts through a langchaingo model.
type LLM struct {
	model   llms.Model
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates an LLM generator backed by an OpenAI-compatible endpoint.
func New(cfg Config, log *zap.Logger) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generator API key required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	model, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return NewWithModel(model, cfg.MinInterval, log), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, minInterval time.Duration, log *zap.Logger) *LLM {
	if minInterval <= 0 {
		minInterval = 4 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LLM{
		model:   model,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		log:     log,
	}
}

// Generate asks the model for a thread. A failed or unusable answer yields
// the single fallback tweet; only context cancellation is returned as error.
func (g *LLM) Generate(ctx context.Context, post blog.Post) ([]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, g.model, Prompt(post), llms.WithTemperature(defaultTemperature))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Error("error generating tweets", zap.String("post", post.Name()), zap.Error(err))
		return []string{Fallback(post.Title)}, nil
	}

	drafts := ParseThread(text)
	if len(drafts) == 0 {
		g.log.Warn("no valid tweets generated, using fallback", zap.String("post", post.Name()))
		return []string{Fallback(post.Title)}, nil
	}
	g.log.Info("thread generated", zap.String("post", post.Name()), zap.Int("tweets", len(drafts)))
	return drafts, nil
}

// Fallback is the single tweet used when generation fails.
func Fallback(title string) string {
	return fmt.Sprintf("📝 New blog post: %s\n\n#tech #coding #programming", title)
}

// Prompt builds the generation prompt for post.
func Prompt(post blog.Post) string {
	var b strings.Builder
	b.WriteString(`Generate an engaging Twitter thread about this blog post.
Format as [MAIN] for first tweet and [REPLY] for subsequent tweets.

Guidelines:
- First tweet should hook readers with the main value proposition
- Each subsequent tweet should dive deep into specific aspects
- Use full 280 characters when needed for detailed explanations
- Make it conversational yet informative
- Include emojis and hashtags naturally
- Add specific examples and key points
- Main tweet should include 2-3 relevant hashtags
- Break complex ideas into digestible chunks
- End with a compelling call to action

DO NOT include labels like "Tweet 1:" or "Step 1:"
Each tweet should read naturally as part of a thread.

`)
	fmt.Fprintf(&b, "Blog title: %s\nBlog content:\n%s\n", post.Title, post.Body)
	return b.String()
}
