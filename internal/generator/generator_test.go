package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/blog"
)

type fakeModel struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tc.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"label", "Tweet 3: caching wins", "caching wins"},
		{"step label", "Step 1: measure first", "measure first"},
		{"hash label", "#2: then optimise", "then optimise"},
		{"bold", "this is **really** fast", "this is really fast"},
		{"italic", "this is *quite* fast", "this is quite fast"},
		{"whitespace", "  a \n\n b\t c ", "a b c"},
		{"hashtag kept", "ship it #go", "ship it #go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestClean_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 80)
	got := Clean(long)
	assert.LessOrEqual(t, len([]rune(got)), MaxLen)
	assert.True(t, strings.HasSuffix(got, "word..."), got)

	noSpaces := strings.Repeat("é", 400)
	got = Clean(noSpaces)
	assert.Equal(t, MaxLen, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestParseThread(t *testing.T) {
	answer := `Here is your thread:
[MAIN] Caching is the cheapest speedup you are not using 🚀 #tech #perf
[REPLY] Tweet 2: **Measure** before you cache anything at all.
some chatter that is ignored
[REPLY] too short
  [REPLY]   Invalidate on write, not on a timer, when you can.  `

	got := ParseThread(answer)
	assert.Equal(t, []string{
		"Caching is the cheapest speedup you are not using 🚀 #tech #perf",
		"Measure before you cache anything at all.",
		"Invalidate on write, not on a timer, when you can.",
	}, got)

	assert.Empty(t, ParseThread("no markers at all"))
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{answer: "[MAIN] Hook tweet about caching 🚀 #tech #perf\n[REPLY] Detail number one explained\n"}
	g := NewWithModel(model, time.Millisecond, nil)

	post := blog.Post{Path: "/posts/cache.md", Title: "Caching", Body: "Cache all the things."}
	drafts, err := g.Generate(context.Background(), post)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hook tweet about caching 🚀 #tech #perf", "Detail number one explained"}, drafts)

	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "Blog title: Caching")
	assert.Contains(t, model.prompts[0], "Cache all the things.")
}

func TestGenerate_Fallback(t *testing.T) {
	post := blog.Post{Title: "Caching"}
	for name, model := range map[string]*fakeModel{
		"error":      {err: errors.New("quota exceeded")},
		"no markers": {answer: "I cannot help with that."},
	} {
		t.Run(name, func(t *testing.T) {
			drafts, err := NewWithModel(model, time.Millisecond, nil).Generate(context.Background(), post)
			require.NoError(t, err)
			assert.Equal(t, []string{"📝 New blog post: Caching\n\n#tech #coding #programming"}, drafts)
		})
	}
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWithModel(&fakeModel{}, time.Millisecond, nil).Generate(ctx, blog.Post{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
