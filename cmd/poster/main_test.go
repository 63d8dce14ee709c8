package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/blog"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/config"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/generator"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/model"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/retry"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/session"
)

// rewriteTransport redirects all HTTP requests to a local httptest server,
// allowing us to test functions that use hardcoded external URLs.
type rewriteTransport struct {
	base   http.RoundTripper
	target string // e.g., "http://127.0.0.1:PORT"
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(rt.target, "http://")
	return rt.base.RoundTrip(req)
}

type fakeGenerator struct {
	drafts []string
}

func (g fakeGenerator) Generate(_ context.Context, post blog.Post) ([]string, error) {
	out := make([]string, len(g.drafts))
	for i, d := range g.drafts {
		out[i] = fmt.Sprintf("%s (%s)", d, post.Title)
	}
	return out, nil
}

var credVars = []string{
	"TWITTER_API_KEY", "TWITTER_API_SECRET", "TWITTER_ACCESS_TOKEN", "TWITTER_ACCESS_TOKEN_SECRET",
	"X_CONSUMER_KEY", "X_CONSUMER_SECRET", "X_ACCESS_TOKEN", "X_ACCESS_SECRET",
}

// isolateEnv clears variables the loader reads so the host environment
// does not leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range append(credVars, "BLOG_POSTS_PATH", "DRY_RUN", "GEMINI_API_KEY", "POSTER_CONFIG") {
		t.Setenv(k, "")
	}
}

func setCreds(t *testing.T) {
	t.Helper()
	vals := []string{"ck", "cs", "at", "as"}
	for i, k := range credVars {
		t.Setenv(k, vals[i%4])
	}
}

func useGenerator(t *testing.T, g generator.Generator) {
	t.Helper()
	orig := newGenerator
	newGenerator = func(*config.Config, *zap.Logger) (generator.Generator, error) { return g, nil }
	t.Cleanup(func() { newGenerator = orig })
}

func useServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	orig := baseHTTPClient
	baseHTTPClient = &http.Client{Transport: rewriteTransport{base: http.DefaultTransport, target: srv.URL}}
	t.Cleanup(func() { baseHTTPClient = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writePost(t *testing.T, dir, name, title string) {
	t.Helper()
	content := "---\ntitle: " + title + "\n---\nSome body text.\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ===================== envOr =====================

func TestEnvOr(t *testing.T) {
	const key = "TEST_ENVVAR_POSTER_XYZ"

	t.Setenv(key, "")
	if got := envOr(key, "default_val"); got != "default_val" {
		t.Errorf("envOr unset = %q, want %q", got, "default_val")
	}

	t.Setenv(key, "custom")
	if got := envOr(key, "default_val"); got != "custom" {
		t.Errorf("envOr set = %q, want %q", got, "custom")
	}
}

// ===================== commands =====================

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "watch", "whoami"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (err=%v)", name, err)
		}
	}
	for _, flag := range []string{"config", "env-file", "posts-dir", "log-level"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
	run, _, _ := root.Find([]string{"run"})
	if run.Flags().Lookup("dry-run") == nil {
		t.Error("run is missing --dry-run")
	}
}

// ===================== run --dry-run =====================

func TestRun_DryRun(t *testing.T) {
	isolateEnv(t)
	useGenerator(t, fakeGenerator{drafts: []string{"hook tweet", "detail tweet"}})

	dir := t.TempDir()
	writePost(t, dir, "b.md", "Second")
	writePost(t, dir, "a.md", "First")

	out, err := execute(t, "run", "--dry-run", "--posts-dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Tweet 1:\nhook tweet (First)",
		"Tweet 2:\ndetail tweet (First)",
		"Tweet 1:\nhook tweet (Second)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "(First)") > strings.Index(out, "(Second)") {
		t.Errorf("posts not processed in name order:\n%s", out)
	}
}

func TestRun_MissingPostsDir(t *testing.T) {
	isolateEnv(t)
	useGenerator(t, fakeGenerator{drafts: []string{"x"}})

	_, err := execute(t, "run", "--dry-run")
	if err == nil || !strings.Contains(err.Error(), "posts directory not set") {
		t.Fatalf("expected posts dir error, got %v", err)
	}

	_, err = execute(t, "run", "--dry-run", "--posts-dir", filepath.Join(t.TempDir(), "nope"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing dir error, got %v", err)
	}
}

func TestRun_MissingCredentials(t *testing.T) {
	isolateEnv(t)
	useGenerator(t, fakeGenerator{drafts: []string{"x"}})

	_, err := execute(t, "run", "--posts-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "missing required env var") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

// ===================== run (publishing) =====================

type fakeX struct {
	mu      sync.Mutex
	nextID  int
	posts   []model.TweetReq
	verifys int
}

func (f *fakeX) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		reset := fmt.Sprint(time.Now().Add(15 * time.Minute).Unix())
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/1.1/account/verify_credentials.json":
			f.verifys++
			_, _ = w.Write([]byte(`{"id":42,"id_str":"42","screen_name":"blogbot"}`))
		case "/1.1/application/rate_limit_status.json":
			fmt.Fprintf(w, `{"resources":{"tweets":{"/tweets":{"limit":100,"remaining":50,"reset":%s}}}}`, reset)
		case "/2/tweets":
			var req model.TweetReq
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode tweet: %v", err)
			}
			f.posts = append(f.posts, req)
			f.nextID++
			w.Header().Set("x-rate-limit-remaining", "49")
			w.Header().Set("x-rate-limit-reset", reset)
			w.WriteHeader(http.StatusCreated)
			var resp model.TweetResp
			resp.Data.ID = fmt.Sprint(100 + f.nextID - 1)
			resp.Data.Text = req.Text
			_ = json.NewEncoder(w).Encode(resp)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func fastSpacing(t *testing.T, ledgerPath string) {
	t.Helper()
	for k, v := range map[string]string{
		"POSTER_SPACING_INITIAL":  "1ms",
		"POSTER_SPACING_BASE":     "1ms",
		"POSTER_SPACING_STEP":     "1ms",
		"POSTER_SPACING_CAP":      "2ms",
		"POSTER_SPACING_JITTER":   "1ms",
		"POSTER_SPACING_COOLDOWN": "1ms",
		"POSTER_LEDGER_PATH":      ledgerPath,
	} {
		t.Setenv(k, v)
	}
}

func TestRun_PublishesThreadOnce(t *testing.T) {
	isolateEnv(t)
	setCreds(t)
	fastSpacing(t, filepath.Join(t.TempDir(), "ledger.sqlite"))
	useGenerator(t, fakeGenerator{drafts: []string{"head", "reply one", "reply two"}})

	x := &fakeX{}
	useServer(t, x.handler(t))

	dir := t.TempDir()
	writePost(t, dir, "post.md", "Post")

	if _, err := execute(t, "run", "--posts-dir", dir); err != nil {
		t.Fatal(err)
	}

	if len(x.posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(x.posts))
	}
	wantParents := []string{"", "100", "101"}
	for i, p := range x.posts {
		parent := ""
		if p.Reply != nil {
			parent = p.Reply.InReplyToTweetID
		}
		if parent != wantParents[i] {
			t.Errorf("post %d parent = %q, want %q", i, parent, wantParents[i])
		}
	}

	// The ledger skips the unchanged post on the next run.
	if _, err := execute(t, "run", "--posts-dir", dir); err != nil {
		t.Fatal(err)
	}
	if len(x.posts) != 3 {
		t.Errorf("expected no new posts on second run, got %d total", len(x.posts))
	}
	if x.verifys != 2 {
		t.Errorf("expected one credential check per run, got %d", x.verifys)
	}
}

// ===================== whoami =====================

func TestWhoami(t *testing.T) {
	isolateEnv(t)
	setCreds(t)
	useServer(t, (&fakeX{}).handler(t))

	out, err := execute(t, "whoami")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "@blogbot (42)") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestWhoami_Unauthorized(t *testing.T) {
	isolateEnv(t)
	setCreds(t)
	useServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"code":89,"message":"Invalid or expired token."}]}`))
	})

	_, err := execute(t, "whoami")
	if !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// ===================== logRetry =====================

func TestLogRetry(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fn := logRetry(zap.New(core), nil)

	fn(retry.Attempt{Number: 1, Max: 5, Kind: retry.KindRateLimited, Wait: 30 * time.Second, Err: retry.ErrRateLimited})
	fn(retry.Attempt{Number: 2, Max: 5, Kind: retry.KindOther, Wait: 15 * time.Second, Err: errors.New("boom")})

	if n := logs.FilterMessage("rate limit hit, waiting").Len(); n != 1 {
		t.Errorf("rate limit log count = %d, want 1", n)
	}
	entries := logs.FilterMessage("error, retrying").All()
	if len(entries) != 1 {
		t.Fatalf("retry log count = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["attempt"]; got != int64(2) {
		t.Errorf("attempt field = %v, want 2", got)
	}
}
