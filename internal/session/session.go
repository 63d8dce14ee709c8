// Package session owns the authenticated X/Twitter client for one process run.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"go.uber.org/zap"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/model"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/ratelimit"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/retry"
)

const (
	apiV2  = "https://api.twitter.com/2"
	apiV11 = "https://api.twitter.com/1.1"

	opCreate    = "POST /2/tweets"
	opRateLimit = "GET /1.1/application/rate_limit_status.json"
	opVerify    = "GET /1.1/account/verify_credentials.json"
)

// ErrUnauthorized means the credentials were rejected or lack write access.
var ErrUnauthorized = errors.New("session: credentials rejected")

const setupHint = `check the app in the X developer portal:
  - User authentication settings: OAuth 1.0a enabled
  - App permissions: "Read and write"
  - Type of app: "Web App, Automated App or Bot"
  - regenerate the access token and secret after changing permissions`

// Credentials are the OAuth 1.0a user-context keys.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Missing returns the names of empty fields.
func (c Credentials) Missing() []string {
	var out []string
	for _, f := range []struct {
		name, v string
	}{
		{"consumer_key", c.ConsumerKey},
		{"consumer_secret", c.ConsumerSecret},
		{"access_token", c.AccessToken},
		{"access_secret", c.AccessSecret},
	} {
		if strings.TrimSpace(f.v) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// Identity is the account the session posts as.
type Identity struct {
	ID     string
	Handle string
}

// APIError is a non-2xx answer other than throttling.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Session is the authenticated handle passed to the publisher.
type Session struct {
	http *http.Client
	api  *twitter.Client
	log  *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	budget   *ratelimit.Budget
	identity Identity
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithClock overrides the time source used to judge budget freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New builds the oauth1-signed client. base, if non-nil, is the underlying
// client the signing transport wraps.
func New(creds Credentials, base *http.Client, opts ...Option) (*Session, error) {
	if missing := creds.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("missing twitter credentials: %s", strings.Join(missing, ", "))
	}

	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth1.HTTPClient, base)
	}
	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	httpClient := config.Client(ctx, token)

	s := &Session{
		http: httpClient,
		api:  twitter.NewClient(httpClient),
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Verify confirms the credentials once at startup. A 401/403 yields an
// error wrapping ErrUnauthorized; the caller should not proceed.
func (s *Session) Verify(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	user, resp, err := s.api.Accounts.VerifyCredentials(&twitter.AccountVerifyParams{
		SkipStatus: twitter.Bool(true),
	})
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return Identity{}, fmt.Errorf("%w (%s %d: %v)\n%s", ErrUnauthorized, opVerify, resp.StatusCode, err, setupHint)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", opVerify, err)
	}
	if resp != nil && resp.StatusCode/100 != 2 {
		return Identity{}, &APIError{Op: opVerify, Status: resp.StatusCode, Message: fmt.Sprintf("%s: HTTP %d", opVerify, resp.StatusCode)}
	}
	if user == nil || user.IDStr == "" {
		return Identity{}, fmt.Errorf("%s: empty user in response", opVerify)
	}

	id := Identity{ID: user.IDStr, Handle: user.ScreenName}
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()

	s.log.Info("authenticated", zap.String("handle", "@"+id.Handle), zap.String("user_id", id.ID))
	return id, nil
}

// Identity returns the account verified by Verify.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// CreatePost publishes text, as a reply to parentID when it is non-empty,
// and returns the new tweet id. Throttling wraps retry.ErrRateLimited.
func (s *Session) CreatePost(ctx context.Context, text, parentID string) (string, error) {
	body := model.TweetReq{Text: text}
	if parentID != "" {
		body.Reply = &model.TweetReply{InReplyToTweetID: parentID}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiV2+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", opCreate, err)
	}
	defer resp.Body.Close()
	s.observeBudget(resp.Header)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", opCreate, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%s: %w", diagnoseHTTPError(resp, raw, opCreate), retry.ErrRateLimited)
	}
	if resp.StatusCode/100 != 2 {
		return "", &APIError{Op: opCreate, Status: resp.StatusCode, Message: diagnoseHTTPError(resp, raw, opCreate)}
	}

	var out model.TweetResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", opCreate, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%s: missing tweet id in response: %s", opCreate, string(raw))
	}
	return out.Data.ID, nil
}

// RateBudget returns the remaining tweet-creation budget. A snapshot taken
// from the last create response is used while its window is open; otherwise
// the v1.1 rate limit status endpoint is queried.
func (s *Session) RateBudget(ctx context.Context) (ratelimit.Budget, error) {
	s.mu.Lock()
	if s.budget != nil && s.budget.ResetAt.After(s.now()) {
		b := *s.budget
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiV11+"/application/rate_limit_status.json?resources=tweets", nil)
	if err != nil {
		return ratelimit.Budget{}, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return ratelimit.Budget{}, fmt.Errorf("%s: %w", opRateLimit, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ratelimit.Budget{}, fmt.Errorf("%s: read response: %w", opRateLimit, err)
	}

	if resp.StatusCode/100 != 2 {
		return ratelimit.Budget{}, &APIError{Op: opRateLimit, Status: resp.StatusCode, Message: diagnoseHTTPError(resp, raw, opRateLimit)}
	}

	var st model.RateLimitStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return ratelimit.Budget{}, fmt.Errorf("%s: decode response: %w", opRateLimit, err)
	}
	res, ok := st.Resources["tweets"]["/tweets"]
	if !ok {
		return ratelimit.Budget{}, fmt.Errorf("%s: no entry for tweets /tweets", opRateLimit)
	}
	return ratelimit.Budget{Remaining: res.Remaining, ResetAt: time.Unix(res.Reset, 0)}, nil
}

// observeBudget remembers the x-rate-limit-* headers of a response.
func (s *Session) observeBudget(h http.Header) {
	remaining, err1 := strconv.Atoi(h.Get("x-rate-limit-remaining"))
	reset, err2 := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	b := ratelimit.Budget{Remaining: remaining, ResetAt: time.Unix(reset, 0)}

	s.mu.Lock()
	s.budget = &b
	s.mu.Unlock()
}
