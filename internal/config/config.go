// Package config loads poster configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/logging"
)

// Config is the full poster configuration.
type Config struct {
	PostsDir string `koanf:"posts_dir"`
	DryRun   bool   `koanf:"dry_run"`

	Log       logging.Config  `koanf:"log"`
	Twitter   TwitterConfig   `koanf:"twitter"`
	Generator GeneratorConfig `koanf:"generator"`
	Retry     RetryConfig     `koanf:"retry"`
	Gate      GateConfig      `koanf:"gate"`
	Spacing   SpacingConfig   `koanf:"spacing"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Watch     WatchConfig     `koanf:"watch"`
}

// TwitterConfig holds OAuth 1.0a user-context credentials.
type TwitterConfig struct {
	ConsumerKey    string `koanf:"consumer_key"`
	ConsumerSecret string `koanf:"consumer_secret"`
	AccessToken    string `koanf:"access_token"`
	AccessSecret   string `koanf:"access_secret"`
}

// GeneratorConfig configures the LLM.
type GeneratorConfig struct {
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	MinInterval time.Duration `koanf:"min_interval"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	Jitter       time.Duration `koanf:"jitter"`
}

// GateConfig mirrors ratelimit.Config.
type GateConfig struct {
	Buffer time.Duration `koanf:"buffer"`
	Strict bool          `koanf:"strict"`
}

// SpacingConfig mirrors thread.Spacing.
type SpacingConfig struct {
	Initial  time.Duration `koanf:"initial"`
	Base     time.Duration `koanf:"base"`
	Step     time.Duration `koanf:"step"`
	Cap      time.Duration `koanf:"cap"`
	Jitter   time.Duration `koanf:"jitter"`
	Cooldown time.Duration `koanf:"cooldown"`
}

// LedgerConfig locates the sqlite ledger.
type LedgerConfig struct {
	Path string `koanf:"path"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// WatchConfig tunes the directory watcher.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// defaults is the lowest configuration layer. Keys set by the file or the
// environment override it one field at a time.
const defaults = `
log:
  level: info
  format: console
retry:
  max_attempts: 5
  initial_delay: 15s
  multiplier: 2
  jitter: 5s
gate:
  buffer: 10s
spacing:
  initial: 5s
  base: 15s
  step: 5s
  cap: 30s
  jitter: 5s
  cooldown: 60s
ledger:
  path: ./poster.sqlite
watch:
  debounce: 2s
`

// Validate checks values that are always required.
func (c *Config) Validate() error {
	var errs []error
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be >= 1, got %g", c.Retry.Multiplier))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.Jitter < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Spacing.Cap > 0 && c.Spacing.Cap < c.Spacing.Base {
		errs = append(errs, fmt.Errorf("spacing.cap (%s) is below spacing.base (%s)", c.Spacing.Cap, c.Spacing.Base))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// RequirePostsDir checks that PostsDir names an existing directory.
func (c *Config) RequirePostsDir() error {
	if c.PostsDir == "" {
		return errors.New("posts directory not set (BLOG_POSTS_PATH or --posts-dir)")
	}
	fi, err := os.Stat(c.PostsDir)
	if err != nil {
		return fmt.Errorf("directory does not exist: %s", c.PostsDir)
	}
	if !fi.IsDir() {
		return fmt.Errorf("posts path is not a directory: %s", c.PostsDir)
	}
	return nil
}

// RequireTwitter checks that all four credentials are present.
func (c *Config) RequireTwitter() error {
	for k, v := range map[string]string{
		"TWITTER_API_KEY":             c.Twitter.ConsumerKey,
		"TWITTER_API_SECRET":          c.Twitter.ConsumerSecret,
		"TWITTER_ACCESS_TOKEN":        c.Twitter.AccessToken,
		"TWITTER_ACCESS_TOKEN_SECRET": c.Twitter.AccessSecret,
	} {
		if v == "" {
			return fmt.Errorf("missing required env var: %s", k)
		}
	}
	return nil
}

// RequireGenerator checks that the LLM key is present.
func (c *Config) RequireGenerator() error {
	if c.Generator.APIKey == "" {
		return errors.New("missing required env var: GEMINI_API_KEY")
	}
	return nil
}
