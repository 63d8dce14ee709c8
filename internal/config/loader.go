package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides, e.g. POSTER_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "POSTER_"

// legacyEnv maps the plain variable names used in .env files to config keys.
var legacyEnv = map[string]string{
	"BLOG_POSTS_PATH":             "posts_dir",
	"DRY_RUN":                     "dry_run",
	"TWITTER_API_KEY":             "twitter.consumer_key",
	"TWITTER_API_SECRET":          "twitter.consumer_secret",
	"TWITTER_ACCESS_TOKEN":        "twitter.access_token",
	"TWITTER_ACCESS_TOKEN_SECRET": "twitter.access_secret",
	"X_CONSUMER_KEY":              "twitter.consumer_key",
	"X_CONSUMER_SECRET":           "twitter.consumer_secret",
	"X_ACCESS_TOKEN":              "twitter.access_token",
	"X_ACCESS_SECRET":             "twitter.access_secret",
	"GEMINI_API_KEY":              "generator.api_key",
}

// topLevel keys contain underscores but have no section.
var topLevel = map[string]bool{
	"posts_dir": true,
	"dry_run":   true,
}

// Load reads configuration.
//
// Precedence (highest to lowest):
//  1. POSTER_* environment variables (POSTER_RETRY_MAX_ATTEMPTS -> retry.max_attempts)
//  2. plain variables such as TWITTER_API_KEY, GEMINI_API_KEY, BLOG_POSTS_PATH
//  3. the YAML file at configPath, if non-empty
//  4. built-in defaults
//
// dotenvPath, if it exists, is loaded into the process environment first
// without overriding variables that are already set.
func Load(configPath, dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
		}
	}

	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Unknown names map to "" and are skipped.
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps POSTER_SECTION_FIELD_NAME to section.field_name, splitting on
// the first underscore only.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if topLevel[lower] {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
