// Command poster turns markdown blog posts into Twitter threads.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/config"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/logging"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/metrics"
	"github.com/RanL703/Blog-2-Tweet-Agent/internal/watch"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flag values.
type options struct {
	configPath string
	dotenvPath string
	postsDir   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "poster",
		Short: "Turn blog posts into Twitter threads",
		Long: `poster reads markdown posts from a directory, asks an LLM for a thread
about each one and publishes it as a chain of replies.

Credentials and paths come from a .env file, the environment
(TWITTER_API_KEY, GEMINI_API_KEY, BLOG_POSTS_PATH, POSTER_*) or --config.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("POSTER_CONFIG", ""), "path to YAML config file")
	root.PersistentFlags().StringVar(&opts.dotenvPath, "env-file", ".env", "path to .env file")
	root.PersistentFlags().StringVar(&opts.postsDir, "posts-dir", "", "directory of markdown posts (overrides BLOG_POSTS_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(opts), newWatchCmd(opts), newWhoamiCmd(opts))
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish a thread for every post in the directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(dryRun)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if err := cfg.RequirePostsDir(); err != nil {
				return err
			}
			ctx := cmd.Context()
			p, closeFn, err := buildProcessor(ctx, cfg, log, cmd.OutOrStdout(), nil)
			if err != nil {
				return err
			}
			defer closeFn()
			return p.ProcessDir(ctx, cfg.PostsDir)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate tweets without posting")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	var (
		dryRun       bool
		skipExisting bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Publish threads for posts as they are added or changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(dryRun)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if err := cfg.RequirePostsDir(); err != nil {
				return err
			}
			ctx := cmd.Context()
			m := metrics.New()
			p, closeFn, err := buildProcessor(ctx, cfg, log, cmd.OutOrStdout(), m)
			if err != nil {
				return err
			}
			defer closeFn()

			w, err := watch.New(cfg.PostsDir, cfg.Watch.Debounce, log)
			if err != nil {
				return err
			}
			defer w.Stop()

			g, gctx := errgroup.WithContext(ctx)
			if err := w.Start(gctx); err != nil {
				return err
			}
			g.Go(func() error {
				if !skipExisting {
					if err := p.ProcessDir(gctx, cfg.PostsDir); err != nil && gctx.Err() == nil {
						log.Warn("initial scan finished with errors", zap.Error(err))
					}
				}
				return p.Consume(gctx, w.Events())
			})
			if cfg.Metrics.Addr != "" {
				g.Go(func() error {
					log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
					return m.Serve(gctx, cfg.Metrics.Addr)
				})
			}

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				log.Info("shutting down")
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate tweets without posting")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "do not process posts already in the directory")
	return cmd
}

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Verify Twitter credentials and print the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(false)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			sess, err := openSession(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			id := sess.Identity()
			fmt.Fprintf(cmd.OutOrStdout(), "@%s (%s)\n", id.Handle, id.ID)
			return nil
		},
	}
}

// load reads configuration and applies flag overrides.
func (o *options) load(dryRun bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath, o.dotenvPath)
	if err != nil {
		return nil, nil, err
	}
	if o.postsDir != "" {
		cfg.PostsDir = o.postsDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if dryRun {
		cfg.DryRun = true
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
