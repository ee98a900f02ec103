package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/cms-cache/internal/config"
	"github.com/Sternrassler/cms-cache/internal/content"
	"github.com/Sternrassler/cms-cache/internal/server"
	"github.com/Sternrassler/cms-cache/pkg/cms"
	"github.com/Sternrassler/cms-cache/pkg/logging"
	"github.com/Sternrassler/cms-cache/pkg/ratelimit"
)

func (c *CLI) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			logging.Setup(logging.Config{Level: cfg.LogLevel(), Pretty: cfg.Log.Pretty})

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			if path != "" {
				go func() {
					if err := config.Watch(ctx, path, a.reload); err != nil {
						a.logger.Warn().Err(err).Msg("Config hot reload disabled")
					}
				}()
			}

			ln, err := net.Listen("tcp", cfg.Addr())
			if err != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return errors.Join(fmt.Errorf("listen %s: %w", cfg.Addr(), err), a.close(shutdownCtx))
			}
			return a.serve(ctx, ln)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the YAML config file (hot reloaded)")
	return cmd
}

// app is the wired service graph behind the serve command.
type app struct {
	cfg     *config.Config
	redis   *redis.Client
	svc     *content.Service
	handler http.Handler
	logger  zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: logging.NewLogger("cms-cache")}

	var store ratelimit.StateStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("redis: connect %s: %w", opts.Addr, err)
		}
		a.logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis, sharing rate limit state")
		store = ratelimit.NewRedisStore(a.redis)
	}

	client, err := cms.New(cms.Config{
		BaseURL:        cfg.CMS.BaseURL,
		Auth:           cfg.CMS.Auth,
		UserAgent:      cfg.CMS.UserAgent,
		Timeout:        cfg.CMS.Timeout,
		MaxRetries:     cfg.CMS.MaxRetries,
		Paths:          cfg.CMS.Paths,
		RateLimitStore: store,
		ThrottleDelay:  cfg.CMS.ThrottleDelay,
	})
	if err != nil {
		a.closeRedis()
		return nil, fmt.Errorf("cms client: %w", err)
	}

	a.svc, err = content.New(client, content.ConfigFrom(cfg), logging.NewLogger("content"))
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	a.handler = server.New(a.svc, server.Options{Debug: cfg.Server.Debug}, logging.NewLogger("http"))
	return a, nil
}

// serve starts the background work, serves ln until ctx is cancelled and
// then shuts everything down within the configured timeout.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	if err := a.svc.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", ln.Addr().String()).
			Str("cms", a.cfg.CMS.BaseURL).
			Bool("cache_enabled", a.cfg.Cache.Enabled).
			Msg("Starting server")
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	return errors.Join(serveErr, shutdownErr, a.close(shutdownCtx))
}

// reload applies the hot-reloadable settings of cfg.
func (a *app) reload(cfg *config.Config) {
	logging.SetLevel(cfg.LogLevel())
	a.svc.SetEnabled(cfg.Cache.Enabled)
}

func (a *app) close(ctx context.Context) error {
	err := a.svc.Close(ctx)
	a.closeRedis()
	return err
}

func (a *app) closeRedis() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
