package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ssebridge/internal/auth"
	"ssebridge/internal/handlers"
	"ssebridge/internal/middleware"
	"ssebridge/internal/sse"
	"ssebridge/internal/stats"
)

const (
	shutdownTimeout      = 10 * time.Second
	tokenCleanupInterval = 5 * time.Minute
	purgeInterval        = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SSE bridge server",
	Long: `Start the HTTP server and the Redis listen loop.

Configuration is read from the environment (.env.local and .env are loaded
first). Flags override the environment:
  ssebridge serve --host 127.0.0.1 --port 9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Server host (default 0.0.0.0)")
	serveCmd.Flags().String("port", "", "Server port (default 8080)")
	serveCmd.Flags().String("node-id", "", "Node id reported in stats and heartbeats")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Server.Host = v
	}
	if v, _ := cmd.Flags().GetString("port"); v != "" {
		cfg.Server.Port = v
	}
	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		cfg.Server.NodeID = v
	}

	logger, logCloser, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", buildVersion).
		Str("address", cfg.Address()).
		Str("node_id", cfg.Server.NodeID).
		Str("stats_backend", cfg.Stats.Backend).
		Msg("starting ssebridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	authService, err := auth.NewService(cfg.Auth.AdminUsername, cfg.Auth.AdminPassword,
		auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry))
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	go authService.RunCacheCleanup(ctx, tokenCleanupInterval)

	if c.stats.gorm != nil && cfg.Stats.TTL > 0 {
		go runPurge(ctx, c.stats.gorm, cfg.Stats.TTL, purgeInterval, logger)
	}

	service := sse.NewService(c.bridge, c.registry, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.ErrorHandler(logger, cfg.IsDevelopment()))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	h := handlers.New(cfg, authService, service, logger)
	h.RegisterRoutes(router)

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting SSE service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, shutting down")
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	case <-service.Done():
		if err := service.Err(); err != nil {
			runErr = fmt.Errorf("listen loop: %w", err)
		}
		logger.Error().Err(runErr).Msg("listen loop exited, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 先释放长连接，否则 Shutdown 会等待所有SSE请求
	if err := service.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error stopping SSE service")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}

	logger.Info().Msg("ssebridge stopped")
	return runErr
}

// runPurge 定期删除超出保留期的统计分桶
func runPurge(ctx context.Context, store *stats.GormStore, retention, interval time.Duration, logger zerolog.Logger) {
	log := logger.With().Str("component", "stats_purge").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		purged, err := store.Purge(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Error().Err(err).Msg("failed to purge stats")
		} else if purged > 0 {
			log.Info().Int64("rows", purged).Msg("expired stats purged")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
