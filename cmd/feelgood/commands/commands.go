package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/drfeelgood/core/internal/app"
	"github.com/drfeelgood/core/internal/config"
	"github.com/drfeelgood/core/internal/modules/reference"
	"github.com/drfeelgood/core/internal/pkg/nativelog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand starts the HTTP server and the background jobs.
func NewServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// NewCheckCommand runs one reference check and rewrites the notice, then exits.
func NewCheckCommand(configPath *string) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the DSM/ICD releases once and refresh the notice",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := reference.ParseKind(kind)
			if err != nil {
				return err
			}
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := app.NewStore(cfg, logger)
			if err != nil {
				return err
			}
			checker, err := app.NewChecker(cfg, store, logger)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), checker, k)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(reference.KindICD), "DSM or ICD")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, checker *reference.Checker, kind reference.Kind) error {
	res := checker.Check(ctx, kind)
	fmt.Fprintln(out, res.Summary)
	if !res.NoticeWritten {
		return fmt.Errorf("notice %s was not written, see log", checker.NoticePath())
	}
	fmt.Fprintf(out, "Update check complete. See %s for details.\n", checker.NoticePath())
	return nil
}

func bootstrap(configPath string) (*config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := nativelog.NewZapLogger(nativelog.LogConfig{Level: cfg.Log.Level, Dir: cfg.Log.Dir})
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("native log pipeline unavailable, fallback to zap production logger", zap.Error(err))
	}
	return cfg, logger, nil
}

// serve runs until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) error {
	application, err := app.New(logger, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}

	srv := &http.Server{
		Addr:              application.Addr(),
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("repo", cfg.GitHub.Repo))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		application.Shutdown()
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	application.Shutdown()
	if shutdownErr != nil {
		return fmt.Errorf("forced shutdown: %w", shutdownErr)
	}
	logger.Info("server exited")
	return nil
}
