package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/davon-library/webgate/api"
	"github.com/davon-library/webgate/config"
	"github.com/davon-library/webgate/mock"
	bboltstorage "github.com/davon-library/webgate/storage/bbolt"
)

var (
	configPath string
	listenAddr string
	upstream   string
	dataDir    string
	tlsCert    string
	tlsKey     string
)

// shutdownTimeout bounds how long in-flight requests may take to finish.
const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Listen = listenAddr
		}
		if cmd.Flags().Changed("upstream") {
			cfg.Upstream = upstream
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.Mock.DataFile = filepath.Join(dataDir, "mock.db")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := cfg.NewLogger(os.Stderr)
		if err != nil {
			return err
		}
		opts := []api.Option{
			api.WithLogger(logger),
			api.WithAlertFunc(func(ev api.AlertEvent) {
				logger.Warn("security alert",
					slog.String("type", string(ev.Type)),
					slog.Int("count", ev.Count),
					slog.Int("threshold", ev.Threshold))
			}),
		}

		if cfg.Mock.Enabled && cfg.Mock.DataFile != "" {
			store, closeStore, err := openMockStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			opts = append(opts, api.WithUserStore(store))
		}

		a, err := api.New(cfg, opts...)
		if err != nil {
			return err
		}
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/", a.Router())

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      cfg.UpstreamTimeout + 15*time.Second,
			IdleTimeout:       60 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go a.RunSweeper(ctx)

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsCert != "" && tlsKey != "" {
				err = server.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("gateway listening",
			slog.String("addr", cfg.Listen),
			slog.String("upstream", cfg.Upstream),
			slog.String("environment", cfg.Environment),
			slog.Bool("mock", cfg.Mock.Enabled))

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			a.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// openMockStore opens the bbolt-backed user store and seeds it when asked.
func openMockStore(cfg config.Config, logger *slog.Logger) (*mock.UserStore, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Mock.DataFile), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(cfg.Mock.DataFile, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open mock storage: %w", err)
	}
	store := mock.NewUserStore(repo)
	if cfg.Mock.Seed {
		if err := api.SeedUsers(store, logger); err != nil {
			repo.Close()
			return nil, nil, err
		}
	}
	return store, func() { repo.Close() }, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", config.DefaultListen, "Address to listen on")
	serverCmd.Flags().StringVar(&upstream, "upstream", config.DefaultUpstream, "Base URL of the library API")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the persistent mock user store")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
