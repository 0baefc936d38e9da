/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/doctran/internal/server"
	"github.com/valpere/doctran/internal/translator"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the translation HTTP API",
	Long: `Serve the orchestrator over HTTP.

Endpoints:
  POST /v1/translate            translate a request, JSON result
  POST /v1/translate/stream     translate a request, server-sent events
  POST /v1/feedback             record a term correction
  POST /v1/tm/{id}/override     replace a translation memory entry
  GET  /v1/usage                token usage per provider and model
  GET  /health                  storage and provider health

Daily learning statistics are rolled up in the background every
stats.rollup_interval.

Example:
  doctran serve --server-addr :8080 --provider openai --log-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := buildServices(cfg, logger)
		if err != nil {
			return err
		}
		defer svc.db.Close()

		checks := []server.Check{{Name: "storage", Fn: svc.db.Ping}}
		if p, err := translator.New(cfg.Provider, cfg.Service(cfg.Provider)); err == nil {
			if c, ok := p.(translator.Checker); ok {
				checks = append(checks, server.Check{Name: p.Name(), Fn: c.IsAvailable})
			}
		}
		srv := server.New(svc.orch, svc.recorder, server.Options{
			AllowOrigins: cfg.Server.AllowOrigins,
			Logger:       logger,
			Checks:       checks,
		})
		httpServer := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout,
			IdleTimeout:       120 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("server listening", "addr", cfg.Server.Addr, "provider", cfg.Provider)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			err := svc.recorder.RunRollups(gctx, cfg.Stats.RollupInterval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("server-addr", ":8080", "Listen address")
	serveCmd.Flags().StringSlice("server-allow-origins", []string{"*"}, "CORS allowed origins")
	serveCmd.Flags().String("stats-rollup-interval", "1h", "Learning statistics rollup interval")
	serveCmd.Flags().StringP("provider", "p", "mock", "Default provider: openai, gemini, ollama, google, mock")
	serveCmd.Flags().Int("max-concurrency", 5, "Concurrent chunks per streaming request")
}
