package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func opsCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "Serve health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			mux := http.NewServeMux()
			mux.HandleFunc(cfg.Ops.HealthPath, func(w http.ResponseWriter, r *http.Request) {
				if err := store.DB().PingContext(r.Context()); err != nil {
					http.Error(w, "db unreachable", http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			mux.Handle(cfg.Ops.MetricsPath, promhttp.Handler())

			srv := &http.Server{
				Addr:              cfg.Ops.ListenAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Ops.ListenAddr).Msg("ops server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("ops server shutdown")
			}
			return nil
		},
	}
}
