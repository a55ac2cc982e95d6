package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forecastops/forecastops/internal/app"
	"github.com/forecastops/forecastops/internal/config"
	"github.com/forecastops/forecastops/internal/series"
	"github.com/forecastops/forecastops/internal/source"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, and monitoring endpoints over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			s, err := loadSeries(flagSeries)
			if err != nil {
				return err
			}
			var actuals source.ActualSource
			if cfg.Actuals.Backend != "http" {
				actuals = source.NewSeriesSource(s)
			}
			ctl, err := app.New(cfg, actuals)
			if err != nil {
				return err
			}
			defer ctl.Close()

			srv := &http.Server{
				Addr:         addr,
				Handler:      newRouter(ctl, s),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 60 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("http server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	return cmd
}

func newRouter(ctl *app.Controller, s *series.Series) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/performance", func(w http.ResponseWriter, req *http.Request) {
		horizon := horizonParam(req)
		perf, err := ctl.Tracker().Performance(req.Context(), horizon, 365)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, perf)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/monitor", func(w http.ResponseWriter, req *http.Request) {
		result, err := ctl.Monitor(req.Context(), horizonParam(req), s)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/trigger", func(w http.ResponseWriter, req *http.Request) {
		report, err := ctl.Trigger(req.Context(), horizonParam(req), s)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}).Methods(http.MethodGet)

	return r
}

func horizonParam(req *http.Request) string {
	if h := req.URL.Query().Get("horizon"); h != "" {
		return h
	}
	return flagHorizon
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
