package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/metrics"
	"github.com/Sternrassler/geo-enrich/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the enrichment pipeline over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				root.cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), root)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, root *rootOptions) error {
	cfg := root.cfg
	logger := root.logger

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	var ready pinger
	if d.cache != nil {
		ready = d.cache
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(d.pipeline, ready, cfg.Server.MaxIdentifiers, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Bool("cache", d.cache != nil).
			Msg("Starting geo-enrich server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pinger reports backend readiness.
type pinger interface {
	Ping(ctx context.Context) error
}

// enricher is the part of the pipeline the HTTP layer needs.
type enricher interface {
	Run(ctx context.Context, ids []pipeline.Identifier, opts ...pipeline.RunOption) (*pipeline.Result, error)
}

func newRouter(p enricher, ready pinger, maxIDs int, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(ready))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/enrich", enrichHandler(p, maxIDs, logger))
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler checks the cache backend when one is configured.
func readyHandler(p pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// EnrichRequest is the body of POST /enrich.
type EnrichRequest struct {
	IDs []int `json:"ids" validate:"required,min=1,dive,gt=0"`

	// MinRows overrides the configured threshold when present; 0 disables it.
	MinRows *int `json:"min_rows" validate:"omitempty,gte=0"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

func enrichHandler(p enricher, maxIDs int, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnrichRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
			return
		}
		if err := requestValidator.Struct(req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if maxIDs > 0 && len(req.IDs) > maxIDs {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("at most %d identifiers per request", maxIDs),
			})
			return
		}

		ids := make([]pipeline.Identifier, len(req.IDs))
		for i, id := range req.IDs {
			ids[i] = pipeline.Identifier(id)
		}

		var opts []pipeline.RunOption
		if req.MinRows != nil {
			opts = append(opts, pipeline.WithMinRows(*req.MinRows))
		}

		res, err := p.Run(r.Context(), ids, opts...)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrEmptyInput) || errors.Is(err, pipeline.ErrInvalidIdentifier) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}

		logger.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Int("identifiers", len(ids)).
			Int("rows", len(res.Rows)).
			Bool("below_threshold", res.BelowThreshold).
			Msg("Enrich request served")
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
