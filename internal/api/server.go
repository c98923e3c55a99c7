package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"driveq/internal/config"
	"driveq/internal/domain"
	"driveq/internal/infra/driveq"
	"driveq/internal/usecase"
)

type enqueueReq struct {
	Payload    map[string]any `json:"payload"`
	Priority   int            `json:"priority"`
	MaxRetries int            `json:"max_retries"`
}

func NewServer() *Server {
	ctx := context.Background()
	cfg := config.Load()

	cli := driveq.New(cfg.Drive)
	if err := cli.Init(ctx); err != nil {
		log.Ctx(ctx).Fatal().Msgf("something went wrong: %s", err)
	}

	enq := usecase.Enqueuer{S: cli}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Post("/enqueue", func(w http.ResponseWriter, r *http.Request) {
		var req enqueueReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		t, err := enq.Enqueue(r.Context(), req.Payload, req.Priority, req.MaxRetries)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": t.ID})
	})

	r.Get("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		t, err := cli.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, err.Error(), 404)
				return
			}
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          t.ID,
			"state":       t.State.String(),
			"payload":     t.Payload,
			"priority":    t.Priority,
			"owner":       t.Owner,
			"retry_count": t.RetryCount,
			"max_retries": t.MaxRetries,
			"result":      t.Result,
			"error":       t.Error,
		})
	})

	r.Get("/counts", func(w http.ResponseWriter, r *http.Request) {
		counts, err := cli.Counts(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out := make(map[string]int, len(counts))
		for s, n := range counts {
			out[s.String()] = n
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	return &Server{router: r}
}

type Server struct {
	router *chi.Mux
}

// Run starts the HTTP server on the specified port and shuts it down
// gracefully on SIGINT/SIGTERM.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
