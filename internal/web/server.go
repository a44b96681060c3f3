// Package web serves the daemon's HTTP surface: health, Prometheus metrics,
// a JSON view of the session and a server-sent event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxphone/internal/session"
)

// Session is the part of the controller the HTTP surface drives.
type Session interface {
	Toggle() error
	Stop()
	Clear()
	Prompt(ctx context.Context, text string) error
	Snapshot() session.Snapshot
	History() []session.Entry
	Subscribe() (<-chan session.Event, func())
}

type promptRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(s Session) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Snapshot())
		})
		r.Get("/history", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.History())
		})
		r.Delete("/history", func(w http.ResponseWriter, _ *http.Request) {
			s.Clear()
			w.WriteHeader(http.StatusNoContent)
		})
		r.Post("/toggle", func(w http.ResponseWriter, _ *http.Request) {
			if err := s.Toggle(); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, s.Snapshot())
		})
		r.Post("/stop", func(w http.ResponseWriter, _ *http.Request) {
			s.Stop()
			writeJSON(w, http.StatusOK, s.Snapshot())
		})
		r.Post("/prompt", func(w http.ResponseWriter, r *http.Request) {
			var req promptRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
				return
			}
			if err := s.Prompt(r.Context(), req.Text); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, s.Snapshot())
		})
		r.Get("/events", events(s))
	})

	return r
}

func events(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ch, cancel := s.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		snap, _ := json.Marshal(session.Event{Kind: session.StatusChanged, Status: s.Snapshot().Status})
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", session.StatusChanged, snap)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					log.Warn("Failed to encode event", "kind", ev.Kind, "err", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
				flusher.Flush()
			}
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, session.ErrEmptyPrompt):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response", "err", err)
	}
}

// Serve runs the HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	log.Info("HTTP server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdown)
}
