// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/metrics"
	"github.com/warden-bot/warden/lib/ticket"
	"github.com/warden-bot/warden/lib/version"
)

// opsServer serves the operator endpoints: Prometheus metrics, a
// health check and a read-only view of the open tickets.
type opsServer struct {
	metrics  *metrics.Metrics
	registry *ticket.Registry
	started  time.Time
	clock    clock.Clock
	logger   *slog.Logger
}

type healthResponse struct {
	Status        string            `json:"status"`
	Build         version.BuildInfo `json:"build"`
	StartedAt     time.Time         `json:"started_at"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	OpenTickets   int               `json:"open_tickets"`
}

type ticketsResponse struct {
	Stats   ticket.Stats      `json:"stats"`
	Tickets []ticket.Snapshot `json:"tickets"`
}

func (s *opsServer) router() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/tickets", s.handleTickets).Methods(http.MethodGet)
	router.HandleFunc("/tickets/{channel}", s.handleTicket).Methods(http.MethodGet)
	return router
}

func (s *opsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Build:         version.Build(),
		StartedAt:     s.started.UTC(),
		UptimeSeconds: int64(now.Sub(s.started) / time.Second),
		OpenTickets:   s.registry.Len(),
	})
}

func (s *opsServer) handleTickets(w http.ResponseWriter, _ *http.Request) {
	open := s.registry.List()
	response := ticketsResponse{
		Stats:   s.registry.Stats(),
		Tickets: make([]ticket.Snapshot, 0, len(open)),
	}
	for _, t := range open {
		response.Tickets = append(response.Tickets, t.Snapshot())
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *opsServer) handleTicket(w http.ResponseWriter, r *http.Request) {
	t := s.registry.Get(mux.Vars(r)["channel"])
	if t == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open ticket in that channel"})
		return
	}
	s.writeJSON(w, http.StatusOK, t.Snapshot())
}

func (s *opsServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("writing ops response failed", "error", err)
	}
}

// serve runs the ops listener until ctx is cancelled, then shuts it
// down gracefully.
func (s *opsServer) serve(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("ops endpoint listening", "address", listener.Addr().String())

	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(listener)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
