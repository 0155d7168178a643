package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parcelmint/appstate"
	telemetry "parcelmint/observability/otel"
	"parcelmint/progress"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newRouter(store *progress.Store, state *appstate.State) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := state.Snapshot()
		writeJSON(w, http.StatusOK, struct {
			appstate.Snapshot
			Ready bool `json:"ready"`
		}{snap, snap.Ready()})
	})
	r.Route("/campaigns", func(cr chi.Router) {
		cr.Get("/", func(w http.ResponseWriter, r *http.Request) {
			namespaces, err := store.Namespaces()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			sort.Strings(namespaces)
			writeJSON(w, http.StatusOK, namespaces)
		})
		cr.Get("/{namespace}", func(w http.ResponseWriter, r *http.Request) {
			entries, err := store.Namespace(chi.URLParam(r, "namespace")).Entries()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if len(entries) == 0 {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown campaign"})
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	return telemetry.Handler(r, "parcelmint.status")
}

// connect records which collaborators are reachable. Failures only leave the
// corresponding part of the state disconnected.
func (a *app) connect(ctx context.Context, state *appstate.State) {
	if !a.cfg.HasSigner() {
		return
	}
	wallet, err := a.wallet(ctx, false)
	if err != nil {
		a.logger.Warn("wallet unavailable", slog.Any("error", err))
		return
	}
	chainID, err := wallet.ChainID(ctx)
	if err != nil {
		a.logger.Warn("wallet unavailable", slog.Any("error", err))
		return
	}
	state.Dispatch(appstate.WalletConnected{Address: wallet.Address(), ChainID: chainID.Uint64()})

	svc, err := a.escrow()
	if err != nil {
		a.logger.Warn("escrow unavailable", slog.Any("error", err))
		return
	}
	identity, err := svc.GetCurrentIdentity(ctx)
	if err != nil {
		a.logger.Warn("escrow identity unavailable", slog.Any("error", err))
		return
	}
	state.Dispatch(appstate.EscrowConnected{IdentityID: identity.ID})
}

func (a *app) runServe(ctx context.Context, stdout, stderr io.Writer) int {
	store, err := a.store()
	if err != nil {
		return reportError(stderr, err)
	}
	state := appstate.New()
	a.connect(ctx, state)

	server := &http.Server{
		Addr:              a.cfg.Server.ListenAddress,
		Handler:           newRouter(store, state),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status server listening", slog.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return reportError(stderr, err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return reportError(stderr, err)
		}
	}
	fmt.Fprintln(stdout, "server stopped")
	return 0
}
