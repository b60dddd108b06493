package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dataanalyst/sandboxpool/internal/logging"
	"github.com/dataanalyst/sandboxpool/pkg/sandboxpool"
)

// upCmd corresponds to the "up" command: initialize the singleton pool,
// mount its control endpoints, and block until SIGINT/SIGTERM or a remote
// /shutdown request arrives.
func upCmd(ctx *cli.Context) error {
	log := logging.For("sandboxctl")

	if cfgPath := ctx.String("config"); cfgPath != "" {
		// Get() only consults SANDBOX_CONFIG_FILE, so the flag is
		// threaded through that same channel rather than a second
		// config path parameter.
		_ = os.Setenv("SANDBOX_CONFIG_FILE", cfgPath)
	}

	pool, err := sandboxpool.Get(nil)
	if err != nil {
		return fmt.Errorf("sandboxctl: initialize pool: %w", err)
	}

	shutdownCh := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", statsHandler(pool))
	mux.Handle("/metrics", pool.MetricsHandler())
	mux.HandleFunc("/warm", warmHandler(pool))
	mux.HandleFunc("/shutdown", shutdownHandler(shutdownCh))

	addr := ctx.String("addr")
	srv := &http.Server{Addr: addr, Handler: mux}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("control server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control server failed", "error", err)
		}
	}()

	select {
	case <-sigCtx.Done():
		log.Info("received shutdown signal")
	case <-shutdownCh:
		log.Info("received remote shutdown request")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer poolCancel()
	if err := pool.Manager.Shutdown(poolCtx); err != nil {
		log.Warn("pool shutdown reported an error", "error", err)
	}
	return nil
}

func statsHandler(pool *sandboxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pool.GetStats())
	}
}

func warmHandler(pool *sandboxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		n, err := strconv.Atoi(r.URL.Query().Get("n"))
		if err != nil || n <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		if err := pool.Manager.WarmUp(r.Context(), n); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func shutdownHandler(shutdownCh chan struct{}) http.HandlerFunc {
	var fired bool
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		if !fired {
			fired = true
			close(shutdownCh)
		}
	}
}
