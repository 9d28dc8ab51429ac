package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixge/fastslow"
	"github.com/felixge/fastslow/internal/config"
	"github.com/felixge/fastslow/internal/wallclock"
)

const shutdownTimeout = 5 * time.Second

// runAll runs the workload loop together with the optional debug server and
// stats reporter. Whichever stops first stops the others.
func runAll(ctx context.Context, cfg config.Config, w *fastslow.Workload) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.ProfileAddr != "" {
		ln, err := net.Listen("tcp", cfg.ProfileAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.ProfileAddr, err)
		}
		log.Printf("debug server on http://%s/debug/wallclock?seconds=10", ln.Addr())
		g.Go(func() error {
			return serveDebug(ctx, ln)
		})
	}
	if cfg.ReportInterval > 0 {
		g.Go(func() error {
			report(ctx, w, cfg.ReportInterval)
			return ctx.Err()
		})
	}
	g.Go(func() error {
		_, err := fastslow.Run(ctx, w)
		return err
	})
	return g.Wait()
}

func debugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/debug/wallclock", wallclock.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// serveDebug serves debugMux on ln until ctx is done.
func serveDebug(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           debugMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown: %v", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server: %w", err)
	}
	return ctx.Err()
}

// report logs what the workload did during each interval until ctx is done.
func report(ctx context.Context, w *fastslow.Workload, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := w.Stats()
	for {
		select {
		case <-ticker.C:
			cur := w.Stats()
			log.Printf("last %s: %s", interval, cur.Sub(prev))
			prev = cur
		case <-ctx.Done():
			return
		}
	}
}
