// Command server runs the enrichment API and its worker pool in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prospectly/server/pkg/api"
	"github.com/prospectly/server/pkg/bootstrap"
	"github.com/prospectly/server/pkg/infrastructure/sentry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx, "enrichment-server")
	if err != nil {
		// Logger may not exist yet; stderr is the only safe sink.
		os.Stderr.WriteString("bootstrap failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer svc.Close()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		svc.Worker.Run(workerCtx)
	}()

	server := &http.Server{
		Addr:              ":" + svc.Config.Port,
		Handler:           api.NewServer(svc).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		svc.Logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			svc.Logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	svc.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		svc.Logger.Warn("server shutdown incomplete", "error", err)
	}

	stopWorkers()
	select {
	case <-workerDone:
	case <-time.After(15 * time.Second):
		svc.Logger.Warn("worker drain timed out")
	}

	sentry.Flush(2 * time.Second)
}
