package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/dagflow/pkg/cmd"
	"github.com/dukex/dagflow/pkg/worker"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, command *cli.Command, workerID string, logger *slog.Logger) error {
	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command, "dagflow-worker")
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize tracer", "error", err)

		return err
	}

	engine, err := cmd.NewEngine(ctx, cmd.EngineConfigFromCommand(command, workerID), logger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize engine", "error", err)

		return err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := engine.Close(closeCtx)
		if err != nil {
			logger.Error("Failed to close engine", "error", err)
		}

		err = shutdownTracer(closeCtx)
		if err != nil {
			logger.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	w := engine.NewWorker(worker.Config{
		ID:          workerID,
		Concurrency: command.Int("concurrency"),
		Tracer:      tracer,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(ctx)
	})

	if port := command.Int("port"); port > 0 {
		server := &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           metricsMux(engine),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.InfoContext(ctx, "Serving metrics", "addr", server.Addr)

			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return err
		})

		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker failed", "error", err)

		return err
	}

	return nil
}

func metricsMux(engine *cmd.Engine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", engine.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		err := engine.Store.HealthCheck(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte("OK"))
	})

	return mux
}
