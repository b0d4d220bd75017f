package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/calltrace/internal/panel"
	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/internal/streaming"
	"github.com/rendis/calltrace/pkg/tracer"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trace archive over HTTP",
	Long: `Serves a JSON API over the trace archive. POST /api/runs traces the
demo pipeline and archives it; its events stream live on /sse/events.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8077", "listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := state.logger

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	run := func(ctx context.Context, observers ...tracer.Observer) (*store.TraceRecord, error) {
		tr, recorder := traceDemo(ctx, logger, "demo pipeline", state.cfg.LoopThreshold, observers...)
		rec := store.NewTraceRecord(tr)
		rec.Events = recorder.Events()
		return rec, nil
	}

	srv := &http.Server{
		Addr: serveAddr,
		Handler: panel.NewPanelServer(panel.PanelDeps{
			Store:  s,
			Hub:    streaming.NewMemoryHub(),
			Run:    run,
			Logger: logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving trace panel", slog.String("addr", serveAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
