package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/calltrace/internal/diagram"
	"github.com/rendis/calltrace/internal/render"
	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/internal/streaming"
	"github.com/rendis/calltrace/pkg/tracer"
)

// diagramBase is the file name, without extension, of the demo's outputs.
const diagramBase = "process_trace"

var (
	runOut       string
	runName      string
	runThreshold int
	runNoArchive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trace the demo pipeline and render its diagrams",
	Long: `Runs the demo pipeline under a fresh tracer, then writes
{out}/process_trace.puml and .png (PlantUML), .mmd (Mermaid) and
-callgraph.png (Graphviz), and archives the trace.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "output directory (default from config)")
	runCmd.Flags().StringVar(&runName, "name", "demo pipeline", "trace name")
	runCmd.Flags().IntVar(&runThreshold, "threshold", 0, "loop threshold (default from config)")
	runCmd.Flags().BoolVar(&runNoArchive, "no-archive", false, "do not archive the trace")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := state.cfg
	logger := state.logger

	out := cfg.OutputDir
	if runOut != "" {
		out = runOut
	}
	threshold := cfg.LoopThreshold
	if runThreshold > 0 {
		threshold = runThreshold
	}

	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go logEvents(logger, events, done)

	tr, recorder := traceDemo(ctx, logger, runName, threshold, streaming.Observer(hub))
	cancel()
	<-done

	logger.Info("generating trace diagram", slog.String("trace_id", tr.ID()))
	base := filepath.Join(out, diagramBase)
	renderer := newRenderer(logger)
	rendered := renderer.Render(ctx, tr.Diagram(), base)
	_, image := render.Paths(base)
	if rendered {
		logger.Info("saved diagram", slog.String("path", image))
	} else {
		logger.Error("failed to render trace diagram")
	}

	snap := tr.Snapshot()
	extra := writeArtifacts(ctx, logger, snap, base)

	if cfg.Archive && !runNoArchive {
		rec := store.NewTraceRecord(tr)
		rec.Events = recorder.Events()
		rec.Rendered = rendered
		if rendered {
			rec.ImagePath = image
		}
		if err := archive(ctx, rec); err != nil {
			logger.Warn("trace not archived", slog.String("error", err.Error()))
		}
	}

	st := tr.Stats()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "trace %s: %d calls, %d failures, %d loops, %d participants\n",
		tr.ID(), st.Calls, st.Failures, st.Loops, st.Participants)
	source, _ := render.Paths(base)
	fmt.Fprintln(w, "  "+source)
	if rendered {
		fmt.Fprintln(w, "  "+image)
	}
	for _, p := range extra {
		fmt.Fprintln(w, "  "+p)
	}
	return nil
}

// traceDemo runs the demo pipeline under a fresh tracer. The returned
// recorder holds every event the run produced.
func traceDemo(ctx context.Context, logger *slog.Logger, name string, threshold int, observers ...tracer.Observer) (*tracer.Tracer, *store.Recorder) {
	recorder := store.NewRecorder()
	opts := []tracer.Option{
		tracer.WithName(name),
		tracer.WithLoopThreshold(threshold),
		tracer.WithLogger(logger),
		tracer.WithObserver(recorder),
	}
	for _, o := range observers {
		opts = append(opts, tracer.WithObserver(o))
	}
	tr := tracer.New(opts...)

	if err := newPipeline(tr, logger).main(ctx); err != nil {
		logger.Error("demo pipeline failed", slog.String("error", err.Error()))
	}
	return tr, recorder
}

func newRenderer(logger *slog.Logger) *render.PlantUML {
	return render.New(
		render.WithCommand(state.cfg.PlantUML),
		render.WithTimeout(state.cfg.renderTimeout()),
		render.WithLogger(logger),
	)
}

// logEvents writes live trace events to the log until events is closed.
func logEvents(logger *slog.Logger, events <-chan streaming.StreamEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		logger.Debug("trace event",
			slog.String("trace_id", ev.TraceID),
			slog.String("event", ev.EventType),
			slog.String("caller", ev.Caller),
			slog.String("callee", ev.Callee),
			slog.String("detail", ev.Detail),
			slog.Int("depth", ev.Depth),
		)
	}
}

// writeArtifacts writes the Mermaid diagram and the Graphviz call graph next
// to base and returns the paths written. Failures are logged and skipped.
func writeArtifacts(ctx context.Context, logger *slog.Logger, snap tracer.Snapshot, base string) []string {
	var written []string

	mmd := base + ".mmd"
	if err := os.WriteFile(mmd, []byte(diagram.RenderMermaid(snap)), 0o644); err != nil {
		logger.Warn("failed to write mermaid diagram", slog.String("path", mmd), slog.String("error", err.Error()))
	} else {
		written = append(written, mmd)
	}

	model, err := diagram.Build(snap)
	if err != nil {
		logger.Warn("failed to build call graph", slog.String("error", err.Error()))
		return written
	}
	png, err := diagram.RenderImage(ctx, model)
	if err != nil {
		logger.Warn("failed to render call graph", slog.String("error", err.Error()))
		return written
	}
	graph := base + "-callgraph.png"
	if err := os.WriteFile(graph, png, 0o644); err != nil {
		logger.Warn("failed to write call graph", slog.String("path", graph), slog.String("error", err.Error()))
		return written
	}
	logger.Debug("rendered call graph", slog.String("graph", model.String()), slog.String("path", graph))
	return append(written, graph)
}

func archive(ctx context.Context, rec *store.TraceRecord) error {
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.SaveTrace(ctx, rec); err != nil {
		return err
	}
	state.logger.Info("archived trace", slog.String("trace_id", rec.ID), slog.Int("events", len(rec.Events)))
	return nil
}
