package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/calltrace/internal/render"
	"github.com/rendis/calltrace/pkg/schema"
	"github.com/rendis/calltrace/pkg/tracer"
)

var (
	renderOut      string
	renderSnapshot string
)

var renderCmd = &cobra.Command{
	Use:   "render [ID]",
	Short: "Render an archived or exported trace to PNG",
	Long: `Renders an archived trace, or with --snapshot a snapshot exported as JSON
(show ID --format json --jq .snapshot), through PlantUML. The .puml source is
written even when rendering fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output base path (default {output_dir}/{trace id})")
	renderCmd.Flags().StringVar(&renderSnapshot, "snapshot", "", "render a snapshot JSON file instead of an archived trace")
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := state.logger

	switch {
	case renderSnapshot == "" && len(args) == 0:
		return schema.NewError(schema.ErrCodeValidation, "a trace ID or --snapshot is required")
	case renderSnapshot != "" && len(args) > 0:
		return schema.NewError(schema.ErrCodeValidation, "use either a trace ID or --snapshot, not both")
	}

	if renderSnapshot != "" {
		snap, err := readSnapshot(renderSnapshot)
		if err != nil {
			return err
		}
		base := renderBase(snap.ID)
		if !newRenderer(logger).Render(ctx, snap.PlantUML(), base) {
			return schema.NewError(schema.ErrCodeRender, "diagram image was not produced").WithTrace(snap.ID)
		}
		_, image := render.Paths(base)
		fmt.Fprintln(cmd.OutOrStdout(), image)
		return nil
	}

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.GetTrace(ctx, args[0])
	if err != nil {
		return err
	}
	base := renderBase(rec.ID)
	if !newRenderer(logger).Render(ctx, rec.Snapshot.PlantUML(), base) {
		return schema.NewError(schema.ErrCodeRender, "diagram image was not produced").WithTrace(rec.ID)
	}
	_, image := render.Paths(base)
	if err := s.MarkRendered(ctx, rec.ID, image); err != nil {
		logger.Warn("failed to mark trace rendered", slog.String("trace_id", rec.ID), slog.String("error", err.Error()))
	}
	fmt.Fprintln(cmd.OutOrStdout(), image)
	return nil
}

func renderBase(id string) string {
	if renderOut != "" {
		return renderOut
	}
	return filepath.Join(state.cfg.OutputDir, id)
}

// readSnapshot loads an exported snapshot after validating it against the
// snapshot schema.
func readSnapshot(path string) (tracer.Snapshot, error) {
	var snap tracer.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, schema.NewErrorf(schema.ErrCodeValidation, "read snapshot: %v", err).WithCause(err)
	}
	if err := state.validator.ValidateSnapshot(data); err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, schema.NewErrorf(schema.ErrCodeValidation, "decode snapshot: %v", err).WithCause(err)
	}
	return snap, nil
}
