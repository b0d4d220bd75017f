package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rendis/calltrace/internal/diagram"
	"github.com/rendis/calltrace/internal/expressions"
	"github.com/rendis/calltrace/internal/store"
)

var (
	showFormat string
	showJQ     string
)

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print an archived trace",
	Long: `Prints an archived trace as PlantUML, Mermaid, an ASCII timeline, a Mermaid
call graph, per-callee statistics or JSON. --jq runs a jq query over the JSON
form instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "plantuml", "output format (plantuml|mermaid|ascii|graph|stats|json)")
	showCmd.Flags().StringVar(&showJQ, "jq", "", "jq query over the trace JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.GetTrace(ctx, args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if showJQ != "" {
		return queryTrace(ctx, w, rec, showJQ)
	}

	switch showFormat {
	case "stats":
		stats, err := store.NewEventLog(s).Replay(ctx, rec.ID)
		if err != nil {
			return err
		}
		return printStats(w, stats)
	case "json":
		return writeJSON(w, rec)
	}

	text, err := diagram.RenderText(rec.Snapshot, showFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(w, text)
	return nil
}

// queryTrace runs a jq query over the JSON form of rec and prints each result.
func queryTrace(ctx context.Context, w io.Writer, rec *store.TraceRecord, query string) error {
	doc, err := rec.Document()
	if err != nil {
		return err
	}

	results, err := expressions.NewGoJQEngine().EvaluateAll(ctx, query, doc)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := writeJSON(w, r); err != nil {
			return err
		}
	}
	return nil
}

func printStats(w io.Writer, stats map[string]*store.CalleeStats) error {
	names := slices.Sorted(maps.Keys(stats))
	out := make([]*store.CalleeStats, 0, len(names))
	for _, n := range names {
		out = append(out, stats[n])
	}
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
