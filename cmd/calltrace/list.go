package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/calltrace/internal/expressions"
	"github.com/rendis/calltrace/internal/store"
)

var (
	listWhere  string
	listLang   string
	listLimit  int
	listFailed bool
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived traces, newest first",
	Long: `Lists archived traces. --where filters with an expression over the trace
summary: with --lang expr the fields are top-level variables
(failures > 0 and "parse_row" in participants), with --lang cel they live
under trace (trace.failures > 0).`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listWhere, "where", "", "filter expression")
	listCmd.Flags().StringVar(&listLang, "lang", "expr", "filter language (expr|cel)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of traces (0 for all)")
	listCmd.Flags().BoolVar(&listFailed, "failed", false, "only traces with failures")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var engine expressions.Engine
	if listWhere != "" {
		e, err := expressions.NewFilterEngine(listLang)
		if err != nil {
			return err
		}
		engine = e
	}

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	filter := store.TraceFilter{FailedOnly: listFailed}
	if engine == nil {
		filter.Limit = listLimit
	}
	traces, err := s.ListTraces(ctx, filter)
	if err != nil {
		return err
	}

	if engine != nil {
		match := func(ctx context.Context, fields map[string]any) (bool, error) {
			return expressions.Match(ctx, engine, listWhere, fields)
		}
		traces, err = store.FilterSummaries(ctx, traces, match, listLimit)
		if err != nil {
			return err
		}
	}

	if listJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if traces == nil {
			traces = []*store.TraceSummary{}
		}
		return enc.Encode(traces)
	}
	printSummaries(cmd.OutOrStdout(), traces)
	return nil
}

func printSummaries(w io.Writer, traces []*store.TraceSummary) {
	if len(traces) == 0 {
		fmt.Fprintln(w, "no traces")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCALLS\tFAILURES\tLOOPS\tRENDERED\tCREATED\tPARTICIPANTS")
	for _, t := range traces {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%t\t%s\t%s\n",
			t.ID, t.Name, t.Calls, t.Failures, t.Loops, t.Rendered,
			t.CreatedAt.Local().Format(time.DateTime), strings.Join(t.Participants, ", "))
	}
	_ = tw.Flush()
}
