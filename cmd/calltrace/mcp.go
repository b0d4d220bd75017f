package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/calltrace/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the trace archive over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		srv := mcp.NewTraceServer(mcp.TraceServerDeps{
			Store:   s,
			Logger:  state.logger,
			Version: version,
		})
		state.logger.Info("serving trace archive over stdio", slog.String("db", state.cfg.DBPath))
		return srv.ServeIO(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}
