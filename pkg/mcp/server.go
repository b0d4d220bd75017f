package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/calltrace/internal/logging"
	"github.com/rendis/calltrace/internal/store"
)

// TraceServerDeps holds the dependencies for creating a TraceServer.
type TraceServerDeps struct {
	Store   store.Store
	Logger  *slog.Logger
	Version string
}

// TraceServer exposes the trace archive as MCP tools.
type TraceServer struct {
	store     store.Store
	events    *store.EventLog
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewTraceServer creates a TraceServer with all archive tools registered.
func NewTraceServer(deps TraceServerDeps) *TraceServer {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &TraceServer{
		store:  deps.Store,
		logger: logger,
	}
	if deps.Store != nil {
		s.events = store.NewEventLog(deps.Store)
	}

	mcpSrv := server.NewMCPServer(
		"calltrace",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("calltrace keeps an archive of traced call sequences. Use calltrace.list to find traces, calltrace.show to read one as PlantUML, Mermaid, ASCII, a call graph or per-callee statistics, calltrace.query to run jq over a trace, and calltrace.delete to remove one."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve runs the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *TraceServer) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the stdio transport over the given streams.
func (s *TraceServer) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, in, out)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *TraceServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *TraceServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: showTool(), Handler: s.handleShow},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: deleteTool(), Handler: s.handleDelete},
	}
}

// --- Tool definitions ---

func listTool() mcp.Tool {
	return mcp.NewTool("calltrace.list",
		mcp.WithDescription("List archived traces, newest first"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (name, participant, failed_only, where, lang, limit)")),
	)
}

func showTool() mcp.Tool {
	return mcp.NewTool("calltrace.show",
		mcp.WithDescription("Render an archived trace"),
		mcp.WithString("trace_id", mcp.Required(), mcp.Description("ID of the trace")),
		mcp.WithString("format",
			mcp.Enum("plantuml", "mermaid", "ascii", "graph", "image", "stats", "json"),
			mcp.Description("Output format (default: plantuml). image returns the call graph as base64 PNG"),
		),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("calltrace.query",
		mcp.WithDescription("Run a jq query over the JSON form of an archived trace"),
		mcp.WithString("trace_id", mcp.Required(), mcp.Description("ID of the trace")),
		mcp.WithString("jq", mcp.Required(), mcp.Description("jq program, e.g. .snapshot.participants")),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("calltrace.delete",
		mcp.WithDescription("Delete an archived trace"),
		mcp.WithString("trace_id", mcp.Required(), mcp.Description("ID of the trace")),
	)
}
