// Command calltrace traces a demo pipeline into a PlantUML sequence diagram
// and manages the archive of recorded traces.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/calltrace/internal/logging"
	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/internal/validation"
	"github.com/rendis/calltrace/pkg/schema"
)

// app is the state shared by every subcommand, set up in PersistentPreRunE.
type app struct {
	cfg       Config
	logger    *slog.Logger
	validator *validation.JSONSchemaValidator
}

var (
	state app

	flagLogLevel  string
	flagLogFormat string
	flagDBPath    string
)

var rootCmd = &cobra.Command{
	Use:           "calltrace",
	Short:         "Trace function calls into sequence diagrams",
	Long:          `calltrace records traced calls as PlantUML sequence diagrams, collapses repeated calls into loops and keeps an archive of past traces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

func setup(cmd *cobra.Command) error {
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}
	state.validator = v

	cfg, cfgErr := loadConfig(calltraceDir(), v)
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = flagDBPath
	}
	state.cfg = cfg
	state.logger = logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

	if cfgErr != nil {
		state.logger.Warn("settings ignored", slog.String("error", cfgErr.Error()))
	}
	return nil
}

// openStore opens and migrates the trace archive.
func openStore(ctx context.Context) (*store.LibSQLStore, error) {
	path := state.cfg.DBPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create archive directory: %v", err).WithCause(err)
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	s, err := store.NewLibSQLStore(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var te *schema.TraceError
	if errors.As(err, &te) && te.Code == schema.ErrCodeNotFound {
		return 3
	}
	return 1
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format (text|json)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "trace archive path (default ~/.calltrace/traces.db)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
