// File: cmd/errtrail/commands.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smartdevs17/errtrail/internal/config"
	"github.com/smartdevs17/errtrail/internal/ledger"
	"github.com/smartdevs17/errtrail/internal/models"
	"github.com/smartdevs17/errtrail/internal/storage"
	"github.com/smartdevs17/errtrail/internal/structlog"
	"github.com/smartdevs17/errtrail/pkg/utils"
)

const maxMessageWidth = 60

// offline bundles what the admin commands need: the store plus the two
// record keepers hydrated from it. Nothing here is mirrored or printed.
type offline struct {
	config    *config.Config
	logger    *logrus.Logger
	store     storage.Storage
	ledger    *ledger.Ledger
	structLog *structlog.Logger
}

func openOffline() (*offline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// Admin output owns stdout
	logger, err := utils.NewLogger("warn", "text", "stderr", "")
	if err != nil {
		return nil, err
	}
	if cfg.App.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	store, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	logCfg, err := structLogConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	logCfg.EnableConsole = false
	logCfg.EnableRemote = false

	return &offline{
		config: cfg,
		logger: logger,
		store:  store,
		ledger: ledger.New(ledgerConfig(cfg),
			ledger.WithStorage(store),
			ledger.WithLogrus(logger),
		),
		structLog: structlog.New(logCfg,
			structlog.WithStorage(store),
			structlog.WithLogrus(logger),
		),
	}, nil
}

func (o *offline) Close() {
	if err := o.store.Close(); err != nil {
		o.logger.WithError(err).Warn("Failed to close storage")
	}
}

// withOffline opens storage around fn
func withOffline(fn func(o *offline, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		o, err := openOffline()
		if err != nil {
			return err
		}
		defer o.Close()
		return fn(o, args)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printEmpty(message string) {
	fmt.Printf("%s\n", text.FgYellow.Sprint(message))
}

// writeOutput writes data to path, or stdout for "" and "-"
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// Error ledger commands

func addErrorsCommands(root *cobra.Command) {
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect and manage the error ledger",
	}

	var unresolvedOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries, newest first",
		Args:  cobra.NoArgs,
		RunE: withOffline(func(o *offline, args []string) error {
			entries := o.ledger.List()
			counts := o.ledger.Counts()

			t := newTable()
			t.AppendHeader(table.Row{
				text.FgHiCyan.Sprint("ID"),
				text.FgHiCyan.Sprint("TIME"),
				text.FgHiCyan.Sprint("LEVEL"),
				text.FgHiCyan.Sprint("NAME"),
				text.FgHiCyan.Sprint("MESSAGE"),
				text.FgHiCyan.Sprint("RESOLVED"),
			})
			shown := 0
			for _, entry := range entries {
				if unresolvedOnly && entry.Resolved {
					continue
				}
				resolved := text.FgRed.Sprint("no")
				if entry.Resolved {
					resolved = text.FgGreen.Sprint("yes")
				}
				t.AppendRow(table.Row{
					entry.ID,
					entry.Timestamp.Format("2006-01-02 15:04:05"),
					entry.Level(),
					entry.Error.Name,
					truncate(entry.Error.Message, maxMessageWidth),
					resolved,
				})
				shown++
			}
			if shown == 0 {
				printEmpty("No errors recorded")
			} else {
				t.Render()
			}

			fmt.Printf("\n%s %d  %s %d\n",
				text.FgHiBlue.Sprint("Errors seen:"), counts.ErrorCount,
				text.FgHiBlue.Sprint("Unresolved:"), counts.UnresolvedCount)
			return nil
		}),
	}
	listCmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "only show unresolved entries")

	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a ledger entry resolved",
		Args:  cobra.ExactArgs(1),
		RunE: withOffline(func(o *offline, args []string) error {
			if !o.ledger.ResolveError(args[0]) {
				return utils.NewAppError(utils.ErrCodeNotFound, "Error not found", args[0])
			}
			fmt.Printf("Resolved %s (%d unresolved)\n", args[0], o.ledger.Counts().UnresolvedCount)
			return nil
		}),
	}

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: withOffline(func(o *offline, args []string) error {
			if !o.ledger.RemoveError(args[0]) {
				return utils.NewAppError(utils.ErrCodeNotFound, "Error not found", args[0])
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every ledger entry",
		Args:  cobra.NoArgs,
		RunE: withOffline(func(o *offline, args []string) error {
			o.ledger.ClearErrors()
			fmt.Println("Error ledger cleared")
			return nil
		}),
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger export document",
		Args:  cobra.NoArgs,
		RunE: withOffline(func(o *offline, args []string) error {
			data, err := o.ledger.ExportErrorsJSON()
			if err != nil {
				return err
			}
			return writeOutput(exportPath, data)
		}),
	}
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "output file (default stdout)")

	importCmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the ledger with an export document",
		Args:  cobra.ExactArgs(1),
		RunE: withOffline(func(o *offline, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}
			if err := o.ledger.ImportErrors(data); err != nil {
				return err
			}
			counts := o.ledger.Counts()
			fmt.Printf("Imported %d errors (%d unresolved)\n", counts.ErrorCount, counts.UnresolvedCount)
			return nil
		}),
	}

	errorsCmd.AddCommand(listCmd, resolveCmd, removeCmd, clearCmd, exportCmd, importCmd)
	root.AddCommand(errorsCmd)
}

// Structured log commands

func addLogsCommands(root *cobra.Command) {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect and manage the structured log buffer",
	}

	var levelFilter string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List buffered log entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: withOffline(func(o *offline, args []string) error {
			var level models.Level
			if levelFilter != "" {
				parsed, err := models.ParseLevel(strings.ToLower(levelFilter))
				if err != nil {
					return err
				}
				level = parsed
			}

			logs := o.structLog.GetLogs(level)
			if len(logs) == 0 {
				printEmpty("No log entries found")
				return nil
			}

			t := newTable()
			t.AppendHeader(table.Row{
				text.FgHiCyan.Sprint("TIME"),
				text.FgHiCyan.Sprint("LEVEL"),
				text.FgHiCyan.Sprint("SESSION"),
				text.FgHiCyan.Sprint("MESSAGE"),
			})
			for _, entry := range logs {
				t.AppendRow(table.Row{
					entry.Timestamp.Format("2006-01-02 15:04:05"),
					colorLevel(entry.Level),
					entry.SessionID,
					truncate(entry.Message, maxMessageWidth),
				})
			}
			t.Render()
			return nil
		}),
	}
	listCmd.Flags().StringVar(&levelFilter, "level", "", "only show entries at this level")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-level entry counts",
		Args:  cobra.NoArgs,
		RunE: withOffline(func(o *offline, args []string) error {
			stats := o.structLog.GetStats()

			t := newTable()
			t.AppendHeader(table.Row{text.FgHiCyan.Sprint("LEVEL"), text.FgHiCyan.Sprint("COUNT")})
			t.AppendRow(table.Row{colorLevel(models.LevelError), stats.ErrorCount})
			t.AppendRow(table.Row{colorLevel(models.LevelWarn), stats.WarnCount})
			t.AppendRow(table.Row{colorLevel(models.LevelInfo), stats.InfoCount})
			t.AppendRow(table.Row{colorLevel(models.LevelDebug), stats.DebugCount})
			t.AppendFooter(table.Row{"total", stats.Total})
			t.Render()
			return nil
		}),
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the log export document",
		Args:  cobra.NoArgs,
		RunE: withOffline(func(o *offline, args []string) error {
			data, err := o.structLog.ExportLogsJSON()
			if err != nil {
				return err
			}
			return writeOutput(exportPath, data)
		}),
	}
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "output file (default stdout)")

	importCmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the log buffer with an export document",
		Args:  cobra.ExactArgs(1),
		RunE: withOffline(func(o *offline, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}
			if err := o.structLog.ImportLogs(data); err != nil {
				return err
			}
			fmt.Printf("Imported %d log entries\n", o.structLog.GetStats().Total)
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every buffered log entry",
		Args:  cobra.NoArgs,
		RunE: withOffline(func(o *offline, args []string) error {
			o.structLog.ClearLogs()
			fmt.Println("Log buffer cleared")
			return nil
		}),
	}

	logsCmd.AddCommand(listCmd, statsCmd, exportCmd, importCmd, clearCmd)
	root.AddCommand(logsCmd)
}

func colorLevel(level models.Level) string {
	switch level {
	case models.LevelError:
		return text.FgRed.Sprint(level)
	case models.LevelWarn:
		return text.FgYellow.Sprint(level)
	case models.LevelInfo:
		return text.FgGreen.Sprint(level)
	default:
		return text.FgHiBlack.Sprint(level)
	}
}
