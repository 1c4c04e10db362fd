package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/olekukonko/tablewriter"
)

// OutputWriter handles CLI output formatting
type OutputWriter struct {
	format   types.OutputFormat
	quiet    bool
	verbose  bool
	warnings []types.CLIWarning
	out      io.Writer
	errOut   io.Writer
}

// NewOutputWriter creates a new output writer
func NewOutputWriter(format types.OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{
		format:   format,
		quiet:    quiet,
		verbose:  verbose,
		warnings: []types.CLIWarning{},
		out:      os.Stdout,
		errOut:   os.Stderr,
	}
}

// AddWarning adds a warning to the output
func (w *OutputWriter) AddWarning(code, message, severity string) {
	w.warnings = append(w.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	if w.format == types.OutputFormatJSON {
		return w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       uuid.New().String(),
			Command:       command,
			Data:          data,
			Warnings:      w.warnings,
			Errors:        []types.CLIError{},
		})
	}
	w.writeWarnings()
	return w.writeTable(data)
}

// WriteError reports a failed command and returns an error carrying the
// matching exit code
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	if w.format == types.OutputFormatJSON {
		if err := w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       uuid.New().String(),
			Command:       command,
			Data:          nil,
			Warnings:      w.warnings,
			Errors:        []types.CLIError{cliErr},
		}); err != nil {
			return err
		}
	} else {
		w.writeWarnings()
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintf(w.errOut, "%s %s\n", red.Sprintf("Error [%s]:", cliErr.Code), cliErr.Message)
	}
	return &exitError{code: utils.GetExitCode(cliErr.Code)}
}

// Fail is WriteError for an arbitrary error. Errors without a code are
// reported as UNKNOWN.
func (w *OutputWriter) Fail(command string, err error) error {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return w.WriteError(command, appErr.CLIError)
	}
	return w.WriteError(command, utils.NewCLIError(utils.ErrorCode(err), err.Error()).Build())
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeWarnings() {
	if w.quiet {
		return
	}
	yellow := color.New(color.FgYellow)
	for _, warning := range w.warnings {
		fmt.Fprintf(w.errOut, "%s %s\n", yellow.Sprintf("Warning [%s]:", warning.Code), warning.Message)
	}
}

func (w *OutputWriter) writeTable(data interface{}) error {
	if renderable, ok := data.(types.TableRenderable); ok {
		return w.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}
	switch v := data.(type) {
	case map[string]interface{}:
		return w.writeKeyValueTable(v)
	case map[string]string:
		generic := make(map[string]interface{}, len(v))
		for key, value := range v {
			generic[key] = value
		}
		return w.writeKeyValueTable(generic)
	default:
		// Fallback to indented JSON for types without a table form
		encoder := json.NewEncoder(w.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	}
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			fmt.Fprintln(w.out, renderer.EmptyMessage())
		}
		return nil
	}

	table := tablewriter.NewWriter(w.out)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range rows {
		table.Append(row)
	}

	table.Render()
	return nil
}

func (w *OutputWriter) writeKeyValueTable(data map[string]interface{}) error {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w.out)
	table.SetHeader([]string{"Key", "Value"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, key := range keys {
		table.Append([]string{key, fmt.Sprintf("%v", data[key])})
	}
	table.Render()
	return nil
}

// Banner prints the closing line of a sync in table mode
func (w *OutputWriter) Banner(report *types.SyncReport) {
	if w.format == types.OutputFormatJSON || w.quiet {
		return
	}
	switch {
	case report.Interrupted:
		color.New(color.FgYellow, color.Bold).Fprintln(w.out, "Synchronization interrupted. Run sync again to resume.")
	case report.DryRun:
		color.New(color.FgCyan, color.Bold).Fprintf(w.out, "Dry run: %d file(s) would be downloaded\n", report.Pending)
	case report.Failed > 0:
		color.New(color.FgYellow, color.Bold).Fprintf(w.out, "Sync complete with %d failure(s)\n", report.Failed)
	default:
		color.New(color.FgGreen, color.Bold).Fprintln(w.out, "Sync complete")
	}
}

// Log writes to stderr if not quiet
func (w *OutputWriter) Log(format string, args ...interface{}) {
	if !w.quiet {
		fmt.Fprintf(w.errOut, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose is enabled
func (w *OutputWriter) Verbose(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(w.errOut, "[VERBOSE] "+format+"\n", args...)
	}
}

// exitError ends a command with a specific process exit code. The
// message has already been written by the OutputWriter.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
