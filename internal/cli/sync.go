package cli

import (
	"fmt"

	syncengine "github.com/notPlancha/CanvasSync/internal/sync"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download new and changed files into the sync root",
	Long: `Walks every course (or top-level folder) on the remote and mirrors it
into the sync root. Files whose remote fingerprint matches the recorded
state are skipped. Press Ctrl-C to stop; the next run resumes.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the next sync would download",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

var (
	syncDryRun           bool
	syncConcurrency      int
	syncInclude          []string
	syncExclude          []string
	syncMaterializeEmpty bool
)

// remoteClientFactory builds the backend for a run; tests replace it
var remoteClientFactory = newRemoteClient

func init() {
	for _, cmd := range []*cobra.Command{syncCmd, statusCmd} {
		cmd.Flags().IntVar(&syncConcurrency, "concurrency", 0, "Simultaneous downloads (default from config)")
		cmd.Flags().StringSliceVar(&syncInclude, "include", nil, "Include patterns (root:GLOB or leaf:GLOB), replacing the configured ones")
		cmd.Flags().StringSliceVar(&syncExclude, "exclude", nil, "Exclude patterns (root:GLOB, container:GLOB or leaf:GLOB), replacing the configured ones")
		cmd.Flags().BoolVar(&syncMaterializeEmpty, "materialize-empty", false, "Create directories for empty containers")
	}
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "List and compare without writing anything")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	return executeSync(cmd, "sync", syncDryRun)
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	return executeSync(cmd, "status", true)
}

// syncOptions layers the command flags over the configured options
func syncOptions(cmd *cobra.Command, dryRun bool) syncengine.Options {
	opts := GetConfig().ToSyncOptions()
	opts.DryRun = dryRun
	if cmd.Flags().Changed("concurrency") {
		opts.Concurrency = syncConcurrency
	}
	if cmd.Flags().Changed("include") {
		opts.Include = append([]string(nil), syncInclude...)
	}
	if cmd.Flags().Changed("exclude") {
		opts.Exclude = append([]string(nil), syncExclude...)
	}
	if cmd.Flags().Changed("materialize-empty") {
		opts.MaterializeEmpty = syncMaterializeEmpty
	}
	return opts
}

func executeSync(cmd *cobra.Command, command string, dryRun bool) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	opts := syncOptions(cmd, dryRun)
	if opts.Root == "" {
		return out.WriteError(command, utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"no sync root: pass --root or set syncRoot in the config").Build())
	}
	if opts.Concurrency < 1 || opts.Concurrency > utils.MaxConcurrency {
		return out.WriteError(command, utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("concurrency must be between 1 and %d", utils.MaxConcurrency)).Build())
	}

	ctx := cmd.Context()
	client, err := remoteClientFactory(ctx, GetConfig(), flags)
	if err != nil {
		return out.Fail(command, err)
	}

	out.Verbose("Syncing %s backend into %s", flags.Backend, opts.Root)
	report, err := syncengine.NewEngine(client, GetLogger()).Run(ctx, opts)
	if err != nil {
		return out.Fail(command, err)
	}

	if report.Failed > 0 {
		out.AddWarning(utils.ErrCodeSyncPartialFailure,
			fmt.Sprintf("%d item(s) failed", report.Failed), "warning")
	}
	if err := out.WriteSuccess(command, report); err != nil {
		return err
	}
	if flags.OutputFormat == types.OutputFormatTable && len(report.Failures) > 0 {
		fmt.Fprintln(out.out)
		if err := out.writeTable(types.FailureTable(report.Failures)); err != nil {
			return err
		}
	}
	out.Banner(report)

	switch {
	case report.Interrupted:
		return &exitError{code: utils.ExitSyncInterrupted}
	case report.Failed > 0:
		return &exitError{code: utils.ExitSyncPartialFailure}
	}
	return nil
}
