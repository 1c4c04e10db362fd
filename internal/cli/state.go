package cli

import (
	"fmt"

	"github.com/notPlancha/CanvasSync/internal/sync/index"
	"github.com/notPlancha/CanvasSync/internal/sync/scanner"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the sync state",
	Long:  "The sync state records which remote file each local file came from and its fingerprint.",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded files",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget all recorded files",
	Long:  "Forget all recorded files so that the next sync downloads everything again. Local files are kept.",
	Args:  cobra.NoArgs,
	RunE:  runStateReset,
}

var stateVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare recorded files with the sync root",
	Long: `Reports recorded files that are missing or changed on disk, and files
under the sync root that no sync has written. With --checksum every file is
read and compared to the remote MD5 where the backend provides one.`,
	Args: cobra.NoArgs,
	RunE: runStateVerify,
}

var (
	stateYes      bool
	stateChecksum bool
)

func init() {
	stateResetCmd.Flags().BoolVarP(&stateYes, "yes", "y", false, "Confirm the reset")

	stateVerifyCmd.Flags().BoolVar(&stateChecksum, "checksum", false, "Hash every file")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateResetCmd)
	stateCmd.AddCommand(stateVerifyCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	if flags.SyncRoot == "" {
		return out.WriteError("state.list", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"no sync root: pass --root or set syncRoot in the config").Build())
	}
	state, err := index.OpenState(cmd.Context(), flags.SyncRoot, true, GetLogger())
	if err != nil {
		return out.Fail("state.list", err)
	}
	defer state.Close()

	if err := state.Recovered(); err != nil {
		out.AddWarning(utils.ErrCodeCorruptState, err.Error(), "warning")
	}
	return out.WriteSuccess("state.list", state.Entries())
}

func runStateReset(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	if flags.SyncRoot == "" {
		return out.WriteError("state.reset", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"no sync root: pass --root or set syncRoot in the config").Build())
	}
	if !stateYes {
		return out.WriteError("state.reset", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"state reset makes the next sync download everything; pass --yes to confirm").Build())
	}

	state, err := index.OpenState(cmd.Context(), flags.SyncRoot, true, GetLogger())
	if err != nil {
		return out.Fail("state.reset", err)
	}
	defer state.Close()

	forgotten := state.Len()
	if err := state.Reset(cmd.Context()); err != nil {
		return out.Fail("state.reset", err)
	}
	out.Log("Forgot %d recorded file(s) under %s", forgotten, flags.SyncRoot)
	return out.WriteSuccess("state.reset", map[string]interface{}{
		"root":      flags.SyncRoot,
		"forgotten": forgotten,
	})
}

func runStateVerify(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	if flags.SyncRoot == "" {
		return out.WriteError("state.verify", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"no sync root: pass --root or set syncRoot in the config").Build())
	}
	state, err := index.OpenState(cmd.Context(), flags.SyncRoot, true, GetLogger())
	if err != nil {
		return out.Fail("state.verify", err)
	}
	defer state.Close()

	local, err := scanner.ScanLocal(cmd.Context(), flags.SyncRoot, stateChecksum, utils.StateDirName)
	if err != nil {
		return out.Fail("state.verify", utils.NewFilesystemError("scan", flags.SyncRoot, err))
	}
	problems := scanner.Verify(state.Entries(), local)
	if len(problems) > 0 {
		out.AddWarning("STATE_MISMATCH", fmt.Sprintf("%d difference(s) between state and disk", len(problems)), "warning")
	}
	return out.WriteSuccess("state.verify", problems)
}
