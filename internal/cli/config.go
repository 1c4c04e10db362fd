package cli

import (
	"fmt"
	"strings"

	"github.com/notPlancha/CanvasSync/internal/config"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing canvassync configuration",
	// an unreadable config file must not keep "config reset" from fixing it
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd, true)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration, including environment and flag overrides",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

List values (include, exclude) are comma-separated. Keys:
  ` + strings.Join(config.Keys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long:  "Reset all configuration settings to their default values",
	RunE:  runConfigReset,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)
	return out.WriteSuccess("config.show", GetConfig().AsMap())
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	key, value := args[0], args[1]
	path, err := configPath()
	if err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeFilesystem, err.Error()).Build())
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("%v (run 'canvassync config reset' to start over)", err)).Build())
	}
	if err := cfg.Set(key, value); err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}
	if err := cfg.SaveTo(path); err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeFilesystem,
			fmt.Sprintf("Failed to save configuration: %v", err)).Build())
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]interface{}{
		"key":   key,
		"value": value,
		"path":  path,
	})
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	path, err := configPath()
	if err != nil {
		return out.WriteError("config.reset", utils.NewCLIError(utils.ErrCodeFilesystem, err.Error()).Build())
	}
	cfg := config.DefaultConfig()
	if err := cfg.SaveTo(path); err != nil {
		return out.WriteError("config.reset", utils.NewCLIError(utils.ErrCodeFilesystem,
			fmt.Sprintf("Failed to reset configuration: %v", err)).Build())
	}

	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", cfg.AsMap())
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	path, err := configPath()
	if err != nil {
		return out.WriteError("config.path", utils.NewCLIError(utils.ErrCodeFilesystem, err.Error()).Build())
	}
	return out.WriteSuccess("config.path", map[string]string{"path": path})
}
