package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/notPlancha/CanvasSync/internal/config"
	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/notPlancha/CanvasSync/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags types.GlobalFlags
	logger      logging.Logger = logging.NewNoOpLogger()
	appConfig   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "canvassync",
	Short: "Mirror course files into a local directory",
	Long: `canvassync keeps a local directory in step with a remote tree of
courses, modules and folders. Only new or changed files are downloaded,
and an interrupted run resumes where it stopped.

Backends: Canvas LMS (default), Google Drive folders and S3 buckets.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd, false)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := GetGlobalFlags()
		out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)
		if flags.OutputFormat == types.OutputFormatJSON {
			return out.WriteSuccess("version", version.Get())
		}
		fmt.Fprintln(out.out, version.Get().String())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "", "Credential profile to use (default from config)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Backend, "backend", "", "Remote backend: canvas, gdrive or s3 (default from config)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.SyncRoot, "root", "", "Local directory to mirror into (default from config)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Token, "token", "", "Access token, overriding stored credentials and CANVASSYNC_TOKEN")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every HTTP request")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration, applies global flags and builds the
// logger. When lenient, an unreadable config file is replaced by defaults
// so that it can still be inspected and reset.
func setup(cmd *cobra.Command, lenient bool) error {
	cfg, err := loadConfig()
	if err != nil {
		if !lenient {
			out := NewOutputWriter(types.OutputFormatTable, false, false)
			return out.WriteError(cmd.CommandPath(), utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
		}
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}
	if err := applyGlobalFlags(cfg); err != nil {
		out := NewOutputWriter(types.OutputFormatTable, false, false)
		return out.WriteError(cmd.CommandPath(), utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}
	appConfig = cfg

	if globalFlags.NoColor || !cfg.ColorOutput {
		color.NoColor = true
	}

	var debugTransport *logging.DebugTransport
	logger, debugTransport, err = logging.NewDebugLoggerWithTransport(newLogConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	httpDebug = debugTransport
	return nil
}

// loadConfig reads the config file named by --config or the default one
func loadConfig() (*config.Config, error) {
	if globalFlags.Config != "" {
		return config.LoadFrom(globalFlags.Config)
	}
	return config.Load()
}

// configPath returns the file "config set" and "config reset" write to
func configPath() (string, error) {
	if globalFlags.Config != "" {
		return globalFlags.Config, nil
	}
	return config.GetConfigPath()
}

// applyGlobalFlags layers flags over cfg, fills unset flags from it and
// validates the result
func applyGlobalFlags(cfg *config.Config) error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}
	if globalFlags.OutputFormat == "" {
		globalFlags.OutputFormat = cfg.DefaultOutputFormat
	}
	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s", globalFlags.OutputFormat)
	}

	if globalFlags.Profile == "" {
		globalFlags.Profile = cfg.DefaultProfile
	}
	if globalFlags.Backend != "" {
		cfg.Backend = globalFlags.Backend
	}
	if globalFlags.SyncRoot != "" {
		abs, err := filepath.Abs(globalFlags.SyncRoot)
		if err != nil {
			return err
		}
		cfg.SyncRoot = abs
	}
	globalFlags.Backend = cfg.Backend
	globalFlags.SyncRoot = cfg.SyncRoot
	return cfg.Validate()
}

func newLogConfig(cfg *config.Config) logging.LogConfig {
	logConfig := logging.DefaultLogConfig()
	logConfig.OutputFile = globalFlags.LogFile
	logConfig.EnableColor = !color.NoColor
	logConfig.EnableDebug = globalFlags.Debug || cfg.LogLevel == "debug"

	switch {
	case globalFlags.Verbose || cfg.LogLevel == "verbose":
		logConfig.Level = logging.INFO
	case cfg.LogLevel == "quiet":
		logConfig.Level = logging.ERROR
	default:
		logConfig.Level = logging.WARN
	}
	if globalFlags.Quiet {
		logConfig.EnableConsole = false
	}
	// keep stdout-parsable JSON runs free of console noise unless asked for
	if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !logConfig.EnableDebug {
		logConfig.EnableConsole = false
	}
	return logConfig
}

// Execute runs the root command and returns the process exit code.
// SIGINT and SIGTERM cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return utils.ExitSuccess
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return utils.ExitInvalidArgument
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}

// GetConfig returns the configuration with flag overrides applied
func GetConfig() *config.Config {
	return appConfig
}
