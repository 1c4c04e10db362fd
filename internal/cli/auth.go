package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/notPlancha/CanvasSync/internal/auth"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Manage the credentials canvassync uses to reach the remote",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials for a profile",
	Long: `Store credentials for the selected profile and backend.

  Canvas / Drive token:  canvassync auth login --token <token>   (--token - reads stdin)
  Drive service account: canvassync auth login --backend gdrive --service-account key.json
  S3 access keys:        canvassync auth login --backend s3 --access-key-id ID --secret-access-key SECRET

Credentials are kept in the system keyring when one is available.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long:  "Delete stored credentials for the current or specified profile",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long:  "Show which credential the next sync would use and where it comes from",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List credential profiles",
	Long:  "Display all stored credential profiles",
	Args:  cobra.NoArgs,
	RunE:  runAuthProfiles,
}

var (
	authExpiresAt       string
	authServiceAccount  string
	authAccessKeyID     string
	authSecretAccessKey string
	authSessionToken    string
)

// stdin is where "--token -" reads from; tests replace it
var stdin io.Reader = os.Stdin

func init() {
	authLoginCmd.Flags().StringVar(&authExpiresAt, "expires-at", "", "Token expiry (RFC 3339), after which sync asks for a new login")
	authLoginCmd.Flags().StringVar(&authServiceAccount, "service-account", "", "Google service account JSON key file")
	authLoginCmd.Flags().StringVar(&authAccessKeyID, "access-key-id", "", "S3 access key ID")
	authLoginCmd.Flags().StringVar(&authSecretAccessKey, "secret-access-key", "", "S3 secret access key")
	authLoginCmd.Flags().StringVar(&authSessionToken, "session-token", "", "S3 session token for temporary keys")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authProfilesCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	creds, err := loginCredentials(flags)
	if err != nil {
		return out.Fail("auth.login", err)
	}
	creds.Profile = flags.Profile
	creds.Backend = flags.Backend

	mgr, err := newAuthManager()
	if err != nil {
		return out.WriteError("auth.login", utils.NewCLIError(utils.ErrCodeFilesystem, err.Error()).Build())
	}
	if warning := mgr.GetStorageWarning(); warning != "" {
		out.AddWarning("PLAIN_FILE_STORAGE", warning, "warning")
	}
	if err := mgr.SaveCredentials(flags.Profile, creds); err != nil {
		return out.Fail("auth.login", err)
	}

	out.Log("Credentials stored for profile '%s' (%s)", flags.Profile, mgr.GetStorageBackend())
	return out.WriteSuccess("auth.login", mgr.Status(flags.Profile, flags.Backend, ""))
}

// loginCredentials builds the credential described by the login flags.
// Exactly one kind may be given.
func loginCredentials(flags types.GlobalFlags) (*types.Credentials, error) {
	kinds := 0
	for _, given := range []bool{flags.Token != "", authServiceAccount != "", authAccessKeyID != "" || authSecretAccessKey != ""} {
		if given {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"pass exactly one of --token, --service-account or --access-key-id/--secret-access-key").Build())
	}

	switch {
	case flags.Token != "":
		if flags.Backend == utils.BackendS3 {
			return nil, invalidLogin("S3 does not accept bearer tokens; use --access-key-id and --secret-access-key")
		}
		token := flags.Token
		if token == "-" {
			line, err := bufio.NewReader(stdin).ReadString('\n')
			if err != nil && err != io.EOF {
				return nil, invalidLogin(fmt.Sprintf("failed to read token from stdin: %v", err))
			}
			token = line
		}
		creds := &types.Credentials{Type: types.AuthTypeToken, AccessToken: strings.TrimSpace(token)}
		if authExpiresAt != "" {
			expiry, err := time.Parse(time.RFC3339, authExpiresAt)
			if err != nil {
				return nil, invalidLogin(fmt.Sprintf("--expires-at must be RFC 3339: %v", err))
			}
			creds.ExpiryDate = expiry
		}
		return creds, nil

	case authServiceAccount != "":
		if flags.Backend != utils.BackendDrive {
			return nil, invalidLogin("service accounts are only supported by the gdrive backend")
		}
		return auth.LoadServiceAccount(authServiceAccount)

	default:
		if flags.Backend != utils.BackendS3 {
			return nil, invalidLogin("access keys are only supported by the s3 backend")
		}
		return &types.Credentials{
			Type:            types.AuthTypeAccessKey,
			AccessKeyID:     authAccessKeyID,
			SecretAccessKey: authSecretAccessKey,
			SessionToken:    authSessionToken,
		}, nil
	}
}

func invalidLogin(msg string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, msg).Build())
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager()
	if err != nil {
		return out.WriteError("auth.logout", utils.NewCLIError(utils.ErrCodeFilesystem, err.Error()).Build())
	}
	if err := mgr.DeleteCredentials(flags.Profile); err != nil {
		return out.WriteError("auth.logout", utils.NewCLIError(utils.ErrCodeFilesystem,
			fmt.Sprintf("Failed to remove credentials: %v", err)).Build())
	}

	out.Log("Logged out profile '%s'", flags.Profile)
	return out.WriteSuccess("auth.logout", map[string]string{
		"profile": flags.Profile,
		"status":  "logged out",
	})
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager()
	if err != nil {
		return out.WriteError("auth.status", utils.NewCLIError(utils.ErrCodeFilesystem, err.Error()).Build())
	}
	if warning := mgr.GetStorageWarning(); warning != "" {
		out.AddWarning("PLAIN_FILE_STORAGE", warning, "warning")
	}
	status := mgr.Status(flags.Profile, flags.Backend, flags.Token)
	if err := out.WriteSuccess("auth.status", status); err != nil {
		return err
	}
	if !status.Authenticated {
		return &exitError{code: utils.ExitAuthRequired}
	}
	return nil
}

func runAuthProfiles(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr, err := newAuthManager()
	if err != nil {
		return out.WriteError("auth.profiles", utils.NewCLIError(utils.ErrCodeFilesystem, err.Error()).Build())
	}
	profiles, err := mgr.ListProfiles()
	if err != nil {
		return out.WriteError("auth.profiles", utils.NewCLIError(utils.ErrCodeUnknown,
			fmt.Sprintf("Failed to list profiles: %v", err)).Build())
	}

	list := make(types.ProfileList, 0, len(profiles))
	for _, profile := range profiles {
		summary := types.ProfileSummary{Profile: profile}
		creds, err := mgr.LoadCredentials(profile)
		if err != nil {
			summary.Error = err.Error()
		} else {
			summary.Backend = creds.Backend
			summary.Type = string(creds.Type)
			if !creds.ExpiryDate.IsZero() {
				summary.Expires = creds.ExpiryDate.Format(time.RFC3339)
			}
		}
		list = append(list, summary)
	}
	return out.WriteSuccess("auth.profiles", list)
}
