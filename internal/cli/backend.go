package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/notPlancha/CanvasSync/internal/api"
	"github.com/notPlancha/CanvasSync/internal/auth"
	"github.com/notPlancha/CanvasSync/internal/canvas"
	"github.com/notPlancha/CanvasSync/internal/config"
	"github.com/notPlancha/CanvasSync/internal/gdrive"
	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/s3remote"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/notPlancha/CanvasSync/pkg/version"
)

// httpDebug is set by --debug; every backend request then goes through it
var httpDebug *logging.DebugTransport

// authConfigDir is where credentials live: next to --config when given,
// the default config directory otherwise
func authConfigDir() (string, error) {
	if globalFlags.Config != "" {
		return filepath.Dir(globalFlags.Config), nil
	}
	return config.GetConfigDir()
}

func newAuthManager() (*auth.Manager, error) {
	dir, err := authConfigDir()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(dir), nil
}

// newBaseHTTPClient returns the client every backend builds on. The
// request timeout bounds the wait for response headers so that long
// downloads are not cut off.
func newBaseHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.GetRequestTimeout()
	client := &http.Client{Transport: transport}
	if httpDebug != nil {
		return httpDebug.Wrap(client)
	}
	return client
}

// newRemoteClient resolves credentials for the selected backend and
// builds its remote.Client
func newRemoteClient(ctx context.Context, cfg *config.Config, flags types.GlobalFlags) (remote.Client, error) {
	if err := cfg.ValidateBackend(); err != nil {
		return nil, err
	}
	mgr, err := newAuthManager()
	if err != nil {
		return nil, err
	}
	creds, err := resolveBackendCredentials(mgr, cfg, flags)
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved credentials",
		logging.F("backend", cfg.Backend),
		logging.F("profile", flags.Profile),
		logging.F("type", string(creds.Type)),
		logging.F("source", creds.Source),
	)

	base := newBaseHTTPClient(cfg)
	switch cfg.Backend {
	case utils.BackendCanvas:
		if creds.Type != types.AuthTypeToken {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
				fmt.Sprintf("Canvas needs an access token, profile %q holds %s credentials", flags.Profile, creds.Type)).Build())
		}
		httpClient := canvas.NewHTTPClient(ctx, creds.AccessToken, base)
		apiClient := api.NewClient(utils.BackendCanvas, httpClient, cfg.MaxRetries, cfg.RetryBaseDelay, logger)
		apiClient.SetUserAgent(version.Get().UserAgent())
		return canvas.NewClient(apiClient, cfg.Canvas.BaseURL, flags.Profile)

	case utils.BackendDrive:
		httpClient, err := auth.DriveHTTPClient(ctx, creds, base)
		if err != nil {
			return nil, err
		}
		svc, err := gdrive.NewService(ctx, httpClient, "")
		if err != nil {
			return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build(), err)
		}
		apiClient := api.NewClient(utils.BackendDrive, httpClient, cfg.MaxRetries, cfg.RetryBaseDelay, logger)
		client := gdrive.NewClient(apiClient, svc, cfg.Drive.RootFolderID, flags.Profile)
		if cfg.Drive.RootPath != "" {
			rootID, err := client.ResolveFolder(ctx, cfg.Drive.RootFolderID, cfg.Drive.RootPath)
			if err != nil {
				return nil, err
			}
			client.SetRootFolder(rootID)
		}
		return client, nil

	case utils.BackendS3:
		opts := s3remote.Options{
			Bucket:     cfg.S3.Bucket,
			Prefix:     cfg.S3.Prefix,
			Region:     cfg.S3.Region,
			Endpoint:   cfg.S3.Endpoint,
			PathStyle:  cfg.S3.PathStyle,
			HTTPClient: base,
		}
		if creds.Type == types.AuthTypeAccessKey {
			opts.AccessKeyID = creds.AccessKeyID
			opts.SecretAccessKey = creds.SecretAccessKey
			opts.SessionToken = creds.SessionToken
		}
		objects, err := s3remote.NewS3Client(ctx, opts)
		if err != nil {
			return nil, err
		}
		apiClient := api.NewClient(utils.BackendS3, base, cfg.MaxRetries, cfg.RetryBaseDelay, logger)
		return s3remote.NewClient(apiClient, objects, cfg.S3.Bucket, cfg.S3.Prefix, flags.Profile), nil
	}
	return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
		fmt.Sprintf("invalid backend: %s", cfg.Backend)).Build())
}

// resolveBackendCredentials applies the Drive fallbacks on top of the
// manager: a configured service account key, then application default
// credentials
func resolveBackendCredentials(mgr *auth.Manager, cfg *config.Config, flags types.GlobalFlags) (*types.Credentials, error) {
	creds, err := mgr.ResolveCredentials(flags.Profile, cfg.Backend, flags.Token)
	if err == nil || cfg.Backend != utils.BackendDrive || !errors.Is(err, auth.ErrNotStored) {
		return creds, err
	}
	if cfg.Drive.CredentialsFile != "" {
		creds, err := auth.LoadServiceAccount(cfg.Drive.CredentialsFile)
		if err != nil {
			return nil, err
		}
		creds.Profile = flags.Profile
		creds.Backend = utils.BackendDrive
		creds.Source = "config"
		return creds, nil
	}
	return &types.Credentials{
		Profile: flags.Profile,
		Backend: utils.BackendDrive,
		Type:    types.AuthTypeAmbient,
		Source:  auth.SourceAmbient,
	}, nil
}
