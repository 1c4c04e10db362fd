package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// ServiceAccountKey represents the JSON structure of a service account key file
type ServiceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount validates a service account key file and returns
// credentials referring to it. The key itself stays on disk.
func LoadServiceAccount(keyFilePath string) (*types.Credentials, error) {
	if keyFilePath == "" {
		return nil, invalidKey("service account key file required")
	}
	keyData, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, invalidKey(fmt.Sprintf("failed to read service account key: %v", err))
	}

	var saKey ServiceAccountKey
	if err := json.Unmarshal(keyData, &saKey); err != nil {
		return nil, invalidKey(fmt.Sprintf("failed to parse service account key: %v", err))
	}
	if saKey.Type != "service_account" {
		return nil, invalidKey(fmt.Sprintf("invalid service account key type: %s", saKey.Type))
	}
	if saKey.ClientEmail == "" {
		return nil, invalidKey("missing client_email in service account key")
	}
	if saKey.PrivateKey == "" {
		return nil, invalidKey("missing private_key in service account key")
	}

	return &types.Credentials{
		Backend:             utils.BackendDrive,
		Type:                types.AuthTypeServiceAccount,
		ServiceAccountFile:  keyFilePath,
		ServiceAccountEmail: saKey.ClientEmail,
	}, nil
}

// DriveHTTPClient returns an HTTP client authorizing Drive requests with
// creds. base carries the transport (timeouts, debug logging) and may be nil.
func DriveHTTPClient(ctx context.Context, creds *types.Credentials, base *http.Client) (*http.Client, error) {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}

	var ts oauth2.TokenSource
	switch creds.Type {
	case types.AuthTypeToken:
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
	case types.AuthTypeServiceAccount:
		keyData, err := os.ReadFile(creds.ServiceAccountFile)
		if err != nil {
			return nil, invalidKey(fmt.Sprintf("failed to read service account key: %v", err))
		}
		gc, err := google.CredentialsFromJSON(ctx, keyData, drive.DriveReadonlyScope)
		if err != nil {
			return nil, invalidKey(fmt.Sprintf("failed to parse service account key: %v", err))
		}
		ts = gc.TokenSource
	case types.AuthTypeAmbient:
		gc, err := google.FindDefaultCredentials(ctx, drive.DriveReadonlyScope)
		if err != nil {
			return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
				"No Google application default credentials found").Build(), err)
		}
		ts = gc.TokenSource
	default:
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			fmt.Sprintf("credential type %q cannot authorize Google Drive", creds.Type)).Build())
	}
	return oauth2.NewClient(ctx, ts), nil
}

func invalidKey(message string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, message).Build())
}
