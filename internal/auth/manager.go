package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"github.com/zalando/go-keyring"
)

const (
	serviceName = "canvassync"

	// EnvToken overrides the stored access token of every profile
	EnvToken = "CANVASSYNC_TOKEN"
)

// Credential sources reported by ResolveCredentials
const (
	SourceFlag    = "flag"
	SourceEnv     = "env"
	SourceStorage = "storage"
	SourceAmbient = "ambient"
)

// Manager handles credential storage and resolution
type Manager struct {
	configDir      string
	useKeyring     bool
	storage        StorageBackend
	storageWarning string
	now            func() time.Time
}

// ManagerOptions configures the auth manager
type ManagerOptions struct {
	// ForcePlainFile skips the keyring check and stores credentials in files
	ForcePlainFile bool
	// Storage replaces the storage backend entirely
	Storage StorageBackend
}

// NewManager creates a manager using the system keyring when one is
// available and 0600 files under configDir otherwise
func NewManager(configDir string) *Manager {
	return NewManagerWithOptions(configDir, ManagerOptions{})
}

// NewManagerWithOptions creates a new auth manager with specific options
func NewManagerWithOptions(configDir string, opts ManagerOptions) *Manager {
	mgr := &Manager{configDir: configDir, now: time.Now}

	switch {
	case opts.Storage != nil:
		mgr.storage = opts.Storage
		_, mgr.useKeyring = opts.Storage.(*KeyringStorage)
	case opts.ForcePlainFile:
		mgr.storage = NewPlainFileStorage(configDir)
	case checkKeyringAvailable():
		mgr.storage = NewKeyringStorage(serviceName)
		mgr.useKeyring = true
	default:
		mgr.storage = NewPlainFileStorage(configDir)
		mgr.storageWarning = "System keyring not available. Credentials are stored in plain files readable only by you."
	}
	return mgr
}

// checkKeyringAvailable tests if the system keyring is usable
func checkKeyringAvailable() bool {
	testKey := serviceName + "-test"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// LoadCredentials loads stored credentials for a profile
func (m *Manager) LoadCredentials(profile string) (*types.Credentials, error) {
	data, err := m.storage.Load(profile)
	if err != nil {
		return nil, err
	}

	var stored types.StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	creds := &types.Credentials{
		Profile:             profile,
		Backend:             stored.Backend,
		Type:                stored.Type,
		AccessToken:         stored.AccessToken,
		ServiceAccountFile:  stored.ServiceAccountFile,
		ServiceAccountEmail: stored.ServiceAccountEmail,
		AccessKeyID:         stored.AccessKeyID,
		SecretAccessKey:     stored.SecretAccessKey,
		SessionToken:        stored.SessionToken,
		Source:              SourceStorage,
	}
	if stored.ExpiryDate != "" {
		expiry, err := time.Parse(time.RFC3339, stored.ExpiryDate)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry date: %w", err)
		}
		creds.ExpiryDate = expiry
	}
	return creds, nil
}

// SaveCredentials saves credentials for a profile
func (m *Manager) SaveCredentials(profile string, creds *types.Credentials) error {
	if err := validate(creds); err != nil {
		return err
	}
	stored := types.StoredCredentials{
		Profile:             profile,
		Backend:             creds.Backend,
		Type:                creds.Type,
		AccessToken:         creds.AccessToken,
		ServiceAccountFile:  creds.ServiceAccountFile,
		ServiceAccountEmail: creds.ServiceAccountEmail,
		AccessKeyID:         creds.AccessKeyID,
		SecretAccessKey:     creds.SecretAccessKey,
		SessionToken:        creds.SessionToken,
		CreatedAt:           m.now().UTC().Format(time.RFC3339),
	}
	if !creds.ExpiryDate.IsZero() {
		stored.ExpiryDate = creds.ExpiryDate.UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := m.storage.Save(profile, data); err != nil {
		return err
	}
	if err := m.addProfileToList(profile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update profile list: %v\n", err)
	}
	return nil
}

// DeleteCredentials removes credentials for a profile. Deleting a profile
// that has nothing stored is not an error.
func (m *Manager) DeleteCredentials(profile string) error {
	if err := m.storage.Delete(profile); err != nil && !errors.Is(err, ErrNotStored) {
		return err
	}
	if err := m.removeProfileFromList(profile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update profile list: %v\n", err)
	}
	return nil
}

// ResolveCredentials picks the credential for profile with precedence:
// tokenFlag > CANVASSYNC_TOKEN > stored credentials. Bearer tokens do not
// apply to S3, which falls back to the ambient AWS credential chain when
// nothing is stored. A missing profile yields an error wrapping ErrNotStored.
func (m *Manager) ResolveCredentials(profile, backend, tokenFlag string) (*types.Credentials, error) {
	if backend != utils.BackendS3 {
		if token := strings.TrimSpace(tokenFlag); token != "" {
			return &types.Credentials{Profile: profile, Backend: backend, Type: types.AuthTypeToken, AccessToken: token, Source: SourceFlag}, nil
		}
		if token := strings.TrimSpace(os.Getenv(EnvToken)); token != "" {
			return &types.Credentials{Profile: profile, Backend: backend, Type: types.AuthTypeToken, AccessToken: token, Source: SourceEnv}, nil
		}
	}

	creds, err := m.LoadCredentials(profile)
	if errors.Is(err, ErrNotStored) {
		if backend == utils.BackendS3 {
			return &types.Credentials{Profile: profile, Backend: backend, Type: types.AuthTypeAmbient, Source: SourceAmbient}, nil
		}
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			fmt.Sprintf("No credentials for profile '%s'. Run 'canvassync auth login' or set %s.", profile, EnvToken)).
			WithContext("profile", profile).
			Build(), ErrNotStored)
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			fmt.Sprintf("Stored credentials for profile '%s' are unreadable: %v", profile, err)).Build(), err)
	}
	if creds.Backend != "" && backend != "" && creds.Backend != backend {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			fmt.Sprintf("Profile '%s' holds %s credentials, but the configured backend is %s", profile, creds.Backend, backend)).Build())
	}
	if m.Expired(creds) {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired,
			fmt.Sprintf("Credentials for profile '%s' expired at %s. Run 'canvassync auth login' again.", profile, creds.ExpiryDate.Format(time.RFC3339))).
			Build())
	}
	return creds, nil
}

// Expired reports whether creds carry an expiry that has passed
func (m *Manager) Expired(creds *types.Credentials) bool {
	return !creds.ExpiryDate.IsZero() && m.now().After(creds.ExpiryDate)
}

// Status describes the credential profile resolves to, without failing
// when there is none
func (m *Manager) Status(profile, backend, tokenFlag string) *types.AuthStatus {
	status := &types.AuthStatus{Profile: profile, Backend: backend, Storage: m.storage.Name()}
	creds, err := m.ResolveCredentials(profile, backend, tokenFlag)
	if err != nil {
		return status
	}
	status.Authenticated = true
	status.Type = string(creds.Type)
	status.Source = creds.Source
	status.Identity = creds.ServiceAccountEmail
	if !creds.ExpiryDate.IsZero() {
		status.Expires = creds.ExpiryDate.Format(time.RFC3339)
	}
	return status
}

func validate(creds *types.Credentials) error {
	var missing string
	switch creds.Type {
	case types.AuthTypeToken:
		if creds.AccessToken == "" {
			missing = "access token"
		}
	case types.AuthTypeServiceAccount:
		if creds.ServiceAccountFile == "" {
			missing = "service account key file"
		}
	case types.AuthTypeAccessKey:
		if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
			missing = "access key ID and secret"
		}
	default:
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("unknown credential type %q", creds.Type)).Build())
	}
	if missing != "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, missing+" required").Build())
	}
	return nil
}

// UseKeyring returns whether the manager is using the system keyring
func (m *Manager) UseKeyring() bool {
	return m.useKeyring
}

// ConfigDir returns the directory credential files and the profile list live in
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// GetStorageBackend names the storage in use
func (m *Manager) GetStorageBackend() string {
	return m.storage.Name()
}

// GetStorageWarning returns a notice about weak storage, or ""
func (m *Manager) GetStorageWarning() string {
	return m.storageWarning
}
