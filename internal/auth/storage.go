package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zalando/go-keyring"
)

// ErrNotStored is returned by a StorageBackend when a profile has no
// stored credentials
var ErrNotStored = errors.New("credentials not stored")

// StorageBackend defines the interface for credential storage
type StorageBackend interface {
	Save(profile string, data []byte) error
	Load(profile string) ([]byte, error)
	Delete(profile string) error
	Name() string
}

// KeyringStorage uses the system keyring for credential storage
type KeyringStorage struct {
	serviceName string
}

// NewKeyringStorage creates a keyring storage backend
func NewKeyringStorage(serviceName string) *KeyringStorage {
	return &KeyringStorage{serviceName: serviceName}
}

func (s *KeyringStorage) Save(profile string, data []byte) error {
	if err := keyring.Set(s.serviceName, profile, string(data)); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

func (s *KeyringStorage) Load(profile string) ([]byte, error) {
	data, err := keyring.Get(s.serviceName, profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(profile string) error {
	err := keyring.Delete(s.serviceName, profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotStored
	}
	return err
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

// PlainFileStorage stores credentials in JSON files readable only by the
// current user. Used where no keyring is available (headless Linux, CI).
type PlainFileStorage struct {
	baseDir string
}

// NewPlainFileStorage creates a plain file storage backend
func NewPlainFileStorage(baseDir string) *PlainFileStorage {
	return &PlainFileStorage{baseDir: baseDir}
}

func (s *PlainFileStorage) Save(profile string, data []byte) error {
	credFile := s.credentialFilePath(profile)
	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}
	return os.WriteFile(credFile, data, 0600)
}

func (s *PlainFileStorage) Load(profile string) ([]byte, error) {
	data, err := os.ReadFile(s.credentialFilePath(profile))
	if os.IsNotExist(err) {
		return nil, ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials for profile '%s': %w", profile, err)
	}
	return data, nil
}

func (s *PlainFileStorage) Delete(profile string) error {
	err := os.Remove(s.credentialFilePath(profile))
	if os.IsNotExist(err) {
		return ErrNotStored
	}
	return err
}

func (s *PlainFileStorage) Name() string {
	return "plain-file"
}

func (s *PlainFileStorage) credentialFilePath(profile string) string {
	return filepath.Join(s.baseDir, "credentials", profile+".json")
}

// ListProfiles lists all stored credential profiles
func (m *Manager) ListProfiles() ([]string, error) {
	profiles := []string{}

	if m.useKeyring {
		// the keyring cannot be enumerated, so profiles are tracked in a file
		data, err := os.ReadFile(m.profilesFile())
		if err != nil {
			if os.IsNotExist(err) {
				return profiles, nil
			}
			return nil, err
		}
		if err := json.Unmarshal(data, &profiles); err != nil {
			return nil, err
		}
		return profiles, nil
	}

	entries, err := os.ReadDir(filepath.Join(m.configDir, "credentials"))
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && filepath.Ext(name) == ".json" {
			profiles = append(profiles, name[:len(name)-len(".json")])
		}
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (m *Manager) addProfileToList(profile string) error {
	if !m.useKeyring {
		return nil
	}
	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p == profile {
			return nil
		}
	}
	profiles = append(profiles, profile)
	sort.Strings(profiles)
	return m.writeProfiles(profiles)
}

func (m *Manager) removeProfileFromList(profile string) error {
	if !m.useKeyring {
		return nil
	}
	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	updated := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p != profile {
			updated = append(updated, p)
		}
	}
	return m.writeProfiles(updated)
}

func (m *Manager) writeProfiles(profiles []string) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(m.profilesFile(), data, 0600)
}

func (m *Manager) profilesFile() string {
	return filepath.Join(m.configDir, "profiles.json")
}
