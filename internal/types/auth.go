package types

import "time"

// AuthType describes how a profile authenticates
type AuthType string

const (
	// AuthTypeToken is a bearer access token (Canvas, Drive)
	AuthTypeToken AuthType = "token"
	// AuthTypeServiceAccount is a Google service account key file
	AuthTypeServiceAccount AuthType = "service_account"
	// AuthTypeAccessKey is an S3 access key pair
	AuthTypeAccessKey AuthType = "access_key"
	// AuthTypeAmbient defers to the backend's default credential chain
	AuthTypeAmbient AuthType = "ambient"
)

// Credentials is what a backend needs to authenticate one profile
type Credentials struct {
	Profile             string
	Backend             string
	Type                AuthType
	AccessToken         string
	ExpiryDate          time.Time
	ServiceAccountFile  string
	ServiceAccountEmail string
	AccessKeyID         string
	SecretAccessKey     string
	SessionToken        string
	// Source names where the credential came from (flag, env, keyring...)
	Source string
}

// StoredCredentials is the persisted form of Credentials
type StoredCredentials struct {
	Profile             string   `json:"profile"`
	Backend             string   `json:"backend"`
	Type                AuthType `json:"type"`
	AccessToken         string   `json:"access_token,omitempty"`
	ExpiryDate          string   `json:"expiry_date,omitempty"`
	ServiceAccountFile  string   `json:"service_account_file,omitempty"`
	ServiceAccountEmail string   `json:"service_account_email,omitempty"`
	AccessKeyID         string   `json:"access_key_id,omitempty"`
	SecretAccessKey     string   `json:"secret_access_key,omitempty"`
	SessionToken        string   `json:"session_token,omitempty"`
	CreatedAt           string   `json:"created_at"`
}

// AuthStatus is the output of "auth status"
type AuthStatus struct {
	Profile       string `json:"profile"`
	Backend       string `json:"backend"`
	Authenticated bool   `json:"authenticated"`
	Type          string `json:"type,omitempty"`
	Source        string `json:"source,omitempty"`
	Storage       string `json:"storage"`
	Expires       string `json:"expires,omitempty"`
	Identity      string `json:"identity,omitempty"`
}

func (s *AuthStatus) Headers() []string {
	return []string{"Profile", "Backend", "Authenticated", "Type", "Source", "Storage", "Expires"}
}

func (s *AuthStatus) Rows() [][]string {
	authenticated := "no"
	if s.Authenticated {
		authenticated = "yes"
	}
	expires := s.Expires
	if expires == "" {
		expires = "-"
	}
	return [][]string{{s.Profile, s.Backend, authenticated, s.Type, s.Source, s.Storage, expires}}
}

func (s *AuthStatus) EmptyMessage() string {
	return "Not authenticated"
}

// ProfileSummary is one row of "auth profiles"
type ProfileSummary struct {
	Profile string `json:"profile"`
	Backend string `json:"backend,omitempty"`
	Type    string `json:"type,omitempty"`
	Expires string `json:"expires,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProfileList renders stored profiles as a table
type ProfileList []ProfileSummary

func (l ProfileList) Headers() []string {
	return []string{"Profile", "Backend", "Type", "Expires"}
}

func (l ProfileList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		typ := p.Type
		if p.Error != "" {
			typ = "unreadable"
		}
		expires := p.Expires
		if expires == "" {
			expires = "-"
		}
		rows = append(rows, []string{p.Profile, p.Backend, typ, expires})
	}
	return rows
}

func (l ProfileList) EmptyMessage() string {
	return "No stored profiles"
}
