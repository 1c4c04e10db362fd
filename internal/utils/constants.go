package utils

// AppName is used for the config directory, keyring service and user agent
const AppName = "canvassync"

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Download configuration
const (
	DefaultMaxAttempts  = 3
	DefaultConcurrency  = 4
	MaxConcurrency      = 64
	DefaultPageSize     = 100
	MaxComponentBytes   = 255
	TempFilePattern     = ".canvassync-*.tmp"
	StateDirName        = ".canvassync"
	StagingDirName      = "tmp"
	StateDBName         = "state.db"
	DefaultRequestAgent = "canvassync"
)

// Schema version
const SchemaVersion = "1.0"

// Backends
const (
	BackendCanvas = "canvas"
	BackendDrive  = "gdrive"
	BackendS3     = "s3"
)

// Google Drive MIME types
const (
	MimeTypeFolder   = "application/vnd.google-apps.folder"
	MimeTypeShortcut = "application/vnd.google-apps.shortcut"
)

// IsWorkspaceMimeType checks if a MIME type is a Google Workspace document,
// which has no downloadable byte content
func IsWorkspaceMimeType(mimeType string) bool {
	switch mimeType {
	case "application/vnd.google-apps.document",
		"application/vnd.google-apps.spreadsheet",
		"application/vnd.google-apps.presentation",
		"application/vnd.google-apps.drawing",
		"application/vnd.google-apps.form",
		"application/vnd.google-apps.script",
		"application/vnd.google-apps.site",
		"application/vnd.google-apps.map":
		return true
	}
	return false
}
