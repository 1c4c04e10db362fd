package types

// DriveFile is the subset of Google Drive file metadata the gdrive
// backend reads
type DriveFile struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	MimeType     string            `json:"mimeType"`
	Size         int64             `json:"size,omitempty"`
	MD5Checksum  string            `json:"md5Checksum,omitempty"`
	ModifiedTime string            `json:"modifiedTime,omitempty"`
	Parents      []string          `json:"parents,omitempty"`
	Capabilities *FileCapabilities `json:"capabilities,omitempty"`
	Trashed      bool              `json:"trashed,omitempty"`
}

// FileCapabilities represents what the caller may do with a file
type FileCapabilities struct {
	CanDownload     bool `json:"canDownload"`
	CanListChildren bool `json:"canListChildren"`
}

// FileListResult is one page of a files.list response
type FileListResult struct {
	Files            []*DriveFile `json:"files"`
	NextPageToken    string       `json:"nextPageToken,omitempty"`
	IncompleteSearch bool         `json:"incompleteSearch,omitempty"`
}
