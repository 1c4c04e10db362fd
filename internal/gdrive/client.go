// Package gdrive exposes a Google Drive folder as a remote tree. The
// folders directly under the configured root folder are the root
// containers.
package gdrive

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/notPlancha/CanvasSync/internal/api"
	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const listFields = "id,name,mimeType,size,md5Checksum,modifiedTime,parents,trashed,capabilities(canDownload,canListChildren)"

// DefaultRootFolder is Drive's alias for "My Drive"
const DefaultRootFolder = "root"

// Client implements remote.Client over the Drive v3 API
type Client struct {
	api          *api.Client
	service      *drive.Service
	rootFolderID string
	pageSize     int64
	profile      string
}

var _ remote.Client = (*Client)(nil)

// NewService creates a Drive service on httpClient. endpoint overrides
// the API base URL and is empty outside tests.
func NewService(ctx context.Context, httpClient *http.Client, endpoint string) (*drive.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return svc, nil
}

// NewClient creates a Drive backend rooted at rootFolderID
func NewClient(apiClient *api.Client, service *drive.Service, rootFolderID, profile string) *Client {
	if rootFolderID == "" {
		rootFolderID = DefaultRootFolder
	}
	return &Client{
		api:          apiClient,
		service:      service,
		rootFolderID: rootFolderID,
		pageSize:     utils.DefaultPageSize,
		profile:      profile,
	}
}

// SetRootFolder changes the folder whose subfolders are the root containers
func (c *Client) SetRootFolder(id string) {
	if id != "" {
		c.rootFolderID = id
	}
}

// SetPageSize changes the files.list page size
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = int64(n)
	}
}

func (c *Client) ListRootContainers(ctx context.Context) ([]types.RemoteNode, error) {
	reqCtx := api.NewRequestContext(c.profile, utils.BackendDrive, types.RequestTypeListRoots)
	reqCtx = c.api.WithNodeIDs(reqCtx, c.rootFolderID)

	var roots []types.RemoteNode
	token := ""
	for {
		result, err := c.list(ctx, reqCtx, c.rootFolderID, token)
		if err != nil {
			return nil, err
		}
		for _, f := range result.Files {
			if f.MimeType != utils.MimeTypeFolder {
				continue
			}
			if n, ok := c.toNode(f, ""); ok {
				roots = append(roots, n)
			}
		}
		if result.NextPageToken == "" || result.NextPageToken == token {
			return roots, nil
		}
		token = result.NextPageToken
	}
}

func (c *Client) ListChildren(ctx context.Context, containerID, cursor string) ([]types.RemoteNode, string, error) {
	reqCtx := api.NewRequestContext(c.profile, utils.BackendDrive, types.RequestTypeListChildren)
	reqCtx = c.api.WithNodeIDs(reqCtx, containerID)

	result, err := c.list(ctx, reqCtx, containerID, cursor)
	if err != nil {
		return nil, "", err
	}
	nodes := make([]types.RemoteNode, 0, len(result.Files))
	for _, f := range result.Files {
		if n, ok := c.toNode(f, containerID); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes, result.NextPageToken, nil
}

func (c *Client) list(ctx context.Context, reqCtx *types.RequestContext, parentID, pageToken string) (*types.FileListResult, error) {
	call := c.service.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentID))).
		PageSize(c.pageSize).
		OrderBy("folder,name").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields(googleapi.Field("nextPageToken,incompleteSearch,files(" + listFields + ")"))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	result, err := api.ExecuteWithRetry(ctx, c.api, reqCtx, func() (*drive.FileList, error) {
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	files := make([]*types.DriveFile, len(result.Files))
	for i, f := range result.Files {
		files[i] = convertDriveFile(f)
	}
	return &types.FileListResult{
		Files:            files,
		NextPageToken:    result.NextPageToken,
		IncompleteSearch: result.IncompleteSearch,
	}, nil
}

// toNode maps a Drive file to a node. Shortcuts, Workspace documents and
// files the caller may not download are dropped.
func (c *Client) toNode(f *types.DriveFile, parentID string) (types.RemoteNode, bool) {
	if f.Trashed {
		return types.RemoteNode{}, false
	}
	if parentID == "" && len(f.Parents) > 0 {
		parentID = f.Parents[0]
	}

	if f.MimeType == utils.MimeTypeFolder {
		return types.RemoteNode{
			ID:       f.ID,
			Kind:     types.NodeKindContainer,
			Name:     f.Name,
			ParentID: parentID,
			MimeType: f.MimeType,
		}, true
	}

	if f.MimeType == utils.MimeTypeShortcut || isGoogleNative(f.MimeType) {
		c.api.Logger().Debug("Skipping non-binary Drive item",
			logging.F("id", f.ID),
			logging.F("name", f.Name),
			logging.F("mimeType", f.MimeType),
		)
		return types.RemoteNode{}, false
	}
	if f.Capabilities != nil && !f.Capabilities.CanDownload {
		return types.RemoteNode{}, false
	}

	var modified time.Time
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			modified = t.UTC()
		}
	}
	return types.RemoteNode{
		ID:           f.ID,
		Kind:         types.NodeKindLeaf,
		Name:         f.Name,
		ParentID:     parentID,
		Fingerprint:  types.NewFingerprint(modified, f.Size, f.MD5Checksum),
		Size:         f.Size,
		ModifiedTime: modified,
		MD5:          f.MD5Checksum,
		MimeType:     f.MimeType,
	}, true
}

func (c *Client) OpenContent(ctx context.Context, leaf types.RemoteNode) (*remote.Content, error) {
	reqCtx := api.NewRequestContext(c.profile, utils.BackendDrive, types.RequestTypeDownload)
	reqCtx = c.api.WithNodeIDs(reqCtx, leaf.ID)

	// single attempt; the sync engine owns download retries
	resp, err := api.Execute(ctx, c.api, reqCtx, func() (*http.Response, error) {
		return c.service.Files.Get(leaf.ID).SupportsAllDrives(true).Context(ctx).Download()
	})
	if err != nil {
		return nil, err
	}
	return &remote.Content{Body: resp.Body, Size: resp.ContentLength, MD5: leaf.MD5}, nil
}

func convertDriveFile(f *drive.File) *types.DriveFile {
	file := &types.DriveFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		MD5Checksum:  f.Md5Checksum,
		ModifiedTime: f.ModifiedTime,
		Parents:      f.Parents,
		Trashed:      f.Trashed,
	}
	if f.Capabilities != nil {
		file.Capabilities = &types.FileCapabilities{
			CanDownload:     f.Capabilities.CanDownload,
			CanListChildren: f.Capabilities.CanListChildren,
		}
	}
	return file
}

// isGoogleNative reports whether mimeType is a Drive-native type with no
// byte content of its own
func isGoogleNative(mimeType string) bool {
	return utils.IsWorkspaceMimeType(mimeType) ||
		(strings.HasPrefix(mimeType, "application/vnd.google-apps.") && mimeType != utils.MimeTypeFolder)
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
