// Package canvas exposes a Canvas LMS account as a remote tree: active
// courses at the top, their modules and file folders below.
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/notPlancha/CanvasSync/internal/api"
	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"golang.org/x/oauth2"
)

// Node ID prefixes. Canvas IDs are only unique per object type, so every
// node ID carries its type.
const (
	prefixCourse = "course:"
	prefixModule = "module:"
	prefixFolder = "folder:"
	prefixFile   = "file:"
)

// Cursor phases. A course lists its modules and then its root folder; a
// folder lists its sub-folders and then its files.
const (
	cursorModules    = "modules "
	cursorRootFolder = "root-folder"
	cursorFolders    = "folders "
	cursorFiles      = "files "
	cursorItems      = "items "
)

// RootFolderName is the local name of a course's file area
const RootFolderName = "Files"

// Client implements remote.Client against the Canvas REST API
type Client struct {
	api      *api.Client
	baseURL  string
	pageSize int
	profile  string

	// download URLs seen while listing, by file ID
	urls gosync.Map
}

var _ remote.Client = (*Client)(nil)

// NewHTTPClient returns an HTTP client that sends token as a bearer
// credential. base, when non-nil, is the transport the requests go through.
func NewHTTPClient(ctx context.Context, token string, base *http.Client) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}

// NewClient creates a Canvas client for the instance at baseURL
// (e.g. https://canvas.example.edu)
func NewClient(apiClient *api.Client, baseURL, profile string) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid Canvas base URL %q", baseURL)).Build())
	}
	return &Client{
		api:      apiClient,
		baseURL:  strings.TrimRight(u.String(), "/"),
		pageSize: utils.DefaultPageSize,
		profile:  profile,
	}, nil
}

// SetPageSize changes the per_page parameter of list requests
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

type course struct {
	ID         canvasID `json:"id"`
	Name       string   `json:"name"`
	CourseCode string   `json:"course_code"`
}

type module struct {
	ID   canvasID `json:"id"`
	Name string   `json:"name"`
}

type moduleItem struct {
	ID        canvasID `json:"id"`
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	ContentID canvasID `json:"content_id"`
}

type folder struct {
	ID       canvasID `json:"id"`
	Name     string   `json:"name"`
	FullName string   `json:"full_name"`
	Hidden   bool     `json:"hidden_for_user"`
}

type file struct {
	ID          canvasID   `json:"id"`
	DisplayName string     `json:"display_name"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content-type"`
	Size        int64      `json:"size"`
	URL         string     `json:"url"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ModifiedAt  *time.Time `json:"modified_at"`
	Locked      bool       `json:"locked_for_user"`
}

// canvasID accepts both numeric and string encoded IDs
type canvasID string

func (id *canvasID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = canvasID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = canvasID(n.String())
	return nil
}

func (c *Client) ListRootContainers(ctx context.Context) ([]types.RemoteNode, error) {
	reqCtx := api.NewRequestContext(c.profile, utils.BackendCanvas, types.RequestTypeListRoots)
	next := c.endpoint("/api/v1/courses", url.Values{"enrollment_state": {"active"}})

	var roots []types.RemoteNode
	for next != "" {
		var page []course
		link, err := c.getJSON(ctx, reqCtx, next, &page)
		if err != nil {
			return nil, err
		}
		for _, co := range page {
			if co.ID == "" {
				continue
			}
			name := co.Name
			if name == "" {
				name = co.CourseCode
			}
			roots = append(roots, types.RemoteNode{
				ID:   prefixCourse + string(co.ID),
				Kind: types.NodeKindContainer,
				Name: name,
			})
		}
		if link == next {
			break
		}
		next = link
	}
	return roots, nil
}

func (c *Client) ListChildren(ctx context.Context, containerID, cursor string) ([]types.RemoteNode, string, error) {
	reqCtx := api.NewRequestContext(c.profile, utils.BackendCanvas, types.RequestTypeListChildren)
	reqCtx = c.api.WithNodeIDs(reqCtx, containerID)

	switch {
	case strings.HasPrefix(containerID, prefixCourse):
		return c.listCourse(ctx, reqCtx, strings.TrimPrefix(containerID, prefixCourse), cursor)
	case strings.HasPrefix(containerID, prefixModule):
		courseID, moduleID, ok := strings.Cut(strings.TrimPrefix(containerID, prefixModule), ":")
		if !ok {
			return nil, "", invalidID(containerID)
		}
		return c.listModule(ctx, reqCtx, courseID, moduleID, cursor)
	case strings.HasPrefix(containerID, prefixFolder):
		return c.listFolder(ctx, reqCtx, strings.TrimPrefix(containerID, prefixFolder), cursor)
	}
	return nil, "", invalidID(containerID)
}

func (c *Client) listCourse(ctx context.Context, reqCtx *types.RequestContext, courseID, cursor string) ([]types.RemoteNode, string, error) {
	if cursor == cursorRootFolder {
		return c.rootFolder(ctx, reqCtx, courseID)
	}

	target := c.endpoint("/api/v1/courses/"+url.PathEscape(courseID)+"/modules", nil)
	if strings.HasPrefix(cursor, cursorModules) {
		target = strings.TrimPrefix(cursor, cursorModules)
	} else if cursor != "" {
		return nil, "", invalidCursor(cursor)
	}

	var page []module
	link, err := c.getJSON(ctx, reqCtx, target, &page)
	if err != nil {
		// courses with the modules tab disabled still have files
		if utils.IsNotFound(err) || utils.ErrorCode(err) == utils.ErrCodePermissionDenied {
			c.api.Logger().Debug("Course modules unavailable", logging.F("course", courseID), logging.F("error", err.Error()))
			return nil, cursorRootFolder, nil
		}
		return nil, "", err
	}

	nodes := make([]types.RemoteNode, 0, len(page))
	for _, m := range page {
		nodes = append(nodes, types.RemoteNode{
			ID:       prefixModule + courseID + ":" + string(m.ID),
			Kind:     types.NodeKindContainer,
			Name:     m.Name,
			ParentID: prefixCourse + courseID,
		})
	}
	if link != "" && link != target {
		return nodes, cursorModules + link, nil
	}
	return nodes, cursorRootFolder, nil
}

// rootFolder returns the course's file area as a single container, or
// nothing when the files tab is hidden from the user
func (c *Client) rootFolder(ctx context.Context, reqCtx *types.RequestContext, courseID string) ([]types.RemoteNode, string, error) {
	var f folder
	_, err := c.getJSON(ctx, reqCtx, c.endpoint("/api/v1/courses/"+url.PathEscape(courseID)+"/folders/root", nil), &f)
	if err != nil {
		if utils.IsNotFound(err) || utils.ErrorCode(err) == utils.ErrCodePermissionDenied {
			c.api.Logger().Debug("Course files unavailable", logging.F("course", courseID), logging.F("error", err.Error()))
			return nil, "", nil
		}
		return nil, "", err
	}
	return []types.RemoteNode{{
		ID:       prefixFolder + string(f.ID),
		Kind:     types.NodeKindContainer,
		Name:     RootFolderName,
		ParentID: prefixCourse + courseID,
	}}, "", nil
}

func (c *Client) listModule(ctx context.Context, reqCtx *types.RequestContext, courseID, moduleID, cursor string) ([]types.RemoteNode, string, error) {
	target := c.endpoint("/api/v1/courses/"+url.PathEscape(courseID)+"/modules/"+url.PathEscape(moduleID)+"/items", nil)
	if strings.HasPrefix(cursor, cursorItems) {
		target = strings.TrimPrefix(cursor, cursorItems)
	} else if cursor != "" {
		return nil, "", invalidCursor(cursor)
	}

	var page []moduleItem
	link, err := c.getJSON(ctx, reqCtx, target, &page)
	if err != nil {
		return nil, "", err
	}

	parentID := prefixModule + courseID + ":" + moduleID
	var nodes []types.RemoteNode
	for _, item := range page {
		if item.Type != "File" || item.ContentID == "" {
			continue
		}
		var f file
		_, err := c.getJSON(ctx, reqCtx, c.endpoint("/api/v1/files/"+url.PathEscape(string(item.ContentID)), nil), &f)
		if err != nil {
			if utils.IsNotFound(err) || utils.ErrorCode(err) == utils.ErrCodePermissionDenied {
				c.api.Logger().Debug("Module file unavailable",
					logging.F("item", item.Title),
					logging.F("error", err.Error()),
				)
				continue
			}
			return nil, "", err
		}
		if n, ok := c.fileNode(f, parentID); ok {
			// the same file usually also sits in the course folders; a
			// distinct ID keeps one state entry per local copy
			n.ID += "@" + moduleID
			nodes = append(nodes, n)
		}
	}
	if link != "" && link != target {
		return nodes, cursorItems + link, nil
	}
	return nodes, "", nil
}

func (c *Client) listFolder(ctx context.Context, reqCtx *types.RequestContext, folderID, cursor string) ([]types.RemoteNode, string, error) {
	parentID := prefixFolder + folderID
	filesURL := c.endpoint("/api/v1/folders/"+url.PathEscape(folderID)+"/files", nil)

	switch {
	case cursor == "" || strings.HasPrefix(cursor, cursorFolders):
		target := c.endpoint("/api/v1/folders/"+url.PathEscape(folderID)+"/folders", nil)
		if cursor != "" {
			target = strings.TrimPrefix(cursor, cursorFolders)
		}
		var page []folder
		link, err := c.getJSON(ctx, reqCtx, target, &page)
		if err != nil {
			return nil, "", err
		}
		nodes := make([]types.RemoteNode, 0, len(page))
		for _, f := range page {
			if f.Hidden {
				continue
			}
			nodes = append(nodes, types.RemoteNode{
				ID:       prefixFolder + string(f.ID),
				Kind:     types.NodeKindContainer,
				Name:     f.Name,
				ParentID: parentID,
			})
		}
		if link != "" && link != target {
			return nodes, cursorFolders + link, nil
		}
		return nodes, cursorFiles + filesURL, nil

	case strings.HasPrefix(cursor, cursorFiles):
		target := strings.TrimPrefix(cursor, cursorFiles)
		var page []file
		link, err := c.getJSON(ctx, reqCtx, target, &page)
		if err != nil {
			return nil, "", err
		}
		nodes := make([]types.RemoteNode, 0, len(page))
		for _, f := range page {
			if n, ok := c.fileNode(f, parentID); ok {
				nodes = append(nodes, n)
			}
		}
		if link != "" && link != target {
			return nodes, cursorFiles + link, nil
		}
		return nodes, "", nil
	}
	return nil, "", invalidCursor(cursor)
}

// fileNode converts file metadata into a leaf. Locked files are dropped;
// they cannot be downloaded until an instructor unlocks them.
func (c *Client) fileNode(f file, parentID string) (types.RemoteNode, bool) {
	if f.ID == "" || f.Locked {
		return types.RemoteNode{}, false
	}
	name := f.DisplayName
	if name == "" {
		name = f.Filename
	}
	var modified time.Time
	switch {
	case f.ModifiedAt != nil:
		modified = f.ModifiedAt.UTC()
	case f.UpdatedAt != nil:
		modified = f.UpdatedAt.UTC()
	}
	if f.URL != "" {
		c.urls.Store(string(f.ID), f.URL)
	}
	return types.RemoteNode{
		ID:           prefixFile + string(f.ID),
		Kind:         types.NodeKindLeaf,
		Name:         name,
		ParentID:     parentID,
		Fingerprint:  types.NewFingerprint(modified, f.Size, ""),
		Size:         f.Size,
		ModifiedTime: modified,
		MimeType:     f.ContentType,
	}, true
}

func (c *Client) OpenContent(ctx context.Context, leaf types.RemoteNode) (*remote.Content, error) {
	if !strings.HasPrefix(leaf.ID, prefixFile) {
		return nil, invalidID(leaf.ID)
	}
	fileID, _, _ := strings.Cut(strings.TrimPrefix(leaf.ID, prefixFile), "@")
	reqCtx := c.api.WithNodeIDs(api.NewRequestContext(c.profile, utils.BackendCanvas, types.RequestTypeDownload), leaf.ID)

	downloadURL, err := c.downloadURL(ctx, reqCtx, fileID)
	if err != nil {
		return nil, err
	}

	// single attempt; the sync engine owns download retries
	resp, err := api.Execute(ctx, c.api, reqCtx, func() (*http.Response, error) {
		return c.api.Get(ctx, downloadURL)
	})
	if err != nil {
		// signed URLs expire; forget it so the next attempt asks again
		c.urls.Delete(fileID)
		return nil, err
	}
	return &remote.Content{Body: resp.Body, Size: resp.ContentLength}, nil
}

func (c *Client) downloadURL(ctx context.Context, reqCtx *types.RequestContext, fileID string) (string, error) {
	if u, ok := c.urls.Load(fileID); ok {
		return u.(string), nil
	}
	var f file
	target := c.endpoint("/api/v1/files/"+url.PathEscape(fileID), nil)
	_, err := api.Execute(ctx, c.api, reqCtx, func() (string, error) {
		return c.api.GetJSON(ctx, target, &f)
	})
	if err != nil {
		return "", err
	}
	if f.Locked || f.URL == "" {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodePermissionDenied,
			fmt.Sprintf("file %s is locked", fileID)).
			WithContext("nodeId", prefixFile+fileID).
			Build())
	}
	return f.URL, nil
}

func (c *Client) getJSON(ctx context.Context, reqCtx *types.RequestContext, target string, out interface{}) (string, error) {
	return api.ExecuteWithRetry(ctx, c.api, reqCtx, func() (string, error) {
		return c.api.GetJSON(ctx, target, out)
	})
}

func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(c.pageSize))
	return c.baseURL + path + "?" + query.Encode()
}

func invalidID(id string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
		fmt.Sprintf("not a Canvas container or file ID: %q", id)).Build())
}

func invalidCursor(cursor string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
		fmt.Sprintf("unrecognized page cursor %q", cursor)).Build())
}
