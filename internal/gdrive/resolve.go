package gdrive

import (
	"context"
	"fmt"
	"strings"

	"github.com/notPlancha/CanvasSync/internal/api"
	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// ResolveFolder walks a slash-separated folder path below parentID and
// returns the ID of the last folder. Each segment must match exactly one
// folder by name.
func (c *Client) ResolveFolder(ctx context.Context, parentID, path string) (string, error) {
	if parentID == "" {
		parentID = DefaultRootFolder
	}
	segments := splitFolderPath(path)
	if len(segments) == 0 {
		return parentID, nil
	}

	reqCtx := api.NewRequestContext(c.profile, utils.BackendDrive, types.RequestTypeGetMetadata)
	currentID := parentID
	for i, segment := range segments {
		reqCtx = c.api.WithNodeIDs(reqCtx, currentID)
		matches, err := c.findFolder(ctx, reqCtx, currentID, segment)
		if err != nil {
			return "", err
		}
		walked := strings.Join(segments[:i+1], "/")
		switch len(matches) {
		case 0:
			return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound,
				fmt.Sprintf("Drive folder not found: %s", walked)).
				WithContext("path", path).
				WithContext("segment", segment).
				Build())
		case 1:
			currentID = matches[0].Id
		default:
			return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath,
				fmt.Sprintf("Ambiguous Drive path: %d folders named '%s' at %s; use gdrive.rootFolderId instead", len(matches), segment, walked)).
				WithContext("path", path).
				WithContext("matchCount", len(matches)).
				Build())
		}
	}
	c.api.Logger().Debug("Resolved Drive folder path",
		logging.F("path", path),
		logging.F("id", currentID),
	)
	return currentID, nil
}

func (c *Client) findFolder(ctx context.Context, reqCtx *types.RequestContext, parentID, name string) ([]*drive.File, error) {
	call := c.service.Files.List().
		Q(fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
			escapeQuery(parentID), escapeQuery(name), utils.MimeTypeFolder)).
		PageSize(10).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields(googleapi.Field("files(id,name)"))

	result, err := api.ExecuteWithRetry(ctx, c.api, reqCtx, func() (*drive.FileList, error) {
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return result.Files, nil
}

func splitFolderPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(strings.Trim(path, "/"), "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
