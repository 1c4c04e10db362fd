package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/notPlancha/CanvasSync/internal/errors"
)

// GetJSON fetches url and decodes the JSON body into out. It returns the
// rel="next" URL from the Link header, or "" on the last page.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) (string, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("decode %s: %w", redactURL(url), err)
	}
	return NextLink(resp.Header), nil
}

// Get issues a GET and turns any non-2xx response into an *errors.HTTPError.
// The caller owns the returned body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json+canvas-string-ids, application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, errors.NewHTTPError(resp)
	}
	return resp, nil
}

// NextLink returns the rel="next" target of an RFC 8288 Link header
func NextLink(header http.Header) string {
	for _, value := range header.Values("Link") {
		for _, link := range strings.Split(value, ",") {
			parts := strings.Split(link, ";")
			if len(parts) < 2 {
				continue
			}
			target := strings.TrimSpace(parts[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range parts[1:] {
				param = strings.TrimSpace(param)
				if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

func redactURL(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
