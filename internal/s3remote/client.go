// Package s3remote exposes an S3-compatible bucket as a remote tree.
// Key prefixes ending in "/" are containers; the prefixes directly under
// the configured prefix are the root containers.
package s3remote

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/notPlancha/CanvasSync/internal/api"
	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

const delimiter = "/"

// ObjectAPI is the part of *s3.Client the backend uses
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures the bucket connection
type Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint selects an S3-compatible service (MinIO, R2...) instead of AWS
	Endpoint  string
	PathStyle bool
	// Static keys; when empty the default AWS credential chain is used
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// HeaderTimeout bounds the wait for response headers
	HeaderTimeout time.Duration
	// HTTPClient replaces the SDK's client; HeaderTimeout is then ignored
	HTTPClient *http.Client
}

// NewS3Client builds an SDK client from opts. Retries are left to the
// caller's api.Client.
func NewS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	loaders := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(1),
	}
	if opts.Region != "" {
		loaders = append(loaders, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}
	switch {
	case opts.HTTPClient != nil:
		loaders = append(loaders, config.WithHTTPClient(opts.HTTPClient))
	case opts.HeaderTimeout > 0:
		loaders = append(loaders, config.WithHTTPClient(awshttp.NewBuildableClient().
			WithTransportOptions(func(tr *http.Transport) {
				tr.ResponseHeaderTimeout = opts.HeaderTimeout
			})))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("failed to load AWS config: %v", err)).Build(), err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// Client implements remote.Client over a bucket
type Client struct {
	api      *api.Client
	s3       ObjectAPI
	bucket   string
	prefix   string
	pageSize int32
	profile  string
}

var _ remote.Client = (*Client)(nil)

func NewClient(apiClient *api.Client, objects ObjectAPI, bucket, prefix, profile string) *Client {
	return &Client{
		api:      apiClient,
		s3:       objects,
		bucket:   bucket,
		prefix:   NormalizePrefix(prefix),
		pageSize: utils.DefaultPageSize,
		profile:  profile,
	}
}

// SetPageSize changes MaxKeys of list requests
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = int32(n)
	}
}

// NormalizePrefix strips leading slashes and makes a non-empty prefix end
// with the delimiter
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), delimiter)
	if prefix != "" && !strings.HasSuffix(prefix, delimiter) {
		prefix += delimiter
	}
	return prefix
}

func (c *Client) ListRootContainers(ctx context.Context) ([]types.RemoteNode, error) {
	reqCtx := api.NewRequestContext(c.profile, utils.BackendS3, types.RequestTypeListRoots)

	var roots []types.RemoteNode
	token := ""
	for {
		out, err := c.listPage(ctx, reqCtx, c.prefix, token)
		if err != nil {
			return nil, err
		}
		for _, p := range out.CommonPrefixes {
			roots = append(roots, containerNode(aws.ToString(p.Prefix), ""))
		}
		next := nextToken(out)
		if next == "" || next == token {
			return roots, nil
		}
		token = next
	}
}

func (c *Client) ListChildren(ctx context.Context, containerID, cursor string) ([]types.RemoteNode, string, error) {
	if !strings.HasSuffix(containerID, delimiter) {
		return nil, "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("not a prefix: %q", containerID)).Build())
	}
	reqCtx := api.NewRequestContext(c.profile, utils.BackendS3, types.RequestTypeListChildren)
	reqCtx = c.api.WithNodeIDs(reqCtx, containerID)

	out, err := c.listPage(ctx, reqCtx, containerID, cursor)
	if err != nil {
		return nil, "", err
	}

	nodes := make([]types.RemoteNode, 0, len(out.CommonPrefixes)+len(out.Contents))
	for _, p := range out.CommonPrefixes {
		nodes = append(nodes, containerNode(aws.ToString(p.Prefix), containerID))
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		// folder placeholder objects created by consoles
		if key == containerID || strings.HasSuffix(key, delimiter) {
			continue
		}
		etag := strings.Trim(aws.ToString(obj.ETag), `"`)
		modified := aws.ToTime(obj.LastModified).UTC()
		size := aws.ToInt64(obj.Size)
		nodes = append(nodes, types.RemoteNode{
			ID:           key,
			Kind:         types.NodeKindLeaf,
			Name:         path.Base(key),
			ParentID:     containerID,
			Fingerprint:  types.NewFingerprint(modified, size, etag),
			Size:         size,
			ModifiedTime: modified,
			MD5:          etagMD5(etag),
		})
	}
	return nodes, nextToken(out), nil
}

func (c *Client) listPage(ctx context.Context, reqCtx *types.RequestContext, prefix, token string) (*s3.ListObjectsV2Output, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
		MaxKeys:   aws.Int32(c.pageSize),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}
	return api.ExecuteWithRetry(ctx, c.api, reqCtx, func() (*s3.ListObjectsV2Output, error) {
		return c.s3.ListObjectsV2(ctx, input)
	})
}

func (c *Client) OpenContent(ctx context.Context, leaf types.RemoteNode) (*remote.Content, error) {
	reqCtx := api.NewRequestContext(c.profile, utils.BackendS3, types.RequestTypeDownload)
	reqCtx = c.api.WithNodeIDs(reqCtx, leaf.ID)

	// single attempt; the sync engine owns download retries
	out, err := api.Execute(ctx, c.api, reqCtx, func() (*s3.GetObjectOutput, error) {
		return c.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(leaf.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &remote.Content{Body: out.Body, Size: size, MD5: etagMD5(strings.Trim(aws.ToString(out.ETag), `"`))}, nil
}

func containerNode(prefix, parentID string) types.RemoteNode {
	return types.RemoteNode{
		ID:       prefix,
		Kind:     types.NodeKindContainer,
		Name:     path.Base(strings.TrimSuffix(prefix, delimiter)),
		ParentID: parentID,
	}
}

func nextToken(out *s3.ListObjectsV2Output) string {
	if !aws.ToBool(out.IsTruncated) {
		return ""
	}
	return aws.ToString(out.NextContinuationToken)
}

// etagMD5 returns the ETag when it is a plain MD5 digest. Multipart and
// SSE-KMS ETags are not.
func etagMD5(etag string) string {
	if len(etag) != 32 || strings.Contains(etag, "-") {
		return ""
	}
	for _, r := range etag {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return ""
		}
	}
	return strings.ToLower(etag)
}
