// Package s3transport wires Freeze's uploader and Thaw's downloader to an
// S3-compatible backend, adapted from the teacher's internal/s3 package
// but trimmed to the operations a chunk-spool pipeline actually needs:
// put a chunk, get a chunk back, and probe for one without downloading
// it (resume support). The core Fragment/FragmentQueue machinery never
// imports this package; it is strictly a Freeze/Thaw collaborator.
package s3transport

import (
	"bytes"
	"context"
	"errors"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/cryophile/cryophile/internal/config"
	"github.com/cryophile/cryophile/internal/cryoerr"
)

// ObjectInfo is the subset of S3 object metadata HeadObject returns.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified string
}

// Client is the transport surface Freeze/Thaw depend on. It deliberately
// excludes ListObjects/DeleteObject: Freeze/Thaw enumerate and reconcile
// chunk completeness from the local spool's FragmentQueue, not from
// remote listings, so the transport only needs per-key put/get/probe.
type Client interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
}

type s3Client struct {
	client *s3.Client
	bucket string
}

// NewClient builds a Client for cfg, resolving provider presets for
// endpoint/region/path-style addressing and falling back to the default
// AWS credential chain when cfg carries no static credentials.
func NewClient(ctx context.Context, cfg config.S3Config) (Client, error) {
	endpoint, region, err := ResolveEndpointAndRegion(cfg.Provider, cfg.Endpoint, cfg.Region)
	if err != nil {
		return nil, err
	}
	if cfg.Region != "" {
		region = cfg.Region
	}
	if cfg.Endpoint != "" {
		endpoint = normalizeEndpoint(cfg.Endpoint)
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "load aws config", err)
	}

	pathStyle := RequiresPathStyleAddressing(cfg.Provider)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = pathStyle
	})

	if cfg.Bucket == "" {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "new s3 client", errBucketRequired)
	}

	return &s3Client{client: client, bucket: cfg.Bucket}, nil
}

var errBucketRequired = simpleErr("s3 bucket name is required")

func (c *s3Client) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	reader, ok := body.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(body)
		if err != nil {
			return cryoerr.New(cryoerr.KindInvalidInput, "put object: buffer chunk", err)
		}
		reader = bytes.NewReader(buf)
		size = int64(len(buf))
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.bucket,
		Key:           &key,
		Body:          reader,
		ContentLength: &size,
	})
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "put object "+key, err)
	}
	return nil
}

func (c *s3Client) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, cryoerr.New(cryoerr.KindNotFound, "get object "+key, err)
		}
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "get object "+key, err)
	}
	return out.Body, nil
}

func (c *s3Client) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, cryoerr.New(cryoerr.KindNotFound, "head object "+key, err)
		}
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "head object "+key, err)
	}

	info := &ObjectInfo{Key: key}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.ETag != nil {
		info.ETag = *out.ETag
	}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.String()
	}
	return info, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
