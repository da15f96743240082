package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

// API is the subset of the S3 client the adapter uses.
type API interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
}

// Client implements ports.ObjectStore on an S3 bucket. Keys are stored
// under an optional prefix.
type Client struct {
	api    API
	bucket string
	prefix string
}

func NewClient(api API, bucket, prefix string) *Client {
	return &Client{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (c *Client) Provider() string { return "s3" }

func (c *Client) key(objectKey string) string {
	if c.prefix == "" {
		return objectKey
	}
	return path.Join(c.prefix, objectKey)
}

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object_key is required")
	}

	req := &awss3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(in.ObjectKey)),
		Body:   in.Reader,
	}
	if in.ContentType != "" {
		req.ContentType = aws.String(in.ContentType)
	}
	if in.Size > 0 {
		req.ContentLength = aws.Int64(in.Size)
	}

	if _, err := c.api.PutObject(ctx, req); err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("s3 upload failed: %w", err)
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: in.Size, Location: c.Location(in.ObjectKey)}, nil
}

func (c *Client) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	out, err := c.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(objectKey)),
	})
	if err != nil {
		var nf *types.NotFound
		var nsk *types.NoSuchKey
		if stderrors.As(err, &nf) || stderrors.As(err, &nsk) {
			return ports.ObjectInfo{}, errors.NotFound("object", objectKey)
		}
		return ports.ObjectInfo{}, fmt.Errorf("s3 head failed: %w", err)
	}

	info := ports.ObjectInfo{ObjectKey: objectKey, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.UpdatedAt = out.LastModified.UTC()
	}
	return info, nil
}

func (c *Client) Location(objectKey string) string {
	return "s3://" + c.bucket + "/" + c.key(objectKey)
}
