package gcs

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	storage "google.golang.org/api/storage/v1"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

// Client implements ports.ObjectStore on a Cloud Storage bucket through the
// JSON API.
type Client struct {
	srv    *storage.Service
	bucket string
	prefix string
}

func NewClient(srv *storage.Service, bucket, prefix string) *Client {
	return &Client{srv: srv, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (c *Client) Provider() string { return "gcs" }

func (c *Client) name(objectKey string) string {
	if c.prefix == "" {
		return objectKey
	}
	return path.Join(c.prefix, objectKey)
}

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object_key is required")
	}

	obj := &storage.Object{Name: c.name(in.ObjectKey), ContentType: in.ContentType}
	call := c.srv.Objects.Insert(c.bucket, obj)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gcs upload failed: %w", err)
	}
	return ports.PutObjectOutput{
		ObjectKey: in.ObjectKey,
		Size:      int64(created.Size),
		Location:  c.Location(in.ObjectKey),
	}, nil
}

func (c *Client) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	obj, err := c.srv.Objects.Get(c.bucket, c.name(objectKey)).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if stderrors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return ports.ObjectInfo{}, errors.NotFound("object", objectKey)
		}
		return ports.ObjectInfo{}, fmt.Errorf("gcs stat failed: %w", err)
	}

	info := ports.ObjectInfo{ObjectKey: objectKey, Size: int64(obj.Size)}
	if t, err := time.Parse(time.RFC3339, obj.Updated); err == nil {
		info.UpdatedAt = t.UTC()
	}
	return info, nil
}

func (c *Client) Location(objectKey string) string {
	return "gs://" + c.bucket + "/" + c.name(objectKey)
}
