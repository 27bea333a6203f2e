package remote

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
)

// BucketExists reports whether the configured asset bucket exists.
func (c *Client) BucketExists(ctx context.Context) (bool, error) {
	return c.objects.BucketExists(ctx, c.bucket)
}

// MakeBucket creates the asset bucket. Buckets are private; assets are
// served through the application, never directly.
func (c *Client) MakeBucket(ctx context.Context) error {
	return c.objects.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
}

// Upload upserts an object under name. Existing content at the same
// name is overwritten, which is what keeps asset pushes idempotent.
func (c *Client) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := c.objects.PutObject(ctx, c.bucket, name,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Download fetches an object's full content.
func (c *Client) Download(ctx context.Context, name string) ([]byte, error) {
	obj, err := c.objects.GetObject(ctx, c.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List returns the names of every object in the bucket.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range c.objects.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

// Remove deletes a single object.
func (c *Client) Remove(ctx context.Context, name string) error {
	return c.objects.RemoveObject(ctx, c.bucket, name, minio.RemoveObjectOptions{})
}

// IsNotFound reports whether err means the object does not exist.
func (c *Client) IsNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return false
}

// IsAccessDenied reports whether err is a storage permission
// rejection. Bucket creation treats this as plausibly-already-exists
// so restricted service accounts do not block sync.
func (c *Client) IsAccessDenied(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "AccessDenied" || resp.Code == "BucketAlreadyOwnedByYou" ||
			resp.Code == "BucketAlreadyExists"
	}
	return false
}
