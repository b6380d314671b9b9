package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3-compatible endpoint.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
}

// S3Client implements Client against any S3-compatible store via minio-go.
type S3Client struct {
	client *minio.Client
	bucket string
}

// NewS3Client creates an S3 client for one bucket.
func NewS3Client(opts S3Options) (*S3Client, error) {
	endpoint, secure, err := cleanEndpoint(opts.Endpoint, opts.Secure)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	return &S3Client{client: client, bucket: opts.Bucket}, nil
}

// cleanEndpoint reduces an endpoint to host:port and resolves the TLS flag
// from the scheme when one is present.
func cleanEndpoint(endpoint string, secure bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", false, fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, secure, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", false, fmt.Errorf("endpoint URL cannot have a path (got %s)", parsed.Path)
	}
	return parsed.Host, parsed.Scheme == "https", nil
}

// List returns the immediate children of dir. Non-recursive listing makes
// the server collapse deeper keys into common prefixes, which come back as
// zero-size entries with a trailing slash.
func (c *S3Client) List(ctx context.Context, dir string) ([]Entry, error) {
	var entries []Entry
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    dir,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %q: %w", dir, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, dir)
		if name == "" {
			// the directory marker object for dir itself
			continue
		}
		if strings.HasSuffix(name, "/") {
			entries = append(entries, Entry{
				Name:  strings.TrimSuffix(name, "/"),
				IsDir: true,
			})
			continue
		}
		ct := obj.ContentType
		if ct == "" {
			ct = contentTypeFor(name)
		}
		entries = append(entries, Entry{
			Name:        name,
			Size:        obj.Size,
			ContentType: ct,
		})
	}
	return entries, nil
}

// Download opens an object. Stat runs first so a missing key fails here
// rather than on the first read.
func (c *S3Client) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", path, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	return obj, nil
}

// Upload writes an object, replacing any existing one.
func (c *S3Client) Upload(ctx context.Context, path, contentType string, r io.Reader, size int64) error {
	if contentType == "" {
		contentType = DefaultContentType
	}
	_, err := c.client.PutObject(ctx, c.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", path, err)
	}
	return nil
}

// URL renders the direct object URL.
func (c *S3Client) URL(path string) string {
	base := c.client.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s", base.Scheme, base.Host, c.bucket, escapePath(path))
}
