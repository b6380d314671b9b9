// Package storage provides the source and destination clients the crawler
// and migrator move files between. Both sides speak the same small Client
// interface; providers are Supabase Storage (REST) and any S3-compatible
// endpoint (minio-go).
package storage

import (
	"context"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
)

// Provider names accepted in configuration.
const (
	ProviderSupabase = "supabase"
	ProviderS3       = "s3"
)

// DefaultContentType is used when neither the listing nor the file
// extension yields anything better.
const DefaultContentType = "application/octet-stream"

// Entry is one immediate child of a listed directory. Name is the base name
// without any path separators; callers compose full paths.
type Entry struct {
	Name        string
	IsDir       bool
	Size        int64
	ContentType string
}

// Client is one side of a migration.
type Client interface {
	// List returns the immediate children of dir. dir is "" for the root
	// and otherwise carries a trailing slash.
	List(ctx context.Context, dir string) ([]Entry, error)
	// Download opens a file for reading. The caller closes the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Upload writes a file, replacing any existing object at path.
	// size may be -1 when unknown.
	Upload(ctx context.Context, path, contentType string, r io.Reader, size int64) error
	// URL renders the provider URL for a path, recorded in the inventory.
	URL(path string) string
}

// contentTypeFor guesses from the file extension, falling back to the
// default type.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return DefaultContentType
}

// escapePath percent-encodes each segment while keeping separators.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
