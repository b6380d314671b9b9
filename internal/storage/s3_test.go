package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanEndpoint(t *testing.T) {
	cases := []struct {
		in         string
		secure     bool
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{in: "minio.local:9000", secure: false, wantHost: "minio.local:9000"},
		{in: "minio.local:9000", secure: true, wantHost: "minio.local:9000", wantSecure: true},
		{in: "http://localhost:9000", wantHost: "localhost:9000"},
		{in: "https://s3.amazonaws.com", wantHost: "s3.amazonaws.com", wantSecure: true},
		{in: "https://s3.amazonaws.com/", wantHost: "s3.amazonaws.com", wantSecure: true},
		{in: "localhost:9000/bucket", wantErr: true},
		{in: "https://s3.amazonaws.com/bucket", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		host, secure, err := cleanEndpoint(tc.in, tc.secure)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.wantHost, host, "input %q", tc.in)
		assert.Equal(t, tc.wantSecure, secure, "input %q", tc.in)
	}
}

func TestNewS3ClientValidation(t *testing.T) {
	_, err := NewS3Client(S3Options{Endpoint: "localhost:9000"})
	assert.Error(t, err, "bucket is required")

	c, err := NewS3Client(S3Options{
		Endpoint:  "https://s3.example.com",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "backup",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/backup/a%20b/c.txt", c.URL("a b/c.txt"))
}

func TestS3ListCommonPrefixes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		// minio-go probes the bucket location before the first real call.
		if r.URL.Query().Has("location") {
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`)
			return
		}
		require.Equal(t, "/backup/", r.URL.Path)
		assert.Equal(t, "photos/", r.URL.Query().Get("prefix"))
		assert.Equal(t, "/", r.URL.Query().Get("delimiter"))
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>backup</Name>
  <Prefix>photos/</Prefix>
  <Delimiter>/</Delimiter>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>photos/</Key><Size>0</Size></Contents>
  <Contents><Key>photos/cat.jpg</Key><Size>2048</Size></Contents>
  <CommonPrefixes><Prefix>photos/2024/</Prefix></CommonPrefixes>
</ListBucketResult>`)
	}))
	defer srv.Close()

	c, err := NewS3Client(S3Options{
		Endpoint:  srv.URL,
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "backup",
	})
	require.NoError(t, err)

	entries, err := c.List(context.Background(), "photos/")
	require.NoError(t, err)
	require.Len(t, entries, 2, "directory marker object is dropped")

	assert.Equal(t, "cat.jpg", entries[0].Name)
	assert.False(t, entries[0].IsDir)
	assert.EqualValues(t, 2048, entries[0].Size)
	assert.Contains(t, entries[0].ContentType, "image/jpeg")

	assert.Equal(t, "2024", entries[1].Name)
	assert.True(t, entries[1].IsDir)
}

func TestEscapePathKeepsSeparators(t *testing.T) {
	assert.Equal(t, "a/b%20c/d%3Fe.txt", escapePath("a/b c/d?e.txt"))
	assert.Equal(t, "plain/path.txt", escapePath("plain/path.txt"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, DefaultContentType, contentTypeFor("blob.unknownext"))
	assert.Equal(t, DefaultContentType, contentTypeFor("noext"))
	assert.Contains(t, contentTypeFor("page.html"), "text/html")
}
