package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// emptyFolderPlaceholder is the zero-byte object Supabase creates so empty
// folders show up in listings. It is never migrated.
const emptyFolderPlaceholder = ".emptyFolderPlaceholder"

const defaultPageSize = 100

// SupabaseOptions configures a Supabase Storage client.
type SupabaseOptions struct {
	// ProjectURL is the project base, e.g. https://abc.supabase.co.
	ProjectURL string
	// ServiceKey is the service role key; the anon key cannot list
	// private buckets.
	ServiceKey string
	Bucket     string
	// Public controls whether URL renders the public object path.
	Public bool
	// PageSize caps list pages; the API default of 100 applies when zero.
	PageSize int
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// SupabaseClient implements Client against the Supabase Storage REST API.
type SupabaseClient struct {
	base     string
	key      string
	bucket   string
	public   bool
	pageSize int
	http     *http.Client
}

// NewSupabaseClient creates a Supabase Storage client for one bucket.
func NewSupabaseClient(opts SupabaseOptions) (*SupabaseClient, error) {
	if opts.ProjectURL == "" {
		return nil, fmt.Errorf("project URL cannot be empty")
	}
	if opts.ServiceKey == "" {
		return nil, fmt.Errorf("service key cannot be empty")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	hc := opts.HTTPClient
	if hc == nil {
		// no global timeout: transfers can outlive any fixed value, and
		// cancellation comes from the request context
		hc = &http.Client{}
	}
	return &SupabaseClient{
		base:     strings.TrimRight(opts.ProjectURL, "/"),
		key:      opts.ServiceKey,
		bucket:   opts.Bucket,
		public:   opts.Public,
		pageSize: pageSize,
		http:     hc,
	}, nil
}

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// listItem is one row of the list response. Folders come back with a null
// id and null metadata.
type listItem struct {
	Name     string  `json:"name"`
	ID       *string `json:"id"`
	Metadata *struct {
		Size     int64  `json:"size"`
		Mimetype string `json:"mimetype"`
	} `json:"metadata"`
}

// List pages through POST /storage/v1/object/list/{bucket} until a short
// page signals the end.
func (c *SupabaseClient) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := strings.TrimSuffix(dir, "/")
	var entries []Entry
	for offset := 0; ; offset += c.pageSize {
		page, err := c.listPage(ctx, prefix, offset)
		if err != nil {
			return nil, err
		}
		for _, item := range page {
			if item.Name == emptyFolderPlaceholder {
				continue
			}
			if item.ID == nil {
				entries = append(entries, Entry{Name: item.Name, IsDir: true})
				continue
			}
			e := Entry{Name: item.Name}
			if item.Metadata != nil {
				e.Size = item.Metadata.Size
				e.ContentType = item.Metadata.Mimetype
			}
			if e.ContentType == "" {
				e.ContentType = contentTypeFor(item.Name)
			}
			entries = append(entries, e)
		}
		if len(page) < c.pageSize {
			return entries, nil
		}
	}
}

func (c *SupabaseClient) listPage(ctx context.Context, prefix string, offset int) ([]listItem, error) {
	body, err := json.Marshal(listRequest{
		Prefix: prefix,
		Limit:  c.pageSize,
		Offset: offset,
		SortBy: listSortBy{Column: "name", Order: "asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal list request: %w", err)
	}

	url := fmt.Sprintf("%s/storage/v1/object/list/%s", c.base, c.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %q: %s", prefix, httpError(resp))
	}

	var page []listItem
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return page, nil
}

// Download streams GET /storage/v1/object/{bucket}/{path}.
func (c *SupabaseClient) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.base, c.bucket, escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("download %q: %s", path, httpError(resp))
	}
	return resp.Body, nil
}

// Upload POSTs the object with x-upsert so reruns overwrite instead of
// failing on 409.
func (c *SupabaseClient) Upload(ctx context.Context, path, contentType string, r io.Reader, size int64) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.base, c.bucket, escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, r)
	if err != nil {
		return err
	}
	c.authorize(req)
	if contentType == "" {
		contentType = DefaultContentType
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %q: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload %q: %s", path, httpError(resp))
	}
	return nil
}

// URL renders the object URL, public or authenticated depending on the
// bucket configuration.
func (c *SupabaseClient) URL(path string) string {
	if c.public {
		return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.base, c.bucket, escapePath(path))
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.base, c.bucket, escapePath(path))
}

func (c *SupabaseClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("apikey", c.key)
}

// httpError summarizes a non-2xx response including a bounded slice of the
// body, which is where Supabase puts its error message.
func httpError(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)
}
