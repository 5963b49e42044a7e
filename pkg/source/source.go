// Package source opens CSV data that lives behind a URL: http(s) downloads and
// s3:// objects.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	ErrTooLarge          = errors.New("CSV data exceeds the upload size limit")
	ErrObjectNotFound    = errors.New("object not found")
	ErrUnsupportedScheme = errors.New("unsupported URL scheme, expected http, https or s3")
)

var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

type Fetcher struct {
	http     *http.Client
	objects  ObjectGetter
	maxBytes int64
}

type Option func(*Fetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.http = client }
}

// WithObjectGetter enables s3:// URLs.
func WithObjectGetter(objects ObjectGetter) Option {
	return func(f *Fetcher) { f.objects = objects }
}

// WithMaxBytes caps how much data a single source may yield. Zero means no cap.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{http: HTTPClient}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open returns the content at rawURL and the file name to record for it.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}

	var body io.ReadCloser
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		body, err = f.download(ctx, u.String())
	case "s3":
		body, err = f.getObject(ctx, u)
	default:
		return nil, "", ErrUnsupportedScheme
	}
	if err != nil {
		return nil, "", err
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = u.Host
	}
	return limitReadCloser(body, f.maxBytes), name, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		return nil, ErrTooLarge
	}

	return resp.Body, nil
}

func (f *Fetcher) getObject(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if f.objects == nil {
		return nil, fmt.Errorf("s3 source is not configured")
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 URL must look like s3://bucket/key, got %q", u.String())
	}
	cleaned := path.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return nil, fmt.Errorf("invalid object key: %q", key)
	}

	body, err := f.objects.Get(ctx, bucket, cleaned)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, cleaned, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get object %q: %w", cleaned, err)
	}
	return body, nil
}

// LimitReader returns a reader that fails with ErrTooLarge once more than limit
// bytes have been read from r. A limit of zero or less disables the limit.
func LimitReader(r io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return r
	}
	return &limitedReader{r: r, remaining: limit}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if l.remaining <= 0 {
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

type readCloser struct {
	io.Reader
	io.Closer
}

func limitReadCloser(rc io.ReadCloser, limit int64) io.ReadCloser {
	if limit <= 0 {
		return rc
	}
	return readCloser{Reader: LimitReader(rc, limit), Closer: rc}
}
