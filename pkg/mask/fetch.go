package mask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
)

var ErrUnsupportedScheme = errors.New("Unsupported instance URI scheme")
var ErrNotFound = errors.New("Mask not found")

// Fetcher retrieves the encoded bytes of a referenced mask image
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FileFetcher reads masks from the local filesystem.
// Relative paths and file:// URIs are resolved against Root.
type FileFetcher struct {
	Root string
	log  logs.Log
}

func NewFileFetcher(log logs.Log, root string) (*FileFetcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &FileFetcher{
		Root: absRoot,
		log:  log,
	}, nil
}

func (f *FileFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	name := strings.TrimPrefix(uri, "file://")
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("Invalid mask file name %v", name)
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(f.Root, name)
	}
	if f.log != nil {
		f.log.Debugf("Reading mask %v", name)
	}
	b, err := os.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, uri)
	}
	return b, err
}

// HTTPFetcher downloads masks over http(s)
type HTTPFetcher struct {
	// Optional headers added to every request (eg Authorization)
	Header http.Header
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.Header {
		req.Header[k] = v
	}
	resp, err := www.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch mask %v: %w", uri, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GCSFetcher reads gs://bucket/object masks from Google Cloud Storage
type GCSFetcher struct {
	client *gcs.Client
	log    logs.Log
}

func NewGCSFetcher(ctx context.Context, log logs.Log) (*GCSFetcher, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSFetcher{
		client: client,
		log:    log,
	}, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "gs" {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScheme, uri)
	}
	object := strings.TrimPrefix(u.Path, "/")
	if f.log != nil {
		f.log.Debugf("Reading mask gs://%v/%v", u.Host, object)
	}
	r, err := f.client.Bucket(u.Host).Object(object).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, uri)
	} else if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (f *GCSFetcher) Close() error {
	return f.client.Close()
}

// MultiFetcher routes a URI to a fetcher by its scheme.
// A URI without a scheme uses the "" entry.
type MultiFetcher map[string]Fetcher

func (m MultiFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	scheme := ""
	if i := strings.Index(uri, "://"); i > 0 {
		scheme = strings.ToLower(uri[:i])
	}
	f, ok := m[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScheme, uri)
	}
	return f.Fetch(ctx, uri)
}

// MapFetcher serves masks from memory
type MapFetcher map[string][]byte

func (m MapFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	b, ok := m[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, uri)
	}
	return b, nil
}

// CachingFetcher remembers every successful fetch.
// Many instances usually share one composite mask image.
type CachingFetcher struct {
	Fetcher Fetcher

	lock  sync.Mutex
	cache map[string][]byte
}

func NewCachingFetcher(f Fetcher) *CachingFetcher {
	return &CachingFetcher{
		Fetcher: f,
		cache:   map[string][]byte{},
	}
}

func (c *CachingFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	c.lock.Lock()
	b, ok := c.cache[uri]
	c.lock.Unlock()
	if ok {
		return b, nil
	}
	b, err := c.Fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	c.lock.Lock()
	c.cache[uri] = b
	c.lock.Unlock()
	return b, nil
}

// DefaultFetcher handles file, http(s) and (if gcs is not nil) gs URIs
func DefaultFetcher(log logs.Log, root string, gcsFetcher *GCSFetcher) (Fetcher, error) {
	files, err := NewFileFetcher(log, root)
	if err != nil {
		return nil, err
	}
	web := &HTTPFetcher{}
	m := MultiFetcher{
		"":      files,
		"file":  files,
		"http":  web,
		"https": web,
	}
	if gcsFetcher != nil {
		m["gs"] = gcsFetcher
	}
	return NewCachingFetcher(m), nil
}
