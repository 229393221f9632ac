// Package source loads the raw weekly-calendar document, either from a local
// file or over HTTP with a disk cache that honors ETag and Last-Modified.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "weeklycal/internal/log"
)

// maxBody caps the size of a fetched document.
const maxBody = 16 << 20

var (
	ErrNoSource   = errors.New("no source configured")
	ErrBodyTooBig = errors.New("source document too large")
)

// Source names where the document lives. Path wins when both are set.
type Source struct {
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// String returns a log-safe description of the source.
func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return redactURL(s.URL)
}

// Result is one successful load.
type Result struct {
	Body []byte
	// FromCache is set when the body came from the disk cache (304, network
	// failure or a non-OK status).
	FromCache bool
	// FetchedAt is when the body was last obtained from its origin.
	FetchedAt time.Time
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Fetcher struct {
	client   *http.Client
	cacheDir string
	maxBody  int64
}

// NewFetcher returns a Fetcher caching under cacheDir, one subdirectory per
// URL.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
		maxBody:  maxBody,
	}
}

// Fetch loads the document named by src.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (Result, error) {
	switch {
	case src.Path != "":
		return f.readFile(src.Path)
	case src.URL != "":
		return f.fetchURL(ctx, src.URL)
	default:
		return Result{}, ErrNoSource
	}
}

func (f *Fetcher) readFile(path string) (Result, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read source: %w", err)
	}
	res := Result{Body: body, FetchedAt: time.Now().UTC()}
	if st, err := os.Stat(path); err == nil {
		res.FetchedAt = st.ModTime().UTC()
	}
	appLog.Debug("source read", "path", path, "bytes", len(body))
	return res, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, rawURL string) (Result, error) {
	dir := f.cacheDirFor(rawURL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Result{}, err
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "document.json"))

	fallback := func(reason error) (Result, error) {
		if len(cached) == 0 {
			return Result{}, reason
		}
		appLog.Error("source fetch failed, using cached body", reason, "url", redactURL(rawURL))
		return Result{Body: cached, FromCache: true, FetchedAt: meta.UpdatedAt}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("source fetch start", "url", redactURL(rawURL))
	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return fallback(err)
		}
		if int64(len(body)) > f.maxBody {
			return fallback(fmt.Errorf("%w: over %d bytes", ErrBodyTooBig, f.maxBody))
		}
		meta = cacheMeta{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(dir, meta, body); err != nil {
			appLog.Error("source cache save failed", err, "url", redactURL(rawURL))
		}
		appLog.Info("source fetch success", "url", redactURL(rawURL), "bytes", len(body))
		return Result{Body: body, FetchedAt: meta.UpdatedAt}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Result{}, errors.New("304 Not Modified with no cached body")
		}
		appLog.Info("source not modified; using cache", "url", redactURL(rawURL))
		// The origin vouched for the cached copy just now.
		return Result{Body: cached, FromCache: true, FetchedAt: time.Now().UTC()}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cacheDirFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

// saveCache writes the body before the metadata so meta.json never refers to
// a missing body.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "document.json"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; paths and query strings of calendar
// sources often embed access tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
