package ics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	appLog "parkcal/internal/log"
)

// ErrNotCalendar is returned when a mirror answers 200 with a body that is
// not an iCalendar document (HTML error pages from proxies, for example).
var ErrNotCalendar = errors.New("response is not an iCalendar document")

// StatusError is a non-2xx/304 HTTP answer from a mirror.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", redactURL(e.URL), e.StatusCode)
}

// Source represents a single calendar feed.
type Source struct {
	// ID is an internal identifier (config feed ID). It also keys the
	// disk cache, so mirrors of one feed share a cache entry.
	ID string
	// URLs lists the feed endpoint followed by its mirrors, tried in order.
	URLs []string
}

// FetchResult contains the outcome of fetching a single source.
type FetchResult struct {
	Source Source
	Body   []byte
	// URL is the endpoint that produced Body; empty when Body came from disk
	// after every mirror failed.
	URL string
	// FromCache is true when Body was reused from the disk cache (304, or
	// every mirror failing).
	FromCache bool
	FetchedAt time.Time
}

// cacheEntry holds HTTP cache metadata for a single source.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FetcherOptions configures a Fetcher. Zero values get defaults.
type FetcherOptions struct {
	CacheDir string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts per mirror.
	Retries int
	// NewBackOff builds the retry schedule for one mirror.
	NewBackOff func() backoff.BackOff
	Client     *http.Client
}

// Fetcher downloads calendar feeds with mirror fallback, exponential
// backoff, conditional requests (ETag / Last-Modified) and a disk cache.
type Fetcher struct {
	client     *http.Client
	cacheDir   string
	timeout    time.Duration
	retries    int
	newBackOff func() backoff.BackOff
}

// maxBackOffInterval caps the default wait between retries of one mirror.
const maxBackOffInterval = 5 * time.Second

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		client:     opts.Client,
		cacheDir:   opts.CacheDir,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		newBackOff: opts.NewBackOff,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.cacheDir == "" {
		// Relative so development runs work without extra permissions.
		f.cacheDir = "./var/ics-cache"
	}
	if f.timeout <= 0 {
		f.timeout = 12 * time.Second
	}
	if f.retries < 0 {
		f.retries = 0
	}
	if f.newBackOff == nil {
		f.newBackOff = func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(500*time.Millisecond),
				backoff.WithMaxInterval(maxBackOffInterval),
			)
		}
	}
	return f
}

// FetchOne fetches src, trying each URL in order. When all of them fail,
// the last cached body is returned with FromCache set. An error is returned
// only when nothing at all can be served.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if len(src.URLs) == 0 {
		return FetchResult{}, errors.New("source has no URL")
	}

	cachePath, err := f.cachePathFor(src)
	if err != nil {
		return FetchResult{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	var errs []error
	for _, u := range src.URLs {
		if u == "" {
			continue
		}
		res, err := f.fetchMirror(ctx, src, u, meta, cachedBody, cachePath)
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		appLog.Warn("ics mirror failed, trying next", "id", src.ID, "url", redactURL(u), "err", err.Error())
	}

	failure := errors.Join(errs...)
	if len(cachedBody) > 0 {
		appLog.Error("ics fetch failed on every mirror, using cached body", failure, "id", src.ID)
		return FetchResult{
			Source:    src,
			Body:      cachedBody,
			FromCache: true,
			FetchedAt: meta.UpdatedAt,
		}, nil
	}
	return FetchResult{}, fmt.Errorf("fetch %s: %w", src.ID, failure)
}

func (f *Fetcher) fetchMirror(ctx context.Context, src Source, url string, meta cacheEntry, cachedBody []byte, cachePath string) (FetchResult, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.retries)), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (FetchResult, error) {
		attempt++
		return f.attempt(ctx, src, url, meta, cachedBody, cachePath)
	}, b, func(err error, next time.Duration) {
		appLog.Debug("ics fetch retry", "id", src.ID, "url", redactURL(url), "attempt", attempt, "next", next.String(), "err", err.Error())
	})
}

func (f *Fetcher) attempt(ctx context.Context, src Source, url string, meta cacheEntry, cachedBody []byte, cachePath string) (FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	// Validators are only meaningful against the URL that issued them.
	if meta.URL == url && len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
			return FetchResult{}, backoff.Permanent(fmt.Errorf("GET %s: %w", redactURL(url), ErrNotCalendar))
		}

		newMeta := cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID)
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(url), "bytes", len(body))
		return FetchResult{Source: src, Body: body, URL: url, FetchedAt: time.Now().UTC()}, nil

	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, backoff.Permanent(errors.New("received 304 Not Modified but no cached body available"))
		}
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(url))
		return FetchResult{Source: src, Body: cachedBody, URL: url, FromCache: true, FetchedAt: time.Now().UTC()}, nil

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return FetchResult{}, &StatusError{URL: url, StatusCode: resp.StatusCode}

	default:
		return FetchResult{}, backoff.Permanent(&StatusError{URL: url, StatusCode: resp.StatusCode})
	}
}

// Budget is the longest FetchOne can take for src when every attempt hangs
// until its timeout: each URL gets 1+retries attempts, with a capped
// backoff wait between them.
func (f *Fetcher) Budget(src Source) time.Duration {
	perURL := f.timeout*time.Duration(f.retries+1) + maxBackOffInterval*time.Duration(f.retries)
	return perURL * time.Duration(len(src.URLs))
}

// CachedBody returns the last body stored for src, if any.
func (f *Fetcher) CachedBody(src Source) ([]byte, time.Time, error) {
	cachePath, err := f.cachePathFor(src)
	if err != nil {
		return nil, time.Time{}, err
	}
	body, err := f.loadCacheBody(cachePath)
	if err != nil {
		return nil, time.Time{}, err
	}
	meta, _ := f.loadCacheMeta(cachePath)
	return body, meta.UpdatedAt, nil
}

func (f *Fetcher) cachePathFor(src Source) (string, error) {
	key := src.ID
	if key == "" && len(src.URLs) > 0 {
		key = src.URLs[0]
	}
	if key == "" {
		return "", errors.New("empty cache key")
	}
	sum := sha256.Sum256([]byte(key))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8])), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides the path and query of a feed URL for logging; private
// calendar URLs embed their access token in the path.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
