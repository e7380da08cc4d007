package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, retries int) *Fetcher {
	t.Helper()
	return NewFetcher(FetcherOptions{
		CacheDir:   t.TempDir(),
		Timeout:    2 * time.Second,
		Retries:    retries,
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
}

type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func serve(t *testing.T, h http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func okCalendar(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/calendar")
	_, _ = w.Write([]byte(footballICS))
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, http.StatusText(code), code)
	}
}

func TestFetchRetriesThenFallsBackToMirror(t *testing.T) {
	primary := serve(t, status(http.StatusBadGateway))
	mirror := serve(t, okCalendar)

	f := newTestFetcher(t, 2)
	res, err := f.FetchOne(context.Background(), Source{ID: "umn", URLs: []string{primary.URL, mirror.URL}})
	require.NoError(t, err)

	assert.Equal(t, mirror.URL, res.URL)
	assert.False(t, res.FromCache)
	assert.Equal(t, footballICS, string(res.Body))
	assert.EqualValues(t, 3, primary.hits.Load(), "one attempt plus two retries")
	assert.EqualValues(t, 1, mirror.hits.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	primary := serve(t, status(http.StatusNotFound))
	mirror := serve(t, okCalendar)

	f := newTestFetcher(t, 3)
	res, err := f.FetchOne(context.Background(), Source{ID: "umn", URLs: []string{primary.URL, mirror.URL}})
	require.NoError(t, err)
	assert.Equal(t, mirror.URL, res.URL)
	assert.EqualValues(t, 1, primary.hits.Load())
}

func TestFetchRejectsNonCalendarBody(t *testing.T) {
	proxy := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	})

	f := newTestFetcher(t, 2)
	_, err := f.FetchOne(context.Background(), Source{ID: "umn", URLs: []string{proxy.URL}})
	require.ErrorIs(t, err, ErrNotCalendar)
	assert.EqualValues(t, 1, proxy.hits.Load())
}

func TestFetchConditionalRequestUsesCache(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		okCalendar(w, r)
	})

	f := newTestFetcher(t, 0)
	src := Source{ID: "umn", URLs: []string{srv.URL}}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, srv.URL, second.URL)
}

func TestFetchServesStaleCacheWhenEveryMirrorFails(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			status(http.StatusServiceUnavailable)(w, r)
			return
		}
		okCalendar(w, r)
	})

	f := newTestFetcher(t, 1)
	src := Source{ID: "umn", URLs: []string{srv.URL}}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	healthy.Store(false)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Empty(t, res.URL)
	assert.Equal(t, footballICS, string(res.Body))

	body, updated, err := f.CachedBody(src)
	require.NoError(t, err)
	assert.Equal(t, footballICS, string(body))
	assert.False(t, updated.IsZero())
}

func TestFetchFailsWithoutCache(t *testing.T) {
	srv := serve(t, status(http.StatusServiceUnavailable))

	f := newTestFetcher(t, 1)
	_, err := f.FetchOne(context.Background(), Source{ID: "umn", URLs: []string{srv.URL}})
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestFetchRequiresURL(t *testing.T) {
	_, err := newTestFetcher(t, 0).FetchOne(context.Background(), Source{ID: "empty"})
	require.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.google.com/...(redacted)",
		redactURL("https://calendar.google.com/calendar/ical/secret%40group/public/basic.ics"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func TestFetchBudgetCoversEveryMirror(t *testing.T) {
	f := NewFetcher(FetcherOptions{CacheDir: t.TempDir(), Timeout: 12 * time.Second, Retries: 2})
	src := Source{ID: "umn", URLs: []string{"https://a.example", "https://b.example", "https://c.example"}}

	// 3 URLs x (3 attempts x 12s + 2 waits x 5s)
	assert.Equal(t, 138*time.Second, f.Budget(src))
	assert.Zero(t, f.Budget(Source{ID: "none"}))
}
