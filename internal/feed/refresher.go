package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/iter"

	"parkcal/internal/config"
	"parkcal/internal/ics"
	appLog "parkcal/internal/log"
	"parkcal/internal/model"
	"parkcal/internal/tz"
)

// ErrSuperseded is returned by Refresh when a later refresh published first.
var ErrSuperseded = errors.New("refresh superseded by a newer one")

// Fetcher downloads one calendar source.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, src ics.Source) (ics.FetchResult, error)

func (f FetcherFunc) FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error) {
	return f(ctx, src)
}

// budgeter is implemented by fetchers that can bound one FetchOne call.
type budgeter interface {
	Budget(src ics.Source) time.Duration
}

// cacheReader is implemented by fetchers that keep bodies on disk.
type cacheReader interface {
	CachedBody(src ics.Source) ([]byte, time.Time, error)
}

// Refresher fetches every source concurrently, parses the bodies and
// publishes the merged events to a Store.
type Refresher struct {
	Sources []ics.Source
	Fetcher Fetcher
	Parser  *ics.Parser
	Store   *Store

	// Concurrency caps parallel fetches. Zero means GOMAXPROCS.
	Concurrency int

	// Now is the clock used for UpdatedAt. Nil means time.Now.
	Now func() time.Time
}

// NewRefresher wires a Refresher from configuration.
func NewRefresher(cfg *config.Config, store *Store) *Refresher {
	sources := make([]ics.Source, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		sources = append(sources, ics.Source{ID: f.ID, URLs: f.URLs()})
	}
	return &Refresher{
		Sources: sources,
		Fetcher: ics.NewFetcher(ics.FetcherOptions{
			CacheDir: cfg.CacheDir,
			Timeout:  cfg.FetchTimeout(),
			Retries:  cfg.FetchRetries,
		}),
		Parser: &ics.Parser{DefaultZone: cfg.Timezone, Resolver: tz.NewResolver()},
		Store:  store,
	}
}

type outcome struct {
	body []byte
	err  error
}

// Refresh runs one fetch/parse/publish cycle and returns the number of
// events published. Sources that fail keep their previous body when one is
// known. When no source produced a body the previous event list is kept and
// the error is recorded on the Store.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	seq := r.Store.Begin()
	started := r.now()
	prev := r.Store.Snapshot()

	mapper := iter.Mapper[ics.Source, outcome]{MaxGoroutines: r.Concurrency}
	outcomes := mapper.Map(r.Sources, func(src *ics.Source) outcome {
		res, err := r.Fetcher.FetchOne(ctx, *src)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{body: res.Body}
	})

	var (
		errs   []error
		events = make([]model.ParkingEvent, 0)
		bodies = make(map[string][]byte, len(r.Sources))
	)
	for i, src := range r.Sources {
		o := outcomes[i]
		body := o.body
		if o.err != nil {
			errs = append(errs, o.err)
			body = prev.Bodies[src.ID]
			if body == nil {
				continue
			}
			appLog.Warn("feed refresh failed, keeping previous body", "id", src.ID, "err", o.err.Error())
		}
		bodies[src.ID] = body

		parsed, stats := r.Parser.ParseWithStats(string(body))
		appLog.Debug("feed parsed", "id", src.ID, "events", stats.Committed, "skipped", stats.Skipped)
		events = append(events, parsed...)
	}

	failure := errors.Join(errs...)
	if len(bodies) == 0 && len(r.Sources) > 0 {
		err := fmt.Errorf("refresh: %w", failure)
		if !r.Store.Fail(seq, err) {
			return 0, ErrSuperseded
		}
		appLog.Error("feed refresh failed, keeping previous events", err, "events", len(prev.Events))
		return 0, err
	}

	// Each feed is already sorted; merge keeps feed order for equal starts.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	if !r.Store.Commit(seq, events, bodies, started) {
		appLog.Info("feed refresh superseded, discarding", "seq", seq)
		return 0, ErrSuperseded
	}
	if failure != nil {
		r.Store.Fail(seq, failure)
	}
	appLog.Info("feed refresh complete", "events", len(events), "feeds", len(bodies), "duration", r.now().Sub(started).String())
	return len(events), nil
}

// Budget bounds one Refresh. Sources are fetched concurrently, so it is the
// largest per-source budget. Zero means the Fetcher cannot tell.
func (r *Refresher) Budget() time.Duration {
	b, ok := r.Fetcher.(budgeter)
	if !ok {
		return 0
	}
	var longest time.Duration
	for _, src := range r.Sources {
		if d := b.Budget(src); d > longest {
			longest = d
		}
	}
	return longest
}

// Warm publishes whatever the Fetcher has cached on disk, without any
// network access, so a restart serves the last known events at once. It
// returns the number of events published; UpdatedAt is the oldest cache
// time so a TTL check still treats the data as stale.
func (r *Refresher) Warm() int {
	cr, ok := r.Fetcher.(cacheReader)
	if !ok {
		return 0
	}

	seq := r.Store.Begin()
	var (
		oldest time.Time
		events = make([]model.ParkingEvent, 0)
		bodies = make(map[string][]byte, len(r.Sources))
	)
	for _, src := range r.Sources {
		body, at, err := cr.CachedBody(src)
		if err != nil || len(body) == 0 {
			continue
		}
		bodies[src.ID] = body
		events = append(events, r.Parser.Parse(string(body))...)
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	if len(bodies) == 0 {
		return 0
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
	if !r.Store.Commit(seq, events, bodies, oldest) {
		return 0
	}
	appLog.Info("feed warmed from disk cache", "events", len(events), "feeds", len(bodies))
	return len(events)
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
