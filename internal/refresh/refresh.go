// Package refresh keeps the current parsed source document and re-fetches it
// once it is older than the configured staleness interval.
package refresh

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"weeklycal/internal/document"
	appLog "weeklycal/internal/log"
	"weeklycal/internal/source"
)

// Fetcher loads a raw source document.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Source) (source.Result, error)
}

// Snapshot is one successfully parsed version of the source document.
type Snapshot struct {
	Document *document.Document
	// FetchedAt is when the body was obtained from its origin.
	FetchedAt time.Time
	// LoadedAt is when this snapshot replaced the previous one.
	LoadedAt  time.Time
	FromCache bool
}

type Refresher struct {
	fetcher    Fetcher
	src        source.Source
	staleAfter time.Duration
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	current   *Snapshot
	listeners []func(*Snapshot)
}

func New(fetcher Fetcher, src source.Source, staleAfter time.Duration) *Refresher {
	return &Refresher{
		fetcher:    fetcher,
		src:        src,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Current returns the latest snapshot, or nil before the first successful
// refresh.
func (r *Refresher) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Stale reports whether the current snapshot is missing or older than the
// staleness interval.
func (r *Refresher) Stale() bool {
	cur := r.Current()
	return cur == nil || r.now().Sub(cur.LoadedAt) >= r.staleAfter
}

// Subscribe registers fn to run after every successful refresh.
func (r *Refresher) Subscribe(fn func(*Snapshot)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Refresh fetches and parses the source when forced or stale, and returns
// the resulting current snapshot. Concurrent calls share one fetch. On
// failure the previous snapshot stays current and is returned with the error.
func (r *Refresher) Refresh(ctx context.Context, force bool) (*Snapshot, error) {
	if !force && !r.Stale() {
		return r.Current(), nil
	}

	v, err, shared := r.group.Do("refresh", func() (any, error) {
		return r.load(ctx)
	})
	if err != nil {
		return r.Current(), err
	}
	if shared {
		appLog.Debug("refresh shared with concurrent caller")
	}
	return v.(*Snapshot), nil
}

func (r *Refresher) load(ctx context.Context) (*Snapshot, error) {
	res, err := r.fetcher.Fetch(ctx, r.src)
	if err != nil {
		appLog.Error("refresh fetch failed", err, "source", r.src.String())
		return nil, fmt.Errorf("fetch: %w", err)
	}
	doc, err := document.Parse(res.Body)
	if err != nil {
		appLog.Error("refresh parse failed", err, "source", r.src.String())
		return nil, err
	}

	snap := &Snapshot{
		Document:  doc,
		FetchedAt: res.FetchedAt,
		LoadedAt:  r.now(),
		FromCache: res.FromCache,
	}

	r.mu.Lock()
	r.current = snap
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	appLog.Info("source refreshed", "source", r.src.String(), "events", len(doc.Events), "from_cache", res.FromCache)
	for _, fn := range listeners {
		fn(snap)
	}
	return snap, nil
}

// Start runs a staleness check on the given cron schedule until ctx is done.
func (r *Refresher) Start(ctx context.Context, spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Refresh(ctx, false); err != nil {
			appLog.Warn("scheduled refresh failed; keeping previous snapshot", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("refresh scheduler started", "spec", spec, "stale_after", r.staleAfter.String())

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return nil
}
