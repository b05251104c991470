package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL applies when an aggregation does not specify its own.
const DefaultTTL = 60 * time.Second

// Fetcher produces one named slice of a composite view, usually by calling
// a peer server through the pool.
type Fetcher struct {
	Name  string
	Fetch func(ctx context.Context) (any, error)
}

// Aggregator assembles composite views from concurrent fetchers, caching the
// assembled result. A failing or panicking fetcher degrades to an
// unavailable marker instead of failing the view.
type Aggregator struct {
	cache  *Cache
	logger *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the structured logger.
func WithAggregatorLogger(l *slog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates an aggregator over a cache.
func NewAggregator(cache *Cache, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		cache:  cache,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Aggregate returns the composite view for (category, key), serving from
// cache unless forceRefresh is set or the entry is missing or expired. On a
// rebuild all fetchers run concurrently; each contributes its result under
// its name, or an unavailable marker when it fails. The composite carries
// dataSources, generatedAt, and fromCache metadata.
func (a *Aggregator) Aggregate(ctx context.Context, category, key string, fetchers []Fetcher, ttl time.Duration, forceRefresh bool) (map[string]any, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if !forceRefresh {
		cached, ok, err := a.cache.Get(ctx, category, key)
		if err != nil {
			a.logger.Warn("cache read failed, rebuilding", "category", category, "key", key, "error", err)
		} else if ok {
			cached["fromCache"] = true
			return cached, nil
		}
	}

	type outcome struct {
		name      string
		value     any
		available bool
	}
	results := make([]outcome, len(fetchers))

	var wg sync.WaitGroup
	for i, f := range fetchers {
		wg.Add(1)
		go func(i int, f Fetcher) {
			defer wg.Done()
			value, err := a.safeCall(ctx, f)
			available := err == nil && value != nil
			if !available {
				if err != nil {
					a.logger.Warn("data source unavailable",
						"category", category, "source", f.Name, "error", err)
				}
				value = map[string]any{"status": "unavailable"}
			}
			results[i] = outcome{name: f.Name, value: value, available: available}
		}(i, f)
	}
	wg.Wait()

	sources := make(map[string]any, len(fetchers))
	composite := make(map[string]any, len(fetchers)+3)
	for _, r := range results {
		composite[r.name] = r.value
		if r.available {
			sources[r.name] = "available"
		} else {
			sources[r.name] = "unavailable"
		}
	}
	composite["dataSources"] = sources
	composite["generatedAt"] = time.Now().UTC().Format(time.RFC3339)
	composite["fromCache"] = false

	if err := a.cache.Set(ctx, category, key, composite, ttl); err != nil {
		a.logger.Warn("cache write failed", "category", category, "key", key, "error", err)
	}
	return composite, nil
}

// safeCall invokes a fetcher with panic containment, so one misbehaving
// source can never take down the composite.
func (a *Aggregator) safeCall(ctx context.Context, f Fetcher) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("fetcher %q panicked: %v", f.Name, r)
		}
	}()
	return f.Fetch(ctx)
}
