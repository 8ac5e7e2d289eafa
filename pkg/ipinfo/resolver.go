package ipinfo

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchFetcher resolves a batch of IPs in a single remote call.
//
// The returned map holds a success or per-IP failure for each IP the remote
// side answered; IPs it omitted are simply absent. A non-nil error means the
// whole call failed and the map is ignored.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, ips []string) (map[string]Result, error)
}

// Observer receives lookup statistics. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveLookup(hits, misses int)
	ObserveFetch(size int, d time.Duration, err error)
	ObserveIPError(reason string)
	ObserveEviction()
	ObserveCacheSize(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveLookup(int, int)                 {}
func (nopObserver) ObserveFetch(int, time.Duration, error) {}
func (nopObserver) ObserveIPError(string)                  {}
func (nopObserver) ObserveEviction()                       {}
func (nopObserver) ObserveCacheSize(int)                   {}

// resolver partitions requested IPs into cache hits and misses, fetches the
// misses in one call and merges the answer back into the cache.
type resolver struct {
	mu       sync.Mutex
	cache    *Cache
	fetcher  BatchFetcher
	enricher Enricher
	observer Observer
	logger   *slog.Logger
}

func newResolver(capacity int, fetcher BatchFetcher, enricher Enricher, observer Observer, logger *slog.Logger) *resolver {
	r := &resolver{
		cache:    NewCache(capacity),
		fetcher:  fetcher,
		enricher: enricher,
		observer: observer,
		logger:   logger,
	}
	r.cache.OnEvict = func(ip string) {
		r.logger.Debug("cache entry evicted", "ip", ip)
		r.observer.ObserveEviction()
	}
	return r
}

func (r *resolver) resolve(ctx context.Context, ips []string) (map[string]Result, error) {
	out := make(map[string]Result, len(ips))
	if len(ips) == 0 {
		return out, nil
	}

	misses := r.partition(ips, out)
	r.observer.ObserveLookup(len(out), len(misses))
	if len(misses) == 0 {
		return out, nil
	}

	start := time.Now()
	fetched, err := r.fetcher.FetchBatch(ctx, misses)
	r.observer.ObserveFetch(len(misses), time.Since(start), err)
	if err != nil {
		r.logger.Debug("batch fetch failed", "size", len(misses), "error", err)
		return nil, err
	}

	r.merge(misses, fetched, out)
	return out, nil
}

// partition fills out with cache hits and returns the unique misses in request order.
func (r *resolver) partition(ips []string, out map[string]Result) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var misses []string
	seen := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		if rec, ok := r.cache.Get(ip); ok {
			out[ip] = Success(rec)
			continue
		}
		misses = append(misses, ip)
	}
	return misses
}

// merge caches every fresh success and records a result for every miss.
// Per-IP failures are returned but never cached.
func (r *resolver) merge(misses []string, fetched map[string]Result, out map[string]Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ip := range misses {
		res, ok := fetched[ip]
		switch {
		case !ok || (res.Err == nil && res.Record == nil):
			res = Failure(ip, reasonNoData)
		case res.Err != nil:
			res.IP = ip
		default:
			res = Success(r.enrich(ip, res.Record))
			r.cache.Put(ip, res.Record)
		}
		if res.Err != nil {
			r.logger.Debug("ip lookup failed", "ip", ip, "reason", res.Reason())
			r.observer.ObserveIPError(res.Reason())
		}
		out[ip] = res
	}
	r.observer.ObserveCacheSize(r.cache.Len())
}

func (r *resolver) enrich(ip string, rec *Record) *Record {
	if r.enricher == nil {
		if rec.IP() == ip {
			return rec
		}
		return NewRecord(ip, rec.fields)
	}
	fields := rec.Fields()
	r.enricher.Enrich(ip, fields)
	return NewRecord(ip, fields)
}

func (r *resolver) contains(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Contains(ip)
}

func (r *resolver) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Flush()
	r.observer.ObserveCacheSize(0)
}

func (r *resolver) stats() CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return CacheStats{Len: r.cache.Len(), Cap: r.cache.Cap()}
}
