// Package ipinfo is a client for an IP geolocation API with a bounded
// least-recently-used cache and batched lookups.
//
// Lookups of many addresses are answered from the cache where possible and
// the remaining addresses are resolved with a single batch request. A batch
// either fails as a whole (transport, auth, rate limit) or succeeds with one
// Result per requested IP, some of which may carry a per-IP error.
package ipinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

const (
	DefaultBaseURL   = "https://ipinfo.io"
	DefaultTimeout   = 3 * time.Second
	DefaultCacheSize = 100
)

// Config holds the construction-time settings of a Client.
type Config struct {
	// Token is the API access token. Empty means anonymous requests.
	Token string
	// BaseURL of the API.
	BaseURL string
	// Timeout of each HTTP request.
	Timeout time.Duration
	// CacheSize is the maximum number of cached records. Zero means DefaultCacheSize.
	CacheSize int
	// MaxRetries of a failed request on transport errors or 5xx answers.
	MaxRetries int
	// UserAgent sent with every request.
	UserAgent string
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Timeout:   DefaultTimeout,
		CacheSize: DefaultCacheSize,
		UserAgent: "IPinfoClient/Go/" + Version,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}

func (c Config) validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.CacheSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base url %q: scheme must be http or https", c.BaseURL)
	}
	return nil
}

// Option customises a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	fetcher    BatchFetcher
	enricher   Enricher
	observer   Observer
	logger     *slog.Logger
	token      TokenSource
}

// WithHTTPClient sets the HTTP client used for all API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithFetcher replaces the remote batch collaborator used for cache misses.
func WithFetcher(f BatchFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithEnricher replaces DefaultEnricher. Pass nil to store records as fetched.
func WithEnricher(e Enricher) Option {
	return func(o *options) { o.enricher = e }
}

// WithObserver reports cache and fetch statistics to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTokenSource overrides Config.Token with a token read on every request.
func WithTokenSource(ts TokenSource) Option {
	return func(o *options) { o.token = ts }
}

// CacheStats is a snapshot of the cache occupancy.
type CacheStats struct {
	Len int `json:"len"`
	Cap int `json:"cap"`
}

// Client resolves IP addresses to Records. It is safe for concurrent use.
type Client struct {
	remote   *HTTPFetcher
	resolver *resolver
	asnGroup singleflight.Group
	timeout  time.Duration // bound of a shared ASN request, retries included
	logger   *slog.Logger
}

// New creates a Client. Zero fields of cfg take their DefaultConfig values.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options{enricher: DefaultEnricher, observer: nopObserver{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	remote := NewHTTPFetcher(cfg, o.httpClient, o.token, o.logger)
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = remote
	}

	return &Client{
		remote:   remote,
		resolver: newResolver(cfg.CacheSize, fetcher, o.enricher, o.observer, o.logger),
		timeout:  cfg.Timeout * time.Duration(cfg.MaxRetries+1),
		logger:   o.logger,
	}, nil
}

// LookupBatch resolves ips, answering from the cache where possible and
// fetching the rest in a single remote call. The result holds one entry per
// distinct requested IP. Duplicates in ips are collapsed.
//
// A non-nil error means the remote call failed as a whole; no results are
// returned and the cache is left as it was.
func (c *Client) LookupBatch(ctx context.Context, ips []string) (map[string]Result, error) {
	res, err := c.resolver.resolve(ctx, ips)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("batch lookup completed", "requested", len(ips), "results", len(res))
	return res, nil
}

// Lookup resolves a single IP. It is LookupBatch for a one-element batch.
func (c *Client) Lookup(ctx context.Context, ip string) (Result, error) {
	res, err := c.LookupBatch(ctx, []string{ip})
	if err != nil {
		return Result{}, err
	}
	return res[ip], nil
}

// Cached reports whether ip is in the cache without affecting eviction order.
func (c *Client) Cached(ip string) bool { return c.resolver.contains(ip) }

// Flush empties the cache.
func (c *Client) Flush() { c.resolver.flush() }

// CacheStats returns the current cache occupancy.
func (c *Client) CacheStats() CacheStats { return c.resolver.stats() }

// ASN returns the details of an autonomous system, given as "AS15169" or "15169".
// ASN lookups bypass the cache. Concurrent calls for the same ASN share one
// request, which is not cancelled when a single caller gives up.
func (c *Client) ASN(ctx context.Context, asn string) (*ASNDetails, error) {
	key, err := normalizeASN(asn)
	if err != nil {
		return nil, err
	}
	ch := c.asnGroup.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.remote.asn(shared, key)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*ASNDetails), nil
	}
}

// MapURL submits ips to the map tool and returns the report URL.
func (c *Client) MapURL(ctx context.Context, ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errEmptyInput
	}
	return c.remote.mapURL(ctx, ips)
}

// Field returns a single field of ip, such as "city" or "org", as plain text.
// Field lookups bypass the cache.
func (c *Client) Field(ctx context.Context, ip, field string) (string, error) {
	if ip == "" || field == "" {
		return "", errors.New("ipinfo: ip and field are required")
	}
	return c.remote.field(ctx, ip, field)
}

func normalizeASN(asn string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(asn))
	s = strings.TrimPrefix(s, "AS")
	if s == "" {
		return "", fmt.Errorf("ipinfo: invalid asn %q", asn)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("ipinfo: invalid asn %q", asn)
		}
	}
	return "AS" + s, nil
}
