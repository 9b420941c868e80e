package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/resilience"
)

// Query describes one item search.
type Query struct {
	Collections []string
	Intersects  geom.T
	Interval    model.Interval
	Limit       int
}

// Body renders the STAC /search POST body.
func (q Query) Body() (map[string]any, error) {
	g, err := geojson.Encode(q.Intersects)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: encode intersects geometry")
	}
	body := map[string]any{
		"collections": q.Collections,
		"intersects":  g,
		"datetime":    q.Interval.STAC(),
	}
	if q.Limit > 0 {
		body["limit"] = q.Limit
	}
	return body, nil
}

// Cache stores serialized search results keyed by query digest.
type Cache interface {
	GetCachedSearch(ctx context.Context, key string) ([]byte, bool, error)
	SetCachedSearch(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Searcher finds catalog items for a query.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Item, error)
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second against the catalog.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLimiter sets the limiter directly.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithRetry sets the per-page retry policy.
func WithRetry(p resilience.Policy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithCache enables the search-result cache.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithMaxPages bounds pagination.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		c.maxPages = n
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// Client is a STAC API item-search client.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.Policy
	cache    Cache
	cacheTTL time.Duration
	maxPages int
	headers  http.Header
	log      *zap.Logger
}

// NewClient creates a Client for the STAC API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(5, 5),
		retry:    resilience.DefaultPolicy(),
		maxPages: 50,
		headers:  make(http.Header),
		log:      zap.L().With(zap.String("component", "catalog")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("catalog", "search")
	}
	return c
}

// Search runs q and follows next links until the result set is exhausted.
// Failures after bounded retries surface as model.ErrCatalogUnavailable. An
// empty result is not an error.
func (c *Client) Search(ctx context.Context, q Query) ([]Item, error) {
	body, err := q.Body()
	if err != nil {
		return nil, err
	}

	key, err := cacheKey(c.baseURL, body)
	if err != nil {
		return nil, err
	}
	if items, ok := c.cached(ctx, key); ok {
		return items, nil
	}

	var items []Item
	req := pageRequest{method: http.MethodPost, url: c.baseURL + "/search", body: body}
	for page := 1; ; page++ {
		coll, err := c.fetchPage(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "catalog: search cancelled")
			}
			return nil, eris.Wrapf(model.ErrCatalogUnavailable, "catalog: search page %d: %s", page, err)
		}
		items = append(items, coll.Features...)

		c.log.Debug("catalog page",
			zap.Int("page", page),
			zap.Int("features", len(coll.Features)),
			zap.Int("matched", coll.NumberMatched),
		)

		next, ok := coll.Next()
		if !ok || len(coll.Features) == 0 {
			break
		}
		if page >= c.maxPages {
			c.log.Warn("catalog pagination truncated", zap.Int("max_pages", c.maxPages), zap.Int("items", len(items)))
			break
		}
		req, err = req.follow(next)
		if err != nil {
			return nil, eris.Wrapf(model.ErrCatalogUnavailable, "catalog: follow next link: %s", err)
		}
	}

	c.log.Info("catalog search complete", zap.Int("items", len(items)), zap.String("datetime", q.Interval.STAC()))
	c.store(ctx, key, items)
	return items, nil
}

type pageRequest struct {
	method string
	url    string
	body   map[string]any
}

// follow builds the request for a next link. POST links carry their own body,
// merged over the current one when the link asks for it.
func (r pageRequest) follow(l Link) (pageRequest, error) {
	if l.Href == "" {
		return pageRequest{}, eris.New("catalog: next link without href")
	}
	method := strings.ToUpper(l.Method)
	if method == "" {
		method = http.MethodGet
	}
	next := pageRequest{method: method, url: l.Href}
	if method != http.MethodPost {
		return next, nil
	}

	var linkBody map[string]any
	if len(l.Body) > 0 {
		if err := json.Unmarshal(l.Body, &linkBody); err != nil {
			return pageRequest{}, eris.Wrap(err, "catalog: decode next link body")
		}
	}
	if !l.Merge {
		next.body = linkBody
		return next, nil
	}
	next.body = make(map[string]any, len(r.body)+len(linkBody))
	for k, v := range r.body {
		next.body[k] = v
	}
	for k, v := range linkBody {
		next.body[k] = v
	}
	return next, nil
}

func (c *Client) fetchPage(ctx context.Context, r pageRequest) (ItemCollection, error) {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) (ItemCollection, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return ItemCollection{}, err
		}

		var payload io.Reader
		if r.body != nil {
			b, err := json.Marshal(r.body)
			if err != nil {
				return ItemCollection{}, err
			}
			payload = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, r.method, r.url, payload)
		if err != nil {
			return ItemCollection{}, err
		}
		req.Header.Set("Accept", "application/geo+json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, vs := range c.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return ItemCollection{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return ItemCollection{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		if err := resilience.CheckStatus(resp.StatusCode, raw); err != nil {
			return ItemCollection{}, err
		}

		var coll ItemCollection
		if err := json.Unmarshal(raw, &coll); err != nil {
			return ItemCollection{}, fmt.Errorf("decode item collection: %w", err)
		}
		return coll, nil
	})
}

func cacheKey(baseURL string, body map[string]any) (string, error) {
	// encoding/json sorts map keys, so equal queries hash equally.
	b, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "catalog: marshal cache key")
	}
	h := sha256.Sum256(append([]byte(baseURL+"|"), b...))
	return fmt.Sprintf("%x", h), nil
}

func (c *Client) cached(ctx context.Context, key string) ([]Item, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, ok, err := c.cache.GetCachedSearch(ctx, key)
	if err != nil {
		c.log.Warn("catalog cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		c.log.Warn("catalog cache entry unreadable", zap.Error(err))
		return nil, false
	}
	c.log.Debug("catalog cache hit", zap.String("key", key[:12]), zap.Int("items", len(items)))
	return items, true
}

func (c *Client) store(ctx context.Context, key string, items []Item) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		c.log.Warn("catalog cache encode failed", zap.Error(err))
		return
	}
	if err := c.cache.SetCachedSearch(ctx, key, raw, c.cacheTTL); err != nil {
		c.log.Warn("catalog cache write failed", zap.Error(err))
	}
}
