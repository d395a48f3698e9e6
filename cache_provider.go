package apiclient

import (
	"context"
	"net/http"
	"time"

	"github.com/facebookgo/clock"

	"github.com/ambiyansyah-risyal/apiclient/codec"
	"github.com/ambiyansyah-risyal/apiclient/provider"
)

// CacheRecord is the envelope a ProviderCache stores for each fingerprint.
type CacheRecord struct {
	StatusCode  int                 `msgpack:"s" cbor:"1,keyasint" json:"s"`
	Header      map[string][]string `msgpack:"h" cbor:"2,keyasint" json:"h"`
	Body        []byte              `msgpack:"b" cbor:"3,keyasint" json:"b"`
	ContentKind int                 `msgpack:"k" cbor:"4,keyasint" json:"k"`
	ReceivedAt  int64               `msgpack:"r" cbor:"5,keyasint" json:"r"`
	Attempts    int                 `msgpack:"a" cbor:"6,keyasint" json:"a"`
	CreatedAt   int64               `msgpack:"c" cbor:"7,keyasint" json:"c"`
	TTL         int64               `msgpack:"t" cbor:"8,keyasint" json:"t"`
}

func newCacheRecord(v *Response, createdAt time.Time, ttl time.Duration) CacheRecord {
	return CacheRecord{
		StatusCode:  v.StatusCode,
		Header:      v.Header,
		Body:        v.Body,
		ContentKind: int(v.ContentKind),
		ReceivedAt:  v.ReceivedAt.UnixNano(),
		Attempts:    v.Attempts,
		CreatedAt:   createdAt.UnixNano(),
		TTL:         int64(ttl),
	}
}

func (r CacheRecord) entry() *CacheEntry {
	return &CacheEntry{
		Value: &Response{
			StatusCode:  r.StatusCode,
			Header:      http.Header(r.Header),
			Body:        r.Body,
			ContentKind: ContentKind(r.ContentKind),
			ReceivedAt:  time.Unix(0, r.ReceivedAt),
			Attempts:    r.Attempts,
		},
		CreatedAt: time.Unix(0, r.CreatedAt),
		TTL:       time.Duration(r.TTL),
	}
}

// ProviderCache is a CacheStore over a byte provider (ristretto, bigcache,
// redis). Freshness is decided from the envelope, not the provider's TTL.
type ProviderCache struct {
	provider   provider.Provider
	codec      codec.Codec[CacheRecord]
	namespace  string
	clock      clock.Clock
	staleGrace time.Duration
	logger     Logger
}

// ProviderCacheOptions configures a ProviderCache. Only Provider is required.
type ProviderCacheOptions struct {
	Provider   provider.Provider
	Codec      codec.Codec[CacheRecord] // default msgpack
	Namespace  string                   // key prefix, default "apiclient"
	Clock      clock.Clock
	StaleGrace time.Duration
	Logger     Logger
}

// NewProviderCache creates a ProviderCache.
func NewProviderCache(opts ProviderCacheOptions) (*ProviderCache, error) {
	if opts.Provider == nil {
		return nil, &ClientError{
			Type:    ErrorTypeConfiguration,
			Message: "provider cache requires a provider",
		}
	}
	if opts.Codec == nil {
		opts.Codec = codec.Msgpack[CacheRecord]{}
	}
	if opts.Namespace == "" {
		opts.Namespace = "apiclient"
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &ProviderCache{
		provider:   opts.Provider,
		codec:      opts.Codec,
		namespace:  opts.Namespace,
		clock:      opts.Clock,
		staleGrace: opts.StaleGrace,
		logger:     opts.Logger,
	}, nil
}

func (c *ProviderCache) key(fp string) string {
	return c.namespace + ":" + fp
}

// Lookup treats provider and codec failures as a miss.
func (c *ProviderCache) Lookup(ctx context.Context, fp string) (*CacheEntry, LookupResult) {
	key := c.key(fp)
	raw, ok, err := c.provider.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache provider read failed", "fingerprint", fp, "error", err)
		return nil, CacheMiss
	}
	if !ok {
		return nil, CacheMiss
	}

	rec, err := c.codec.Decode(raw)
	if err != nil {
		c.logger.Warn("cache record corrupt, dropping", "fingerprint", fp, "error", err)
		c.drop(ctx, fp, key)
		return nil, CacheMiss
	}

	entry := rec.entry()
	result := classifyEntry(entry, c.clock.Now(), c.staleGrace)
	if result == CacheMiss {
		c.drop(ctx, fp, key)
		return nil, CacheMiss
	}
	return entry, result
}

func (c *ProviderCache) drop(ctx context.Context, fp, key string) {
	if err := c.provider.Del(ctx, key); err != nil {
		c.logger.Warn("cache provider delete failed", "fingerprint", fp, "error", err)
	}
}

// Put stores the response for ttl plus the stale grace. A non-positive ttl
// stores nothing.
func (c *ProviderCache) Put(ctx context.Context, fp string, value *Response, ttl time.Duration) error {
	if ttl <= 0 || value == nil {
		return nil
	}
	raw, err := c.codec.Encode(newCacheRecord(value, c.clock.Now(), ttl))
	if err != nil {
		return err
	}
	ok, err := c.provider.Set(ctx, c.key(fp), raw, ttl+c.staleGrace)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Debug("cache provider rejected write", "fingerprint", fp)
	}
	return nil
}

func (c *ProviderCache) Invalidate(ctx context.Context, fp string) error {
	return c.provider.Del(ctx, c.key(fp))
}

func (c *ProviderCache) InvalidateAll(ctx context.Context) error {
	return c.provider.Clear(ctx, c.namespace+":")
}

// Close closes the underlying provider.
func (c *ProviderCache) Close(ctx context.Context) error {
	return c.provider.Close(ctx)
}
